package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/2beens/dishexplorer/internal/dish"
	"github.com/2beens/dishexplorer/pkg"

	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templatesFS embed.FS

const (
	viewLogin    = "login.html"
	viewRegister = "register.html"
	viewHome     = "home.html"
	viewDish     = "dish.html"
	viewNotFound = "not_found.html"
)

var templateFuncs = template.FuncMap{
	"dishURL": dishURL,
}

// views holds one template set per page, each combined with the shared layout.
type views struct {
	pages map[string]*template.Template
}

func loadViews() (*views, error) {
	v := &views{pages: map[string]*template.Template{}}
	for _, page := range []string{viewLogin, viewRegister, viewHome, viewDish, viewNotFound} {
		t, err := template.New(page).
			Funcs(templateFuncs).
			ParseFS(templatesFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", page, err)
		}
		v.pages[page] = t
	}
	return v, nil
}

func (v *views) render(w http.ResponseWriter, statusCode int, page string, data any) {
	t, ok := v.pages[page]
	if !ok {
		log.Errorf("render: unknown view %s", page)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Errorf("render %s: %s", page, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytes(w, pkg.ContentType.HTML, buf.Bytes(), statusCode)
}

func dishURL(name string) string {
	return "/dish/" + url.PathEscape(name)
}

type layoutData struct {
	Title string
	User  string
}

type loginPage struct {
	layoutData
	Email      string
	Error      string
	Registered bool
}

type registerPage struct {
	layoutData
	Name  string
	Email string
	Error string
}

type pageLink struct {
	Number  int
	URL     string
	Current bool
}

type homePage struct {
	layoutData
	Query     dish.ListQuery
	Diets     []dish.Diet
	Dishes    []dish.View
	Total     int
	Pages     []pageLink
	PrevURL   string
	NextURL   string
	ListError string

	Ingredients  string
	Suggested    bool
	Suggestions  []dish.View
	SuggestError string
}

type dishPage struct {
	layoutData
	Dish  *dish.View
	Error string
}

func dishViews(dishes []dish.Dish) []dish.View {
	views := make([]dish.View, 0, len(dishes))
	for _, d := range dishes {
		views = append(views, d.View())
	}
	return views
}
