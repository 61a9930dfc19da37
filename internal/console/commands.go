package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/2beens/dishexplorer/internal/dish"
	"github.com/2beens/dishexplorer/internal/dishapi"
	"github.com/2beens/dishexplorer/pkg"

	log "github.com/sirupsen/logrus"
)

func runLogin(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("login", usageLogin)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("email and password are required")
	}

	result, err := a.api.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	if err := a.store.Login(ctx, result.Token, result.User); err != nil {
		return fmt.Errorf("could not save session: %w", err)
	}
	log.Debugf("logged in, credential [%s]", pkg.Fingerprint(result.Token))

	name := result.User.Name()
	if name == "" {
		name = *email
	}
	fmt.Fprintf(a.out, "logged in as %s\n", name)
	return nil
}

func runRegister(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("register", usageRegister)
	req := dishapi.RegisterRequest{}
	fs.StringVar(&req.Name, "name", "", "display name")
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return errors.New("name, email and password are required")
	}

	if err := a.api.Register(ctx, req); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s, now run \"dishctl login\"\n", req.Email)
	return nil
}

func runLogout(ctx context.Context, a *App, _ []string) error {
	if !a.store.Authenticated() {
		fmt.Fprintln(a.out, "already logged out")
		return nil
	}

	a.gate.Watch(a.store)
	if err := a.store.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func runWhoami(_ context.Context, a *App, _ []string) error {
	profile := a.store.Profile()
	if name := profile.Name(); name != "" {
		fmt.Fprintln(a.out, name)
		return nil
	}
	fmt.Fprintln(a.out, string(profile))
	return nil
}

func runList(ctx context.Context, a *App, args []string) error {
	fs := a.flagSet("list", usageList)
	q := dish.ListQuery{}
	var diet, order string
	fs.IntVar(&q.Page, "page", 1, "page number")
	fs.IntVar(&q.Limit, "limit", dish.DefaultPageSize, "dishes per page")
	fs.StringVar(&diet, "diet", "", "vegetarian | non vegetarian")
	fs.StringVar(&q.Filters.Course, "course", "", "course filter")
	fs.StringVar(&q.Filters.State, "state", "", "state filter")
	fs.StringVar(&q.Filters.Region, "region", "", "region filter")
	fs.StringVar(&q.Filters.FlavorProfile, "flavor", "", "flavor profile filter")
	fs.StringVar(&q.SortBy, "sort", "", "sort field")
	fs.StringVar(&order, "order", "", "asc | desc")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if diet != "" && !dish.Diet(diet).Valid() {
		return fmt.Errorf("unknown diet: %s", diet)
	}
	q.Filters.Diet = dish.Diet(diet)
	q.SortOrder = dish.SortOrder(order)
	q = q.Normalized()

	page, err := a.api.ListDishes(ctx, q)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDIET\tPREP\tCOOK\tFLAVOR\tCOURSE\tSTATE\tREGION")
	for _, d := range page.Data {
		v := d.View()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Name, v.Diet, v.PrepTime, v.CookTime, v.FlavorProfile, v.Course, v.State, v.Region)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "page %d of %d (%d dishes)\n", q.Page, page.Pages(q.Limit), page.Total)
	return nil
}

func runShow(ctx context.Context, a *App, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return errors.New("dish name is required")
	}

	d, err := a.api.GetDish(ctx, name)
	if errors.Is(err, dishapi.ErrNotFound) {
		return fmt.Errorf("dish not found: %s", name)
	}
	if err != nil {
		return err
	}

	v := d.View()
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", v.Name)
	fmt.Fprintf(tw, "Diet:\t%s\n", v.Diet)
	fmt.Fprintf(tw, "Course:\t%s\n", v.Course)
	fmt.Fprintf(tw, "Flavor profile:\t%s\n", v.FlavorProfile)
	fmt.Fprintf(tw, "Preparation time:\t%s\n", v.PrepTime)
	fmt.Fprintf(tw, "Cooking time:\t%s\n", v.CookTime)
	fmt.Fprintf(tw, "State:\t%s\n", v.State)
	fmt.Fprintf(tw, "Region:\t%s\n", v.Region)
	fmt.Fprintf(tw, "Ingredients:\t%s\n", strings.Join(v.Ingredients, ", "))
	return tw.Flush()
}

func runSearch(ctx context.Context, a *App, args []string) error {
	query := strings.Join(args, " ")
	dishes, err := a.api.SearchDishes(ctx, query)
	if err != nil {
		return err
	}
	if len(dishes) == 0 {
		fmt.Fprintln(a.out, "no dishes found")
		return nil
	}
	for _, d := range dishes {
		fmt.Fprintf(a.out, "%s (%s, %s)\n", d.Name, d.State, d.Region)
	}
	return nil
}

func runSuggest(ctx context.Context, a *App, args []string) error {
	var ingredients []string
	for _, arg := range args {
		ingredients = append(ingredients, strings.Split(arg, ",")...)
	}

	dishes, err := a.api.PossibleDishes(ctx, ingredients)
	if err != nil {
		return err
	}
	if len(dishes) == 0 {
		fmt.Fprintln(a.out, "no dishes can be made from these ingredients")
		return nil
	}
	fmt.Fprintln(a.out, "Possible Dishes:")
	for _, d := range dishes {
		fmt.Fprintf(a.out, "  %s: %s\n", d.Name, strings.Join(d.IngredientList(), ", "))
	}
	return nil
}
