package dish

import (
	"strconv"
	"strings"
)

// NotSpecified is shown in place of the sentinel values the dish API uses for missing data.
const NotSpecified = "not specified"

const (
	// MinutesNotSpecified marks an unknown prep or cook time.
	MinutesNotSpecified = -1
	// FlavorNotSpecified marks an unknown flavor profile.
	FlavorNotSpecified = "-1"
)

type Diet string

const (
	DietVegetarian    Diet = "vegetarian"
	DietNonVegetarian Diet = "non vegetarian"
)

func (d Diet) Valid() bool {
	return d == DietVegetarian || d == DietNonVegetarian
}

// Dish is owned by the remote API; the client only reads it.
// Sentinel values are kept as-is here and translated only for display.
type Dish struct {
	Name          string `json:"name"`
	Ingredients   string `json:"ingredients"`
	Diet          Diet   `json:"diet"`
	PrepTime      int    `json:"prep_time"`
	CookTime      int    `json:"cook_time"`
	FlavorProfile string `json:"flavor_profile"`
	Course        string `json:"course"`
	State         string `json:"state"`
	Region        string `json:"region"`
}

// IngredientList splits the comma separated ingredients, dropping empty entries.
func (d Dish) IngredientList() []string {
	var ingredients []string
	for _, i := range strings.Split(d.Ingredients, ",") {
		if i = strings.TrimSpace(i); i != "" {
			ingredients = append(ingredients, i)
		}
	}
	return ingredients
}

// View is a Dish with every field ready for display.
type View struct {
	Name          string
	Ingredients   []string
	Diet          string
	PrepTime      string
	CookTime      string
	FlavorProfile string
	Course        string
	State         string
	Region        string
}

func (d Dish) View() View {
	return View{
		Name:          d.Name,
		Ingredients:   d.IngredientList(),
		Diet:          string(d.Diet),
		PrepTime:      FormatMinutes(d.PrepTime),
		CookTime:      FormatMinutes(d.CookTime),
		FlavorProfile: FormatFlavor(d.FlavorProfile),
		Course:        d.Course,
		State:         d.State,
		Region:        d.Region,
	}
}

func FormatMinutes(m int) string {
	if m == MinutesNotSpecified {
		return NotSpecified
	}
	return strconv.Itoa(m) + " min"
}

// FormatFlavor maps the flavor sentinel to NotSpecified and passes anything else through,
// so applying it twice gives the same result as applying it once.
func FormatFlavor(flavor string) string {
	if flavor == FlavorNotSpecified {
		return NotSpecified
	}
	return flavor
}
