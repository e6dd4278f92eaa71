// Package mealplan defines the static meal plan catalog: which categories a
// plan covers, its daily allowance, and whether it is a Friday plan.
package mealplan

import "time"

// Category is a meal type. Each category is consumable at most once per
// student per day, independent of the plan's daily allowance.
type Category string

const (
	Breakfast Category = "Breakfast"
	Lunch     Category = "Lunch"
	Snack     Category = "Snack"
)

// Categories lists every category in serving order.
var Categories = []Category{Breakfast, Lunch, Snack}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	switch c {
	case Breakfast, Lunch, Snack:
		return true
	}
	return false
}

// Kind is the base tier of a plan, independent of its weekday variant.
type Kind string

const (
	Basic     Kind = "Basic"
	Plus      Kind = "Plus"
	Premium   Kind = "Premium"
	Unlimited Kind = "Unlimited"
)

// Plan describes one catalog entry. FridayOnly is an explicit tag, never
// derived from the plan id at decision time.
type Plan struct {
	ID             string     `yaml:"id"`
	Kind           Kind       `yaml:"kind"`
	FridayOnly     bool       `yaml:"friday_only"`
	DailyAllowance int        `yaml:"daily_allowance"`
	Permitted      []Category `yaml:"permitted"`
}

// Allows reports whether the plan covers the category.
func (p Plan) Allows(c Category) bool {
	for _, allowed := range p.Permitted {
		if allowed == c {
			return true
		}
	}
	return false
}

// Regular builds a non-Friday plan entry.
func Regular(id string, kind Kind, allowance int, permitted ...Category) Plan {
	return Plan{ID: id, Kind: kind, DailyAllowance: allowance, Permitted: permitted}
}

// FridayOnly builds a Friday plan entry. Observed product behavior: Friday
// plans are honored every weekday while regular plans are refused on Fridays.
// TODO: confirm with the program owners whether Friday plans should instead be
// limited to Fridays; the guard preserves the behavior of the deployed system.
func FridayOnly(id string, kind Kind, allowance int, permitted ...Category) Plan {
	return Plan{ID: id, Kind: kind, FridayOnly: true, DailyAllowance: allowance, Permitted: permitted}
}

// IsFriday reports whether t falls on a Friday.
func IsFriday(t time.Time) bool { return t.Weekday() == time.Friday }
