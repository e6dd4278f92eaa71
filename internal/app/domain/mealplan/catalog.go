package mealplan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the immutable plan table loaded once at startup.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog from explicit entries. Duplicate ids are
// rejected so a bad override file cannot silently shadow a plan.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan with empty id")
		}
		if p.DailyAllowance <= 0 {
			return nil, fmt.Errorf("plan %s: daily allowance must be positive", p.ID)
		}
		if len(p.Permitted) == 0 {
			return nil, fmt.Errorf("plan %s: no permitted categories", p.ID)
		}
		for _, c := range p.Permitted {
			if !c.Valid() {
				return nil, fmt.Errorf("plan %s: unknown category %q", p.ID, c)
			}
		}
		if _, exists := byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate plan id %s", p.ID)
		}
		byID[p.ID] = p
	}
	return &Catalog{plans: byID}, nil
}

// DefaultCatalog mirrors the deployed plan table.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog(
		Regular("Basic", Basic, 1, Lunch),
		Regular("Plus", Plus, 2, Lunch, Snack),
		Regular("Premium", Premium, 3, Breakfast, Lunch, Snack),
		Regular("Unlimited", Unlimited, 999, Breakfast, Lunch, Snack),
		FridayOnly("FridayBasic", Basic, 1, Lunch),
		FridayOnly("FridayPlus", Plus, 2, Lunch, Snack),
		FridayOnly("FridayPremium", Premium, 3, Breakfast, Lunch, Snack),
	)
	if err != nil {
		// The built-in table is validated by tests; reaching here is a bug.
		panic(err)
	}
	return catalog
}

// LoadCatalog reads a YAML plan file. An empty path returns the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog %s defines no plans", path)
	}
	return NewCatalog(doc.Plans...)
}

// Lookup returns the plan for id.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// IDs returns every plan id, useful for validation and seeding.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.plans))
	for id := range c.plans {
		ids = append(ids, id)
	}
	return ids
}
