// Package plan is the fixed subscription catalog.
package plan

import (
	"fmt"
	"strings"

	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
)

// Plan is one purchasable subscription tier. Price is a decimal string in
// the catalog currency, per month.
type Plan struct {
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Features []string `json:"features"`
}

const DefaultSlug = "standard"

var catalog = []Plan{
	{Slug: "basic", Name: "Basic Plan", Price: "5.99", Features: []string{"SD Streaming", "1 Device", "No Downloads"}},
	{Slug: "standard", Name: "Standard Plan", Price: "9.99", Features: []string{"HD Streaming", "2 Devices", "Downloads Available"}},
	{Slug: "premium", Name: "Premium Plan", Price: "14.99", Features: []string{"Ultra HD & 4K Streaming", "4 Devices", "Unlimited Downloads"}},
}

// All returns a copy of the catalog in display order.
func All() []Plan {
	out := make([]Plan, len(catalog))
	for i, p := range catalog {
		p.Features = append([]string(nil), p.Features...)
		out[i] = p
	}
	return out
}

// Lookup finds a plan by slug or display name. An empty argument selects
// the default plan.
func Lookup(name string) (Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSlug
	}
	for _, p := range All() {
		if strings.EqualFold(p.Slug, name) || strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("plan %q: %w", name, apperr.ErrNotFound)
}
