package fetch

import (
	"fmt"
	"strconv"
	"strings"
)

// Category names one of the per-year files published by the repository.
type Category string

const (
	CategoryResults   Category = "results"
	CategoryLocations Category = "locations"
	CategorySubgroups Category = "subgroups"
	CategoryTests     Category = "tests"
)

// Categories lists every category in fetch order.
var Categories = []Category{CategoryResults, CategoryLocations, CategorySubgroups, CategoryTests}

// Required reports whether a year cannot be ingested without this file.
func (c Category) Required() bool { return c == CategoryResults }

// ParseCategory validates s.
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryResults, CategoryLocations, CategorySubgroups, CategoryTests:
		return c, nil
	}
	return "", fmt.Errorf("fetch: unknown category %q", s)
}

// ResolveURL joins base and the category's path template for year.
// Templates may use {year} (four digits) and {yy} (two digits).
func ResolveURL(base string, templates map[string]string, year int, c Category) (string, error) {
	tmpl, ok := templates[string(c)]
	if !ok || tmpl == "" {
		return "", fmt.Errorf("fetch: no path template for %s", c)
	}
	y := strconv.Itoa(year)
	yy := fmt.Sprintf("%02d", year%100)
	p := strings.NewReplacer("{year}", y, "{yy}", yy).Replace(tmpl)
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p, nil
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/"), nil
}
