package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ThemeConfig is a named collection of visual assets. Immutable after load.
type ThemeConfig struct {
	Name       string   `json:"name"`
	Enabled    bool     `json:"enabled"`
	Images     []string `json:"images"`
	Animations []string `json:"animations"`
	Fonts      []string `json:"fonts"`
	TextLines  []string `json:"text_lines"`
}

// HasMedia reports whether the theme has any image or animation assets.
func (t *ThemeConfig) HasMedia() bool {
	return len(t.Images) > 0 || len(t.Animations) > 0
}

// ThemeCollection is a named set of themes, loaded once at startup and
// read-only thereafter.
type ThemeCollection struct {
	Themes []ThemeConfig
}

// Enabled returns the enabled themes in declaration order.
func (c *ThemeCollection) Enabled() []ThemeConfig {
	var out []ThemeConfig
	for _, t := range c.Themes {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// ByName returns the theme with the given name, or nil.
func (c *ThemeCollection) ByName(name string) *ThemeConfig {
	for i := range c.Themes {
		if c.Themes[i].Name == name {
			return &c.Themes[i]
		}
	}
	return nil
}

// UnmarshalJSON accepts both on-disk shapes: a JSON array of themes, or a
// map keyed by theme name (older files). Map keys win over any "name" field.
func (c *ThemeCollection) UnmarshalJSON(data []byte) error {
	var asArray []ThemeConfig
	if err := json.Unmarshal(data, &asArray); err == nil {
		c.Themes = asArray
		return nil
	}

	var asMap map[string]ThemeConfig
	if err := json.Unmarshal(data, &asMap); err != nil {
		return fmt.Errorf("theme collection must be a JSON array or name-keyed object: %w", err)
	}

	c.Themes = make([]ThemeConfig, 0, len(asMap))
	for name, theme := range asMap {
		theme.Name = name
		c.Themes = append(c.Themes, theme)
	}
	// Map iteration order is random; keep loads deterministic.
	sort.Slice(c.Themes, func(i, j int) bool { return c.Themes[i].Name < c.Themes[j].Name })
	return nil
}

// MarshalJSON writes the array shape.
func (c ThemeCollection) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Themes)
}

// LoadThemeCollection reads and parses a theme collection file.
func LoadThemeCollection(path string) (*ThemeCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading theme collection: %w", err)
	}

	var collection ThemeCollection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, fmt.Errorf("parsing theme collection %s: %w", path, err)
	}
	return &collection, nil
}

// Validate checks the collection and returns every problem found.
func (c *ThemeCollection) Validate() ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)
	for i, theme := range c.Themes {
		field := fmt.Sprintf("themes[%d]", i)
		if theme.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "name is required"})
		}
		if seen[theme.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate theme name %q", theme.Name)})
		}
		seen[theme.Name] = true
	}
	return errs
}
