package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThemeCollectionArrayShape(t *testing.T) {
	data := []byte(`[
		{"name": "ocean", "enabled": true, "images": ["a.png", "b.png"], "text_lines": ["drift"]},
		{"name": "forest", "enabled": false, "images": ["c.png"]}
	]`)

	var c ThemeCollection
	require.NoError(t, json.Unmarshal(data, &c))
	require.Len(t, c.Themes, 2)
	assert.Equal(t, "ocean", c.Themes[0].Name)

	enabled := c.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "ocean", enabled[0].Name)
}

func TestThemeCollectionMapShape(t *testing.T) {
	data := []byte(`{
		"forest": {"enabled": true, "images": ["c.png"]},
		"ocean": {"enabled": true, "images": ["a.png"]}
	}`)

	var c ThemeCollection
	require.NoError(t, json.Unmarshal(data, &c))
	require.Len(t, c.Themes, 2)

	// Map keys become names, sorted for determinism.
	assert.Equal(t, "forest", c.Themes[0].Name)
	assert.Equal(t, "ocean", c.Themes[1].Name)
}

func TestThemeCollectionByName(t *testing.T) {
	c := ThemeCollection{Themes: []ThemeConfig{{Name: "ocean"}}}
	assert.NotNil(t, c.ByName("ocean"))
	assert.Nil(t, c.ByName("desert"))
}

func TestThemeCollectionValidateDuplicates(t *testing.T) {
	c := ThemeCollection{Themes: []ThemeConfig{{Name: "ocean"}, {Name: "ocean"}, {Name: ""}}}
	errs := c.Validate()
	require.Len(t, errs, 2)
}

func TestThemeHasMedia(t *testing.T) {
	assert.False(t, (&ThemeConfig{}).HasMedia())
	assert.True(t, (&ThemeConfig{Images: []string{"a.png"}}).HasMedia())
	assert.True(t, (&ThemeConfig{Animations: []string{"a.mp4"}}).HasMedia())
}
