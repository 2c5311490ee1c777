package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePage(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "queenstown", "index.html")

	err := WritePage(Page{
		Destination:         dest,
		DisplayName:         "Queenstown & Around",
		IssueTime:           "2025-01-06 09:00 NZDT",
		ForecastText:        "**Tomorrow, Tuesday:** Showers clearing.\n\n- Take a coat",
		TranslatedText:      "**Demain, mardi:** Averses.",
		TranslationLanguage: "fr",
		ImpactContext:       "### Known Vulnerabilities\nFlood-prone roads.",
		ModelLabel:          "ECMWF open data via Open-Meteo",
		ModelAckURL:         "https://open-meteo.com/",
	})

	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	page := string(data)

	assert.Contains(t, page, "<h1>Forecast for Queenstown &amp; Around</h1>")
	assert.Contains(t, page, "<h3>Issued: 2025-01-06 09:00 NZDT</h3>")
	assert.Contains(t, page, "<strong>Tomorrow, Tuesday:</strong>")
	assert.Contains(t, page, "<li>Take a coat</li>")
	assert.Contains(t, page, "<h2>Forecast in French (fr)</h2>")
	assert.Contains(t, page, `<div id="translated-forecast-content">`)
	assert.Contains(t, page, "Impact-Based Forecast Context")
	assert.Contains(t, page, "<h3>Known Vulnerabilities</h3>")
	assert.Contains(t, page, "ECMWF open data via Open-Meteo")
	assert.Contains(t, page, `<a href="../index.html">Return to Menu</a>`)
}

func TestWritePage_MinimalFields(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "spot", "index.html")

	require.NoError(t, WritePage(Page{
		Destination:  dest,
		DisplayName:  "Spot",
		IssueTime:    "2025-01-06 09:00 UTC",
		ForecastText: "Fine.",
	}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	page := string(data)

	// The stylesheet always ships; only the optional elements stay out.
	assert.NotContains(t, page, `<div id="translated-forecast-content">`)
	assert.NotContains(t, page, `<div id="ibf-context-wrapper">`)
	assert.NotContains(t, page, `<p class="map-link">`)
	assert.NotContains(t, page, "<h2>Forecast in")
}

func TestMarkdownToHTML(t *testing.T) {
	out := markdownToHTML("### Heading\nFirst line\nSecond line\n- one\n- two\nAfter")

	assert.Contains(t, out, "<h3>Heading</h3>")
	assert.Contains(t, out, "First line<br>Second line")
	assert.Contains(t, out, "<ul><li>one</li><li>two</li></ul>")

	// Raw HTML in model output is escaped, not interpreted.
	assert.Contains(t, markdownToHTML("<script>alert(1)</script>"), "&lt;script&gt;")
}

func TestScaffoldPlaceholderLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spot", "index.html")

	require.NoError(t, WritePlaceholder(path, "Spot"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsPlaceholder(data))

	// A second scaffold run leaves the file alone.
	before := string(data)
	require.NoError(t, WritePlaceholder(path, "Renamed"))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, string(after))

	// Real pages are not placeholders.
	require.NoError(t, WritePage(Page{
		Destination:  path,
		DisplayName:  "Spot",
		IssueTime:    "now",
		ForecastText: "Fine.",
	}))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, IsPlaceholder(data))
}

func TestWriteMenuAndFavicon(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteFavicon(dir))
	require.NoError(t, WriteMenu(dir,
		[]MenuEntry{{Slug: "queenstown", Label: "Queenstown"}},
		[]MenuEntry{{Slug: "otago", Label: "Otago"}}))

	menu, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)

	assert.Contains(t, string(menu), `<a href="queenstown/index.html">Queenstown</a>`)
	assert.Contains(t, string(menu), "<h2>Areas</h2>")

	favicon, err := os.ReadFile(filepath.Join(dir, "favicon.svg"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(favicon), "<svg"))

	// Favicon writes are idempotent.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "favicon.svg"), []byte("custom"), 0o644))
	require.NoError(t, WriteFavicon(dir))

	favicon, err = os.ReadFile(filepath.Join(dir, "favicon.svg"))
	require.NoError(t, err)
	assert.Equal(t, "custom", string(favicon))
}

func TestMapsState(t *testing.T) {
	dir := t.TempDir()

	// Missing file loads empty.
	state := LoadMapsState(dir)
	assert.Empty(t, state.ConfigHash)
	assert.NotNil(t, state.Areas)

	state.ConfigHash = "abc"
	state.Areas["otago"] = AreaFingerprint("Otago", []string{"Queenstown", "Dunedin"})

	require.NoError(t, SaveMapsState(dir, state))

	loaded := LoadMapsState(dir)
	assert.Equal(t, "abc", loaded.ConfigHash)
	assert.Equal(t, state.Areas["otago"], loaded.Areas["otago"])
}

func TestAreaFingerprint_OrderIndependent(t *testing.T) {
	a := AreaFingerprint("Otago", []string{"Queenstown", "Dunedin"})
	b := AreaFingerprint("Otago", []string{"Dunedin", "Queenstown"})
	c := AreaFingerprint("Otago", []string{"Dunedin"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
