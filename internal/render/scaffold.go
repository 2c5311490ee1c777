package render

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

// FaviconSVG is the fixed site icon written once to the web root.
const FaviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64" viewBox="0 0 64 64" role="img" aria-label="Forecast site favicon">
  <defs>
    <linearGradient id="sky" x1="0" y1="0" x2="0" y2="1">
      <stop offset="0" stop-color="#bfe6ff"/>
      <stop offset="1" stop-color="#4aa3ff"/>
    </linearGradient>
    <linearGradient id="gloss" x1="0" y1="0" x2="1" y2="1">
      <stop offset="0" stop-color="#ffffff" stop-opacity="0.55"/>
      <stop offset="0.55" stop-color="#ffffff" stop-opacity="0.12"/>
      <stop offset="1" stop-color="#ffffff" stop-opacity="0"/>
    </linearGradient>
  </defs>
  <g transform="translate(32 32) scale(1.15) translate(-32 -32)">
    <ellipse cx="32" cy="32" rx="27" ry="22" fill="url(#sky)"/>
    <ellipse cx="32" cy="32" rx="27" ry="22" fill="none" stroke="#0a2a43" stroke-width="3"/>
    <path d="M11 27 C15 15, 28 10, 40 12 C28 14, 19 19, 14 29 C13 31, 11 30, 11 27 Z" fill="url(#gloss)"/>
    <g transform="translate(17 39)">
      <path d="M8 8 C4.5 8 1.8 5.4 1.8 2.3 C1.8 -0.2 3.6 -2.4 6.1 -3 C7.2 -6 10.1 -8 13.7 -8 C18.2 -8 21.9 -4.6 21.9 0 C24.7 0.4 26.8 2.6 26.8 5.1 C26.8 7.8 24.5 10 21.6 10 L8 10 Z" fill="#ffffff" opacity="0.95"/>
    </g>
  </g>
</svg>
`

// placeholderBody marks a scaffolded page that has never received a real
// forecast; the refresh-skip check looks for it before honoring mtime.
const placeholderBody = "<p>Forecast will be updated here.</p>"

const placeholderTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <link rel="icon" href="../favicon.svg" type="image/svg+xml" sizes="any">
  <title>Forecast for %s</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
           background: #f7f7f7; color: #333; margin: 0 auto; padding: 20px; max-width: 800px; }
    h1 { color: #2F4F4F; margin-top: 0; }
    #forecast-content { background: #ffffff; padding: 20px; border: 1px solid #ccc; border-radius: 5px;
                        white-space: pre-wrap; word-wrap: break-word; line-height: 1.4em; }
    a { color: #0066cc; text-decoration: none; font-weight: bold; }
    a:hover { text-decoration: underline; }
  </style>
</head>
<body>
  <h1>Forecast for %s</h1>
  <div id="forecast-content">
    ` + placeholderBody + `
  </div>
  <p><a href="../index.html">Return to Menu</a></p>
</body>
</html>
`

const menuTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <link rel="icon" href="favicon.svg" type="image/svg+xml" sizes="any">
  <title>Weather Forecast Menu</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
           background: #f7f7f7; color: #333; margin: 0 auto; padding: 20px; max-width: 800px; }
    h1, h2 { color: #2F4F4F; margin-top: 1.5em; margin-bottom: 0.5em; }
    h1 { margin-top: 0; }
    ul { list-style-type: none; padding: 0; }
    li { margin: 10px 0; font-size: 18px; }
    a { color: #0066cc; text-decoration: none; font-weight: bold; }
    a:hover { text-decoration: underline; }
    hr { margin: 2em 0; border: 0; border-top: 1px solid #ccc; }
    .footer-note { margin-top: 20px; font-size: 0.9em; color: #666; text-align: center; }
    .footer-note a { font-weight: normal; }
  </style>
</head>
<body>
  <h1>Weather Forecast Menu</h1>
  %s
  %s
  <hr>
  <div class="footer-note">
    Data courtesy of <a href="https://open-meteo.com/" target="_blank" rel="noopener">open-meteo.com</a>.
  </div>
</body>
</html>
`

// MenuEntry is one link on the menu page.
type MenuEntry struct {
	Slug  string
	Label string
}

// WriteFavicon writes the favicon unless it already exists.
func WriteFavicon(webRoot string) error {
	target := filepath.Join(webRoot, "favicon.svg")

	if _, err := os.Stat(target); err == nil {
		return nil
	}

	if err := os.MkdirAll(webRoot, 0o755); err != nil {
		return fmt.Errorf("create web root: %w", err)
	}

	return fsio.WriteFileAtomic(target, []byte(FaviconSVG), 0o644)
}

// WritePlaceholder scaffolds an entity page that has not been forecast yet.
// Existing pages are left untouched.
func WritePlaceholder(path, title string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create placeholder directory: %w", err)
	}

	safe := html.EscapeString(title)

	return fsio.WriteFileAtomic(path, []byte(fmt.Sprintf(placeholderTemplate, safe, safe)), 0o644)
}

// IsPlaceholder reports whether the page content is the scaffolder's
// placeholder rather than a real forecast.
func IsPlaceholder(content []byte) bool {
	return bytes.Contains(content, []byte(placeholderBody))
}

// WriteMenu writes the web root index.html linking every location and area.
func WriteMenu(webRoot string, locations, areas []MenuEntry) error {
	if err := os.MkdirAll(webRoot, 0o755); err != nil {
		return fmt.Errorf("create web root: %w", err)
	}

	doc := fmt.Sprintf(menuTemplate,
		menuSection("Locations", locations),
		menuSection("Areas", areas))

	return fsio.WriteFileAtomic(filepath.Join(webRoot, "index.html"), []byte(doc), 0o644)
}

func menuSection(title string, entries []MenuEntry) string {
	if len(entries) == 0 {
		return ""
	}

	items := make([]string, 0, len(entries))

	for _, entry := range entries {
		items = append(items, fmt.Sprintf(`    <li><a href="%s/index.html">%s</a></li>`,
			html.EscapeString(entry.Slug), html.EscapeString(entry.Label)))
	}

	return fmt.Sprintf("<h2>%s</h2>\n<ul>\n%s\n</ul>", title, strings.Join(items, "\n"))
}
