// Package render writes the static forecast site: per-entity forecast pages,
// the menu, the favicon, and the incremental-regeneration state file.
package render

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

// Page carries everything needed to render one forecast page.
type Page struct {
	// Destination is the full path of the index.html to write.
	Destination string

	DisplayName string

	// IssueTime is the preformatted local issue timestamp.
	IssueTime string

	ForecastText string

	// TranslatedText and TranslationLanguage add a second rendition when a
	// translation was produced.
	TranslatedText      string
	TranslationLanguage string

	// ImpactContext is the Markdown briefing shown in a collapsible block.
	ImpactContext string

	// MapLink is a relative link to a generated area map, when one exists.
	MapLink string

	// ModelLabel and ModelAckURL credit the data source in the footer.
	ModelLabel  string
	ModelAckURL string
}

// WritePage renders the page to its destination, creating parent
// directories as needed.
//
// Parameters:
//   - page: Fully populated page model
//
// Returns:
//   - error: Filesystem failure
func WritePage(page Page) error {
	if err := os.MkdirAll(filepath.Dir(page.Destination), 0o755); err != nil {
		return fmt.Errorf("create page directory: %w", err)
	}

	displayName := html.EscapeString(page.DisplayName)

	var body []string

	body = append(body,
		fmt.Sprintf("<h1>Forecast for %s</h1>", displayName),
		fmt.Sprintf("<h3>Issued: %s</h3>", html.EscapeString(page.IssueTime)),
	)

	if page.MapLink != "" {
		body = append(body, fmt.Sprintf(
			`<p class="map-link"><a href="%s" target="_blank" rel="noopener">Show map for %s</a></p>`,
			html.EscapeString(page.MapLink), displayName))
	}

	body = append(body, fmt.Sprintf(`<div id="forecast-content">%s</div>`,
		markdownToHTML(page.ForecastText)))

	if header := translationHeader(page.TranslationLanguage); header != "" && page.TranslatedText != "" {
		body = append(body, header, fmt.Sprintf(
			`<div id="translated-forecast-content">%s</div>`,
			markdownToHTML(page.TranslatedText)))
	}

	if page.ImpactContext != "" {
		body = append(body, impactContextBlock(page.ImpactContext))
	}

	body = append(body,
		`<p><a href="../index.html">Return to Menu</a></p>`,
		footerNote(page.ModelLabel, page.ModelAckURL),
	)

	doc := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <link rel="icon" href="../favicon.svg" type="image/svg+xml" sizes="any">
  <title>Forecast for %s</title>
  %s
</head>
<body>
%s
%s
</body>
</html>
`, displayName, pageStyleBlock, strings.Join(body, "\n"), pageScriptBlock)

	return fsio.WriteFileAtomic(page.Destination, []byte(doc), 0o644)
}

var (
	bulletLinePattern = regexp.MustCompile(`^[*\-•]\s+(.*)`)
	headingH3Pattern  = regexp.MustCompile(`(?m)^### (.+)$`)
	boldSpanPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicSpanPattern = regexp.MustCompile(`\*(.+?)\*`)
)

// markdownToHTML converts the small Markdown subset the LLM emits: H3
// headings, bold, italics, and bullet lists. Line breaks become <br>.
func markdownToHTML(text string) string {
	escaped := html.EscapeString(text)

	var out []string
	inList := false

	for _, line := range strings.Split(escaped, "\n") {
		stripped := strings.TrimSpace(line)

		if match := bulletLinePattern.FindStringSubmatch(stripped); match != nil {
			if !inList {
				out = append(out, "<ul>")
				inList = true
			}

			out = append(out, fmt.Sprintf("<li>%s</li>", strings.TrimSpace(match[1])))

			continue
		}

		if inList {
			out = append(out, "</ul>")
			inList = false
		}

		out = append(out, line)
	}

	if inList {
		out = append(out, "</ul>")
	}

	result := strings.Join(out, "\n")
	result = headingH3Pattern.ReplaceAllString(result, "<h3>$1</h3>")
	result = boldSpanPattern.ReplaceAllString(result, "<strong>$1</strong>")
	result = italicSpanPattern.ReplaceAllString(result, "<em>$1</em>")
	result = strings.ReplaceAll(result, "\n", "<br>")

	// Block elements carry their own spacing.
	for _, fix := range [][2]string{
		{"<br><h3>", "<h3>"},
		{"</h3><br>", "</h3>"},
		{"<br><ul>", "<ul>"},
		{"<ul><br>", "<ul>"},
		{"</li><br><li>", "</li><li>"},
		{"</li><br></ul>", "</li></ul>"},
		{"</ul><br>", "</ul>"},
	} {
		result = strings.ReplaceAll(result, fix[0], fix[1])
	}

	return strings.TrimSpace(result)
}

// translationLanguageNames maps configured language codes to display names.
var translationLanguageNames = map[string]string{
	"Fr-CA": "French (Canada)",
	"fr":    "French",
	"es":    "Spanish",
	"de":    "German",
}

func translationHeader(language string) string {
	if language == "" {
		return ""
	}

	display, ok := translationLanguageNames[language]

	if !ok {
		return fmt.Sprintf("<h2>Forecast in %s</h2>", html.EscapeString(language))
	}

	return fmt.Sprintf("<h2>Forecast in %s (%s)</h2>",
		html.EscapeString(display), html.EscapeString(language))
}

func impactContextBlock(context string) string {
	return fmt.Sprintf(`<div id="ibf-context-wrapper">
  <div id="ibf-context-header" onclick="toggleIbfContext()">
    <span id="ibf-context-toggle">&#9654;</span>
    <span id="ibf-context-header-text">Impact-Based Forecast Context</span>
  </div>
  <div id="ibf-context-content">%s</div>
</div>`, markdownToHTML(context))
}

func footerNote(modelLabel, ackURL string) string {
	label := modelLabel

	if label == "" {
		label = "Weather data by Open-Meteo"
	}

	ack := ""

	if ackURL != "" {
		ack = fmt.Sprintf(
			`  Additional acknowledgement: <a href="%s" target="_blank" rel="noopener">open data licence</a>.<br>`,
			html.EscapeString(ackURL))
	}

	return fmt.Sprintf(`<div class="footer-note">
  Data courtesy of <a href="https://open-meteo.com/" target="_blank" rel="noopener">open-meteo.com</a> using %s.<br>
%s</div>`, html.EscapeString(label), ack)
}

const pageStyleBlock = `<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #f8f9fa; color: #212529; margin: 1em auto; padding: 0 1em; max-width: 800px; line-height: 1.6; }
h1 { color: #343a40; border-bottom: 2px solid #dee2e6; padding-bottom: 0.5em; margin-top: 1em; margin-bottom: 1em; font-size: 1.8em; }
h3 { color: #495057; font-size: 1.1em; font-weight: 600; margin-top: 0.8em; margin-bottom: 0.4em; }
#forecast-content, #translated-forecast-content { background: #ffffff; padding: 1.5em 2em; border: 1px solid #dee2e6; border-radius: 6px; white-space: pre-wrap; word-wrap: break-word; box-shadow: 0 2px 4px rgba(0,0,0,0.05); margin-bottom: 2em; }
#forecast-content strong, #translated-forecast-content strong { color: #0d6efd; font-weight: bold; }
#forecast-content em, #translated-forecast-content em { color: #6f42c1; font-style: italic; }
#translated-forecast-content { margin-top: 1em; border-top: 3px solid #6c757d; padding-top: 1.5em; }
.map-link { margin: 0.2em 0 1.2em; }
.map-link a { color: #198754; }
#ibf-context-wrapper { margin-bottom: 2em; }
#ibf-context-header { background: #ffffff; padding: 1em 1.5em; border: 1px solid #dee2e6; border-radius: 6px 6px 0 0; cursor: pointer; user-select: none; display: flex; align-items: center; box-shadow: 0 2px 4px rgba(0,0,0,0.05); }
#ibf-context-header:hover { background: #f8f9fa; }
#ibf-context-toggle { font-size: 0.8em; margin-right: 0.8em; transition: transform 0.2s; color: #495057; }
#ibf-context-toggle.expanded { transform: rotate(90deg); }
#ibf-context-header-text { color: #343a40; font-weight: 500; }
#ibf-context-content { display: none; margin-top: 0; background: #ffffff; border-top: 1px solid #dee2e6; border-radius: 0 0 6px 6px; padding: 1.5em 2em; white-space: normal; word-wrap: break-word; box-shadow: 0 2px 4px rgba(0,0,0,0.05); line-height: 1.5; }
#ibf-context-content ul { margin: 0 0 1em 1.2em; padding: 0; }
#ibf-context-content li { margin-bottom: 0.5em; }
#ibf-context-content li:last-child { margin-bottom: 0; }
#ibf-context-content.expanded { display: block; }
h2 { color: #343a40; margin-top: 1.5em; margin-bottom: 0.8em; font-size: 1.4em; }
a { color: #0d6efd; text-decoration: none; font-weight: 500; }
a:hover { text-decoration: underline; color: #0a58ca; }
.footer-note { margin-top: 2.5em; padding-top: 1em; border-top: 1px solid #dee2e6; font-size: 0.9em; color: #6c757d; text-align: center; }
.footer-note a { font-weight: normal; }
hr { display: none; }
@media (max-width: 600px) { body { margin: 0.5em; padding: 0 0.8em; } h1 { font-size: 1.5em; } #forecast-content, #translated-forecast-content, #ibf-context-content { padding: 1em 1.2em; } h2 { font-size: 1.2em;} }
</style>`

const pageScriptBlock = `<script>
function toggleIbfContext() {
  const content = document.getElementById('ibf-context-content');
  const toggle = document.getElementById('ibf-context-toggle');
  if (content.classList.contains('expanded')) {
    content.classList.remove('expanded');
    toggle.classList.remove('expanded');
  } else {
    content.classList.add('expanded');
    toggle.classList.add('expanded');
  }
}
</script>`
