package impact

import (
	"regexp"
	"strings"
)

var (
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLPattern      = regexp.MustCompile(`https?://\S+`)
	headingPattern      = regexp.MustCompile(`^\s*(?:#{1,6}\s*|\*\*)?\s*(.+?)\s*(?:\*\*)?\s*:?\s*$`)
)

// conversationalTails open the chat-assistant sign-off paragraphs that
// search-grounded models like to append. Everything from such a line to the
// end of the briefing is dropped.
var conversationalTails = []string{
	"If you'd like",
	"If you would like",
	"Would you like",
	"Let me know",
	"Each of these items",
}

// CleanBriefing normalizes raw model output into the briefing stored and
// rendered: links and URLs removed, headings canonicalized to H3, chat
// sign-offs cut.
func CleanBriefing(text string) string {
	text = markdownLinkPattern.ReplaceAllString(text, "$1")
	text = bareURLPattern.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if startsConversationalTail(trimmed) {
			break
		}

		if title, ok := matchRequiredHeading(trimmed); ok {
			kept = append(kept, "### "+title)

			continue
		}

		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	out := strings.Join(kept, "\n")
	out = regexp.MustCompile(`\n{3,}`).ReplaceAllString(out, "\n\n")

	return strings.TrimSpace(out)
}

func startsConversationalTail(line string) bool {
	for _, tail := range conversationalTails {
		if strings.HasPrefix(line, tail) {
			return true
		}
	}

	return false
}

// matchRequiredHeading recognizes any decoration of a required section
// title, whatever heading level or bold styling the model chose.
func matchRequiredHeading(line string) (string, bool) {
	match := headingPattern.FindStringSubmatch(line)

	if match == nil {
		return "", false
	}

	candidate := strings.TrimSpace(strings.Trim(match[1], "*# "))

	for _, section := range RequiredSections {
		if strings.EqualFold(candidate, section) {
			return section, true
		}
	}

	return "", false
}
