package openrouter

import (
	"regexp"
	"strings"
)

var (
	actionRe     = regexp.MustCompile(`\*[^*]*\*`)
	parenRe      = regexp.MustCompile(`\([^)]*\)`)
	punctRe      = regexp.MustCompile(`([!?.]){2,}`)
	rolePrefixes = []string{"USER:", "ASSISTANT:"}
)

const quoteTrimSet = `"'`

// CleanResponse normalizes raw model output into a single persona line:
// drops role prefixes and a leading "<botName>:" marker, keeps only the first
// line, strips roleplay parentheticals, asterisks, wrapping quotes, emoji,
// and collapses repeated punctuation.
func CleanResponse(text, botName string) string {
	for _, p := range rolePrefixes {
		text = strings.ReplaceAll(text, p, "")
	}
	text = actionRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "*", "")
	text = strings.TrimSpace(text)

	if botName != "" {
		re := regexp.MustCompile(`(?i)^\[?` + regexp.QuoteMeta(botName) + `\]?:\s*`)
		text = re.ReplaceAllString(text, "")
	}
	text = strings.Trim(text, quoteTrimSet)

	// Keep the first line only; the model sometimes continues the scene.
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}

	text = parenRe.ReplaceAllString(text, "")
	text = punctRe.ReplaceAllString(text, "$1")
	text = stripEmoji(text)
	return strings.TrimSpace(text)
}

func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x1F300 && r <= 0x1F9FF {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
