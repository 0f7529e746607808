package provider

import (
	"regexp"
	"strings"
)

// refusalHintLimit caps how much provider text is surfaced as an error
// detail when no image came back.
const refusalHintLimit = 280

var (
	dataURLPattern   = regexp.MustCompile(`data:image/[a-zA-Z+]+;base64,[A-Za-z0-9+/=]+`)
	httpImagePattern = regexp.MustCompile(`(?i)https?://\S+\.(?:png|jpe?g|webp|gif)`)
)

// extractFromText pulls image references out of free-form provider text.
// Embedded data URLs are preferred over remote URLs.
func extractFromText(text string) []string {
	var urls []string
	urls = append(urls, dataURLPattern.FindAllString(text, -1)...)
	urls = append(urls, httpImagePattern.FindAllString(text, -1)...)
	return dedupe(urls)
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// refusalHint condenses provider text into a short error detail, typically a
// safety-policy refusal message.
func refusalHint(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > refusalHintLimit {
		text = string(runes[:refusalHintLimit])
	}
	return text
}
