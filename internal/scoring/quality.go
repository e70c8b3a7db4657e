package scoring

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dukerupert/kudos/internal/model"
)

var (
	stripPolicy = bluemonday.StrictPolicy()

	linkRe    = regexp.MustCompile(`(?i)https?://[^\s<>"']+|<a\s[^>]*href=`)
	mediaRe   = regexp.MustCompile(`(?i)<(img|video|audio|iframe)\b|!\[[^\]]*\]\([^)]+\)|\.(png|jpe?g|gif|webp|mp4|mov|webm)\b`)
	codeRe    = regexp.MustCompile("(?s)```.*?```|`[^`\n]+`|<(pre|code)\\b")
	mentionRe = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_][A-Za-z0-9_.-]*)`)
)

// Analyze extracts quality indicators from raw message or post content.
// Length counts runes of the text left after all markup is stripped; the other
// indicators look at the raw content.
func Analyze(content string) model.Quality {
	text := html.UnescapeString(stripPolicy.Sanitize(content))
	text = strings.TrimSpace(text)

	return model.Quality{
		Length:       utf8.RuneCountInString(text),
		HasLinks:     linkRe.MatchString(content),
		HasMedia:     mediaRe.MatchString(content),
		HasCode:      codeRe.MatchString(content),
		HasQuestion:  strings.Contains(text, "?"),
		MentionCount: len(mentionRe.FindAllStringIndex(content, -1)),
	}
}
