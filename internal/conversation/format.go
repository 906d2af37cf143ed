package conversation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"shop-assistant/internal/segment"
)

var (
	imageLineRe     = regexp.MustCompile(`(?mi)^[ \t]*(?:[-*•][ \t]*)?(?:\*{1,2}|_)?image(?:\s+url)?(?:\*{1,2}|_)?[ \t]*:(?:\*{1,2})?[ \t]*<?(https?://[^\s>)]+)>?[ \t]*$\n?`)
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^\s)]+)\)`)
	productMarkerRe = regexp.MustCompile(`(?m)^[ \t]*\**\[PRODUCT_(?:START|END)\]\**[ \t]*$\n?`)
	boldRe          = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlineRe     = regexp.MustCompile(`__(.+?)__`)
	strikeRe        = regexp.MustCompile(`~~(.+?)~~`)
	headingRe       = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// ExtractImages removes image markers from text and returns the cleaned text
// with the marker URLs in source order. Repeated URLs are kept once.
func ExtractImages(text string) (string, []string) {
	type hit struct {
		start, end int
		url        string
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{imageLineRe, markdownImageRe} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			hits = append(hits, hit{start: m[0], end: m[1], url: text[m[2]:m[3]]})
		}
	}
	if len(hits) == 0 {
		return text, nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	var b strings.Builder
	seen := make(map[string]bool, len(hits))
	urls := make([]string, 0, len(hits))
	pos := 0
	for _, h := range hits {
		if h.start < pos {
			continue
		}
		b.WriteString(text[pos:h.start])
		pos = h.end
		if !seen[h.url] {
			seen[h.url] = true
			urls = append(urls, h.url)
		}
	}
	b.WriteString(text[pos:])
	return tidy(b.String()), urls
}

// WhatsAppMarkdown rewrites common Markdown emphasis into WhatsApp's syntax
// and drops product block markers.
func WhatsAppMarkdown(text string) string {
	text = productMarkerRe.ReplaceAllString(text, "")
	text = headingRe.ReplaceAllString(text, "*$1*")
	text = boldRe.ReplaceAllString(text, "*$1*")
	text = underlineRe.ReplaceAllString(text, "_${1}_")
	text = strikeRe.ReplaceAllString(text, "~$1~")
	return tidy(text)
}

func tidy(text string) string {
	return strings.TrimSpace(blankRunRe.ReplaceAllString(text, "\n\n"))
}

func partMarker(i, n int) string {
	return fmt.Sprintf("📄 *Part %d/%d*\n\n", i, n)
}

// chunksFor splits text for a transport limit, prefixing part markers when
// more than one chunk is needed. Every returned message fits limit.
func chunksFor(text string, limit int) []string {
	if limit <= 0 {
		limit = segment.DefaultLimit
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if segment.Len(text) <= limit {
		return []string{text}
	}
	reserve := segment.Len(partMarker(999, 999))
	body := limit - reserve
	if body < 1 {
		body = 1
	}
	chunks := segment.Split(text, body)
	if len(chunks) == 1 {
		return chunks
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = partMarker(i+1, len(chunks)) + c
	}
	return out
}

const (
	readingWPM    = 200
	typingBase    = time.Second
	typingFloor   = 2 * time.Second
	typingCeiling = 5 * time.Second
)

// typingDelay simulates reading time for text, capped at limit. A
// non-positive limit disables the delay.
func typingDelay(text string, limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	words := len(strings.Fields(text))
	d := typingBase + time.Duration(words)*time.Minute/readingWPM
	if d < typingFloor {
		d = typingFloor
	}
	if d > typingCeiling {
		d = typingCeiling
	}
	if d > limit {
		d = limit
	}
	return d
}
