// Package segment splits long outbound text into transport-safe chunks.
package segment

import (
	"strings"
	"unicode/utf8"
)

// DefaultLimit leaves headroom under WhatsApp's 4096 character body limit.
const DefaultLimit = 4000

// Len is the length measure used for limits: characters, not bytes.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Split breaks text into chunks of at most limit characters.
//
// Text that already fits is returned as the only chunk. Otherwise lines are
// packed greedily; a line longer than limit is packed word by word, and a
// single word longer than limit is cut at the limit. Chunks are trimmed of
// surrounding whitespace and never empty. Blank input yields no chunks.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if Len(text) <= limit {
		return []string{text}
	}

	p := packer{limit: limit}
	for _, line := range strings.Split(text, "\n") {
		n := Len(line)
		if p.curLen+n+1 <= limit {
			p.add(line + "\n")
			continue
		}
		p.flush()
		if n <= limit {
			p.add(line + "\n")
			continue
		}
		p.splitLine(line)
	}
	p.flush()
	return p.chunks
}

type packer struct {
	limit  int
	chunks []string
	cur    strings.Builder
	curLen int
}

func (p *packer) add(s string) {
	p.cur.WriteString(s)
	p.curLen += Len(s)
}

func (p *packer) flush() {
	if s := strings.TrimSpace(p.cur.String()); s != "" {
		p.chunks = append(p.chunks, s)
	}
	p.cur.Reset()
	p.curLen = 0
}

// splitLine packs the words of an overlong line, breaking on any run of
// Unicode white space. The tail that does not fill a chunk stays in the
// buffer so following lines can join it.
func (p *packer) splitLine(line string) {
	for _, word := range strings.Fields(line) {
		n := Len(word)
		if p.curLen+n+1 <= p.limit {
			p.add(word + " ")
			continue
		}
		p.flush()
		for n > p.limit {
			head, rest := cutRunes(word, p.limit)
			p.chunks = append(p.chunks, head)
			word, n = rest, n-p.limit
		}
		if n > 0 {
			p.add(word + " ")
		}
	}
	if p.curLen > 0 {
		p.cur.WriteString("\n")
		p.curLen++
	}
}

func cutRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
