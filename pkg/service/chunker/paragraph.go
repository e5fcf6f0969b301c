package chunker

import (
	"strings"
	"unicode/utf8"
)

const paragraphJoin = "\n\n"

// splitParagraphs packs whole paragraphs into chunks. A paragraph longer than
// chunkSize is split with the fixed strategy on its own.
func (c *Chunker) splitParagraphs(text string) []string {
	var (
		pieces []string
		buf    string
	)

	for _, para := range c.paragraphSeparator.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		size := utf8.RuneCountInString(para)

		if size > c.chunkSize {
			if buf != "" {
				pieces = append(pieces, buf)
				buf = ""
			}
			pieces = append(pieces, c.splitFixed([]rune(CleanText(para)))...)
			continue
		}

		if buf == "" {
			buf = para
			continue
		}

		if utf8.RuneCountInString(buf)+len(paragraphJoin)+size > c.chunkSize {
			pieces = append(pieces, buf)
			buf = para
			// seed with the tail of the flushed chunk only when it still fits
			if seed := strings.TrimSpace(tailRunes(pieces[len(pieces)-1], c.chunkOverlap)); seed != "" &&
				utf8.RuneCountInString(seed)+len(paragraphJoin)+size <= c.chunkSize {
				buf = seed + paragraphJoin + para
			}
			continue
		}

		buf += paragraphJoin + para
	}

	if buf != "" {
		pieces = append(pieces, buf)
	}
	return pieces
}

// splitUnits packs separator-terminated units (sentences by default) into chunks.
// Overlap is seeded with whole units so that no unit is cut in the middle.
func (c *Chunker) splitUnits(text string) []string {
	var (
		pieces []string
		buf    []string
		bufLen int
	)
	flush := func() {
		if bufLen > 0 {
			pieces = append(pieces, strings.Join(buf, ""))
		}
	}

	for _, unit := range c.units(text) {
		if strings.TrimSpace(unit) == "" {
			continue
		}
		size := utf8.RuneCountInString(unit)

		if size > c.chunkSize {
			flush()
			buf, bufLen = nil, 0
			pieces = append(pieces, c.splitFixed([]rune(CleanText(unit)))...)
			continue
		}

		if bufLen > 0 && bufLen+size > c.chunkSize {
			flush()
			seed, seedLen := c.overlapUnits(buf)
			if seedLen+size > c.chunkSize {
				seed, seedLen = nil, 0
			}
			buf, bufLen = seed, seedLen
		}

		buf = append(buf, unit)
		bufLen += size
	}
	flush()

	return pieces
}

// units splits text after every separator match, keeping the separator
func (c *Chunker) units(text string) []string {
	var units []string
	prev := 0
	for _, loc := range c.unitSeparator.FindAllStringIndex(text, -1) {
		if loc[1] <= prev {
			continue
		}
		units = append(units, text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		units = append(units, text[prev:])
	}
	return units
}

// overlapUnits returns the trailing units of buf that start inside the last
// chunkOverlap runes
func (c *Chunker) overlapUnits(buf []string) ([]string, int) {
	total := 0
	i := len(buf)
	for i > 0 {
		size := utf8.RuneCountInString(buf[i-1])
		if total+size > c.chunkOverlap {
			break
		}
		total += size
		i--
	}
	if i == len(buf) {
		return nil, 0
	}
	return append([]string(nil), buf[i:]...), total
}

func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[len(rs)-n:])
}
