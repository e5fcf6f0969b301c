package chunker

// splitFixed slides a window of chunkSize runes over text. Consecutive windows
// share chunkOverlap runes unless that would stop the window from advancing.
func (c *Chunker) splitFixed(text []rune) []string {
	var pieces []string
	n := len(text)
	start := 0

	for start < n {
		end := min(start+c.chunkSize, n)
		if c.preserveSentences && end < n {
			end = c.adjustEnd(text, start, end)
		}

		pieces = append(pieces, string(text[start:end]))
		if end >= n {
			break
		}

		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return pieces
}

// adjustEnd moves the cut at end back to the last sentence end inside the window,
// else the last paragraph break, else the last space past the window midpoint.
func (c *Chunker) adjustEnd(text []rune, start, end int) int {
	window := text[start:end]

	if i := lastIndexFunc(window, isSentenceEnd); i > 0 {
		return start + i + 1
	}
	if i := lastParagraphBreak(window); i > 0 {
		return start + i
	}
	if i := lastIndexFunc(window, isSpace); i > len(window)/2 {
		return start + i
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}

func lastIndexFunc(rs []rune, fn func(rune) bool) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if fn(rs[i]) {
			return i
		}
	}
	return -1
}

func lastParagraphBreak(rs []rune) int {
	for i := len(rs) - 2; i >= 0; i-- {
		if rs[i] == '\n' && rs[i+1] == '\n' {
			return i
		}
	}
	return -1
}
