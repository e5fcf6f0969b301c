package chunker

var (
	SplitFixedForTest = func(c *Chunker, text string) []string {
		return c.splitFixed([]rune(text))
	}
	UnitsForTest = func(c *Chunker, text string) []string {
		return c.units(text)
	}
)
