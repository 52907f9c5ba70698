package errors

import "lumen/pkg/source"

// Position locates a span of source text for diagnostics.
type Position struct {
	Line     int // 1-based line number
	Column   int // 1-based column (byte index within the line)
	StartPos int // 0-based byte offset of the span start
	EndPos   int // 0-based byte offset of the span end (exclusive)
	Source   *source.File

	// ChunkName is used in place of Source when a position is synthesized
	// at runtime from a Proto (which carries a chunk name string, not a
	// full source.File) rather than parsed from source text.
	ChunkName string
}

func (p Position) String() string {
	name := "?"
	switch {
	case p.Source != nil:
		name = p.Source.DisplayName()
	case p.ChunkName != "":
		name = p.ChunkName
	}
	return name + ":" + itoa(p.Line) + ":" + itoa(p.Column)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
