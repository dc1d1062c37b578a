// Package chunk splits assistant replies into short WhatsApp-sized messages
// and computes the delays used to pace their delivery.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Chunk is one piece of a split reply.
type Chunk struct {
	Text   string
	Index  int
	IsLast bool
}

// Options bound the size of emitted chunks. Lengths are counted in runes.
type Options struct {
	MaxLines  int
	MaxLength int
	MinLength int
}

// DefaultOptions returns 4 lines / 500 characters per chunk.
func DefaultOptions() Options {
	return Options{MaxLines: 4, MaxLength: 500, MinLength: 50}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxLines <= 0 {
		o.MaxLines = d.MaxLines
	}
	if o.MaxLength <= 0 {
		o.MaxLength = d.MaxLength
	}
	if o.MinLength < 0 || o.MinLength >= o.MaxLength {
		o.MinLength = min(d.MinLength, o.MaxLength/2)
	}
	return o
}

// breakPoints are tried in order when a single line is too long.
var breakPoints = []string{". ", "! ", "? ", "\n\n", "\n", ", ", "; "}

// Split cuts text into chunks of at most opts.MaxLines lines and
// opts.MaxLength characters. Short texts come back as a single chunk.
func Split(text string, opts Options) []Chunk {
	opts = opts.withDefaults()
	lines := strings.Split(text, "\n")

	if len(lines) <= opts.MaxLines && utf8.RuneCountInString(text) <= opts.MaxLength {
		return []Chunk{{Text: text, Index: 0, IsLast: true}}
	}

	var pieces []string
	current := ""
	lineCount := 0

	flush := func() {
		if t := strings.TrimSpace(current); t != "" {
			pieces = append(pieces, t)
		}
		current = ""
		lineCount = 0
	}

	for _, line := range lines {
		if current != "" &&
			(lineCount >= opts.MaxLines || utf8.RuneCountInString(current)+1+utf8.RuneCountInString(line) > opts.MaxLength) {
			flush()
		}

		if utf8.RuneCountInString(line) > opts.MaxLength {
			sub := splitLongLine(line, opts)
			pieces = append(pieces, sub[:len(sub)-1]...)
			current = sub[len(sub)-1]
			lineCount = 1
			continue
		}

		if current == "" {
			current = line
		} else {
			current += "\n" + line
		}
		lineCount++
	}
	flush()

	if len(pieces) == 0 {
		return []Chunk{{Text: strings.TrimSpace(text), Index: 0, IsLast: true}}
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{Text: p, Index: i, IsLast: i == len(pieces)-1}
	}
	return chunks
}

// splitLongLine breaks a line longer than MaxLength at the last preferred
// break point that leaves more than MinLength characters in the piece, or
// hard-splits at MaxLength. It always returns at least one element.
func splitLongLine(line string, opts Options) []string {
	var out []string
	remaining := []rune(line)

	for len(remaining) > opts.MaxLength {
		window := string(remaining[:opts.MaxLength])
		splitAt := -1
		for _, bp := range breakPoints {
			idx := strings.LastIndex(window, bp)
			if idx < 0 {
				continue
			}
			runeIdx := utf8.RuneCountInString(window[:idx])
			if runeIdx > opts.MinLength {
				splitAt = runeIdx + utf8.RuneCountInString(bp)
				break
			}
		}
		if splitAt < 0 {
			splitAt = opts.MaxLength
		}

		if head := strings.TrimSpace(string(remaining[:splitAt])); head != "" {
			out = append(out, head)
		}
		remaining = []rune(strings.TrimSpace(string(remaining[splitAt:])))
	}

	if len(remaining) > 0 || len(out) == 0 {
		out = append(out, string(remaining))
	}
	return out
}

// Join concatenates chunk texts with newlines.
func Join(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n")
}
