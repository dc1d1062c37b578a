package knowledge

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"jarvis/internal/domain"
)

var extensionTypes = map[string]string{
	".txt":  "text/plain",
	".text": "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
}

// ContentType resolves the media type of a file from its declared MIME type,
// falling back to its extension.
func ContentType(mimeType, name string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil && mt != "application/octet-stream" {
		return mt
	}
	return extensionTypes[strings.ToLower(filepath.Ext(name))]
}

// Parse extracts plain text from a supported document.
func Parse(mimeType, name string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not UTF-8 text: %w", name, domain.ErrUnsupportedFormat)
	}
	switch ContentType(mimeType, name) {
	case "text/plain", "text/markdown":
		return string(data), nil
	case "text/csv":
		return parseCSV(data)
	case "application/json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return "", fmt.Errorf("parse %s: %w", name, err)
		}
		return buf.String(), nil
	}
	return "", fmt.Errorf("%s (%s): %w", name, mimeType, domain.ErrUnsupportedFormat)
}

func parseCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(".\n")
	}
	return b.String(), nil
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// ChunkText groups sentences into chunks of about size characters. Each
// chunk after the first repeats the tail of the previous one so a passage
// split across two chunks can still be found.
func ChunkText(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	} else if rest := text[lastEnd(text):]; strings.TrimSpace(rest) != "" {
		sentences = append(sentences, rest)
	}

	var chunks []string
	var cur strings.Builder
	for _, s := range sentences {
		if utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(s) > size && cur.Len() > 0 {
			done := strings.TrimSpace(cur.String())
			chunks = append(chunks, done)
			cur.Reset()
			if overlap := tail(done); overlap != "" {
				cur.WriteString(overlap)
				cur.WriteString(" ")
			}
		}
		cur.WriteString(strings.TrimSpace(s))
		cur.WriteString(" ")
	}
	if last := strings.TrimSpace(cur.String()); last != "" {
		chunks = append(chunks, last)
	}
	return chunks
}

func lastEnd(text string) int {
	locs := sentenceRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return 0
	}
	return locs[len(locs)-1][1]
}

// tail returns the last sentence of a chunk when it is short enough to be
// repeated.
func tail(chunk string) string {
	locs := sentenceRe.FindAllStringIndex(chunk, -1)
	if len(locs) < 2 {
		return ""
	}
	last := strings.TrimSpace(chunk[locs[len(locs)-1][0]:])
	if utf8.RuneCountInString(last) > 200 {
		return ""
	}
	return last
}
