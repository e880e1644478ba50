package review

import (
	"fmt"
	"strings"

	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/tokenizer"
)

// chunker splits oversized documents into ordered parts for large reviews.
type chunker struct {
	counter          tokenizer.Counter
	tokenLimit       int
	maxImagesPerCall int
}

// split returns the review units of docs. A document that fits is its own
// unit; parts of a split document are named "name (part i/n)".
func (c chunker) split(docs []generation.Document) []generation.Document {
	var units []generation.Document
	for _, d := range docs {
		var parts []generation.Document
		if d.IsImage() {
			parts = c.splitImages(d)
		} else {
			parts = c.splitText(d)
		}
		if len(parts) > 1 {
			for i := range parts {
				parts[i].Name = fmt.Sprintf("%s (part %d/%d)", d.Name, i+1, len(parts))
			}
		}
		units = append(units, parts...)
	}
	return units
}

func (c chunker) splitImages(d generation.Document) []generation.Document {
	size := c.maxImagesPerCall
	if size <= 0 || len(d.Images) <= size {
		return []generation.Document{d}
	}
	var parts []generation.Document
	for start := 0; start < len(d.Images); start += size {
		end := start + size
		if end > len(d.Images) {
			end = len(d.Images)
		}
		parts = append(parts, generation.Document{Name: d.Name, Images: d.Images[start:end]})
	}
	return parts
}

func (c chunker) splitText(d generation.Document) []generation.Document {
	if c.tokenLimit <= 0 || c.counter == nil || c.counter.Count(d.Text) <= c.tokenLimit {
		return []generation.Document{d}
	}
	var parts []generation.Document
	for _, text := range c.pack(d.Text) {
		parts = append(parts, generation.Document{Name: d.Name, Text: text})
	}
	return parts
}

// pack greedily joins pieces into chunks within the token limit, splitting
// on paragraphs first, then lines, then runes.
func (c chunker) pack(text string) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, piece := range c.pieces(text) {
		candidate := cur.String() + piece
		if cur.Len() > 0 && c.counter.Count(candidate) > c.tokenLimit {
			flush()
			candidate = piece
		}
		cur.Reset()
		cur.WriteString(candidate)
	}
	flush()
	return chunks
}

// pieces breaks text into units that each fit the token limit.
func (c chunker) pieces(text string) []string {
	var out []string
	for _, para := range splitKeep(text, "\n\n") {
		if c.counter.Count(para) <= c.tokenLimit {
			out = append(out, para)
			continue
		}
		for _, line := range splitKeep(para, "\n") {
			if c.counter.Count(line) <= c.tokenLimit {
				out = append(out, line)
				continue
			}
			out = append(out, c.hardSplit(line)...)
		}
	}
	return out
}

// hardSplit cuts a single oversized line into rune windows within the limit.
func (c chunker) hardSplit(line string) []string {
	runes := []rune(line)
	var out []string
	for len(runes) > 0 {
		n := len(runes)
		for n > 1 && c.counter.Count(string(runes[:n])) > c.tokenLimit {
			n /= 2
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// splitKeep splits s after each sep, keeping the separator on the piece.
func splitKeep(s, sep string) []string {
	var out []string
	for {
		i := strings.Index(s, sep)
		if i < 0 {
			if s != "" {
				out = append(out, s)
			}
			return out
		}
		out = append(out, s[:i+len(sep)])
		s = s[i+len(sep):]
	}
}
