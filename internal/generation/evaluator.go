package generation

import (
	"context"
	"encoding/json"
)

// Part is one element of the context sent with a prompt: either text or
// inline binary data such as a page image.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart creates a text Part.
func TextPart(s string) Part { return Part{Text: s} }

// DataPart creates an inline data Part.
func DataPart(mimeType string, data []byte) Part { return Part{MIMEType: mimeType, Data: data} }

// Evaluator invokes a language model and returns its structured JSON result.
// Implementations retry transient failures per call; callers never retry.
type Evaluator interface {
	Evaluate(ctx context.Context, prompt string, parts []Part) (json.RawMessage, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, prompt string, parts []Part) (json.RawMessage, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, prompt string, parts []Part) (json.RawMessage, error) {
	return f(ctx, prompt, parts)
}

// Image is one page image of a document.
type Image struct {
	MIMEType string
	Data     []byte
}

// Document is the acquired content of one reviewed file, or of one chunk of
// it. Exactly one of Text and Images is populated.
type Document struct {
	Name   string
	Text   string
	Images []Image
}

// IsImage reports whether the document is presented as page images.
func (d Document) IsImage() bool {
	return len(d.Images) > 0
}

// Parts renders documents as prompt context.
func Parts(docs []Document) []Part {
	var parts []Part
	for _, d := range docs {
		if d.IsImage() {
			parts = append(parts, TextPart("Document: "+d.Name))
			for _, img := range d.Images {
				parts = append(parts, DataPart(img.MIMEType, img.Data))
			}
			continue
		}
		parts = append(parts, TextPart("Document: "+d.Name+"\n\n"+d.Text))
	}
	return parts
}
