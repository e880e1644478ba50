// Package extract turns stored uploads into model-ready documents: text is
// decoded from text-like files, image mode files are passed through as page
// images. Binary formats must be converted to page images before upload.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
)

var (
	// ErrUnsupportedFormat is returned for text mode files that are not text.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument is returned when a file yields no content.
	ErrEmptyDocument = errors.New("document has no content")
)

// Reader reads blobs by path.
type Reader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// Source locates one stored upload.
type Source struct {
	Name        string
	ProcessMode domain.ProcessMode
	// Path is the blob path of a text file, or the directory of page images.
	Path       string
	ImageCount int
}

// Extractor reads sources from a blob store.
type Extractor struct {
	blobs Reader
}

// New creates an Extractor.
func New(blobs Reader) *Extractor {
	return &Extractor{blobs: blobs}
}

// Extract produces the document for one source.
func (e *Extractor) Extract(ctx context.Context, src Source) (generation.Document, error) {
	switch src.ProcessMode {
	case domain.ProcessModeText:
		data, err := e.blobs.Read(ctx, src.Path)
		if err != nil {
			return generation.Document{}, fmt.Errorf("read %s: %w", src.Name, err)
		}
		text, err := Text(data)
		if err != nil {
			return generation.Document{}, fmt.Errorf("%s: %w", src.Name, err)
		}
		return generation.Document{Name: src.Name, Text: text}, nil

	case domain.ProcessModeImage:
		if src.ImageCount <= 0 {
			return generation.Document{}, fmt.Errorf("%s: %w", src.Name, ErrEmptyDocument)
		}
		images := make([]generation.Image, 0, src.ImageCount)
		for i := 0; i < src.ImageCount; i++ {
			data, err := e.blobs.Read(ctx, fmt.Sprintf("%s/%d", src.Path, i))
			if err != nil {
				return generation.Document{}, fmt.Errorf("read %s page %d: %w", src.Name, i, err)
			}
			img, err := Image(data)
			if err != nil {
				return generation.Document{}, fmt.Errorf("%s page %d: %w", src.Name, i, err)
			}
			images = append(images, img)
		}
		return generation.Document{Name: src.Name, Images: images}, nil
	}
	return generation.Document{}, fmt.Errorf("%s: unknown process mode %q", src.Name, src.ProcessMode)
}

// Text decodes a text-like file. Formats whose MIME hierarchy does not
// include text/plain are rejected.
func Text(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyDocument
	}
	mt := mimetype.Detect(data)
	if !isText(mt) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}
	text := strings.TrimPrefix(string(data), "\uFEFF")
	text = strings.ToValidUTF8(text, "\uFFFD")
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Image validates a page image and reports its MIME type.
func Image(data []byte) (generation.Image, error) {
	if len(data) == 0 {
		return generation.Image{}, ErrEmptyDocument
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return generation.Image{}, fmt.Errorf("%w: %s is not an image", ErrUnsupportedFormat, mt.String())
	}
	return generation.Image{MIMEType: mt.String(), Data: data}, nil
}
