package generation

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/phrazzld/docreview-api/internal/domain"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// promptData is the data every prompt template may reference.
type promptData struct {
	Items         []domain.ChecklistSnapshot
	Criteria      []domain.EvaluationCriterion
	Settings      domain.ReviewSettings
	DocumentName  string
	Findings      []ItemFindings
	MaxCategories int
	Instructions  string
}

func renderPrompt(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s prompt template: %w", name, err)
	}
	return buf.String(), nil
}
