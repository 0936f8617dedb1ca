// Package schemas validates structured LLM responses against JSON Schemas
// embedded at compile time. The model is told the shape to produce; the
// schema check catches the cases where it drifts anyway.
package schemas

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed *.json
var schemaFiles embed.FS

// Schema names understood by Validate.
const (
	Competitors       = "competitors"
	ConceptSearch     = "concept_search"
	ResearchQuestions = "research_questions"
	InvestmentThesis  = "investment_thesis"
	FinalConclusion   = "final_conclusion"
)

// ValidationError reports a document that failed schema validation.
type ValidationError struct {
	Schema string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("response does not match %s schema: %s", e.Schema, strings.Join(e.Errors, "; "))
}

// Validate checks a JSON document against the named embedded schema.
// Returns a *ValidationError when the document is well-formed JSON but does
// not match the schema.
func Validate(name string, document []byte) error {
	schemaBytes, err := schemaFiles.ReadFile(name + ".json")
	if err != nil {
		return fmt.Errorf("unknown schema %q: %w", name, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("failed to validate against %s schema: %w", name, err)
	}

	if !result.Valid() {
		ve := &ValidationError{Schema: name}
		for _, desc := range result.Errors() {
			ve.Errors = append(ve.Errors, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return ve
	}
	return nil
}
