package ingest

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"

	appErrors "signalrelay/internal/errors"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/event.json
var eventSchemaJSON []byte

const eventSchemaURL = "https://signalrelay.local/schema/event.json"

// compileEventSchema compiles the embedded connector event schema
func compileEventSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(eventSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(eventSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add event schema: %w", err)
	}
	sch, err := c.Compile(eventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile event schema: %w", err)
	}
	return sch, nil
}

// checkShape rejects raw events that are not JSON objects of the expected shape
func checkShape(sch *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return appErrors.NewValidationError("event", "", "malformed JSON")
	}
	if err := sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return appErrors.NewValidationError("event", "", firstCause(verr))
		}
		return appErrors.NewValidationError("event", "", err.Error())
	}
	return nil
}

// firstCause returns the innermost message, which names the failing property
func firstCause(verr *jsonschema.ValidationError) string {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr.Error()
}
