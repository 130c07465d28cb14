package workload

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError reports one schema violation in a workload file.
type ValidationError struct {
	// Field is the dotted path of the offending value, empty when the
	// violation has no single location.
	Field string `json:"field,omitempty"`

	// Message describes the violation.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidateBytes checks workload YAML against the embedded CUE schema.
// All violations are collected, not just the first.
func ValidateBytes(data []byte) []ValidationError {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []ValidationError{{Message: fmt.Sprintf("parsing YAML: %v", err)}}
	}
	if raw == nil {
		return []ValidationError{{Message: "empty workload"}}
	}
	return validateRaw(raw)
}

// ValidateFile reads a file and checks it like ValidateBytes.
func ValidateFile(path string) []ValidationError {
	data, err := os.ReadFile(path)
	if err != nil {
		return []ValidationError{{Message: fmt.Sprintf("reading file: %v", err)}}
	}
	return ValidateBytes(data)
}

func validateRaw(raw map[string]any) []ValidationError {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return []ValidationError{{Message: fmt.Sprintf("compiling schema: %v", err)}}
	}
	def := schema.LookupPath(cue.ParsePath("#Workload"))
	if !def.Exists() {
		return []ValidationError{{Message: "schema has no #Workload definition"}}
	}

	unified := def.Unify(ctx.Encode(raw))
	err := unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		errs = append(errs, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return errs
}
