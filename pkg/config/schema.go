package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// ValidationError is a schema violation with its location in the file.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		b.WriteString(e.Path + ": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// SchemaError lists every schema violation of a file.
type SchemaError struct {
	Errors []ValidationError
}

func (e *SchemaError) Error() string {
	lines := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		lines[i] = v.String()
	}
	return "config schema validation failed:\n  " + strings.Join(lines, "\n  ")
}

// ValidateSchema checks YAML data against the embedded CUE schema. Unknown
// keys are rejected.
func ValidateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("failed to compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return &SchemaError{Errors: convertCUEErrors(err)}
	}
	val := ctx.BuildFile(file)
	if err := val.Err(); err != nil {
		return &SchemaError{Errors: convertCUEErrors(err)}
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Errors: convertCUEErrors(err)}
	}
	return nil
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		v := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		out = append(out, v)
	}
	return out
}
