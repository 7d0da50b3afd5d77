package fabric

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
)

var validate = validator.New()

// Decode converts a raw attribute record into a typed record and validates it.
// Unknown attributes are ignored.
func Decode[T any](attrs engine.Attributes) (T, error) {
	var out T

	input := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		input[k] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(input); err != nil {
		return out, engine.NewPermanentError("failed to decode record", err).
			WithCode(engine.ErrCodeDecode).
			WithDetail("dn", attrs.DN())
	}

	if err := validate.Struct(out); err != nil {
		return out, engine.NewPermanentError(fmt.Sprintf("invalid record %q", attrs.DN()), err).
			WithCode(engine.ErrCodeValidation)
	}
	return out, nil
}

// DecodeAll decodes every record, stopping at the first invalid one.
func DecodeAll[T any](records []engine.Attributes) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// NodeDN returns the node prefix of a distinguished name,
// e.g. topology/pod-1/node-101 for topology/pod-1/node-101/sys/ctx-[...].
func NodeDN(dn string) string {
	parts := strings.Split(dn, "/")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return strings.Join(parts, "/")
}

// NodeID returns the node number found in a distinguished name, or an empty
// string if there is none.
func NodeID(dn string) string {
	parts := strings.Split(dn, "/")
	if len(parts) < 3 {
		return ""
	}
	_, id, ok := strings.Cut(parts[2], "-")
	if !ok {
		return ""
	}
	return id
}
