package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidObservation is the sentinel wrapped by every ValidationError.
var ErrInvalidObservation = errors.New("invalid observation")

// FieldError describes one failed rule on an Observation field.
type FieldError struct {
	Field string // JSON/column name, e.g. "precipitacao"
	Rule  string // validator tag, e.g. "gte"
	Param string // rule parameter, e.g. "0"
}

func (f FieldError) String() string {
	if f.Param == "" {
		return f.Field + " " + f.Rule
	}
	return f.Field + " " + f.Rule + " " + f.Param
}

// ValidationError lists every rule an Observation broke.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidObservation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidObservation }

// Validator rejects observations with absent or out-of-range measurements:
// temperature and humidity must be present, precipitation must be present and
// non-negative, and the timestamp must be set. Humidity is stored as reported,
// including readings above 100.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator. It is safe for concurrent use.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Validate returns nil for an acceptable observation or a *ValidationError.
func (val *Validator) Validate(obs Observation) error {
	var fields []FieldError
	if obs.Timestamp.IsZero() {
		fields = append(fields, FieldError{Field: "data", Rule: "required"})
	}

	if err := val.v.Struct(obs); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate observation: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Valid is the boolean form of Validate.
func (val *Validator) Valid(obs Observation) bool {
	return val.Validate(obs) == nil
}
