// Package validation is the schema gate every event passes before it can
// reach the event log.
package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/faultline/faultline/internal/model"
)

var (
	ErrNilEvent      = errors.New("nil event")
	ErrInvalidStatus = errors.New("status is neither a positive code nor FAIL")
)

type Validator struct {
	structs *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{
		structs: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate returns the first rule e breaks, or nil.
func (v *Validator) Validate(e *model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validate: %v", r)
		}
	}()

	if e == nil {
		return ErrNilEvent
	}
	if err := v.structs.Struct(e); err != nil {
		return err
	}
	if e.Kind == model.KindNetwork && !e.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// IsValid reports whether e is well-formed for its kind. It never panics.
func (v *Validator) IsValid(e *model.Event) bool {
	return v.Validate(e) == nil
}
