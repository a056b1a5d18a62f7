package handlers

import (
	"gopkg.in/go-playground/validator.v9"
)

// RequestValidator plugs validator tags on request param structs into echo's
// c.Validate
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a request validator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// Validate implements echo.Validator
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
