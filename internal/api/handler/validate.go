package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// fieldErrors flattens validation failures into field -> reason
func fieldErrors(err error) any {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	out := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			out[e.Field()] = "field is required"
		case "max":
			out[e.Field()] = "must be at most " + e.Param() + " characters"
		case "oneof":
			out[e.Field()] = "must be one of: " + e.Param()
		default:
			out[e.Field()] = "validation failed on " + e.Tag()
		}
	}
	return out
}
