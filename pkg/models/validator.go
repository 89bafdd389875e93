package models

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// SlugPattern is the accepted shape of journey, step and choice identifiers.
var SlugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// IsSlug reports whether s is a valid identifier slug.
func IsSlug(s string) bool {
	return SlugPattern.MatchString(s)
}

// NewValidator returns a struct validator with the journey-specific tags registered.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// registration only fails for an empty tag or nil func
	_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return IsSlug(fl.Field().String())
	})

	return validate
}
