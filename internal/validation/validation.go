// Package validation checks request inputs before they reach the service
// layer. City names are validated by hand; structured JSON payloads go
// through go-playground/validator tags on the request structs.
package validation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when the city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

// maxCityLen bounds city names in runes. The longest real place names sit
// well under this.
const maxCityLen = 100

// ValidateCity trims the input, enforces the length bound and restricts to
// letters (Unicode), digits, space, comma, period, apostrophe and hyphen.
// Returns the trimmed string or an error suitable for a 400 response.
// Normalization (lowercasing for cache keys) is left to the geocoder.
func ValidateCity(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > maxCityLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

// isAllowedCityRune returns true for letters (Unicode), digits, space,
// comma, period, apostrophe and hyphen.
func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '.', '\'', '-':
		return true
	}
	return false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs validator tags on a request payload. The returned
// error's message lists the first failing field.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return err
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return errors.New("invalid field " + first.Field() + ": failed " + first.Tag() + " validation")
	}
	return err
}
