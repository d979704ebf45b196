// Package phone normalizes phone numbers to E.164. It is the single place
// lead identity (the normalized phone) is derived from raw input.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "FR"

var (
	ErrMissingPhone = errors.New("phone: number required")
	ErrInvalidPhone = errors.New("phone: invalid number")
)

// Normalizer parses numbers written without a country code against a default region.
type Normalizer struct {
	region string
}

// NewNormalizer returns a Normalizer for the given ISO 3166 region, FR when blank.
func NewNormalizer(region string) Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = defaultRegion
	}
	return Normalizer{region: region}
}

// Region reports the default region in use.
func (n Normalizer) Region() string {
	if n.region == "" {
		return defaultRegion
	}
	return n.region
}

// Parse returns the E.164 form of input or an error when it is blank or not a valid number.
func (n Normalizer) Parse(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrMissingPhone
	}
	number, err := phonenumbers.Parse(trimmed, n.Region())
	if err != nil {
		return "", ErrInvalidPhone
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(number, phonenumbers.E164), nil
}

// Normalize formats input to E.164. If parsing fails, it returns the trimmed input.
func (n Normalizer) Normalize(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if formatted, err := n.Parse(trimmed); err == nil {
		return formatted
	}
	return trimmed
}
