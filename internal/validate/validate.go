// Package validate classifies raw records as normalized persons or
// rejections. Classification is pure and deterministic: malformed input is a
// normal outcome, never an error.
package validate

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"personetl/internal/record"
)

// Default age bounds. A record outside them is rejected as out of range.
const (
	DefaultAgeMin = 0
	DefaultAgeMax = 130
)

// Validator applies the record contract. A Validator is cheap to construct;
// construct one per goroutine (the underlying caser is not concurrency safe).
type Validator struct {
	AgeMin int
	AgeMax int

	titler cases.Caser
}

// New returns a Validator with the given age bounds.
func New(ageMin, ageMax int) *Validator {
	return &Validator{
		AgeMin: ageMin,
		AgeMax: ageMax,
		titler: cases.Title(language.Und),
	}
}

// Validate classifies one raw record.
//
// Checks run in order, each with its own reason:
//  1. required fields present -> missing_field
//  2. required fields non-empty after trimming -> empty_value
//  3. age parses as an integer -> invalid_type
//  4. age within [AgeMin, AgeMax] -> out_of_range
//
// On ok=true the returned Person carries normalized fields: the name is
// lowercased with its first rune upper-cased, the city is lowercased and
// title-cased, so spellings like "Madrid" and " madrid " converge.
func (v *Validator) Validate(raw record.Raw) (record.Person, record.Reason, bool) {
	for _, f := range record.Required {
		s, ok := raw.Get(f)
		if !ok {
			return record.Person{}, record.ReasonMissingField, false
		}
		if strings.TrimSpace(s) == "" {
			return record.Person{}, record.ReasonEmptyValue, false
		}
	}

	rawNombre, _ := raw.Get(record.FieldNombre)
	rawEdad, _ := raw.Get(record.FieldEdad)
	rawCiudad, _ := raw.Get(record.FieldCiudad)

	age, err := strconv.Atoi(strings.TrimSpace(rawEdad))
	if err != nil {
		return record.Person{}, record.ReasonInvalidType, false
	}
	if age < v.AgeMin || age > v.AgeMax {
		return record.Person{}, record.ReasonOutOfRange, false
	}

	return record.Person{
		Name: capitalize(rawNombre),
		Age:  age,
		City: v.normalizeCity(rawCiudad),
	}, "", true
}

// capitalize lowercases s and upper-cases its first rune.
func capitalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func (v *Validator) normalizeCity(s string) string {
	return v.titler.String(strings.ToLower(strings.TrimSpace(s)))
}
