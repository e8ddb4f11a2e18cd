package domain

import (
	"fmt"
	"strings"
)

// Location is a value object for a coarse geographic position in
// "country:city" form, e.g. "US:New York". Country is the only part
// consulted for geo-velocity checks; city is informational.
// Always valid in memory; use NewLocation or ParseLocation to construct.
type Location struct {
	country string
	city    string
}

// NewLocation creates a Location from its parts. Country is required.
func NewLocation(country, city string) (Location, error) {
	if country == "" {
		return Location{}, fmt.Errorf("location country cannot be empty: %w", ErrInvalidInput)
	}
	return Location{country: country, city: city}, nil
}

// ParseLocation creates a Location from its serialized "country:city" form.
// A bare country with no separator is accepted.
func ParseLocation(raw string) (Location, error) {
	if raw == "" {
		return Location{}, fmt.Errorf("location cannot be empty: %w", ErrInvalidInput)
	}
	country, city, _ := strings.Cut(raw, ":")
	return NewLocation(country, city)
}

// MustLocation creates a Location, panicking on invalid input. Use only in tests.
func MustLocation(raw string) Location {
	l, err := ParseLocation(raw)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Location) Country() string { return l.country }
func (l Location) City() string    { return l.city }
func (l Location) IsZero() bool    { return l.country == "" }

// String returns the serialized "country:city" form.
func (l Location) String() string {
	if l.city == "" {
		return l.country
	}
	return l.country + ":" + l.city
}

// SameCountry reports whether both locations are in the same country.
func (l Location) SameCountry(other Location) bool {
	return l.country == other.country
}
