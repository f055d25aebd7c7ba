package types

import (
	"fmt"
	"strings"
)

// Address is stored as a JSON document on orders.
type Address struct {
	Name       string  `json:"name" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city" validate:"required"`
	State      string  `json:"state" validate:"required"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Country    string  `json:"country" validate:"omitempty,len=2"`
	Phone      *string `json:"phone,omitempty"`
}

// Normalize trims whitespace and defaults the country to US.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = "US"
	}
	return a
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"name", a.Name},
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("address: missing %s", field.name)
		}
	}
	return nil
}
