package types

import "strings"

// Address is the shipping address snapshot stored on an order. It is copied
// at checkout time and never re-read from the user profile afterwards.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// IsZero reports whether no address fields are populated.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Validate checks the minimum fields required to ship an order.
func (a Address) Validate() error {
	missing := []string{}
	if strings.TrimSpace(a.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return &AddressError{Missing: missing}
	}
	return nil
}

// AddressError lists the missing shipping address fields.
type AddressError struct {
	Missing []string
}

func (e *AddressError) Error() string {
	return "shipping address missing: " + strings.Join(e.Missing, ", ")
}
