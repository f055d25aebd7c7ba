package types

import "testing"

func TestAddressNormalizeAndValidate(t *testing.T) {
	addr := Address{Name: " Ada ", Line1: "1 Main St", City: "Austin", State: "TX", PostalCode: " 78701 "}.Normalize()
	if addr.Country != "US" || addr.Name != "Ada" || addr.PostalCode != "78701" {
		t.Fatalf("unexpected normalized address %+v", addr)
	}
	if err := addr.Validate(); err != nil {
		t.Fatalf("expected valid address: %v", err)
	}

	addr.City = "  "
	if err := addr.Validate(); err == nil || err.Error() != "address: missing city" {
		t.Fatalf("expected missing city error, got %v", err)
	}
}
