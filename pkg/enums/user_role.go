package enums

// UserRole is the role claim carried in identity tokens.
type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleAdmin    UserRole = "admin"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleCustomer, UserRoleAdmin:
		return true
	}
	return false
}
