package enums

import "fmt"

// UserRole scopes what an authenticated caller may do.
type UserRole string

const (
	RoleBuyer  UserRole = "buyer"
	RoleSeller UserRole = "seller"
	RoleAdmin  UserRole = "admin"
)

var validUserRoles = []UserRole{
	RoleBuyer,
	RoleSeller,
	RoleAdmin,
}

func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if r == candidate {
			return true
		}
	}
	return false
}

func (r UserRole) String() string {
	return string(r)
}

func ParseUserRole(value string) (UserRole, error) {
	role := UserRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid user role: %q", value)
	}
	return role, nil
}
