package model

import "time"

// Stakeholder is a registered participant with a role, an activation
// flag, and a fund balance in minor currency units. Authentication users
// and supply-chain actors are the same records.
type Stakeholder struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	Verified     bool       `json:"verified"`
	Balance      int64      `json:"balance"`
	Location     string     `json:"location,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Stakeholder roles.
const (
	RoleFarmer      = "farmer"
	RoleProcessor   = "processor"
	RoleDistributor = "distributor"
	RoleShipper     = "shipper"
	RoleRetailer    = "retailer"
	RoleConsumer    = "consumer"
	RoleAdmin       = "admin"
)

var roles = map[string]bool{
	RoleFarmer:      true,
	RoleProcessor:   true,
	RoleDistributor: true,
	RoleShipper:     true,
	RoleRetailer:    true,
	RoleConsumer:    true,
	RoleAdmin:       true,
}

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
	return roles[r]
}

// FullyActive reports whether the stakeholder is both activated and
// verified.
func (s *Stakeholder) FullyActive() bool {
	return s.Active && s.Verified
}
