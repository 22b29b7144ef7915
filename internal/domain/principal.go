package domain

import "fmt"

// Role is the coarse role of a pre-authorised principal. The core trusts the
// principal and enforces only client-level isolation; fine-grained RBAC is
// an external collaborator.
type Role string

const (
	RoleSuperAdmin Role = "super-admin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

// Principal is the pre-authorised caller identity attached to every core
// operation.
type Principal struct {
	ID          string   `json:"id"`
	Role        Role     `json:"role"`
	ClientID    string   `json:"clientId,omitempty"`
	Departments []string `json:"departments,omitempty"`
	Locations   []string `json:"locations,omitempty"`
}

// CanAccessClient reports whether the principal may touch the given client's
// streams and summaries. Super admins are unrestricted; everyone else is
// confined to their own client.
func (p Principal) CanAccessClient(clientID string) bool {
	if p.Role == RoleSuperAdmin {
		return true
	}

	return p.ClientID != "" && p.ClientID == clientID
}

// RequireClient returns a client-mismatch error when the principal may not
// access clientID.
func (p Principal) RequireClient(clientID string) error {
	if p.CanAccessClient(clientID) {
		return nil
	}

	return fmt.Errorf("principal %s on client %s: %w", p.ID, clientID, ErrClientMismatch)
}

// SystemPrincipal is the identity scheduler jobs run under.
func SystemPrincipal() Principal {
	return Principal{ID: "system", Role: RoleSuperAdmin}
}
