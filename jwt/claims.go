package jwt

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleList is the "role" claim. A single role is encoded as a JSON string and
// several roles as an array; both shapes are accepted on decode.
type RoleList []string

func (r RoleList) MarshalJSON() ([]byte, error) {
	if len(r) == 1 {
		return json.Marshal(r[0])
	}
	return json.Marshal([]string(r))
}

func (r *RoleList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*r = nil
			return nil
		}
		*r = RoleList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

// Claims is the access-token payload.
type Claims struct {
	Email          string   `json:"email,omitempty"`
	GivenName      string   `json:"given_name,omitempty"`
	FamilyName     string   `json:"family_name,omitempty"`
	NameIdentifier string   `json:"nameidentifier,omitempty"`
	Name           string   `json:"name,omitempty"`
	UserStatus     string   `json:"user_status,omitempty"`
	EmailConfirmed string   `json:"email_confirmed,omitempty"`
	Roles          RoleList `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject. The name identifier claim is informational and
// never stands in for a missing subject.
func (c Claims) UserID() string {
	return strings.TrimSpace(c.Subject)
}

// IsZero reports whether c carries no subject at all. [Manager.ClaimsFromToken]
// returns zero claims for every rejected token.
func (c Claims) IsZero() bool {
	return c.UserID() == "" && c.Email == "" && c.ID == ""
}

// HasRole reports whether role is present in the role claim.
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
