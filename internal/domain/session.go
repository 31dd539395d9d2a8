package domain

// Role describes the principal's operating mode in the marketplace.
type Role string

const (
	RoleAdopter Role = "adopter"
	RoleBreeder Role = "breeder"
)

// IdentityRecord is the locally cached representation of the signed-in
// principal. ID must always equal the current token's subject; every other
// field is profile data the token does not own.
type IdentityRecord struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	KennelName  string `json:"kennel_name,omitempty"`
}

// Clone returns a copy of the record so callers receive snapshots rather
// than the manager-owned value.
func (r *IdentityRecord) Clone() *IdentityRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// IdentityUpdate carries a partial profile update. Nil fields are left
// untouched. The record's ID is never updatable; the token owns it.
type IdentityUpdate struct {
	Email       *string
	DisplayName *string
	Role        *Role
	AvatarURL   *string
	KennelName  *string
}

// Apply returns a copy of rec with the non-nil fields of u applied.
func (u IdentityUpdate) Apply(rec *IdentityRecord) *IdentityRecord {
	out := rec.Clone()
	if u.Email != nil {
		out.Email = *u.Email
	}
	if u.DisplayName != nil {
		out.DisplayName = *u.DisplayName
	}
	if u.Role != nil {
		out.Role = *u.Role
	}
	if u.AvatarURL != nil {
		out.AvatarURL = *u.AvatarURL
	}
	if u.KennelName != nil {
		out.KennelName = *u.KennelName
	}
	return out
}

// Session pairs the current bearer token with the identity derived from it.
type Session struct {
	Token    string
	Identity *IdentityRecord
	Claims   *Claims
}
