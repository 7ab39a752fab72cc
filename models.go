package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel       `bun:"table:users,alias:usr"`
	ID                  uuid.UUID       `bun:"id,pk,type:uuid" json:"id"`
	Email               string          `bun:"email,notnull,unique" json:"email"`
	PasswordHash        string          `bun:"hashed_password,notnull" json:"-"`
	FirstName           string          `bun:"first_name" json:"first_name,omitempty"`
	LastName            string          `bun:"last_name" json:"last_name,omitempty"`
	Phone               string          `bun:"phone_number" json:"phone_number,omitempty"`
	IsActive            bool            `bun:"is_active,notnull" json:"is_active"`
	IsVerified          bool            `bun:"is_verified,notnull" json:"is_verified"`
	IsSuperuser         bool            `bun:"is_superuser,notnull" json:"is_superuser"`
	VerificationToken   string          `bun:"verification_token,nullzero" json:"-"`
	ResetToken          string          `bun:"password_reset_token,nullzero" json:"-"`
	ResetTokenExpiresAt *time.Time      `bun:"password_reset_token_expires_at,nullzero" json:"-"`
	TrialExpiresAt      *time.Time      `bun:"trial_expires_at,nullzero" json:"trial_expires_at,omitempty"`
	LoggedInAt          *time.Time      `bun:"last_login,nullzero" json:"last_login,omitempty"`
	LoginAttempts       int             `bun:"login_attempts,notnull" json:"-"`
	LoginAttemptAt      *time.Time      `bun:"login_attempt_at,nullzero" json:"-"`
	CreatedAt           *time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at,omitempty"`
	RoleLinks           []*UserRoleLink `bun:"rel:has-many,join:id=user_id" json:"-"`
}

// Roles materializes the user's role set
func (u *User) Roles() RoleSet {
	if u == nil {
		return RoleSet{}
	}
	set := make(RoleSet, len(u.RoleLinks))
	for _, link := range u.RoleLinks {
		if link == nil {
			continue
		}
		set[link.Role] = struct{}{}
	}
	return set
}

// SetRoles replaces the in memory role links
func (u *User) SetRoles(roles RoleSet) *User {
	u.RoleLinks = make([]*UserRoleLink, 0, len(roles))
	for _, r := range roles.Slice() {
		u.RoleLinks = append(u.RoleLinks, &UserRoleLink{UserID: u.ID, Role: r})
	}
	return u
}

// FullName joins first and last name
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// InTrial reports whether the trial period is still running at now
func (u *User) InTrial(now time.Time) bool {
	return u.TrialExpiresAt != nil && now.Before(*u.TrialExpiresAt)
}

// UserRoleLink is the user <-> role association
type UserRoleLink struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid" json:"user_id"`
	Role          Role      `bun:"role,pk" json:"role"`
}

// RoleRecord stores RoleInfo
type RoleRecord struct {
	bun.BaseModel `bun:"table:user_roles_info,alias:uri"`
	Role          Role       `bun:"role,pk" json:"role"`
	Description   string     `bun:"description" json:"description"`
	Permissions   []string   `bun:"permissions,notnull" json:"permissions"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

// Info converts the record into RoleInfo
func (r *RoleRecord) Info() RoleInfo {
	return RoleInfo{
		Role:        r.Role,
		Description: r.Description,
		Permissions: append([]string(nil), r.Permissions...),
	}
}

// OneShotKind names the single use token columns
type OneShotKind string

const (
	OneShotVerification  OneShotKind = "verification"
	OneShotPasswordReset OneShotKind = "password_reset"
)

func (k OneShotKind) column() string {
	switch k {
	case OneShotVerification:
		return "verification_token"
	case OneShotPasswordReset:
		return "password_reset_token"
	default:
		return ""
	}
}
