package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Role is the application-level role stored on a profile.
type Role string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleController Role = "controller"
	RoleResponder  Role = "responder"
)

// Roles lists every known role.
var Roles = []Role{RoleUser, RoleModerator, RoleAdmin, RoleController, RoleResponder}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ProfileStatus tracks account approval.
type ProfileStatus string

const (
	ProfileStatusPending   ProfileStatus = "pending"
	ProfileStatusApproved  ProfileStatus = "approved"
	ProfileStatusRejected  ProfileStatus = "rejected"
	ProfileStatusSuspended ProfileStatus = "suspended"
)

var ProfileStatuses = []ProfileStatus{ProfileStatusPending, ProfileStatusApproved, ProfileStatusRejected, ProfileStatusSuspended}

func (s ProfileStatus) Valid() bool {
	for _, known := range ProfileStatuses {
		if s == known {
			return true
		}
	}
	return false
}

var (
	ErrInvalidIdentity    = errors.New("identity id is required")
	ErrProfileUnavailable = errors.New("profile store unavailable")
	ErrProfileMissing     = errors.New("profile missing after create")
)

// Profile is the application user record, keyed by the authentication identity id.
type Profile struct {
	ID        uint          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Email     string        `gorm:"type:varchar(191);index" json:"email"`
	Name      string        `gorm:"type:varchar(150)" json:"name"`
	FullName  string        `gorm:"type:varchar(191)" json:"full_name"`
	Role      Role          `gorm:"type:varchar(32);index;not null" json:"role"`
	Status    ProfileStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	Approved  bool          `gorm:"index" json:"approved"`
	CompanyID *uint         `gorm:"index" json:"company_id,omitempty"`
	LastLogin *time.Time    `json:"last_login,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsApproved reports whether the profile may use role-gated features.
func (p Profile) IsApproved() bool {
	return p.Approved && p.Status == ProfileStatusApproved
}

// SetStatus keeps Status and the derived Approved column in step.
func (p *Profile) SetStatus(s ProfileStatus) {
	p.Status = s
	p.Approved = s == ProfileStatusApproved
}

// DisplayName prefers the full name, then the short name, then the email.
func (p Profile) DisplayName() string {
	switch {
	case p.FullName != "":
		return p.FullName
	case p.Name != "":
		return p.Name
	default:
		return p.Email
	}
}

// Identity is what the auth layer knows about a signed-in user.
type Identity struct {
	UserID uint
	Email  string
	Name   string
}

// NewProfile builds the default profile for a first-time identity.
func NewProfile(ident Identity) Profile {
	return Profile{
		ID:       ident.UserID,
		Email:    ident.Email,
		Name:     ident.Name,
		FullName: ident.Name,
		Role:     RoleUser,
		Status:   ProfileStatusPending,
		Approved: false,
	}
}

var ensureGroup singleflight.Group

// EnsureProfile returns the profile for ident, creating a pending "user" profile when none exists.
// Concurrent calls for the same identity resolve to a single row.
func EnsureProfile(ctx context.Context, db *gorm.DB, ident Identity) (Profile, error) {
	if ident.UserID == 0 {
		return Profile{}, ErrInvalidIdentity
	}
	key := fmt.Sprintf("%p/%d", db, ident.UserID)
	v, err, _ := ensureGroup.Do(key, func() (interface{}, error) {
		return ensureProfile(ctx, db, ident)
	})
	if err != nil {
		return Profile{}, err
	}
	return v.(Profile), nil
}

func ensureProfile(ctx context.Context, db *gorm.DB, ident Identity) (Profile, error) {
	tx := db.WithContext(ctx)

	var existing Profile
	err := tx.First(&existing, ident.UserID).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}

	// Another writer may win the race; a duplicate key means the row exists now.
	fresh := NewProfile(ident)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}

	var created Profile
	if err := tx.First(&created, ident.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, ErrProfileMissing
		}
		return Profile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	return created, nil
}

// TouchLastLogin stamps the profile's last_login column.
func TouchLastLogin(ctx context.Context, db *gorm.DB, profileID uint, at time.Time) error {
	return db.WithContext(ctx).Model(&Profile{}).Where("id = ?", profileID).Update("last_login", at).Error
}
