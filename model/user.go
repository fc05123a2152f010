package model

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// User is the authentication identity. Application data lives on Profile.
type User struct {
	gorm.Model
	Name           string `json:"name" gorm:"type:varchar(150)"`
	Email          string `json:"email" gorm:"type:varchar(191);uniqueIndex;not null"`
	Password       string `json:"-" gorm:"type:varchar(255);not null"`
	PasswordSalt   string `json:"-" gorm:"type:varchar(64)"`
	FailedAttempts int    `json:"-" gorm:"default:0"`
	LockedUntil    *int64 `json:"-"`
}

// Session is a persisted login session. Redis mirrors it when available.
type Session struct {
	gorm.Model
	UserID       uint      `json:"user_id" gorm:"index;not null"`
	SessionToken string    `json:"session_token" gorm:"type:varchar(512);uniqueIndex;not null"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"index"`
	ClientIP     string    `json:"client_ip" gorm:"type:varchar(45)"`
	Browser      string    `json:"browser" gorm:"type:varchar(512)"`
}

// SeedAdmin makes sure an approved admin identity exists for email.
// passwordHash and salt must already be produced by the password hasher.
func SeedAdmin(db *gorm.DB, email, name, passwordHash, salt string) (Profile, error) {
	var user User
	err := db.Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{Name: name, Email: email, Password: passwordHash, PasswordSalt: salt}
		if err := db.Create(&user).Error; err != nil {
			return Profile{}, fmt.Errorf("failed to seed admin %s: %w", email, err)
		}
	}

	profile := NewProfile(Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	profile.Role = RoleAdmin
	profile.SetStatus(ProfileStatusApproved)

	var existing Profile
	err = db.First(&existing, user.ID).Error
	switch {
	case err == nil:
		existing.Role = RoleAdmin
		existing.SetStatus(ProfileStatusApproved)
		if err := db.Save(&existing).Error; err != nil {
			return Profile{}, err
		}
		return existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&profile).Error; err != nil {
			return Profile{}, fmt.Errorf("failed to seed admin profile %s: %w", email, err)
		}
		return profile, nil
	default:
		return Profile{}, err
	}
}
