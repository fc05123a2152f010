package model

import "time"

// Company groups profiles for moderator scoping.
type Company struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"name"`
	LogoURL   string    `gorm:"type:varchar(512)" json:"logo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OnlineUser is the presence row kept by the auth-state subscriber.
type OnlineUser struct {
	UserID     uint      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Email      string    `gorm:"type:varchar(191)" json:"email"`
	ClientIP   string    `gorm:"type:varchar(45)" json:"client_ip"`
	LastSeenAt time.Time `gorm:"index" json:"last_seen_at"`
}

// AllModels is the migration set, in dependency order.
var AllModels = []interface{}{
	&User{},
	&Session{},
	&Company{},
	&Profile{},
	&VehicleAlert{},
	&CrimeReport{},
	&UserLog{},
	&OnlineUser{},
}
