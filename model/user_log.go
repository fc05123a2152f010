package model

import (
	"time"

	"gorm.io/datatypes"
)

// UserLog is an append-only audit row. Rows are never updated through the API.
type UserLog struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    *uint  `json:"user_id,omitempty" gorm:"column:user_id;index"`
	Action    string `json:"action" gorm:"column:action;type:varchar(64);index"`
	Email     string `json:"email" gorm:"column:email;type:varchar(191);index"`
	IPAddress string `json:"ip_address,omitempty" gorm:"column:ip_address;type:varchar(45)"`
	// Location stores city and country in the format "City/Country" when available.
	Location  string         `json:"location,omitempty" gorm:"column:location;type:varchar(255)"`
	UserAgent string         `json:"user_agent" gorm:"column:user_agent;type:varchar(512)"`
	Message   string         `json:"message" gorm:"column:message;type:text"`
	Details   datatypes.JSON `json:"details,omitempty" gorm:"column:details"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}
