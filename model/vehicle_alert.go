package model

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VehicleAlert is a stolen or wanted vehicle report.
type VehicleAlert struct {
	ID               uint                        `gorm:"primaryKey" json:"id"`
	LicensePlate     string                      `gorm:"type:varchar(16);index;not null" json:"license_plate" example:"CA12AB"`
	Make             string                      `gorm:"type:varchar(64);not null" json:"make" example:"Toyota"`
	Model            string                      `gorm:"type:varchar(64);not null" json:"model" example:"Corolla"`
	Color            string                      `gorm:"type:varchar(32);not null" json:"color" example:"Silver"`
	Year             *int                        `json:"year,omitempty" example:"2018"`
	Reason           string                      `gorm:"type:text;not null" json:"reason"`
	LastSeenLocation string                      `gorm:"type:varchar(255)" json:"last_seen_location"`
	LastSeenTime     *time.Time                  `json:"last_seen_time,omitempty"`
	Latitude         *float64                    `json:"latitude"`
	Longitude        *float64                    `json:"longitude"`
	Severity         Severity                    `gorm:"type:varchar(16);index;not null" json:"severity"`
	Status           ReportStatus                `gorm:"type:varchar(16);index;not null" json:"status"`
	ReportedBy       uint                        `gorm:"index;not null" json:"reported_by"`
	CompanyID        *uint                       `gorm:"index" json:"company_id,omitempty"`
	HasImages        bool                        `json:"has_images"`
	EvidenceImages   datatypes.JSONSlice[string] `json:"evidence_images"`
	OBNumber         string                      `gorm:"type:varchar(32)" json:"ob_number"`
	CreatedAt        time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// Title is the display line used by dashboards.
func (v VehicleAlert) Title() string {
	parts := strings.TrimSpace(strings.Join([]string{v.Color, v.Make, v.Model}, " "))
	return fmt.Sprintf("%s (%s)", parts, v.LicensePlate)
}

// AfterFind keeps evidence_images a list even for rows written as NULL.
func (v *VehicleAlert) AfterFind(tx *gorm.DB) error {
	if v.EvidenceImages == nil {
		v.EvidenceImages = datatypes.JSONSlice[string]{}
	}
	return nil
}
