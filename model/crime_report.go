package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CrimeType classifies a crime report.
type CrimeType string

const (
	CrimeTheft              CrimeType = "theft"
	CrimeBurglary           CrimeType = "burglary"
	CrimeRobbery            CrimeType = "robbery"
	CrimeAssault            CrimeType = "assault"
	CrimeVandalism          CrimeType = "vandalism"
	CrimeFraud              CrimeType = "fraud"
	CrimeSuspiciousActivity CrimeType = "suspicious_activity"
	CrimeOther              CrimeType = "other"
)

var CrimeTypes = []CrimeType{
	CrimeTheft, CrimeBurglary, CrimeRobbery, CrimeAssault,
	CrimeVandalism, CrimeFraud, CrimeSuspiciousActivity, CrimeOther,
}

func (t CrimeType) Valid() bool {
	for _, known := range CrimeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CrimeReport is an incident reported by a community member.
type CrimeReport struct {
	ID             uint                        `gorm:"primaryKey" json:"id"`
	Title          string                      `gorm:"type:varchar(191);not null" json:"title"`
	Description    string                      `gorm:"type:text;not null" json:"description"`
	Location       string                      `gorm:"type:varchar(255)" json:"location"`
	IncidentTime   *time.Time                  `json:"incident_time,omitempty"`
	Latitude       *float64                    `json:"latitude"`
	Longitude      *float64                    `json:"longitude"`
	ReportType     CrimeType                   `gorm:"type:varchar(32);index;not null" json:"report_type"`
	Severity       Severity                    `gorm:"type:varchar(16);index;not null" json:"severity"`
	Status         ReportStatus                `gorm:"type:varchar(16);index;not null" json:"status"`
	WitnessInfo    string                      `gorm:"type:text" json:"witness_info,omitempty"`
	ContactAllowed bool                        `json:"contact_allowed"`
	ReportedBy     uint                        `gorm:"index;not null" json:"reported_by"`
	CompanyID      *uint                       `gorm:"index" json:"company_id,omitempty"`
	HasImages      bool                        `json:"has_images"`
	EvidenceImages datatypes.JSONSlice[string] `json:"evidence_images"`
	OBNumber       string                      `gorm:"type:varchar(32)" json:"ob_number"`
	CreatedAt      time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

func (c *CrimeReport) AfterFind(tx *gorm.DB) error {
	if c.EvidenceImages == nil {
		c.EvidenceImages = datatypes.JSONSlice[string]{}
	}
	return nil
}
