package model

import (
	"errors"
	"time"
)

// Severity is the closed triage scale shared by both report kinds.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// ReportStatus is the lifecycle label of a report.
type ReportStatus string

const (
	StatusPending   ReportStatus = "pending"
	StatusActive    ReportStatus = "active"
	StatusRecovered ReportStatus = "recovered"
	StatusResolved  ReportStatus = "resolved"
	StatusRejected  ReportStatus = "rejected"
)

// ReportKind tags the Report union.
type ReportKind string

const (
	KindVehicle ReportKind = "vehicle"
	KindCrime   ReportKind = "crime"
)

var ErrUnknownReportKind = errors.New("unknown report kind")

// Statuses returns the status set allowed for the kind.
func (k ReportKind) Statuses() ([]ReportStatus, error) {
	switch k {
	case KindVehicle:
		return []ReportStatus{StatusPending, StatusActive, StatusRecovered, StatusResolved, StatusRejected}, nil
	case KindCrime:
		return []ReportStatus{StatusPending, StatusActive, StatusResolved, StatusRejected}, nil
	default:
		return nil, ErrUnknownReportKind
	}
}

// ValidStatus reports whether s belongs to the kind's status set.
func (k ReportKind) ValidStatus(s ReportStatus) bool {
	statuses, err := k.Statuses()
	if err != nil {
		return false
	}
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

var transitions = map[ReportStatus][]ReportStatus{
	StatusPending:   {StatusActive, StatusResolved, StatusRejected},
	StatusActive:    {StatusRecovered, StatusResolved, StatusRejected},
	StatusRecovered: {StatusResolved},
}

// CanTransition reports whether a report of kind k may move from one status to another.
func (k ReportKind) CanTransition(from, to ReportStatus) bool {
	if !k.ValidStatus(from) || !k.ValidStatus(to) {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Report is the tagged union of the two report kinds. Exactly one of Vehicle or Crime is set,
// matching Kind.
type Report struct {
	Kind    ReportKind    `json:"kind"`
	Vehicle *VehicleAlert `json:"vehicle,omitempty"`
	Crime   *CrimeReport  `json:"crime,omitempty"`
}

func VehicleReport(v *VehicleAlert) Report { return Report{Kind: KindVehicle, Vehicle: v} }

func CrimeReportOf(c *CrimeReport) Report { return Report{Kind: KindCrime, Crime: c} }

// ReportSummary holds the fields both kinds share, for listing and aggregation.
type ReportSummary struct {
	Kind       ReportKind   `json:"kind"`
	ID         uint         `json:"id"`
	Title      string       `json:"title"`
	Location   string       `json:"location"`
	Severity   Severity     `json:"severity"`
	Status     ReportStatus `json:"status"`
	ReportedBy uint         `json:"reported_by"`
	CompanyID  *uint        `json:"company_id,omitempty"`
	HasImages  bool         `json:"has_images"`
	OBNumber   string       `json:"ob_number"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Summary flattens the union. It fails for an unknown kind or a kind without its payload.
func (r Report) Summary() (ReportSummary, error) {
	switch r.Kind {
	case KindVehicle:
		if r.Vehicle == nil {
			return ReportSummary{}, ErrUnknownReportKind
		}
		v := r.Vehicle
		return ReportSummary{
			Kind:       KindVehicle,
			ID:         v.ID,
			Title:      v.Title(),
			Location:   v.LastSeenLocation,
			Severity:   v.Severity,
			Status:     v.Status,
			ReportedBy: v.ReportedBy,
			CompanyID:  v.CompanyID,
			HasImages:  v.HasImages,
			OBNumber:   v.OBNumber,
			CreatedAt:  v.CreatedAt,
		}, nil
	case KindCrime:
		if r.Crime == nil {
			return ReportSummary{}, ErrUnknownReportKind
		}
		c := r.Crime
		return ReportSummary{
			Kind:       KindCrime,
			ID:         c.ID,
			Title:      c.Title,
			Location:   c.Location,
			Severity:   c.Severity,
			Status:     c.Status,
			ReportedBy: c.ReportedBy,
			CompanyID:  c.CompanyID,
			HasImages:  c.HasImages,
			OBNumber:   c.OBNumber,
			CreatedAt:  c.CreatedAt,
		}, nil
	default:
		return ReportSummary{}, ErrUnknownReportKind
	}
}
