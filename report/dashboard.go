package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Filter narrows report listings.
type Filter struct {
	Query    string `form:"q"`
	Status   string `form:"status"`
	Severity string `form:"severity"`
	// Role keeps reports whose reporter has this role.
	Role  string `form:"role"`
	Limit int    `form:"limit"`
}

// Normalize clamps Limit and trims text fields.
func (f Filter) Normalize() Filter {
	f.Query = strings.TrimSpace(f.Query)
	f.Status = strings.TrimSpace(f.Status)
	f.Severity = strings.TrimSpace(f.Severity)
	f.Role = strings.TrimSpace(f.Role)
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	return f
}

func applyScope(q *gorm.DB, scope permission.Scope) *gorm.DB {
	switch {
	case scope.Unscoped:
		return q
	case scope.CompanyID != nil:
		return q.Where("company_id = ?", *scope.CompanyID)
	default:
		return q.Where("reported_by = ?", scope.OwnerID)
	}
}

func applyCommon(q *gorm.DB, f Filter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Role != "" {
		q = q.Where("reported_by IN (SELECT id FROM profiles WHERE role = ?)", f.Role)
	}
	return q.Order("created_at DESC").Order("id DESC").Limit(f.Limit)
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// LikePattern turns user search text into a case-folded substring pattern. Wildcards in
// the text match literally; queries must use it with ESCAPE '!'.
func LikePattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

// ListVehicles returns vehicle alerts newest first.
func ListVehicles(ctx context.Context, db *gorm.DB, f Filter, scope permission.Scope) ([]model.VehicleAlert, error) {
	f = f.Normalize()
	q := applyScope(db.WithContext(ctx).Model(&model.VehicleAlert{}), scope)
	if f.Query != "" {
		p := LikePattern(f.Query)
		q = q.Where("(LOWER(license_plate) LIKE ? ESCAPE '!' OR LOWER(make) LIKE ? ESCAPE '!' OR LOWER(model) LIKE ? ESCAPE '!' OR "+
			"LOWER(color) LIKE ? ESCAPE '!' OR LOWER(reason) LIKE ? ESCAPE '!' OR LOWER(last_seen_location) LIKE ? ESCAPE '!')",
			p, p, p, p, p, p)
	}
	var alerts []model.VehicleAlert
	if err := applyCommon(q, f).Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListCrimes returns crime reports newest first.
func ListCrimes(ctx context.Context, db *gorm.DB, f Filter, scope permission.Scope) ([]model.CrimeReport, error) {
	f = f.Normalize()
	q := applyScope(db.WithContext(ctx).Model(&model.CrimeReport{}), scope)
	if f.Query != "" {
		p := LikePattern(f.Query)
		q = q.Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(description) LIKE ? ESCAPE '!' OR LOWER(location) LIKE ? ESCAPE '!' OR LOWER(report_type) LIKE ? ESCAPE '!')",
			p, p, p, p)
	}
	var crimes []model.CrimeReport
	if err := applyCommon(q, f).Find(&crimes).Error; err != nil {
		return nil, err
	}
	return crimes, nil
}

// Combined lists both kinds as a single newest-first list of at most f.Limit items.
func Combined(ctx context.Context, db *gorm.DB, f Filter, scope permission.Scope) ([]model.Report, error) {
	f = f.Normalize()
	alerts, err := ListVehicles(ctx, db, f, scope)
	if err != nil {
		return nil, err
	}
	crimes, err := ListCrimes(ctx, db, f, scope)
	if err != nil {
		return nil, err
	}

	out := make([]model.Report, 0, len(alerts)+len(crimes))
	for i := range alerts {
		out = append(out, model.VehicleReport(&alerts[i]))
	}
	for i := range crimes {
		out = append(out, model.CrimeReportOf(&crimes[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return createdAt(out[i]).After(createdAt(out[j]))
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func createdAt(r model.Report) time.Time {
	s, err := r.Summary()
	if err != nil {
		return time.Time{}
	}
	return s.CreatedAt
}
