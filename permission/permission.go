// Package permission maps profile roles to the capabilities every gated route checks.
package permission

import "github.com/ariebrainware/incident-watch/model"

// Capability names one boolean of a Set.
type Capability string

const (
	ViewReports     Capability = "view_reports"
	CreateReports   Capability = "create_reports"
	EditReports     Capability = "edit_reports"
	DeleteReports   Capability = "delete_reports"
	ApproveReports  Capability = "approve_reports"
	ManageUsers     Capability = "manage_users"
	ManageCompanies Capability = "manage_companies"
	ViewLogs        Capability = "view_logs"
	Dispatch        Capability = "dispatch"
	Respond         Capability = "respond"
	ViewDashboard   Capability = "view_dashboard"
	ExportData      Capability = "export_data"
)

// Set is the resolved capability set for one role.
type Set struct {
	ViewReports     bool `json:"view_reports"`
	CreateReports   bool `json:"create_reports"`
	EditReports     bool `json:"edit_reports"`
	DeleteReports   bool `json:"delete_reports"`
	ApproveReports  bool `json:"approve_reports"`
	ManageUsers     bool `json:"manage_users"`
	ManageCompanies bool `json:"manage_companies"`
	ViewLogs        bool `json:"view_logs"`
	Dispatch        bool `json:"dispatch"`
	Respond         bool `json:"respond"`
	ViewDashboard   bool `json:"view_dashboard"`
	ExportData      bool `json:"export_data"`
}

// For returns the capability set of role. Unknown roles get nothing.
func For(role model.Role) Set {
	switch role {
	case model.RoleAdmin:
		return Set{
			ViewReports: true, CreateReports: true, EditReports: true, DeleteReports: true,
			ApproveReports: true, ManageUsers: true, ManageCompanies: true, ViewLogs: true,
			Dispatch: true, Respond: true, ViewDashboard: true, ExportData: true,
		}
	case model.RoleModerator:
		return Set{
			ViewReports: true, CreateReports: true, EditReports: true, ApproveReports: true,
			ManageUsers: true, ViewLogs: true, ViewDashboard: true,
		}
	case model.RoleController:
		return Set{
			ViewReports: true, CreateReports: true, EditReports: true,
			Dispatch: true, ViewDashboard: true, ExportData: true,
		}
	case model.RoleResponder:
		return Set{ViewReports: true, Respond: true, ViewDashboard: true}
	case model.RoleUser:
		return Set{ViewReports: true, CreateReports: true, ViewDashboard: true}
	default:
		return Set{}
	}
}

// Effective is For(p.Role) for approved profiles and the empty set otherwise.
func Effective(p model.Profile) Set {
	if !p.IsApproved() {
		return Set{}
	}
	return For(p.Role)
}

// Allows reports whether the set grants c.
func (s Set) Allows(c Capability) bool {
	switch c {
	case ViewReports:
		return s.ViewReports
	case CreateReports:
		return s.CreateReports
	case EditReports:
		return s.EditReports
	case DeleteReports:
		return s.DeleteReports
	case ApproveReports:
		return s.ApproveReports
	case ManageUsers:
		return s.ManageUsers
	case ManageCompanies:
		return s.ManageCompanies
	case ViewLogs:
		return s.ViewLogs
	case Dispatch:
		return s.Dispatch
	case Respond:
		return s.Respond
	case ViewDashboard:
		return s.ViewDashboard
	case ExportData:
		return s.ExportData
	default:
		return false
	}
}

// AllowsAny reports whether the set grants at least one of caps.
func (s Set) AllowsAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Allows(c) {
			return true
		}
	}
	return false
}

// Scope describes which rows a caller may see or mutate.
type Scope struct {
	// Unscoped callers see every row.
	Unscoped bool
	// CompanyID restricts rows to one company when set.
	CompanyID *uint
	// OwnerID restricts rows to the caller's own when no company applies.
	OwnerID uint
}

// ScopeFor resolves row scoping for listings and moderation. Moderators are limited to
// their company, or to their own rows when they have none. Other roles are unscoped;
// the capability set already decides whether they may act at all.
func ScopeFor(p model.Profile) Scope {
	if p.Role != model.RoleModerator {
		return Scope{Unscoped: true}
	}
	if p.CompanyID != nil {
		id := *p.CompanyID
		return Scope{CompanyID: &id}
	}
	return Scope{OwnerID: p.ID}
}

// Covers reports whether a row owned by ownerID in companyID falls inside the scope.
func (s Scope) Covers(ownerID uint, companyID *uint) bool {
	switch {
	case s.Unscoped:
		return true
	case s.CompanyID != nil:
		return companyID != nil && *companyID == *s.CompanyID
	default:
		return ownerID == s.OwnerID
	}
}
