package report

import (
	"sort"

	"github.com/ariebrainware/incident-watch/model"
)

// ReporterCount is one reporter's share of the listing.
type ReporterCount struct {
	ProfileID uint `json:"profile_id"`
	Count     int  `json:"count"`
}

// Stats aggregates a fetched listing.
type Stats struct {
	Total       int                        `json:"total"`
	ByKind      map[model.ReportKind]int   `json:"by_kind"`
	ByDay       map[string]int             `json:"by_day"`
	Days        []string                   `json:"days"`
	ByStatus    map[model.ReportStatus]int `json:"by_status"`
	BySeverity  map[model.Severity]int     `json:"by_severity"`
	WithImages  int                        `json:"with_images"`
	TopReporter *ReporterCount             `json:"top_reporter,omitempty"`
}

// Summarize counts items by kind, day (YYYY-MM-DD, UTC), status and severity and finds
// the most active reporter. Ties go to the lower profile id.
func Summarize(items []model.ReportSummary) Stats {
	st := Stats{
		ByKind:     map[model.ReportKind]int{},
		ByDay:      map[string]int{},
		Days:       []string{},
		ByStatus:   map[model.ReportStatus]int{},
		BySeverity: map[model.Severity]int{},
	}
	perReporter := map[uint]int{}
	for _, it := range items {
		st.Total++
		st.ByKind[it.Kind]++
		st.ByDay[it.CreatedAt.UTC().Format("2006-01-02")]++
		st.ByStatus[it.Status]++
		st.BySeverity[it.Severity]++
		perReporter[it.ReportedBy]++
		if it.HasImages {
			st.WithImages++
		}
	}

	for day := range st.ByDay {
		st.Days = append(st.Days, day)
	}
	sort.Strings(st.Days)

	for id, n := range perReporter {
		if st.TopReporter == nil || n > st.TopReporter.Count || (n == st.TopReporter.Count && id < st.TopReporter.ProfileID) {
			st.TopReporter = &ReporterCount{ProfileID: id, Count: n}
		}
	}
	return st
}

// Summaries flattens reports, skipping any of unknown kind.
func Summaries(reports []model.Report) []model.ReportSummary {
	out := make([]model.ReportSummary, 0, len(reports))
	for _, r := range reports {
		s, err := r.Summary()
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
