package endpoint

import (
	"fmt"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
)

// DashboardResponse is the combined listing and its aggregates.
type DashboardResponse struct {
	Reports   []model.Report        `json:"reports"`
	Summaries []model.ReportSummary `json:"summaries"`
	Stats     report.Stats          `json:"stats"`
}

// Dashboard godoc
// @Summary      Incident dashboard
// @Description  Vehicle alerts and crime reports newest first, with counts by day, status and severity and the most active reporter
// @Tags         Dashboard
// @Produce      json
// @Security     SessionToken
// @Param        kind     query string false "vehicle or crime; both when empty"
// @Param        q        query string false "Text search"
// @Param        status   query string false "Status"
// @Param        severity query string false "Severity"
// @Param        role     query string false "Reporter role"
// @Param        limit    query int    false "Max rows (default 100, max 1000)"
// @Success      200 {object} util.APIResponse{data=DashboardResponse} "Dashboard"
// @Failure      400 {object} util.APIResponse "Invalid query parameters"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Router       /dashboard [get]
func Dashboard(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	f, ok := bindFilterOrRespond(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	scope := permission.ScopeFor(profile)
	var (
		reports []model.Report
		err     error
	)
	switch kind := model.ReportKind(c.Query("kind")); kind {
	case "":
		reports, err = report.Combined(ctx, db, f, scope)
	case model.KindVehicle:
		var alerts []model.VehicleAlert
		alerts, err = report.ListVehicles(ctx, db, f, scope)
		for i := range alerts {
			reports = append(reports, model.VehicleReport(&alerts[i]))
		}
	case model.KindCrime:
		var crimes []model.CrimeReport
		crimes, err = report.ListCrimes(ctx, db, f, scope)
		for i := range crimes {
			reports = append(reports, model.CrimeReportOf(&crimes[i]))
		}
	default:
		util.CallUserError(c, util.APIErrorParams{
			Msg:    "Invalid query parameters",
			Err:    fmt.Errorf("unknown kind %q", kind),
			Fields: map[string]string{"kind": "must be vehicle or crime"},
		})
		return
	}
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to load dashboard", Err: err})
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}

	summaries := report.Summaries(reports)
	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Dashboard retrieved",
		Data: DashboardResponse{
			Reports:   reports,
			Summaries: summaries,
			Stats:     report.Summarize(summaries),
		},
	})
}
