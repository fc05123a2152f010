package endpoint

import (
	"fmt"
	"log"

	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func loadCrimeReport(c *gin.Context, db *gorm.DB, profile model.Profile) (*model.CrimeReport, bool) {
	id, ok := parseIDOrRespond(c)
	if !ok {
		return nil, false
	}
	var crime model.CrimeReport
	if err := db.WithContext(c.Request.Context()).First(&crime, id).Error; err != nil {
		respondLookupError(c, "Crime report", err)
		return nil, false
	}
	summary, _ := model.CrimeReportOf(&crime).Summary()
	if !canViewReport(profile, summary) {
		respondLookupError(c, "Crime report", gorm.ErrRecordNotFound)
		return nil, false
	}
	return &crime, true
}

// ListCrimeReports godoc
// @Summary      List crime reports
// @Tags         CrimeReports
// @Produce      json
// @Security     SessionToken
// @Param        q        query string false "Text search over title, description and location"
// @Param        status   query string false "Status"
// @Param        severity query string false "Severity"
// @Param        role     query string false "Reporter role"
// @Param        limit    query int    false "Max rows (default 100, max 1000)"
// @Success      200 {object} util.APIResponse{data=[]model.CrimeReport} "Crime reports"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Router       /reports/crime [get]
func ListCrimeReports(c *gin.Context) {
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

	crimes, err := report.ListCrimes(c.Request.Context(), db, f, permission.ScopeFor(profile))
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve crime reports", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Crime reports retrieved", Data: crimes})
}

// GetCrimeReport godoc
// @Summary      Get crime report
// @Tags         CrimeReports
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Report ID"
// @Success      200 {object} util.APIResponse{data=model.CrimeReport} "Crime report"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /reports/crime/{id} [get]
func GetCrimeReport(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	crime, ok := loadCrimeReport(c, db, profile)
	if !ok {
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Crime report retrieved", Data: crime})
}

// CreateCrimeReport godoc
// @Summary      Report a crime
// @Description  Accepts JSON or multipart form data with optional "images" files.
// @Tags         CrimeReports
// @Accept       json,mpfd
// @Produce      json
// @Security     SessionToken
// @Param        request body report.CrimeInput true "Crime report"
// @Success      200 {object} util.APIResponse{data=SubmitResponse} "Report saved"
// @Failure      400 {object} util.APIResponse "Invalid report"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      503 {object} util.APIResponse "Image storage is not configured"
// @Router       /reports/crime [post]
func CreateCrimeReport(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	var in report.CrimeInput
	_, images, ok := bindReportRequest(c, &in)
	if !ok {
		return
	}

	res, err := middleware.GetServices(c).Submitter(db).SubmitCrime(c.Request.Context(), profile, in, images)
	if err != nil {
		middleware.RecordReportSubmitted(string(model.KindCrime), string(report.StateError), len(res.Dropped))
		respondReportError(c, err)
		return
	}
	respondSubmitted(c, res, util.ActionReportCreated, "created")
}

// UpdateCrimeReport godoc
// @Summary      Edit a crime report
// @Tags         CrimeReports
// @Accept       json,mpfd
// @Produce      json
// @Security     SessionToken
// @Param        id      path int               true "Report ID"
// @Param        request body report.CrimeInput true "Crime report"
// @Success      200 {object} util.APIResponse{data=SubmitResponse} "Report saved"
// @Failure      400 {object} util.APIResponse "Invalid report"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /reports/crime/{id} [patch]
func UpdateCrimeReport(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	crime, ok := loadCrimeReport(c, db, profile)
	if !ok {
		return
	}
	summary, _ := model.CrimeReportOf(crime).Summary()
	if !canEditReport(profile, summary) {
		forbidReport(c, profile, "edit crime report")
		return
	}

	var in report.CrimeInput
	changes, images, ok := bindReportRequest(c, &in)
	if !ok {
		return
	}

	opts := report.EditOptions{RemoveImages: changes.RemoveImages, NewImages: images}
	res, err := middleware.GetServices(c).Submitter(db).UpdateCrime(c.Request.Context(), crime, in, opts)
	if err != nil {
		respondReportError(c, err)
		return
	}
	respondSubmitted(c, res, util.ActionReportUpdated, "updated")
}

// DeleteCrimeReport godoc
// @Summary      Delete a crime report
// @Tags         CrimeReports
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Report ID"
// @Success      200 {object} util.APIResponse "Crime report deleted"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /reports/crime/{id} [delete]
func DeleteCrimeReport(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	crime, ok := loadCrimeReport(c, db, profile)
	if !ok {
		return
	}
	if !permission.ScopeFor(profile).Covers(crime.ReportedBy, crime.CompanyID) {
		forbidReport(c, profile, "delete crime report out of scope")
		return
	}

	ctx := c.Request.Context()
	if err := db.WithContext(ctx).Delete(crime).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to delete crime report", Err: err})
		return
	}
	if err := middleware.GetServices(c).Submitter(db).DeleteImages(ctx, model.CrimeReportOf(crime)); err != nil {
		log.Printf("[Report] failed to delete images of crime report %d: %v", crime.ID, err)
	}
	audit(c, util.ActionReportDeleted, fmt.Sprintf("crime report %d deleted", crime.ID), map[string]interface{}{
		"kind":      string(model.KindCrime),
		"report_id": crime.ID,
	})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Crime report deleted"})
}

// UpdateCrimeReportStatus godoc
// @Summary      Change crime report status
// @Description  pending -> active|resolved|rejected, active -> resolved|rejected
// @Tags         CrimeReports
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id      path int                true "Report ID"
// @Param        request body report.StatusInput true "Target status"
// @Success      200 {object} util.APIResponse{data=StatusResponse} "Status updated"
// @Failure      400 {object} util.APIResponse "Invalid status"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      409 {object} util.APIResponse "Status change not allowed"
// @Router       /reports/crime/{id}/status [patch]
func UpdateCrimeReportStatus(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	in, ok := bindStatusOrRespond(c)
	if !ok {
		return
	}
	crime, ok := loadCrimeReport(c, db, profile)
	if !ok {
		return
	}
	summary, _ := model.CrimeReportOf(crime).Summary()
	if !canChangeStatus(profile, summary) {
		forbidReport(c, profile, "change crime report status")
		return
	}

	from := crime.Status
	to, err := report.CheckTransition(model.KindCrime, from, in)
	if err != nil {
		respondReportError(c, err)
		return
	}
	res := db.WithContext(c.Request.Context()).Model(crime).
		Where("status = ?", from).
		Update("status", to)
	if res.Error != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update status", Err: res.Error})
		return
	}
	if res.RowsAffected == 0 {
		util.CallConflict(c, util.APIErrorParams{Msg: "Report changed concurrently", Err: fmt.Errorf("status is no longer %s", from)})
		return
	}
	crime.Status = to
	statusChanged(c, model.CrimeReportOf(crime), from, to)
}
