package endpoint

import (
	"fmt"
	"log"
	"strings"

	"github.com/ariebrainware/incident-watch/geocode"
	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ShareResponse replaces the browser share sheet payload.
type ShareResponse struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	MapURL string `json:"map_url,omitempty"`
}

// loadVehicleAlert fetches the alert named by the id path parameter and checks the caller
// may see it. Out-of-scope rows answer 404.
func loadVehicleAlert(c *gin.Context, db *gorm.DB, profile model.Profile) (*model.VehicleAlert, bool) {
	id, ok := parseIDOrRespond(c)
	if !ok {
		return nil, false
	}
	var alert model.VehicleAlert
	if err := db.WithContext(c.Request.Context()).First(&alert, id).Error; err != nil {
		respondLookupError(c, "Vehicle alert", err)
		return nil, false
	}
	summary, _ := model.VehicleReport(&alert).Summary()
	if !canViewReport(profile, summary) {
		respondLookupError(c, "Vehicle alert", gorm.ErrRecordNotFound)
		return nil, false
	}
	return &alert, true
}

// ListVehicleAlerts godoc
// @Summary      List vehicle alerts
// @Description  Newest first, filtered by text, status, severity and reporter role
// @Tags         VehicleAlerts
// @Produce      json
// @Security     SessionToken
// @Param        q        query string false "Text search over plate, make, model, color and location"
// @Param        status   query string false "Status"
// @Param        severity query string false "Severity"
// @Param        role     query string false "Reporter role"
// @Param        limit    query int    false "Max rows (default 100, max 1000)"
// @Success      200 {object} util.APIResponse{data=[]model.VehicleAlert} "Vehicle alerts"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /alerts/vehicles [get]
func ListVehicleAlerts(c *gin.Context) {
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

	alerts, err := report.ListVehicles(c.Request.Context(), db, f, permission.ScopeFor(profile))
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve vehicle alerts", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Vehicle alerts retrieved", Data: alerts})
}

// GetVehicleAlert godoc
// @Summary      Get vehicle alert
// @Tags         VehicleAlerts
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Alert ID"
// @Success      200 {object} util.APIResponse{data=model.VehicleAlert} "Vehicle alert"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /alerts/vehicles/{id} [get]
func GetVehicleAlert(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	alert, ok := loadVehicleAlert(c, db, profile)
	if !ok {
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Vehicle alert retrieved", Data: alert})
}

// CreateVehicleAlert godoc
// @Summary      Report a vehicle
// @Description  Accepts JSON or multipart form data. Multipart requests may attach up to MAX_IMAGES files under "images"; extra files are dropped.
// @Tags         VehicleAlerts
// @Accept       json,mpfd
// @Produce      json
// @Security     SessionToken
// @Param        request body report.VehicleInput true "Vehicle alert"
// @Success      200 {object} util.APIResponse{data=SubmitResponse} "Report saved"
// @Failure      400 {object} util.APIResponse "Invalid report"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      503 {object} util.APIResponse "Image storage is not configured"
// @Router       /alerts/vehicles [post]
func CreateVehicleAlert(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	var in report.VehicleInput
	_, images, ok := bindReportRequest(c, &in)
	if !ok {
		return
	}

	res, err := middleware.GetServices(c).Submitter(db).SubmitVehicle(c.Request.Context(), profile, in, images)
	if err != nil {
		middleware.RecordReportSubmitted(string(model.KindVehicle), string(report.StateError), len(res.Dropped))
		respondReportError(c, err)
		return
	}
	respondSubmitted(c, res, util.ActionReportCreated, "created")
}

// UpdateVehicleAlert godoc
// @Summary      Edit a vehicle alert
// @Description  Owners may edit their pending alerts; editors may edit any alert in scope. "remove_images" lists URLs to drop.
// @Tags         VehicleAlerts
// @Accept       json,mpfd
// @Produce      json
// @Security     SessionToken
// @Param        id      path int                 true "Alert ID"
// @Param        request body report.VehicleInput true "Vehicle alert"
// @Success      200 {object} util.APIResponse{data=SubmitResponse} "Report saved"
// @Failure      400 {object} util.APIResponse "Invalid report"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /alerts/vehicles/{id} [patch]
func UpdateVehicleAlert(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	alert, ok := loadVehicleAlert(c, db, profile)
	if !ok {
		return
	}
	summary, _ := model.VehicleReport(alert).Summary()
	if !canEditReport(profile, summary) {
		forbidReport(c, profile, "edit vehicle alert")
		return
	}

	var in report.VehicleInput
	changes, images, ok := bindReportRequest(c, &in)
	if !ok {
		return
	}

	opts := report.EditOptions{RemoveImages: changes.RemoveImages, NewImages: images}
	res, err := middleware.GetServices(c).Submitter(db).UpdateVehicle(c.Request.Context(), alert, in, opts)
	if err != nil {
		respondReportError(c, err)
		return
	}
	respondSubmitted(c, res, util.ActionReportUpdated, "updated")
}

// DeleteVehicleAlert godoc
// @Summary      Delete a vehicle alert
// @Tags         VehicleAlerts
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Alert ID"
// @Success      200 {object} util.APIResponse "Vehicle alert deleted"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /alerts/vehicles/{id} [delete]
func DeleteVehicleAlert(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	alert, ok := loadVehicleAlert(c, db, profile)
	if !ok {
		return
	}
	if !permission.ScopeFor(profile).Covers(alert.ReportedBy, alert.CompanyID) {
		forbidReport(c, profile, "delete vehicle alert out of scope")
		return
	}

	ctx := c.Request.Context()
	if err := db.WithContext(ctx).Delete(alert).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to delete vehicle alert", Err: err})
		return
	}
	if err := middleware.GetServices(c).Submitter(db).DeleteImages(ctx, model.VehicleReport(alert)); err != nil {
		log.Printf("[Report] failed to delete images of vehicle alert %d: %v", alert.ID, err)
	}
	audit(c, util.ActionReportDeleted, fmt.Sprintf("vehicle report %d deleted", alert.ID), map[string]interface{}{
		"kind":          string(model.KindVehicle),
		"report_id":     alert.ID,
		"license_plate": alert.LicensePlate,
	})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Vehicle alert deleted"})
}

// UpdateVehicleAlertStatus godoc
// @Summary      Change vehicle alert status
// @Description  pending -> active|resolved|rejected, active -> recovered|resolved|rejected, recovered -> resolved
// @Tags         VehicleAlerts
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id      path int                true "Alert ID"
// @Param        request body report.StatusInput true "Target status"
// @Success      200 {object} util.APIResponse{data=StatusResponse} "Status updated"
// @Failure      400 {object} util.APIResponse "Invalid status"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      409 {object} util.APIResponse "Status change not allowed"
// @Router       /alerts/vehicles/{id}/status [patch]
func UpdateVehicleAlertStatus(c *gin.Context) {
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
	alert, ok := loadVehicleAlert(c, db, profile)
	if !ok {
		return
	}
	summary, _ := model.VehicleReport(alert).Summary()
	if !canChangeStatus(profile, summary) {
		forbidReport(c, profile, "change vehicle alert status")
		return
	}

	from := alert.Status
	to, err := report.CheckTransition(model.KindVehicle, from, in)
	if err != nil {
		respondReportError(c, err)
		return
	}
	res := db.WithContext(c.Request.Context()).Model(alert).
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
	alert.Status = to
	statusChanged(c, model.VehicleReport(alert), from, to)
}

// ShareVehicleAlert godoc
// @Summary      Share a vehicle alert
// @Description  Title, text and map link for sharing an alert outside the app
// @Tags         VehicleAlerts
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Alert ID"
// @Success      200 {object} util.APIResponse{data=ShareResponse} "Share payload"
// @Failure      404 {object} util.APIResponse "Not found"
// @Router       /alerts/vehicles/{id}/share [get]
func ShareVehicleAlert(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	alert, ok := loadVehicleAlert(c, db, profile)
	if !ok {
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Share payload", Data: vehicleShare(alert)})
}

func vehicleShare(a *model.VehicleAlert) ShareResponse {
	var text strings.Builder
	fmt.Fprintf(&text, "Stolen/wanted vehicle: %s.", a.Title())
	if a.LastSeenLocation != "" {
		fmt.Fprintf(&text, " Last seen at %s", a.LastSeenLocation)
		if a.LastSeenTime != nil {
			fmt.Fprintf(&text, " on %s", a.LastSeenTime.UTC().Format("2006-01-02 15:04 MST"))
		}
		text.WriteString(".")
	}
	if a.OBNumber != "" {
		fmt.Fprintf(&text, " Ref %s.", a.OBNumber)
	}
	out := ShareResponse{Title: "Vehicle alert: " + a.LicensePlate, Text: text.String()}
	if a.Latitude != nil && a.Longitude != nil {
		out.MapURL = geocode.MapURL(*a.Latitude, *a.Longitude)
	}
	return out
}
