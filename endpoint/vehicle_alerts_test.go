package endpoint_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/ariebrainware/incident-watch/endpoint"
	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder struct {
	calls int
}

func (g *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	g.calls++
	return fmt.Sprintf("Near %.2f,%.2f", lat, lng), nil
}

func TestCreateVehicleAlertJSON(t *testing.T) {
	srv := newTestServer(t)
	u := srv.signIn(t, userSpec{email: "reporter@example.com"})

	var out submitResult
	decodeData(t, srv.sendJSON(t, http.MethodPost, "/alerts/vehicles", u.token, vehiclePayload()), &out)

	assert.Equal(t, model.KindVehicle, out.Report.Kind)
	v := out.Report.Vehicle
	require.NotNil(t, v)
	assert.NotZero(t, v.ID)
	assert.Equal(t, "CA12-AB", v.LicensePlate)
	assert.Equal(t, model.StatusPending, v.Status)
	assert.Equal(t, model.SeverityHigh, v.Severity)
	assert.Equal(t, u.profile.ID, v.ReportedBy)
	assert.NotEmpty(t, v.OBNumber)
	assert.False(t, v.HasImages)
	assert.Empty(t, v.EvidenceImages)
	assert.Nil(t, v.Latitude)
	assert.Equal(t, report.StateSuccess, out.State)
	assert.Empty(t, out.Dropped)
	assert.EqualValues(t, 1, srv.countLogs(t, util.ActionReportCreated))

	var stored model.VehicleAlert
	require.NoError(t, srv.db.First(&stored, v.ID).Error)
	assert.Equal(t, "CA12-AB", stored.LicensePlate)
}

func TestCreateVehicleAlertValidation(t *testing.T) {
	srv := newTestServer(t)
	u := srv.signIn(t, userSpec{email: "reporter@example.com"})

	payload := vehiclePayload()
	delete(payload, "make")
	payload["severity"] = "extreme"
	payload["license_plate"] = "!"
	payload["latitude"] = 10.5

	rr := srv.sendJSON(t, http.MethodPost, "/alerts/vehicles", u.token, payload)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid report", decode(t, rr).Msg)
	fields := errorFields(t, rr)
	assert.Contains(t, fields, "make")
	assert.Contains(t, fields, "severity")
	assert.Contains(t, fields, "license_plate")
	assert.Contains(t, fields, "latitude")

	var n int64
	require.NoError(t, srv.db.Model(&model.VehicleAlert{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreateVehicleAlertFillsPlaceFromCoordinates(t *testing.T) {
	geo := &fakeGeocoder{}
	srv := newTestServer(t, func(svc *middleware.Services) { svc.Geocoder = geo })
	u := srv.signIn(t, userSpec{email: "reporter@example.com"})

	payload := vehiclePayload()
	delete(payload, "last_seen_location")
	payload["latitude"] = -1.2921
	payload["longitude"] = 36.8219

	var out submitResult
	decodeData(t, srv.sendJSON(t, http.MethodPost, "/alerts/vehicles", u.token, payload), &out)
	assert.Equal(t, "Near -1.29,36.82", out.Report.Vehicle.LastSeenLocation)
	assert.Equal(t, 1, geo.calls)

	// A typed place wins over the lookup.
	payload["last_seen_location"] = "Kenyatta Avenue"
	decodeData(t, srv.sendJSON(t, http.MethodPost, "/alerts/vehicles", u.token, payload), &out)
	assert.Equal(t, "Kenyatta Avenue", out.Report.Vehicle.LastSeenLocation)
	assert.Equal(t, 1, geo.calls)
}

func TestCreateVehicleAlertWithImages(t *testing.T) {
	srv := newTestServer(t)
	u := srv.signIn(t, userSpec{email: "reporter@example.com"})

	rr := srv.sendForm(t, http.MethodPost, "/alerts/vehicles", u.token, vehicleForm(),
		pngFile("a.png"), pngFile("b.png"), pngFile("c.png"), pngFile("d.png"))
	var out submitResult
	decodeData(t, rr, &out)

	v := out.Report.Vehicle
	require.NotNil(t, v)
	assert.True(t, v.HasImages)
	require.Len(t, v.EvidenceImages, 3)
	assert.Equal(t, []string{"d.png"}, out.Dropped)
	assert.Equal(t, report.StateSuccess, out.State)
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		assert.Contains(t, v.EvidenceImages[i], fmt.Sprintf("/vehicle-evidence/%d/", v.ID))
		assert.Equal(t, name, srv.store.nameOf(v.EvidenceImages[i]))
	}

	var stored model.VehicleAlert
	require.NoError(t, srv.db.First(&stored, v.ID).Error)
	assert.Equal(t, []string(v.EvidenceImages), []string(stored.EvidenceImages))
}

func TestCreateVehicleAlertImageFailures(t *testing.T) {
	t.Run("unsupported file rejects the request", func(t *testing.T) {
		srv := newTestServer(t)
		u := srv.signIn(t, userSpec{email: "reporter@example.com"})

		rr := srv.sendForm(t, http.MethodPost, "/alerts/vehicles", u.token, vehicleForm(),
			pngFile("ok.png"), formFile{field: "images", name: "notes.txt", data: []byte("plain text")})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, errorFields(t, rr), "images[1]")
		assert.Zero(t, srv.store.count())
	})

	t.Run("images without storage", func(t *testing.T) {
		srv := newTestServer(t, withoutStore)
		u := srv.signIn(t, userSpec{email: "reporter@example.com"})

		rr := srv.sendForm(t, http.MethodPost, "/alerts/vehicles", u.token, vehicleForm(), pngFile("a.png"))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, "Image storage is not configured", decode(t, rr).Msg)

		// Without images the report still goes through.
		rr = srv.sendForm(t, http.MethodPost, "/alerts/vehicles", u.token, vehicleForm())
		decodeData(t, rr, nil)
	})

	t.Run("partial upload keeps the report", func(t *testing.T) {
		srv := newTestServer(t)
		srv.store.failOn = "bad"
		u := srv.signIn(t, userSpec{email: "reporter@example.com"})

		rr := srv.sendForm(t, http.MethodPost, "/alerts/vehicles", u.token, vehicleForm(), pngFile("good.png"), pngFile("bad.png"))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "Report saved, but some images failed to upload", decode(t, rr).Msg)

		var out submitResult
		decodeData(t, rr, &out)
		assert.Equal(t, report.StateError, out.State)
		assert.NotEmpty(t, out.UploadError)
		require.Len(t, out.Report.Vehicle.EvidenceImages, 1)
		assert.Equal(t, "good.png", srv.store.nameOf(out.Report.Vehicle.EvidenceImages[0]))
	})
}

func TestUpdateVehicleAlertPermissions(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signIn(t, userSpec{email: "owner@example.com"})
	other := srv.signIn(t, userSpec{email: "other@example.com"})
	controller := srv.signIn(t, userSpec{email: "controller@example.com", role: model.RoleController})
	admin := srv.signIn(t, userSpec{email: "admin@example.com", role: model.RoleAdmin})

	alert := srv.createVehicle(t, owner.token)
	path := fmt.Sprintf("/alerts/vehicles/%d", alert.ID)

	payload := vehiclePayload()
	payload["color"] = "Black"
	var out submitResult
	decodeData(t, srv.sendJSON(t, http.MethodPatch, path, owner.token, payload), &out)
	assert.Equal(t, "Black", out.Report.Vehicle.Color)
	assert.NotEmpty(t, out.Report.Vehicle.OBNumber)
	assert.EqualValues(t, 1, srv.countLogs(t, util.ActionReportUpdated))

	rr := srv.sendJSON(t, http.MethodPatch, path, other.token, payload)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Once approved, only editors may change it.
	decodeData(t, srv.sendJSON(t, http.MethodPatch, path+"/status", admin.token, map[string]string{"status": "active"}), nil)
	rr = srv.sendJSON(t, http.MethodPatch, path, owner.token, payload)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	payload["color"] = "Blue"
	decodeData(t, srv.sendJSON(t, http.MethodPatch, path, controller.token, payload), &out)
	assert.Equal(t, "Blue", out.Report.Vehicle.Color)
	assert.Equal(t, model.StatusActive, out.Report.Vehicle.Status)
	assert.Equal(t, owner.profile.ID, out.Report.Vehicle.ReportedBy)

	rr = srv.sendJSON(t, http.MethodPatch, "/alerts/vehicles/9999", controller.token, payload)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = srv.sendJSON(t, http.MethodPatch, "/alerts/vehicles/abc", controller.token, payload)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSuspendedOwnerCannotEditReports(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signIn(t, userSpec{email: "owner@example.com"})
	alert := srv.createVehicle(t, owner.token)
	crime := srv.createCrime(t, owner.token)

	require.NoError(t, srv.db.Model(&model.Profile{}).Where("id = ?", owner.profile.ID).
		Updates(map[string]interface{}{"status": model.ProfileStatusSuspended, "approved": false}).Error)
	token := srv.login(t, "owner@example.com", testPassword).Token

	payload := vehiclePayload()
	payload["color"] = "Black"
	rr := srv.sendJSON(t, http.MethodPatch, fmt.Sprintf("/alerts/vehicles/%d", alert.ID), token, payload)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = srv.sendForm(t, http.MethodPatch, fmt.Sprintf("/alerts/vehicles/%d", alert.ID), token, vehicleForm(), pngFile("late.png"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Zero(t, srv.store.count())

	crimeEdit := crimePayload()
	crimeEdit["title"] = "Rewritten"
	rr = srv.sendJSON(t, http.MethodPatch, fmt.Sprintf("/reports/crime/%d", crime.ID), token, crimeEdit)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	var storedAlert model.VehicleAlert
	require.NoError(t, srv.db.First(&storedAlert, alert.ID).Error)
	assert.Equal(t, "Silver", storedAlert.Color)
	var storedCrime model.CrimeReport
	require.NoError(t, srv.db.First(&storedCrime, crime.ID).Error)
	assert.Equal(t, "Bike stolen", storedCrime.Title)
}

func TestUpdateVehicleAlertImages(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signIn(t, userSpec{email: "owner@example.com"})

	var created submitResult
	decodeData(t, srv.sendForm(t, http.MethodPost, "/alerts/vehicles", owner.token, vehicleForm(), pngFile("a.png"), pngFile("b.png")), &created)
	before := created.Report.Vehicle.EvidenceImages
	require.Len(t, before, 2)
	path := fmt.Sprintf("/alerts/vehicles/%d", created.Report.Vehicle.ID)

	// One image removed, two offered: only one fits beside the survivor.
	fields := vehicleForm()
	fields["remove_images"] = []string{before[0]}
	var out submitResult
	decodeData(t, srv.sendForm(t, http.MethodPatch, path, owner.token, fields, pngFile("c.png"), pngFile("d.png"), pngFile("e.png")), &out)

	after := out.Report.Vehicle.EvidenceImages
	require.Len(t, after, 3)
	assert.Equal(t, before[1], after[0])
	assert.Equal(t, "c.png", srv.store.nameOf(after[1]))
	assert.Equal(t, "d.png", srv.store.nameOf(after[2]))
	assert.Equal(t, []string{"e.png"}, out.Dropped)
	assert.Contains(t, srv.store.deleted, before[0])
	assert.True(t, out.Report.Vehicle.HasImages)

	// Removing everything clears the flag.
	fields["remove_images"] = []string(after)
	decodeData(t, srv.sendForm(t, http.MethodPatch, path, owner.token, fields), &out)
	assert.Empty(t, out.Report.Vehicle.EvidenceImages)
	assert.False(t, out.Report.Vehicle.HasImages)
}

func TestVehicleAlertStatusTransitions(t *testing.T) {
	srv := newTestServer(t)
	company := srv.createCompany(t, "Northside Watch")
	owner := srv.signIn(t, userSpec{email: "owner@example.com", companyID: company})
	moderator := srv.signIn(t, userSpec{email: "mod@example.com", role: model.RoleModerator, companyID: company})
	loneModerator := srv.signIn(t, userSpec{email: "lone@example.com", role: model.RoleModerator})
	responder := srv.signIn(t, userSpec{email: "responder@example.com", role: model.RoleResponder})

	alert := srv.createVehicle(t, owner.token)
	assert.Equal(t, company, alert.CompanyID)
	path := fmt.Sprintf("/alerts/vehicles/%d/status", alert.ID)

	rr := srv.sendJSON(t, http.MethodPatch, path, owner.token, map[string]string{"status": "active"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Responders may not approve pending reports.
	rr = srv.sendJSON(t, http.MethodPatch, path, responder.token, map[string]string{"status": "active"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// A moderator outside the company does not see the report at all.
	rr = srv.sendJSON(t, http.MethodPatch, path, loneModerator.token, map[string]string{"status": "active"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = srv.sendJSON(t, http.MethodPatch, path, moderator.token, map[string]string{"status": "lost"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorFields(t, rr), "status")

	var changed struct {
		From model.ReportStatus `json:"from"`
		To   model.ReportStatus `json:"to"`
	}
	decodeData(t, srv.sendJSON(t, http.MethodPatch, path, moderator.token, map[string]string{"status": "active"}), &changed)
	assert.Equal(t, model.StatusPending, changed.From)
	assert.Equal(t, model.StatusActive, changed.To)

	rr = srv.sendJSON(t, http.MethodPatch, path, moderator.token, map[string]string{"status": "pending"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Status change not allowed", decode(t, rr).Msg)

	decodeData(t, srv.sendJSON(t, http.MethodPatch, path, responder.token, map[string]string{"status": "recovered"}), &changed)
	assert.Equal(t, model.StatusRecovered, changed.To)
	decodeData(t, srv.sendJSON(t, http.MethodPatch, path, responder.token, map[string]string{"status": "resolved"}), &changed)
	assert.Equal(t, model.StatusResolved, changed.To)

	rr = srv.sendJSON(t, http.MethodPatch, path, moderator.token, map[string]string{"status": "active"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	var stored model.VehicleAlert
	require.NoError(t, srv.db.First(&stored, alert.ID).Error)
	assert.Equal(t, model.StatusResolved, stored.Status)
	assert.EqualValues(t, 3, srv.countLogs(t, util.ActionReportStatus))
}

func TestListVehicleAlertsScopesModerators(t *testing.T) {
	srv := newTestServer(t)
	north := srv.createCompany(t, "North")
	south := srv.createCompany(t, "South")
	northUser := srv.signIn(t, userSpec{email: "n@example.com", companyID: north})
	southUser := srv.signIn(t, userSpec{email: "s@example.com", companyID: south})
	moderator := srv.signIn(t, userSpec{email: "mod@example.com", role: model.RoleModerator, companyID: north})
	admin := srv.signIn(t, userSpec{email: "admin@example.com", role: model.RoleAdmin})

	northAlert := srv.createVehicle(t, northUser.token)
	southAlert := srv.createVehicle(t, southUser.token)

	var alerts []model.VehicleAlert
	decodeData(t, srv.getJSON("/alerts/vehicles", moderator.token), &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, northAlert.ID, alerts[0].ID)

	decodeData(t, srv.getJSON("/alerts/vehicles", admin.token), &alerts)
	require.Len(t, alerts, 2)
	assert.Equal(t, southAlert.ID, alerts[0].ID, "newest first")

	rr := srv.getJSON(fmt.Sprintf("/alerts/vehicles/%d", southAlert.ID), moderator.token)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	decodeData(t, srv.getJSON("/alerts/vehicles?q=ca12&status=pending&severity=high", admin.token), &alerts)
	assert.Len(t, alerts, 2)
	decodeData(t, srv.getJSON("/alerts/vehicles?status=active", admin.token), &alerts)
	assert.Empty(t, alerts)
	decodeData(t, srv.getJSON("/alerts/vehicles?q=nomatch", admin.token), &alerts)
	assert.Empty(t, alerts)
	decodeData(t, srv.getJSON("/alerts/vehicles?limit=1", admin.token), &alerts)
	assert.Len(t, alerts, 1)
}

func TestDeleteVehicleAlert(t *testing.T) {
	srv := newTestServer(t)
	owner := srv.signIn(t, userSpec{email: "owner@example.com"})
	admin := srv.signIn(t, userSpec{email: "admin@example.com", role: model.RoleAdmin})

	var created submitResult
	decodeData(t, srv.sendForm(t, http.MethodPost, "/alerts/vehicles", owner.token, vehicleForm(), pngFile("a.png")), &created)
	id := created.Report.Vehicle.ID
	path := fmt.Sprintf("/alerts/vehicles/%d", id)

	rr := srv.do(requestParams{method: http.MethodDelete, path: path, token: owner.token})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	decodeData(t, srv.do(requestParams{method: http.MethodDelete, path: path, token: admin.token}), nil)
	assert.Equal(t, http.StatusNotFound, srv.getJSON(path, admin.token).Code)
	assert.Zero(t, srv.store.count())
	assert.Equal(t, []string(created.Report.Vehicle.EvidenceImages), srv.store.deleted)
	assert.EqualValues(t, 1, srv.countLogs(t, util.ActionReportDeleted))
}

func TestShareVehicleAlert(t *testing.T) {
	srv := newTestServer(t)
	u := srv.signIn(t, userSpec{email: "reporter@example.com"})

	payload := vehiclePayload()
	payload["latitude"] = 1.5
	payload["longitude"] = 2.25
	var created submitResult
	decodeData(t, srv.sendJSON(t, http.MethodPost, "/alerts/vehicles", u.token, payload), &created)
	v := created.Report.Vehicle

	var share endpoint.ShareResponse
	decodeData(t, srv.getJSON(fmt.Sprintf("/alerts/vehicles/%d/share", v.ID), u.token), &share)
	assert.Equal(t, "Vehicle alert: CA12-AB", share.Title)
	assert.Contains(t, share.Text, "Silver Toyota Corolla (CA12-AB)")
	assert.Contains(t, share.Text, "Last seen at Main Street")
	assert.Contains(t, share.Text, "Ref "+v.OBNumber)
	assert.Equal(t, "https://www.openstreetmap.org/?mlat=1.500000&mlon=2.250000#map=17/1.500000/2.250000", share.MapURL)
}
