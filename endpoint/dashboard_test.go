package endpoint_test

import (
	"net/http"
	"testing"

	"github.com/ariebrainware/incident-watch/endpoint"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardCombinesReports(t *testing.T) {
	srv := newTestServer(t)
	reporter := srv.signIn(t, userSpec{email: "reporter@example.com"})
	other := srv.signIn(t, userSpec{email: "other@example.com"})

	srv.createVehicle(t, reporter.token)
	srv.createVehicle(t, reporter.token)
	srv.createCrime(t, other.token)

	var dash endpoint.DashboardResponse
	decodeData(t, srv.getJSON("/dashboard", reporter.token), &dash)
	require.Len(t, dash.Reports, 3)
	require.Len(t, dash.Summaries, 3)
	assert.Equal(t, 3, dash.Stats.Total)
	assert.Equal(t, 2, dash.Stats.ByKind[model.KindVehicle])
	assert.Equal(t, 1, dash.Stats.ByKind[model.KindCrime])
	assert.Equal(t, 3, dash.Stats.ByStatus[model.StatusPending])
	assert.Equal(t, 2, dash.Stats.BySeverity[model.SeverityHigh])
	require.NotNil(t, dash.Stats.TopReporter)
	assert.Equal(t, reporter.profile.ID, dash.Stats.TopReporter.ProfileID)
	// Newest first.
	assert.Equal(t, model.KindCrime, dash.Summaries[0].Kind)

	var vehicles endpoint.DashboardResponse
	decodeData(t, srv.getJSON("/dashboard?kind=vehicle", reporter.token), &vehicles)
	assert.Equal(t, 2, vehicles.Stats.Total)
	for _, r := range vehicles.Reports {
		assert.Equal(t, model.KindVehicle, r.Kind)
	}

	var crimes endpoint.DashboardResponse
	decodeData(t, srv.getJSON("/dashboard?kind=crime", reporter.token), &crimes)
	require.Len(t, crimes.Reports, 1)
	assert.NotNil(t, crimes.Reports[0].Crime)

	rr := srv.getJSON("/dashboard?kind=bogus", reporter.token)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorFields(t, rr), "kind")
}

func TestDashboardEmpty(t *testing.T) {
	srv := newTestServer(t)
	u := srv.signIn(t, userSpec{email: "reporter@example.com"})

	var dash endpoint.DashboardResponse
	decodeData(t, srv.getJSON("/dashboard", u.token), &dash)
	assert.Empty(t, dash.Reports)
	assert.Zero(t, dash.Stats.Total)
	assert.Nil(t, dash.Stats.TopReporter)
}

func TestDashboardScopesModerators(t *testing.T) {
	srv := newTestServer(t)
	north := srv.createCompany(t, "North")
	south := srv.createCompany(t, "South")
	moderator := srv.signIn(t, userSpec{email: "mod@example.com", role: model.RoleModerator, companyID: north})
	member := srv.signIn(t, userSpec{email: "member@example.com", companyID: north})
	outsider := srv.signIn(t, userSpec{email: "outsider@example.com", companyID: south})

	mine := srv.createVehicle(t, member.token)
	srv.createVehicle(t, outsider.token)
	srv.createCrime(t, outsider.token)

	var dash endpoint.DashboardResponse
	decodeData(t, srv.getJSON("/dashboard", moderator.token), &dash)
	require.Len(t, dash.Summaries, 1)
	assert.Equal(t, mine.ID, dash.Summaries[0].ID)

	// Plain users see everything.
	var all endpoint.DashboardResponse
	decodeData(t, srv.getJSON("/dashboard", member.token), &all)
	assert.Equal(t, 3, all.Stats.Total)
}

func TestDashboardRequiresApproval(t *testing.T) {
	srv := newTestServer(t)
	pending := srv.signIn(t, userSpec{email: "pending@example.com", status: model.ProfileStatusPending})

	assert.Equal(t, http.StatusForbidden, srv.getJSON("/dashboard", pending.token).Code)
	assert.Equal(t, http.StatusUnauthorized, srv.getJSON("/dashboard", "").Code)
}
