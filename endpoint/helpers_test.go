package endpoint_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariebrainware/incident-watch/authstate"
	"github.com/ariebrainware/incident-watch/endpoint"
	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/storage"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testPassword = "Passw0rd123"
	testCDN      = "https://cdn.test/storage"
)

var (
	dbSeq   int64
	pngHead = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

type apiResp struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// requestParams groups HTTP request parameters to reduce function arguments
type requestParams struct {
	method      string
	path        string
	body        []byte
	contentType string
	token       string
}

func doRequest(r http.Handler, params requestParams) *httptest.ResponseRecorder {
	req := httptest.NewRequest(params.method, params.path, bytes.NewReader(params.body))
	contentType := params.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if params.token != "" {
		req.Header.Set(middleware.SessionTokenHeader, params.token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func jsonBody(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) apiResp {
	t.Helper()
	var resp apiResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

// decodeData checks for a 200 envelope and unmarshals its data into out.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode(t, rr)
	require.True(t, resp.Success, rr.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
}

// errorFields returns data.fields of an error envelope.
func errorFields(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var data struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &data))
	return data.Fields
}

// fakeStore keeps uploads in memory. Files whose name contains failOn are rejected.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]string
	deleted []string
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]string{}}
}

func (f *fakeStore) Put(ctx context.Context, obj storage.Object) (string, error) {
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", err
	}
	name := string(bytes.TrimPrefix(data, pngHead))
	if f.failOn != "" && strings.Contains(name, f.failOn) {
		return "", errors.New("upload rejected")
	}
	u := storage.PublicURL(testCDN, obj.Bucket, obj.Key)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[u] = name
	return u, nil
}

func (f *fakeStore) Delete(ctx context.Context, publicURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, publicURL)
	f.deleted = append(f.deleted, publicURL)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeStore) nameOf(u string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[u]
}

type testServer struct {
	router      *gin.Engine
	db          *gorm.DB
	store       *fakeStore
	svc         *middleware.Services
	broadcaster *authstate.Broadcaster
	tracker     *endpoint.OnlineTracker
}

// newTestServer builds the full router over a fresh in-memory database. configure may
// adjust the services before the router is built.
func newTestServer(t *testing.T, configure ...func(*middleware.Services)) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:endpoint_%d_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.AllModels...))

	util.SetAuditLoggerDB(db)
	util.InitUserEmailCache(100)

	store := newFakeStore()
	b := authstate.NewBroadcaster()
	svc := &middleware.Services{
		Store:       store,
		Broadcaster: b,
		Limits:      report.Limits{MaxImages: 3, MaxImageBytes: 1 << 20},
	}
	for _, fn := range configure {
		fn(svc)
	}
	tracker := endpoint.NewOnlineTracker(db, b)

	srv := &testServer{
		router: endpoint.NewRouter(db, svc, endpoint.RouterOptions{
			AppName:       "Incident Watch",
			AuthRateLimit: middleware.RateLimitConfig{Limit: 1000, Window: time.Minute},
		}),
		db:          db,
		store:       store,
		svc:         svc,
		broadcaster: b,
		tracker:     tracker,
	}
	t.Cleanup(func() {
		tracker.Close()
		util.SetAuditLoggerDB(nil)
		sqlDB.Close()
	})
	return srv
}

func withoutStore(svc *middleware.Services) { svc.Store = nil }

func (s *testServer) do(params requestParams) *httptest.ResponseRecorder {
	return doRequest(s.router, params)
}

func (s *testServer) getJSON(path, token string) *httptest.ResponseRecorder {
	return s.do(requestParams{method: http.MethodGet, path: path, token: token})
}

func (s *testServer) sendJSON(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(requestParams{method: method, path: path, token: token, body: jsonBody(t, body)})
}

type userSpec struct {
	email     string
	name      string
	role      model.Role
	status    model.ProfileStatus
	companyID *uint
}

type testUser struct {
	profile model.Profile
	token   string
}

// createUser writes an identity and its profile directly, skipping the approval flow.
func (s *testServer) createUser(t *testing.T, spec userSpec) model.Profile {
	t.Helper()
	if spec.name == "" {
		spec.name = "Test User"
	}
	if spec.role == "" {
		spec.role = model.RoleUser
	}
	if spec.status == "" {
		spec.status = model.ProfileStatusApproved
	}
	salt, err := util.GenerateSalt()
	require.NoError(t, err)
	user := model.User{Name: spec.name, Email: spec.email, Password: util.HashPasswordArgon2(testPassword, salt), PasswordSalt: salt}
	require.NoError(t, s.db.Create(&user).Error)

	profile := model.NewProfile(model.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	profile.Role = spec.role
	profile.SetStatus(spec.status)
	profile.CompanyID = spec.companyID
	require.NoError(t, s.db.Create(&profile).Error)
	return profile
}

func (s *testServer) login(t *testing.T, email, password string) endpoint.LoginResponse {
	t.Helper()
	rr := s.sendJSON(t, http.MethodPost, "/login", "", map[string]string{"email": email, "password": password})
	var out endpoint.LoginResponse
	decodeData(t, rr, &out)
	require.NotEmpty(t, out.Token)
	return out
}

// signIn creates the described user and logs it in.
func (s *testServer) signIn(t *testing.T, spec userSpec) testUser {
	t.Helper()
	profile := s.createUser(t, spec)
	return testUser{profile: profile, token: s.login(t, spec.email, testPassword).Token}
}

func (s *testServer) createCompany(t *testing.T, name string) *uint {
	t.Helper()
	company := model.Company{Name: name}
	require.NoError(t, s.db.Create(&company).Error)
	return &company.ID
}

// multipartBody encodes fields plus files under the images field. Each file's content
// is a PNG header followed by its name, so the fake store can report what it received.
type formFile struct {
	field string
	name  string
	data  []byte
}

func pngFile(name string) formFile {
	return formFile{field: "images", name: name, data: append(append([]byte{}, pngHead...), []byte(name)...)}
}

func multipartBody(t *testing.T, fields map[string][]string, files ...formFile) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, values := range fields {
		for _, v := range values {
			require.NoError(t, w.WriteField(k, v))
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func (s *testServer) sendForm(t *testing.T, method, path, token string, fields map[string][]string, files ...formFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, files...)
	return s.do(requestParams{method: method, path: path, token: token, body: body, contentType: contentType})
}

// submitResult mirrors endpoint.SubmitResponse with the report union decoded.
type submitResult struct {
	Report struct {
		Kind    model.ReportKind    `json:"kind"`
		Vehicle *model.VehicleAlert `json:"vehicle"`
		Crime   *model.CrimeReport  `json:"crime"`
	} `json:"report"`
	Dropped     []string     `json:"dropped"`
	State       report.State `json:"state"`
	UploadError string       `json:"upload_error"`
}

func vehiclePayload() map[string]interface{} {
	return map[string]interface{}{
		"license_plate":      " ca 12-ab ",
		"make":               "Toyota",
		"model":              "Corolla",
		"color":              "Silver",
		"reason":             "Stolen from driveway",
		"last_seen_location": "Main Street",
		"severity":           "high",
	}
}

func vehicleForm() map[string][]string {
	return map[string][]string{
		"license_plate": {"CA12AB"},
		"make":          {"Toyota"},
		"model":         {"Corolla"},
		"color":         {"Silver"},
		"reason":        {"Stolen from driveway"},
		"severity":      {"high"},
	}
}

func crimePayload() map[string]interface{} {
	return map[string]interface{}{
		"title":       "Bike stolen",
		"description": "Bike taken from the rack outside the library",
		"location":    "Library",
		"report_type": "theft",
		"severity":    "medium",
	}
}

func (s *testServer) createVehicle(t *testing.T, token string) *model.VehicleAlert {
	t.Helper()
	var out submitResult
	decodeData(t, s.sendJSON(t, http.MethodPost, "/alerts/vehicles", token, vehiclePayload()), &out)
	require.NotNil(t, out.Report.Vehicle)
	return out.Report.Vehicle
}

func (s *testServer) createCrime(t *testing.T, token string) *model.CrimeReport {
	t.Helper()
	var out submitResult
	decodeData(t, s.sendJSON(t, http.MethodPost, "/reports/crime", token, crimePayload()), &out)
	require.NotNil(t, out.Report.Crime)
	return out.Report.Crime
}

func (s *testServer) countLogs(t *testing.T, action util.UserAction) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&model.UserLog{}).Where("action = ?", string(action)).Count(&n).Error)
	return n
}
