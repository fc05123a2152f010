package middleware

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
)

func captureAuditLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := util.SetAuditLoggerForTest(log.New(&buf, "[AUDIT] ", log.LstdFlags|log.Lmsgprefix))
	t.Cleanup(func() { util.SetAuditLoggerForTest(prev) })
	return &buf
}

func TestEndpointCallLogger_BasicRequest(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(DatabaseMiddleware(newInMemoryDB(t)))
	r.Use(EndpointCallLogger())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test?foo=bar", nil)
	req.RemoteAddr = "192.168.1.100:1234"
	req.Header.Set("User-Agent", "TestAgent/1.0")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "Action=ENDPOINT_CALL") {
		t.Error("Expected log to contain Action=ENDPOINT_CALL")
	}
	if !strings.Contains(logOutput, "GET /test -> 200") {
		t.Error("Expected log to contain request method and status")
	}
	if !strings.Contains(logOutput, "192.168.1.100") {
		t.Error("Expected log to contain IP address")
	}
	if !strings.Contains(logOutput, "TestAgent/1.0") {
		t.Error("Expected log to contain User-Agent")
	}
}

func TestEndpointCallLogger_WithUserContext(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()

	db := newInMemoryDB(t)
	if err := db.Exec("INSERT INTO users (id, email, password) VALUES (42, 'testuser@example.com', 'x')").Error; err != nil {
		t.Fatalf("Failed to insert test user: %v", err)
	}
	util.InitUserEmailCache(10)

	r.Use(DatabaseMiddleware(db))
	r.Use(EndpointCallLogger())
	r.GET("/test", func(c *gin.Context) {
		c.Set(UserIDKey, uint(42))
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	logOutput := buf.String()
	if !strings.Contains(logOutput, "UserID=42") {
		t.Error("Expected log to contain UserID=42")
	}
	if !strings.Contains(logOutput, "testuser@example.com") {
		t.Error("Expected log to contain user email")
	}
}

func TestEndpointCallLogger_UsesProfileEmail(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(EndpointCallLogger())
	r.GET("/test", func(c *gin.Context) {
		c.Set(UserIDKey, uint(9))
		c.Set(ProfileKey, model.Profile{ID: 9, Email: "mod@example.com", Role: model.RoleModerator})
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if !strings.Contains(buf.String(), "mod@example.com") {
		t.Error("Expected log to contain profile email")
	}
}

func TestEndpointCallLogger_NoUserContext(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(EndpointCallLogger())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if !strings.Contains(buf.String(), "UserID=0") {
		t.Error("Expected log to contain UserID=0")
	}
}

func TestEndpointCallLogger_ErrorStatus(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(EndpointCallLogger())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if !strings.Contains(buf.String(), "GET /test -> 404") {
		t.Error("Expected log to contain status 404")
	}
}

func TestEndpointCallLogger_POSTRequest(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(EndpointCallLogger())
	r.POST("/test", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"created": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/test", strings.NewReader(`{"data":"test"}`)))

	if !strings.Contains(buf.String(), "POST /test -> 201") {
		t.Error("Expected log to contain POST method and status 201")
	}
}

func TestEndpointCallLogger_SkipsMetrics(t *testing.T) {
	buf := captureAuditLog(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(EndpointCallLogger())
	r.GET("/metrics", MetricsHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if strings.Contains(buf.String(), "ENDPOINT_CALL") {
		t.Error("Expected scrapes to stay out of the audit log")
	}
}
