package endpoint_test

import (
	"io"
	"log"
	"os"
	"testing"

	"github.com/ariebrainware/incident-watch/config"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
)

// TestMain sets up consistent test configuration for all tests in the endpoint_test package.
// This prevents test order dependency issues caused by the singleton config pattern.
func TestMain(m *testing.M) {
	os.Setenv("APPENV", "test")
	os.Setenv("JWTSECRET", "test-secret-123")
	os.Setenv("GINMODE", "release")
	os.Setenv("REDIS_ENABLED", "false")

	util.SetJWTSecret("test-secret-123")
	util.SetAuditLoggerForTest(log.New(io.Discard, "", 0))

	cfg := config.LoadConfig()
	gin.SetMode(cfg.GinMode)

	exitCode := m.Run()

	os.Exit(exitCode)
}
