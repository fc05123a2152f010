package middleware

import (
	"fmt"
	"time"

	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
)

// quietPaths are scraped frequently and stay out of the audit log.
var quietPaths = map[string]struct{}{"/metrics": {}}

// EndpointCallLogger logs each HTTP request as an ENDPOINT_CALL user action.
// Rows reach the user_logs table once util.SetAuditLoggerDB has been called at startup.
func EndpointCallLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, skip := quietPaths[c.Request.URL.Path]; skip {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		userID, _ := GetUserID(c)

		details := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"raw_path":    c.Request.URL.Path,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"query":       c.Request.URL.RawQuery,
		}
		email := ""
		if profile, ok := GetProfile(c); ok {
			details["role"] = string(profile.Role)
			email = profile.Email
		} else if userID != 0 {
			email = util.GetUserEmail(GetDB(c), userID)
		}

		util.LogUserAction(util.UserEvent{
			Action:    util.ActionEndpointCall,
			UserID:    userID,
			Email:     email,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Message:   fmt.Sprintf("%s %s -> %d", c.Request.Method, c.Request.URL.Path, status),
			Details:   details,
		})
	}
}
