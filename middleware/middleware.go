package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	UserIDKey       = "user_id"
	SessionTokenKey = "session_token"
	ProfileKey      = "profile"

	dbKey = "db"

	SessionTokenHeader = "session-token"
)

func setCorsHeaders(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE, PATCH")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Authorization, session-token")
	c.Writer.Header().Set("Access-Control-Max-Age", "86400")
	c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
}

// CORSMiddleware configures CORS headers for incoming requests.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		setCorsHeaders(c)

		// For preflight requests, respond with 204 and abort further processing.
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// DatabaseMiddleware makes db available to handlers through GetDB.
func DatabaseMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(dbKey, db)
		c.Next()
	}
}

// GetDB returns the database set by DatabaseMiddleware, or nil.
func GetDB(c *gin.Context) *gorm.DB {
	v, ok := c.Get(dbKey)
	if !ok {
		return nil
	}
	db, _ := v.(*gorm.DB)
	return db
}

// GetUserID returns the authenticated user id set by ValidateLoginToken.
func GetUserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// GetSessionToken returns the token the request authenticated with.
func GetSessionToken(c *gin.Context) string {
	return c.GetString(SessionTokenKey)
}

// GetProfile returns the caller's ensured profile.
func GetProfile(c *gin.Context) (model.Profile, bool) {
	v, ok := c.Get(ProfileKey)
	if !ok {
		return model.Profile{}, false
	}
	p, ok := v.(model.Profile)
	return p, ok
}

// GetPermissions resolves the caller's capabilities. Unauthenticated callers get none.
func GetPermissions(c *gin.Context) permission.Set {
	p, ok := GetProfile(c)
	if !ok {
		return permission.Set{}
	}
	return permission.Effective(p)
}

// SessionTokenFromRequest reads the session-token header, falling back to a bearer token.
func SessionTokenFromRequest(c *gin.Context) string {
	if tok := strings.TrimSpace(c.GetHeader(SessionTokenHeader)); tok != "" {
		return tok
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func abortUnauthorized(c *gin.Context, msg string, err error) {
	util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: msg, Err: err})
	c.Abort()
}

// ValidateLoginToken authenticates the request's session token, then ensures the caller's
// profile exists. On success user_id, session_token and profile are set in the context.
func ValidateLoginToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionTokenFromRequest(c)
		if token == "" {
			abortUnauthorized(c, "Session token not provided", fmt.Errorf("session token not provided"))
			return
		}

		db := GetDB(c)
		if db == nil {
			util.CallServerError(c, util.APIErrorParams{Msg: "Database connection not available", Err: fmt.Errorf("db is nil")})
			c.Abort()
			return
		}

		claims, err := util.ParseSessionToken(token)
		if err != nil {
			util.LogUnauthorizedAccess(0, c.ClientIP(), c.Request.URL.Path, "invalid session token")
			abortUnauthorized(c, "Invalid session token", err)
			return
		}

		ctx := c.Request.Context()
		userID, ok := resolveSession(ctx, db, token)
		if !ok || userID != claims.UserID {
			abortUnauthorized(c, "Session expired or revoked", fmt.Errorf("session not found"))
			return
		}

		var user model.User
		if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
			abortUnauthorized(c, "Session expired or revoked", err)
			return
		}

		profile, err := model.EnsureProfile(ctx, db, model.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
		if err != nil {
			RespondProfileError(c, err)
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(SessionTokenKey, token)
		c.Set(ProfileKey, profile)
		c.Next()
	}
}

// RespondProfileError answers a failed profile ensure: 503 when the store is unreachable,
// 500 otherwise.
func RespondProfileError(c *gin.Context, err error) {
	if errors.Is(err, model.ErrProfileUnavailable) {
		util.CallServiceUnavailable(c, util.APIErrorParams{Msg: "Unable to verify account", Err: err})
		return
	}
	util.CallServerError(c, util.APIErrorParams{Msg: "Unable to load profile", Err: err})
}

// resolveSession maps token to its user id through the Redis mirror, then the sessions table.
// A database hit is written back to Redis best-effort.
func resolveSession(ctx context.Context, db *gorm.DB, token string) (uint, bool) {
	userID, found, err := util.LookupSession(ctx, token)
	if err != nil {
		log.Printf("[Session] redis lookup failed, using database: %v", err)
	}
	if found && userID != 0 {
		return userID, true
	}

	var session model.Session
	err = db.WithContext(ctx).
		Where("session_token = ? AND expires_at > ?", token, time.Now()).
		First(&session).Error
	if err != nil {
		return 0, false
	}
	if err := util.StoreSession(ctx, session.UserID, token, time.Until(session.ExpiresAt)); err != nil {
		log.Printf("[Session] failed to mirror session for user %d: %v", session.UserID, err)
	}
	return session.UserID, true
}

// RequirePermission lets the request through when the caller's effective capability set
// grants any of caps. Must run after ValidateLoginToken.
func RequirePermission(caps ...permission.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := GetProfile(c)
		if !ok {
			abortUnauthorized(c, "User not authenticated", fmt.Errorf("profile not found in context"))
			return
		}
		label := capabilityLabel(caps)
		if permission.Effective(profile).AllowsAny(caps...) {
			recordAuthorization(label, "allow")
			c.Next()
			return
		}
		recordAuthorization(label, "deny")

		reason := "requires " + label
		if !profile.IsApproved() {
			reason = fmt.Sprintf("profile status %s", profile.Status)
		}
		util.LogUnauthorizedAccess(profile.ID, c.ClientIP(), c.Request.URL.Path, reason)
		util.CallForbidden(c, util.APIErrorParams{
			Msg: "You do not have permission to perform this action",
			Err: fmt.Errorf("forbidden: %s", reason),
		})
		c.Abort()
	}
}

func capabilityLabel(caps []permission.Capability) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, "|")
}
