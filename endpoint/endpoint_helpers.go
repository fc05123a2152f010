package endpoint

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type clientInfo struct {
	IP    string
	Agent string
}

func clientInfoOf(c *gin.Context) clientInfo {
	return clientInfo{IP: c.ClientIP(), Agent: c.Request.UserAgent()}
}

func bindJSONOrRespond(c *gin.Context, dst interface{}, msg string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: msg, Err: err})
		return false
	}
	return true
}

func getDBOrRespond(c *gin.Context) (*gorm.DB, bool) {
	db := middleware.GetDB(c)
	if db == nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Database connection not available", Err: fmt.Errorf("db is nil")})
		return nil, false
	}
	return db, true
}

// requireProfile returns the caller's profile set by ValidateLoginToken.
func requireProfile(c *gin.Context) (model.Profile, bool) {
	profile, ok := middleware.GetProfile(c)
	if !ok {
		util.CallUserNotAuthorized(c, util.APIErrorParams{
			Msg: "User not authenticated",
			Err: fmt.Errorf("profile not found in context"),
		})
		return model.Profile{}, false
	}
	return profile, true
}

// parseIDParam parses the "id" path parameter into a uint and returns an error if invalid.
func parseIDParam(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ID must be a valid integer")
	}
	if id == 0 {
		return 0, fmt.Errorf("ID must be a positive integer")
	}
	return uint(id), nil
}

func parseIDOrRespond(c *gin.Context) (uint, bool) {
	id, err := parseIDParam(c)
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: err.Error(), Err: err})
		return 0, false
	}
	return id, true
}

// parsePaginationParams extracts and validates limit, cursor, and offset query parameters.
func parsePaginationParams(c *gin.Context) (limit int, cursor uint, offset int) {
	limit = parsePositiveInt(c.Query("limit"), 10, 100)
	cursor = parseUintQuery(c, "cursor")
	offset = parsePositiveInt(c.Query("offset"), 0, 0)
	return limit, cursor, offset
}

// parsePositiveInt parses a positive integer from a query value returning a default
// when the value is missing or invalid. If max > 0 it caps the returned value.
func parsePositiveInt(q string, defaultVal, max int) int {
	if q == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(q)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// parseUintQuery parses an unsigned integer query parameter and returns 0 on error.
func parseUintQuery(c *gin.Context, name string) uint {
	s := c.Query(name)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0
	}
	return uint(v)
}

// applyPaginationQuery applies cursor or offset-based pagination to a query.
func applyPaginationQuery(query *gorm.DB, cursor uint, offset int) *gorm.DB {
	if cursor > 0 {
		return query.Where("id > ?", cursor)
	}
	if offset > 0 {
		return query.Offset(offset)
	}
	return query
}

// respondLookupError answers 404 for a missing row and 500 otherwise.
func respondLookupError(c *gin.Context, what string, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.CallErrorNotFound(c, util.APIErrorParams{Msg: what + " not found", Err: err})
		return
	}
	util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve " + what, Err: err})
}

// audit records an action taken by the authenticated caller.
func audit(c *gin.Context, action util.UserAction, message string, details map[string]interface{}) {
	profile, _ := middleware.GetProfile(c)
	util.LogUserAction(util.UserEvent{
		Action:    action,
		UserID:    profile.ID,
		Email:     profile.Email,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Message:   message,
		Details:   details,
	})
}

// applyUserIDScope limits rows keyed by user_id to the users inside scope.
func applyUserIDScope(db *gorm.DB, query *gorm.DB, scope permission.Scope) *gorm.DB {
	switch {
	case scope.Unscoped:
		return query
	case scope.CompanyID != nil:
		members := db.Model(&model.Profile{}).Select("id").Where("company_id = ?", *scope.CompanyID)
		return query.Where("user_id IN (?)", members)
	default:
		return query.Where("user_id = ?", scope.OwnerID)
	}
}
