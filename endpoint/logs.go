package endpoint

import (
	"strings"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// ListUserLogs godoc
// @Summary      Audit trail
// @Description  Newest first. Moderators only see logs of users in their company.
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Param        user_id query int    false "Acting user"
// @Param        action  query string false "Action, e.g. LOGIN_SUCCESS"
// @Param        limit   query int    false "Max rows (default 50, max 500)"
// @Success      200 {object} util.APIResponse{data=[]model.UserLog} "Logs retrieved"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /admin/logs [get]
func ListUserLogs(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}

	limit := parsePositiveInt(c.Query("limit"), defaultLogLimit, maxLogLimit)
	query := db.WithContext(c.Request.Context()).Model(&model.UserLog{})

	query = applyUserIDScope(db, query, permission.ScopeFor(actor))

	if uid := parseUintQuery(c, "user_id"); uid > 0 {
		query = query.Where("user_id = ?", uid)
	}
	if action := strings.ToUpper(strings.TrimSpace(c.Query("action"))); action != "" {
		query = query.Where("action = ?", action)
	}

	var logs []model.UserLog
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve logs", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Logs retrieved", Data: logs})
}
