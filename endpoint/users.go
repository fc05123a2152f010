package endpoint

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ariebrainware/incident-watch/authstate"
	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	ErrSelfModification = errors.New("cannot change your own account here")
	ErrAdminProtected   = errors.New("only admins may manage admin accounts")
)

// UserView is one managed account as seen by admins and moderators.
type UserView struct {
	Profile        model.Profile  `json:"profile"`
	Permissions    permission.Set `json:"permissions"`
	ActiveSessions int64          `json:"active_sessions"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required" example:"moderator"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required" example:"approved"`
}

type UpdateCompanyRequest struct {
	// CompanyID null detaches the profile from its company.
	CompanyID *uint `json:"company_id"`
}

// applyProfileScope limits a profile query to what the actor may manage.
func applyProfileScope(q *gorm.DB, scope permission.Scope) *gorm.DB {
	switch {
	case scope.Unscoped:
		return q
	case scope.CompanyID != nil:
		return q.Where("company_id = ?", *scope.CompanyID)
	default:
		return q.Where("id = ?", scope.OwnerID)
	}
}

// buildKeywordFilter returns the keyword filter string for search queries.
func buildKeywordFilter(keyword string) (string, []interface{}) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return "", nil
	}
	kw := report.LikePattern(keyword)
	return "(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(full_name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!')", []interface{}{kw, kw, kw}
}

// loadManagedProfile fetches the profile named by the id path parameter. Profiles outside
// the actor's scope answer 404.
func loadManagedProfile(c *gin.Context, db *gorm.DB, actor model.Profile) (*model.Profile, bool) {
	id, ok := parseIDOrRespond(c)
	if !ok {
		return nil, false
	}
	var target model.Profile
	q := applyProfileScope(db.WithContext(c.Request.Context()), permission.ScopeFor(actor))
	if err := q.First(&target, id).Error; err != nil {
		respondLookupError(c, "User", err)
		return nil, false
	}
	return &target, true
}

// guardManagement refuses self-modification and non-admins touching admins.
func guardManagement(c *gin.Context, actor, target model.Profile) bool {
	var err error
	switch {
	case actor.ID == target.ID:
		err = ErrSelfModification
	case target.Role == model.RoleAdmin && actor.Role != model.RoleAdmin:
		err = ErrAdminProtected
	}
	if err == nil {
		return true
	}
	util.LogUnauthorizedAccess(actor.ID, c.ClientIP(), c.Request.URL.Path, err.Error())
	util.CallForbidden(c, util.APIErrorParams{Msg: "You do not have permission to perform this action", Err: err})
	return false
}

// revokeUserSessions removes every session of target from the database and Redis and
// announces the sign-out.
func revokeUserSessions(c *gin.Context, db *gorm.DB, target model.Profile) {
	if err := db.Unscoped().Where("user_id = ?", target.ID).Delete(&model.Session{}).Error; err != nil {
		log.Printf("[Session] failed to delete sessions for user %d: %v", target.ID, err)
	}
	if err := util.InvalidateUserSessions(c.Request.Context(), target.ID); err != nil {
		log.Printf("[Session] failed to invalidate sessions for user %d: %v", target.ID, err)
	}
	middleware.GetServices(c).Publish(authstate.Event{Type: authstate.SignedOut, UserID: target.ID, Email: target.Email, ClientIP: c.ClientIP()})
}

func userView(db *gorm.DB, p model.Profile) UserView {
	var active int64
	if err := db.Model(&model.Session{}).Where("user_id = ? AND expires_at > ?", p.ID, time.Now()).Count(&active).Error; err != nil {
		log.Printf("[Admin] failed to count sessions for user %d: %v", p.ID, err)
	}
	return UserView{Profile: p, Permissions: permission.Effective(p), ActiveSessions: active}
}

// ListUsers godoc
// @Summary      List users
// @Description  Cursor paginated profiles. Moderators only see their company.
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Param        limit  query int    false "Limit number of results (default 10, max 100)"
// @Param        cursor query int    false "Cursor for pagination (profile ID)"
// @Param        q      query string false "Search name, full name or email"
// @Param        role   query string false "Role"
// @Param        status query string false "Profile status"
// @Success      200 {object} util.APIResponse{data=object} "Users retrieved with cursor pagination"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /admin/users [get]
func ListUsers(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}

	limit, cursor, offset := parsePaginationParams(c)

	query := applyProfileScope(db.WithContext(c.Request.Context()).Model(&model.Profile{}), permission.ScopeFor(actor))
	if clause, args := buildKeywordFilter(c.Query("q")); clause != "" {
		query = query.Where(clause, args...)
	}
	if role := strings.TrimSpace(c.Query("role")); role != "" {
		query = query.Where("role = ?", role)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to count users", Err: err})
		return
	}

	// One extra row tells whether another page exists.
	var profiles []model.Profile
	if err := applyPaginationQuery(query, cursor, offset).Order("id ASC").Limit(limit + 1).Find(&profiles).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve users", Err: err})
		return
	}

	hasMore := len(profiles) > limit
	if hasMore {
		profiles = profiles[:limit]
	}
	var nextCursor *uint
	if hasMore {
		lastID := profiles[len(profiles)-1].ID
		nextCursor = &lastID
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Users retrieved",
		Data: map[string]interface{}{
			"users":         profiles,
			"total":         total,
			"total_fetched": len(profiles),
			"has_more":      hasMore,
			"next_cursor":   nextCursor,
		},
	})
}

// GetUserInfo godoc
// @Summary      Get user
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "User ID"
// @Success      200 {object} util.APIResponse{data=UserView} "User retrieved"
// @Failure      404 {object} util.APIResponse "User not found"
// @Router       /admin/users/{id} [get]
func GetUserInfo(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}
	target, ok := loadManagedProfile(c, db, actor)
	if !ok {
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "User retrieved", Data: userView(db, *target)})
}

// UpdateUserRole godoc
// @Summary      Change a user's role
// @Description  Moderators may not grant admin.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id      path int               true "User ID"
// @Param        request body UpdateRoleRequest true "New role"
// @Success      200 {object} util.APIResponse{data=UserView} "Role updated"
// @Failure      400 {object} util.APIResponse "Invalid role"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "User not found"
// @Router       /admin/users/{id}/role [patch]
func UpdateUserRole(c *gin.Context) {
	var req UpdateRoleRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	role := model.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		util.CallUserError(c, util.APIErrorParams{
			Msg:    "Invalid role",
			Err:    fmt.Errorf("unknown role %q", req.Role),
			Fields: map[string]string{"role": "is invalid"},
		})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}
	target, ok := loadManagedProfile(c, db, actor)
	if !ok {
		return
	}
	if !guardManagement(c, actor, *target) {
		return
	}
	if role == model.RoleAdmin && actor.Role != model.RoleAdmin {
		util.LogUnauthorizedAccess(actor.ID, c.ClientIP(), c.Request.URL.Path, "grant admin")
		util.CallForbidden(c, util.APIErrorParams{Msg: "You do not have permission to perform this action", Err: ErrAdminProtected})
		return
	}

	from := target.Role
	if err := db.Model(target).Update("role", role).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update role", Err: err})
		return
	}
	target.Role = role

	audit(c, util.ActionUserRoleChanged, fmt.Sprintf("user %d role %s -> %s", target.ID, from, role), map[string]interface{}{
		"target_user_id": target.ID,
		"from":           string(from),
		"to":             string(role),
	})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Role updated", Data: userView(db, *target)})
}

// UpdateUserStatus godoc
// @Summary      Approve, reject or suspend a user
// @Description  Rejected and suspended users are signed out everywhere.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id      path int                 true "User ID"
// @Param        request body UpdateStatusRequest true "New status"
// @Success      200 {object} util.APIResponse{data=UserView} "Status updated"
// @Failure      400 {object} util.APIResponse "Invalid status"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "User not found"
// @Router       /admin/users/{id}/status [patch]
func UpdateUserStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	status := model.ProfileStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		util.CallUserError(c, util.APIErrorParams{
			Msg:    "Invalid status",
			Err:    fmt.Errorf("unknown status %q", req.Status),
			Fields: map[string]string{"status": "is invalid"},
		})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}
	target, ok := loadManagedProfile(c, db, actor)
	if !ok {
		return
	}
	if !guardManagement(c, actor, *target) {
		return
	}

	from := target.Status
	target.SetStatus(status)
	if err := db.Model(target).Updates(map[string]interface{}{"status": target.Status, "approved": target.Approved}).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update status", Err: err})
		return
	}
	if status == model.ProfileStatusRejected || status == model.ProfileStatusSuspended {
		revokeUserSessions(c, db, *target)
	}

	audit(c, util.ActionUserStatusChanged, fmt.Sprintf("user %d status %s -> %s", target.ID, from, status), map[string]interface{}{
		"target_user_id": target.ID,
		"from":           string(from),
		"to":             string(status),
	})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Status updated", Data: userView(db, *target)})
}

// UpdateUserCompany godoc
// @Summary      Move a user to a company
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id      path int                  true "User ID"
// @Param        request body UpdateCompanyRequest true "Company, or null"
// @Success      200 {object} util.APIResponse{data=UserView} "Company updated"
// @Failure      400 {object} util.APIResponse "Unknown company"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "User not found"
// @Router       /admin/users/{id}/company [patch]
func UpdateUserCompany(c *gin.Context) {
	var req UpdateCompanyRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}
	target, ok := loadManagedProfile(c, db, actor)
	if !ok || !guardManagement(c, actor, *target) {
		return
	}

	if req.CompanyID != nil {
		var company model.Company
		if err := db.First(&company, *req.CompanyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				util.CallUserError(c, util.APIErrorParams{Msg: "Unknown company", Err: err, Fields: map[string]string{"company_id": "does not exist"}})
				return
			}
			util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve company", Err: err})
			return
		}
	}

	from := target.CompanyID
	if err := db.Model(target).Update("company_id", req.CompanyID).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update company", Err: err})
		return
	}
	target.CompanyID = req.CompanyID

	audit(c, util.ActionUserCompanyChanged, fmt.Sprintf("user %d company changed", target.ID), map[string]interface{}{
		"target_user_id": target.ID,
		"from":           from,
		"to":             req.CompanyID,
	})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Company updated", Data: userView(db, *target)})
}

// deleteUserWithSessions deletes a user, their profile and all their sessions atomically.
func deleteUserWithSessions(db *gorm.DB, userID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		user := &model.User{}
		if err := tx.First(user, userID).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&model.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.OnlineUser{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Profile{}, userID).Error; err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
}

// DeleteUser godoc
// @Summary      Delete user
// @Description  Soft-deletes the identity, removes the profile and revokes every session.
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "User ID"
// @Success      200 {object} util.APIResponse "User deleted"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Failure      404 {object} util.APIResponse "User not found"
// @Router       /admin/users/{id} [delete]
func DeleteUser(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	actor, ok := requireProfile(c)
	if !ok {
		return
	}
	target, ok := loadManagedProfile(c, db, actor)
	if !ok {
		return
	}
	if !guardManagement(c, actor, *target) {
		return
	}

	if err := deleteUserWithSessions(db, target.ID); err != nil {
		respondLookupError(c, "User", err)
		return
	}
	if err := util.InvalidateUserSessions(c.Request.Context(), target.ID); err != nil {
		log.Printf("[Session] failed to invalidate sessions for user %d: %v", target.ID, err)
	}
	middleware.GetServices(c).Publish(authstate.Event{Type: authstate.SignedOut, UserID: target.ID, Email: target.Email, ClientIP: c.ClientIP()})

	audit(c, util.ActionUserDeleted, fmt.Sprintf("user %d deleted", target.ID), map[string]interface{}{
		"target_user_id": target.ID,
		"target_email":   target.Email,
	})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "User deleted"})
}
