package endpoint

import (
	"fmt"
	"log"
	"time"

	"github.com/ariebrainware/incident-watch/authstate"
	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SessionResponse describes a live session and the caller it belongs to.
type SessionResponse struct {
	Token       string         `json:"token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Profile     model.Profile  `json:"profile"`
	Permissions permission.Set `json:"permissions"`
}

// ValidateToken godoc
// @Summary      Validate session token
// @Description  Validate if the session token is valid and not expired
// @Tags         Authentication
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=SessionResponse} "Valid session token"
// @Failure      401 {object} util.APIResponse "Invalid or expired session token"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /token/validate [get]
func ValidateToken(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	token := middleware.GetSessionToken(c)

	var session model.Session
	if err := db.Where("session_token = ? AND expires_at > ?", token, time.Now()).First(&session).Error; err != nil {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Session not found", Err: err})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Valid session token",
		Data: SessionResponse{
			Token:       token,
			ExpiresAt:   session.ExpiresAt,
			Profile:     profile,
			Permissions: permission.Effective(profile),
		},
	})
}

// RefreshToken godoc
// @Summary      Refresh session token
// @Description  Swap the current session token for a new one with a fresh expiry
// @Tags         Authentication
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=SessionResponse} "Token refreshed"
// @Failure      401 {object} util.APIResponse "Invalid or expired session token"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /token/refresh [post]
func RefreshToken(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	oldToken := middleware.GetSessionToken(c)

	var user model.User
	if err := db.First(&user, profile.ID).Error; err != nil {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Session expired or revoked", Err: err})
		return
	}

	token, expires, err := util.IssueSessionToken(user.ID, user.Email, time.Now(), util.SessionTTL)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Could not generate token", Err: err})
		return
	}

	ci := clientInfoOf(c)
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("session_token = ?", oldToken).Delete(&model.Session{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session already revoked")
		}
		_, err := recordSession(tx, SessionInfo{UserID: user.ID, Token: token, Client: ci, Expires: expires})
		return err
	})
	if err != nil {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Unable to refresh session", Err: err})
		return
	}

	ctx := c.Request.Context()
	if err := util.RemoveSession(ctx, user.ID, oldToken); err != nil {
		log.Printf("[Session] failed to remove mirrored session for user %d: %v", user.ID, err)
	}
	if err := util.StoreSession(ctx, user.ID, token, time.Until(expires)); err != nil {
		log.Printf("[Session] failed to mirror session for user %d: %v", user.ID, err)
	}

	middleware.GetServices(c).Publish(authstate.Event{Type: authstate.TokenRefreshed, UserID: user.ID, Email: user.Email, ClientIP: ci.IP})

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg: "Token refreshed",
		Data: SessionResponse{
			Token:       token,
			ExpiresAt:   expires,
			Profile:     profile,
			Permissions: permission.Effective(profile),
		},
	})
}
