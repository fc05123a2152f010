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
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" example:"user@example.com"`
	Password string `json:"password" binding:"required" example:"password123"`
}

type LoginResponse struct {
	Token       string         `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	ExpiresAt   time.Time      `json:"expires_at"`
	UserID      uint           `json:"user_id" example:"1"`
	Profile     model.Profile  `json:"profile"`
	Permissions permission.Set `json:"permissions"`
}

type loginContext struct {
	C     *gin.Context
	DB    *gorm.DB
	Email string
	CI    clientInfo
}

// Login godoc
// @Summary      User login
// @Description  Authenticate with email and password and open a session
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} util.APIResponse{data=LoginResponse} "Login successful"
// @Failure      400 {object} util.APIResponse "Invalid request payload"
// @Failure      429 {object} util.APIResponse "Too many requests"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /login [post]
func Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	ctx := loginContext{C: c, DB: db, Email: strings.ToLower(strings.TrimSpace(req.Email)), CI: clientInfoOf(c)}

	user, ok := loadUserForLogin(ctx)
	if !ok {
		return
	}
	if !ensureAccountNotLocked(ctx, &user) {
		return
	}
	if !verifyPasswordOrRespond(ctx, &user, req.Password) {
		return
	}
	finalizeLogin(ctx, &user)
}

func loadUserForLogin(ctx loginContext) (model.User, bool) {
	user, err := loadUserByEmail(ctx.DB, ctx.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		util.LogLoginFailure(ctx.Email, ctx.CI.IP, ctx.CI.Agent, "user not found")
		util.CallUserError(ctx.C, util.APIErrorParams{Msg: "Invalid email or password", Err: fmt.Errorf("user not found")})
		return model.User{}, false
	}
	if err != nil {
		util.LogLoginFailure(ctx.Email, ctx.CI.IP, ctx.CI.Agent, "database error")
		util.CallServerError(ctx.C, util.APIErrorParams{Msg: "Database error", Err: err})
		return model.User{}, false
	}
	return user, true
}

func ensureAccountNotLocked(ctx loginContext, user *model.User) bool {
	if locked, expiry := isAccountLocked(user, time.Now()); locked {
		util.LogLoginFailure(ctx.Email, ctx.CI.IP, ctx.CI.Agent, "account locked")
		util.CallUserError(ctx.C, util.APIErrorParams{
			Msg: fmt.Sprintf("Account is locked until %s due to multiple failed login attempts", expiry.Format(time.RFC3339)),
			Err: fmt.Errorf("account locked"),
		})
		return false
	}
	return true
}

func verifyPasswordOrRespond(ctx loginContext, user *model.User, plain string) bool {
	if util.VerifyPassword(plain, user.PasswordSalt, user.Password) {
		return true
	}
	incrementFailedAttempts(ctx.DB, user, ctx.CI)
	util.LogLoginFailure(ctx.Email, ctx.CI.IP, ctx.CI.Agent, "invalid password")
	util.CallUserError(ctx.C, util.APIErrorParams{Msg: "Invalid email or password", Err: fmt.Errorf("invalid password")})
	return false
}

func finalizeLogin(ctx loginContext, user *model.User) {
	if err := resetFailedAttempts(ctx.DB, user); err != nil {
		log.Printf("[Auth] failed to reset failed attempts for user %d: %v", user.ID, err)
	}

	rctx := ctx.C.Request.Context()
	profile, err := model.EnsureProfile(rctx, ctx.DB, model.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		util.LogLoginFailure(ctx.Email, ctx.CI.IP, ctx.CI.Agent, "profile unavailable")
		middleware.RespondProfileError(ctx.C, err)
		return
	}

	session, ok := openSessionOrRespond(ctx.C, ctx.DB, *user, ctx.CI)
	if !ok {
		util.LogLoginFailure(ctx.Email, ctx.CI.IP, ctx.CI.Agent, "session creation failed")
		return
	}

	now := time.Now()
	if err := model.TouchLastLogin(rctx, ctx.DB, profile.ID, now); err != nil {
		log.Printf("[Auth] failed to stamp last login for user %d: %v", user.ID, err)
	}
	profile.LastLogin = &now

	middleware.GetServices(ctx.C).Publish(authstate.Event{
		Type: authstate.SignedIn, UserID: user.ID, Email: user.Email, ClientIP: ctx.CI.IP, At: now,
	})
	util.LogLoginSuccess(user.ID, user.Email, ctx.CI.IP, ctx.CI.Agent)
	util.CallSuccessOK(ctx.C, util.APISuccessParams{
		Msg: "Login successful",
		Data: LoginResponse{
			Token:       session.SessionToken,
			ExpiresAt:   session.ExpiresAt,
			UserID:      user.ID,
			Profile:     profile,
			Permissions: permission.Effective(profile),
		},
	})
}

// openSessionOrRespond issues a session token for user, persists it and mirrors it to Redis.
func openSessionOrRespond(c *gin.Context, db *gorm.DB, user model.User, ci clientInfo) (model.Session, bool) {
	token, expires, err := util.IssueSessionToken(user.ID, user.Email, time.Now(), util.SessionTTL)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Could not generate token", Err: err})
		return model.Session{}, false
	}
	session, err := recordSession(db, SessionInfo{UserID: user.ID, Token: token, Client: ci, Expires: expires})
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to record session", Err: err})
		return model.Session{}, false
	}
	if err := util.StoreSession(c.Request.Context(), user.ID, token, time.Until(expires)); err != nil {
		log.Printf("[Session] failed to mirror session for user %d: %v", user.ID, err)
	}
	return session, true
}

func loadUserByEmail(db *gorm.DB, email string) (model.User, error) {
	var user model.User
	err := db.Where("email = ?", email).First(&user).Error
	return user, err
}

func isAccountLocked(user *model.User, now time.Time) (bool, time.Time) {
	if user.LockedUntil != nil && *user.LockedUntil > now.Unix() {
		return true, time.Unix(*user.LockedUntil, 0)
	}
	return false, time.Time{}
}

func incrementFailedAttempts(db *gorm.DB, user *model.User, ci clientInfo) {
	user.FailedAttempts++
	if user.FailedAttempts >= maxFailedAttempts {
		lockUntil := time.Now().Add(lockoutDuration).Unix()
		user.LockedUntil = &lockUntil
		util.LogAccountLocked(user.ID, user.Email, ci.IP, "too many failed login attempts")
	}
	if err := db.Save(user).Error; err != nil {
		util.LogLoginFailure(user.Email, ci.IP, ci.Agent, "failed to update failed attempts")
	}
}

func resetFailedAttempts(db *gorm.DB, user *model.User) error {
	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		user.FailedAttempts = 0
		user.LockedUntil = nil
		return db.Save(user).Error
	}
	return nil
}

// SessionInfo groups parameters for creating a session to avoid long argument lists.
type SessionInfo struct {
	UserID  uint
	Token   string
	Client  clientInfo
	Expires time.Time
}

func recordSession(db *gorm.DB, info SessionInfo) (model.Session, error) {
	session := model.Session{UserID: info.UserID, SessionToken: info.Token, ExpiresAt: info.Expires, ClientIP: info.Client.IP, Browser: info.Client.Agent}
	err := db.Create(&session).Error
	return session, err
}

// Logout godoc
// @Summary      User logout
// @Description  Invalidate the current session token
// @Tags         Authentication
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse "Logout successful"
// @Failure      401 {object} util.APIResponse "Unauthorized"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /logout [delete]
func Logout(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	userID, ok := middleware.GetUserID(c)
	if !ok {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "User not authenticated", Err: fmt.Errorf("user id not found in context")})
		return
	}
	token := middleware.GetSessionToken(c)

	if err := db.Unscoped().Where("session_token = ?", token).Delete(&model.Session{}).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to delete session", Err: err})
		return
	}
	if err := util.RemoveSession(c.Request.Context(), userID, token); err != nil {
		log.Printf("[Session] failed to remove mirrored session for user %d: %v", userID, err)
	}

	profile, _ := middleware.GetProfile(c)
	middleware.GetServices(c).Publish(authstate.Event{Type: authstate.SignedOut, UserID: userID, Email: profile.Email, ClientIP: c.ClientIP()})
	util.LogLogout(userID, profile.Email, c.ClientIP(), c.Request.UserAgent())

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Logout successful"})
}

type SignupRequest struct {
	Name     string `json:"name" binding:"required" example:"Jane Doe"`
	Email    string `json:"email" binding:"required,email" example:"jane@example.com"`
	Password string `json:"password" binding:"required,min=8" example:"password123"`
}

// Signup godoc
// @Summary      User signup
// @Description  Register a new account. The profile starts pending until approved by a moderator.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        request body SignupRequest true "Signup details"
// @Success      200 {object} util.APIResponse{data=model.Profile} "Signup successful"
// @Failure      400 {object} util.APIResponse "Invalid request or email already exists"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /signup [post]
func Signup(c *gin.Context) {
	var req SignupRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	if err := util.ValidatePasswordStrength(req.Password); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Password is too weak", Err: err, Fields: map[string]string{"password": err.Error()}})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !ensureEmailAvailable(c, db, email) {
		return
	}

	hashed, salt, ok := hashPasswordOrRespond(c, req.Password)
	if !ok {
		return
	}

	newUser := model.User{
		Name:         util.NormalizeName(req.Name),
		Email:        email,
		Password:     hashed,
		PasswordSalt: salt,
	}
	if err := db.Create(&newUser).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to create new user", Err: err})
		return
	}

	profile, err := model.EnsureProfile(c.Request.Context(), db, model.Identity{UserID: newUser.ID, Email: newUser.Email, Name: newUser.Name})
	if err != nil {
		middleware.RespondProfileError(c, err)
		return
	}

	util.LogUserAction(util.UserEvent{
		Action:    util.ActionSignup,
		UserID:    newUser.ID,
		Email:     newUser.Email,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Message:   "User signed up successfully",
	})

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Signup successful", Data: profile})
}

func ensureEmailAvailable(c *gin.Context, db *gorm.DB, email string) bool {
	_, err := loadUserByEmail(db, email)
	switch {
	case err == nil:
		util.CallUserError(c, util.APIErrorParams{Msg: "Email already exists", Err: fmt.Errorf("email already exists")})
		return false
	case errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		util.CallServerError(c, util.APIErrorParams{Msg: "Database error", Err: err})
		return false
	}
}

func hashPasswordOrRespond(c *gin.Context, plain string) (string, string, bool) {
	salt, err := util.GenerateSalt()
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to generate password salt", Err: err})
		return "", "", false
	}
	return util.HashPasswordArgon2(plain, salt), salt, true
}

// ChangePasswordRequest is the body of POST /change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword godoc
// @Summary      Change password
// @Description  Replace the caller's password. Every other session of the caller is revoked.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body ChangePasswordRequest true "Current and new password"
// @Success      200 {object} util.APIResponse "Password changed"
// @Failure      400 {object} util.APIResponse "Invalid request payload or weak password"
// @Failure      401 {object} util.APIResponse "Current password is wrong"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /change-password [post]
func ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	if err := util.ValidatePasswordStrength(req.NewPassword); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Password is too weak", Err: err, Fields: map[string]string{"new_password": err.Error()}})
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	userID, ok := middleware.GetUserID(c)
	if !ok {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "User not authenticated", Err: fmt.Errorf("user id not found in context")})
		return
	}

	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		respondLookupError(c, "User", err)
		return
	}
	if !util.VerifyPassword(req.CurrentPassword, user.PasswordSalt, user.Password) {
		util.CallUserNotAuthorized(c, util.APIErrorParams{Msg: "Current password is incorrect", Err: fmt.Errorf("provided password does not match")})
		return
	}

	hashed, salt, ok := hashPasswordOrRespond(c, req.NewPassword)
	if !ok {
		return
	}
	current := middleware.GetSessionToken(c)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{"password": hashed, "password_salt": salt}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("user_id = ? AND session_token <> ?", user.ID, current).Delete(&model.Session{}).Error
	})
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to change password", Err: err})
		return
	}

	ctx := c.Request.Context()
	if err := util.InvalidateUserSessions(ctx, user.ID); err != nil {
		log.Printf("[Session] failed to invalidate sessions for user %d: %v", user.ID, err)
	}
	var session model.Session
	if err := db.Where("session_token = ?", current).First(&session).Error; err == nil {
		if err := util.StoreSession(ctx, user.ID, current, time.Until(session.ExpiresAt)); err != nil {
			log.Printf("[Session] failed to mirror session for user %d: %v", user.ID, err)
		}
	}

	middleware.GetServices(c).Publish(authstate.Event{Type: authstate.PasswordChanged, UserID: user.ID, Email: user.Email, ClientIP: c.ClientIP()})
	audit(c, util.ActionPasswordChanged, "Password changed", nil)

	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Password changed"})
}

// VerifyPasswordRequest represents the request body for password verification
type VerifyPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// VerifyPassword godoc
// @Summary      Verify current user's password
// @Description  Validate the provided current password for the authenticated user
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body VerifyPasswordRequest true "Password to verify"
// @Success      200 {object} util.APIResponse "Password verified"
// @Failure      400 {object} util.APIResponse "Invalid request payload"
// @Failure      401 {object} util.APIResponse "Invalid password or unauthorized"
// @Failure      404 {object} util.APIResponse "User not found"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /verify-password [post]
func VerifyPassword(c *gin.Context) {
	var req VerifyPasswordRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}

	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		util.CallUserNotAuthorized(c, util.APIErrorParams{
			Msg: "User not authenticated",
			Err: fmt.Errorf("user id not found in context"),
		})
		return
	}

	var user model.User
	if err := db.First(&user, userID).Error; err != nil {
		respondLookupError(c, "User", err)
		return
	}

	if util.VerifyPassword(req.Password, user.PasswordSalt, user.Password) {
		util.CallSuccessOK(c, util.APISuccessParams{
			Msg:  "Password verified",
			Data: map[string]bool{"verified": true},
		})
		return
	}

	util.CallUserNotAuthorized(c, util.APIErrorParams{
		Msg: "Invalid password",
		Err: fmt.Errorf("provided password does not match"),
	})
}
