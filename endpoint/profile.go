package endpoint

import (
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
)

// ProfileResponse is the caller's profile with its resolved capabilities.
type ProfileResponse struct {
	Profile     model.Profile  `json:"profile"`
	Permissions permission.Set `json:"permissions"`
}

// UpdateProfileRequest lists the self-editable profile fields. Role, status and company
// are changed through the admin routes only.
type UpdateProfileRequest struct {
	Name     *string `json:"name" binding:"omitempty,max=150"`
	FullName *string `json:"full_name" binding:"omitempty,max=191"`
}

// GetProfile godoc
// @Summary      Current profile
// @Description  Return the caller's profile, creating a pending one on first use
// @Tags         Profile
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=ProfileResponse} "Profile"
// @Failure      401 {object} util.APIResponse "Unauthorized"
// @Failure      503 {object} util.APIResponse "Profile store unavailable"
// @Router       /profile [get]
func GetProfile(c *gin.Context) {
	profile, ok := requireProfile(c)
	if !ok {
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Profile retrieved",
		Data: ProfileResponse{Profile: profile, Permissions: permission.Effective(profile)},
	})
}

// UpdateProfile godoc
// @Summary      Update current profile
// @Description  Change the caller's display names
// @Tags         Profile
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body UpdateProfileRequest true "Fields to change"
// @Success      200 {object} util.APIResponse{data=ProfileResponse} "Profile updated"
// @Failure      400 {object} util.APIResponse "Invalid request payload"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /profile [patch]
func UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return
	}
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	profile, ok := requireProfile(c)
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		profile.Name = util.NormalizeName(*req.Name)
		updates["name"] = profile.Name
	}
	if req.FullName != nil {
		profile.FullName = util.NormalizeName(*req.FullName)
		updates["full_name"] = profile.FullName
	}
	if len(updates) > 0 {
		if err := db.Model(&model.Profile{}).Where("id = ?", profile.ID).Updates(updates).Error; err != nil {
			util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update profile", Err: err})
			return
		}
		audit(c, util.ActionProfileUpdated, "Profile updated", updates)
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Profile updated",
		Data: ProfileResponse{Profile: profile, Permissions: permission.Effective(profile)},
	})
}
