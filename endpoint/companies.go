package endpoint

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/storage"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const logoFormField = "logo"

var ErrCompanyNameTaken = errors.New("company name already exists")

type CompanyRequest struct {
	Name string `json:"name" binding:"required,max=191" example:"Northside Watch"`
}

func loadCompany(c *gin.Context, db *gorm.DB) (*model.Company, bool) {
	id, ok := parseIDOrRespond(c)
	if !ok {
		return nil, false
	}
	var company model.Company
	if err := db.WithContext(c.Request.Context()).First(&company, id).Error; err != nil {
		respondLookupError(c, "Company", err)
		return nil, false
	}
	return &company, true
}

// companyNameAvailable checks name uniqueness, excluding the company being renamed.
func companyNameAvailable(db *gorm.DB, name string, excludeID uint) (bool, error) {
	var count int64
	err := db.Model(&model.Company{}).Where("LOWER(name) = ? AND id <> ?", strings.ToLower(name), excludeID).Count(&count).Error
	return count == 0, err
}

func bindCompanyOrRespond(c *gin.Context, db *gorm.DB, excludeID uint) (string, bool) {
	var req CompanyRequest
	if !bindJSONOrRespond(c, &req, "Invalid request payload") {
		return "", false
	}
	name := util.NormalizeName(req.Name)
	if name == "" {
		util.CallUserError(c, util.APIErrorParams{Msg: "Company name is required", Err: fmt.Errorf("empty name"), Fields: map[string]string{"name": "is required"}})
		return "", false
	}
	free, err := companyNameAvailable(db, name, excludeID)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Database error", Err: err})
		return "", false
	}
	if !free {
		util.CallConflict(c, util.APIErrorParams{Msg: "Company name already exists", Err: ErrCompanyNameTaken})
		return "", false
	}
	return name, true
}

// ListCompanies godoc
// @Summary      List companies
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Success      200 {object} util.APIResponse{data=[]model.Company} "Companies retrieved"
// @Failure      403 {object} util.APIResponse "Forbidden"
// @Router       /admin/companies [get]
func ListCompanies(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	var companies []model.Company
	if err := db.WithContext(c.Request.Context()).Order("name ASC").Find(&companies).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to retrieve companies", Err: err})
		return
	}
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Companies retrieved", Data: companies})
}

// CreateCompany godoc
// @Summary      Create company
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        request body CompanyRequest true "Company"
// @Success      200 {object} util.APIResponse{data=model.Company} "Company created"
// @Failure      400 {object} util.APIResponse "Invalid request payload"
// @Failure      409 {object} util.APIResponse "Company name already exists"
// @Router       /admin/companies [post]
func CreateCompany(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	name, ok := bindCompanyOrRespond(c, db, 0)
	if !ok {
		return
	}
	company := model.Company{Name: name}
	if err := db.Create(&company).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to create company", Err: err})
		return
	}
	audit(c, util.ActionCompanyChanged, fmt.Sprintf("company %d created", company.ID), map[string]interface{}{"company_id": company.ID, "name": company.Name})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Company created", Data: company})
}

// UpdateCompany godoc
// @Summary      Rename company
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     SessionToken
// @Param        id      path int            true "Company ID"
// @Param        request body CompanyRequest true "Company"
// @Success      200 {object} util.APIResponse{data=model.Company} "Company updated"
// @Failure      404 {object} util.APIResponse "Company not found"
// @Failure      409 {object} util.APIResponse "Company name already exists"
// @Router       /admin/companies/{id} [patch]
func UpdateCompany(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	company, ok := loadCompany(c, db)
	if !ok {
		return
	}
	name, ok := bindCompanyOrRespond(c, db, company.ID)
	if !ok {
		return
	}
	from := company.Name
	if err := db.Model(company).Update("name", name).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update company", Err: err})
		return
	}
	company.Name = name
	audit(c, util.ActionCompanyChanged, fmt.Sprintf("company %d renamed", company.ID), map[string]interface{}{"company_id": company.ID, "from": from, "to": name})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Company updated", Data: company})
}

// DeleteCompany godoc
// @Summary      Delete company
// @Description  Members and reports keep existing with no company.
// @Tags         Admin
// @Produce      json
// @Security     SessionToken
// @Param        id path int true "Company ID"
// @Success      200 {object} util.APIResponse "Company deleted"
// @Failure      404 {object} util.APIResponse "Company not found"
// @Router       /admin/companies/{id} [delete]
func DeleteCompany(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	company, ok := loadCompany(c, db)
	if !ok {
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&model.Profile{}, &model.VehicleAlert{}, &model.CrimeReport{}} {
			if err := tx.Model(m).Where("company_id = ?", company.ID).Update("company_id", nil).Error; err != nil {
				return err
			}
		}
		return tx.Delete(company).Error
	})
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to delete company", Err: err})
		return
	}
	if store := middleware.GetServices(c).Store; store != nil && company.LogoURL != "" {
		if err := store.Delete(c.Request.Context(), company.LogoURL); err != nil && !errors.Is(err, storage.ErrForeignURL) {
			log.Printf("[Company] failed to delete logo of company %d: %v", company.ID, err)
		}
	}
	audit(c, util.ActionCompanyChanged, fmt.Sprintf("company %d deleted", company.ID), map[string]interface{}{"company_id": company.ID, "name": company.Name})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Company deleted"})
}

// UploadCompanyLogo godoc
// @Summary      Upload company logo
// @Description  Multipart "logo" file; replaces the previous logo.
// @Tags         Admin
// @Accept       mpfd
// @Produce      json
// @Security     SessionToken
// @Param        id   path     int  true "Company ID"
// @Param        logo formData file true "Logo image"
// @Success      200 {object} util.APIResponse{data=model.Company} "Logo uploaded"
// @Failure      400 {object} util.APIResponse "Invalid image"
// @Failure      404 {object} util.APIResponse "Company not found"
// @Failure      503 {object} util.APIResponse "Image storage is not configured"
// @Router       /admin/companies/{id}/logo [post]
func UploadCompanyLogo(c *gin.Context) {
	db, ok := getDBOrRespond(c)
	if !ok {
		return
	}
	company, ok := loadCompany(c, db)
	if !ok {
		return
	}
	fh, err := c.FormFile(logoFormField)
	if err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Logo file is required", Err: err, Fields: map[string]string{logoFormField: "is required"}})
		return
	}

	svc := middleware.GetServices(c)
	limits := report.Limits{MaxImages: 1, MaxImageBytes: svc.Limits.MaxImageBytes}
	accepted, _, err := report.SelectImages([]report.Image{report.FromMultipart(fh)}, limits)
	if err != nil {
		respondReportError(c, err)
		return
	}
	if svc.Store == nil {
		respondReportError(c, report.ErrStorageUnavailable)
		return
	}

	ctx := c.Request.Context()
	urls, err := report.UploadImages(ctx, svc.Store, storage.BucketLogos, company.ID, accepted)
	if err != nil || len(urls) == 0 {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to upload logo", Err: err})
		return
	}

	previous := company.LogoURL
	if err := db.Model(company).Update("logo_url", urls[0]).Error; err != nil {
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to update company", Err: err})
		return
	}
	company.LogoURL = urls[0]
	if previous != "" {
		if err := svc.Store.Delete(ctx, previous); err != nil && !errors.Is(err, storage.ErrForeignURL) {
			log.Printf("[Company] failed to delete old logo of company %d: %v", company.ID, err)
		}
	}

	audit(c, util.ActionCompanyChanged, fmt.Sprintf("company %d logo updated", company.ID), map[string]interface{}{"company_id": company.ID, "logo_url": company.LogoURL})
	util.CallSuccessOK(c, util.APISuccessParams{Msg: "Logo uploaded", Data: company})
}
