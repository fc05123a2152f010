package endpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ariebrainware/incident-watch/middleware"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/permission"
	"github.com/ariebrainware/incident-watch/report"
	"github.com/ariebrainware/incident-watch/util"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const imagesFormField = "images"

// SubmitResponse is returned by report create and edit.
type SubmitResponse struct {
	Report      model.Report `json:"report"`
	Dropped     []string     `json:"dropped"`
	State       report.State `json:"state"`
	UploadError string       `json:"upload_error,omitempty"`
}

// StatusResponse is returned by a status change.
type StatusResponse struct {
	Report model.Report       `json:"report"`
	From   model.ReportStatus `json:"from"`
	To     model.ReportStatus `json:"to"`
}

// imageChanges is the non-form part of a report request.
type imageChanges struct {
	RemoveImages []string `json:"remove_images" form:"remove_images"`
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), binding.MIMEMultipartPOSTForm)
}

// bindReportRequest reads a report form from either a multipart body (fields plus "images"
// files) or a JSON body. JSON requests carry no images.
func bindReportRequest(c *gin.Context, in interface{}) (imageChanges, []report.Image, bool) {
	var changes imageChanges
	if isMultipart(c) {
		if err := c.ShouldBindWith(in, binding.FormMultipart); err != nil {
			util.CallUserError(c, util.APIErrorParams{Msg: "Invalid form data", Err: err})
			return changes, nil, false
		}
		form, err := c.MultipartForm()
		if err != nil {
			util.CallUserError(c, util.APIErrorParams{Msg: "Invalid form data", Err: err})
			return changes, nil, false
		}
		changes.RemoveImages = form.Value["remove_images"]
		files := form.File[imagesFormField]
		images := make([]report.Image, 0, len(files))
		for _, fh := range files {
			images = append(images, report.FromMultipart(fh))
		}
		return changes, images, true
	}

	if err := c.ShouldBindBodyWith(in, binding.JSON); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid request payload", Err: err})
		return changes, nil, false
	}
	if err := c.ShouldBindBodyWith(&changes, binding.JSON); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid request payload", Err: err})
		return changes, nil, false
	}
	return changes, nil, true
}

// respondReportError maps report package errors onto the response envelope.
func respondReportError(c *gin.Context, err error) {
	var verr *report.ValidationError
	switch {
	case errors.As(err, &verr):
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid report", Err: err, Fields: verr.Fields})
	case errors.Is(err, report.ErrValidation):
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid report", Err: err})
	case errors.Is(err, report.ErrStorageUnavailable):
		util.CallServiceUnavailable(c, util.APIErrorParams{Msg: "Image storage is not configured", Err: err})
	case errors.Is(err, report.ErrInvalidTransition):
		util.CallConflict(c, util.APIErrorParams{Msg: "Status change not allowed", Err: err})
	default:
		util.CallServerError(c, util.APIErrorParams{Msg: "Failed to save report", Err: err})
	}
}

// respondSubmitted writes the result of a create or edit. A partial upload still
// answers 200; the caller re-edits to attach the missing images.
func respondSubmitted(c *gin.Context, res report.Result, action util.UserAction, verb string) {
	kind := string(res.Report.Kind)
	state := res.Submission.State()
	middleware.RecordReportSubmitted(kind, string(state), len(res.Dropped))

	summary, _ := res.Report.Summary()
	details := map[string]interface{}{
		"kind":      kind,
		"report_id": summary.ID,
		"ob_number": summary.OBNumber,
		"dropped":   len(res.Dropped),
	}
	out := SubmitResponse{Report: res.Report, Dropped: res.Dropped, State: state}
	if out.Dropped == nil {
		out.Dropped = []string{}
	}
	msg := "Report saved"
	if res.UploadErr != nil {
		out.UploadError = res.UploadErr.Error()
		details["upload_error"] = out.UploadError
		msg = "Report saved, but some images failed to upload"
	}
	audit(c, action, fmt.Sprintf("%s report %d %s", kind, summary.ID, verb), details)

	util.CallSuccessOK(c, util.APISuccessParams{Msg: msg, Data: out})
}

// canEditReport lets approved owners edit their own pending reports and EditReports holders
// edit anything inside their scope.
func canEditReport(p model.Profile, s model.ReportSummary) bool {
	set := permission.Effective(p)
	if s.ReportedBy == p.ID && s.Status == model.StatusPending && set.CreateReports {
		return true
	}
	return set.EditReports && permission.ScopeFor(p).Covers(s.ReportedBy, s.CompanyID)
}

// canViewReport applies row scoping to single-report reads. Owners always see their own rows.
func canViewReport(p model.Profile, s model.ReportSummary) bool {
	if s.ReportedBy == p.ID {
		return true
	}
	return permission.Effective(p).ViewReports && permission.ScopeFor(p).Covers(s.ReportedBy, s.CompanyID)
}

// canChangeStatus gates moderation: leaving pending needs ApproveReports, later moves
// need any of ApproveReports, Dispatch or Respond.
func canChangeStatus(p model.Profile, s model.ReportSummary) bool {
	set := permission.Effective(p)
	if !permission.ScopeFor(p).Covers(s.ReportedBy, s.CompanyID) {
		return false
	}
	if s.Status == model.StatusPending {
		return set.ApproveReports
	}
	return set.AllowsAny(permission.ApproveReports, permission.Dispatch, permission.Respond)
}

func forbidReport(c *gin.Context, p model.Profile, reason string) {
	util.LogUnauthorizedAccess(p.ID, c.ClientIP(), c.Request.URL.Path, reason)
	util.CallForbidden(c, util.APIErrorParams{
		Msg: "You do not have permission to perform this action",
		Err: fmt.Errorf("forbidden: %s", reason),
	})
}

// bindStatusOrRespond reads the status change body.
func bindStatusOrRespond(c *gin.Context) (report.StatusInput, bool) {
	var in report.StatusInput
	if err := c.ShouldBindJSON(&in); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid request payload", Err: err})
		return in, false
	}
	return in, true
}

// bindFilterOrRespond reads the listing query parameters.
func bindFilterOrRespond(c *gin.Context) (report.Filter, bool) {
	var f report.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		util.CallUserError(c, util.APIErrorParams{Msg: "Invalid query parameters", Err: err})
		return f, false
	}
	return f.Normalize(), true
}

func statusChanged(c *gin.Context, r model.Report, from, to model.ReportStatus) {
	middleware.RecordReportStatusChange(string(r.Kind), string(from), string(to))
	summary, _ := r.Summary()
	audit(c, util.ActionReportStatus, fmt.Sprintf("%s report %d status %s -> %s", r.Kind, summary.ID, from, to), map[string]interface{}{
		"kind":      string(r.Kind),
		"report_id": summary.ID,
		"from":      string(from),
		"to":        string(to),
	})
	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Status updated",
		Data: StatusResponse{Report: r, From: from, To: to},
	})
}
