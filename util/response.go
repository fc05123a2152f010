package util

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Msg     string      `json:"msg"`
	Data    interface{} `json:"data"`
}

type APIErrorParams struct {
	Msg string
	Err error
	// Fields carries per-field validation messages, rendered under data.fields.
	Fields map[string]string
}

type APISuccessParams struct {
	Msg  string
	Data interface{}
}

func errorResponse(params APIErrorParams) APIResponse {
	data := map[string]interface{}{}
	if len(params.Fields) > 0 {
		data["fields"] = params.Fields
	}
	errText := ""
	if params.Err != nil {
		errText = params.Err.Error()
	}
	return APIResponse{
		Success: false,
		Error:   errText,
		Msg:     params.Msg,
		Data:    data,
	}
}

// CallErrorNotFound is for return API response not found
func CallErrorNotFound(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusNotFound, errorResponse(params))
}

// CallUserError is for return error from user side
func CallUserError(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusBadRequest, errorResponse(params))
}

// CallServerError is for return API response server error
func CallServerError(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusInternalServerError, errorResponse(params))
}

// CallServiceUnavailable is for features whose backing service is not configured
func CallServiceUnavailable(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusServiceUnavailable, errorResponse(params))
}

// CallConflict is for return API response with status code 409
func CallConflict(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusConflict, errorResponse(params))
}

// CallForbidden is for authenticated callers lacking a capability (403)
func CallForbidden(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusForbidden, errorResponse(params))
}

// CallTooManyRequests is for rate limited callers (429)
func CallTooManyRequests(c *gin.Context, params APIErrorParams) {
	c.JSON(http.StatusTooManyRequests, errorResponse(params))
}

// CallSuccessOK is for return API response with status code 200, you need to specify msg, and data as function parameter
func CallSuccessOK(c *gin.Context, params APISuccessParams) {
	response := APIResponse{
		Success: true,
		Error:   "",
		Msg:     params.Msg,
		Data:    params.Data,
	}
	c.JSON(http.StatusOK, response)
}

// CallUserNotAuthorized is for return API response with status code 401
func CallUserNotAuthorized(c *gin.Context, params APIErrorParams) {
	response := errorResponse(params)
	response.Data = nil
	c.JSON(http.StatusUnauthorized, response)
}

// NormalizeName trims a name and collapses internal whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
