package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/care-scheduling-api/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Page    *Page       `json:"page,omitempty"`
}

// Page echoes the window a list response covers.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: "success", Data: data}
}

func NewErrorResponse(code, message string) *Response {
	return &Response{Status: "error", Code: code, Message: message}
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, NewSuccessResponse(data))
}

// RespondWithList sends a list with its paging window.
func RespondWithList(c *gin.Context, data interface{}, limit, offset, count int) {
	resp := NewSuccessResponse(data)
	resp.Page = &Page{Limit: limit, Offset: offset, Count: count}
	c.JSON(http.StatusOK, resp)
}

// RespondWithError maps err onto its HTTP status. Anything that is not an
// AppError is reported as a generic internal error.
func RespondWithError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.Internal(err)
	}
	c.AbortWithStatusJSON(appErr.StatusCode(), NewErrorResponse(appErr.Code.Kind(), appErr.Message))
}
