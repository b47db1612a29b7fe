package middleware

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/care-scheduling-api/pkg/httputil"
	appvalidator "github.com/jwalitptl/care-scheduling-api/pkg/validator"
)

// RegisterValidators installs the custom binding tags on gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return stderrors.New("unexpected binding validator engine")
	}
	return appvalidator.Register(v)
}

// Validation renders bind errors attached by handlers as 400 responses.
func Validation() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		bindErrs := c.Errors.ByType(gin.ErrorTypeBind)
		if len(bindErrs) == 0 {
			return
		}

		err := bindErrs.Last().Err
		var verrs validator.ValidationErrors
		if !stderrors.As(err, &verrs) {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				httputil.NewErrorResponse("invalid_input", "malformed request: "+err.Error()))
			return
		}

		fields := appvalidator.Describe(verrs)
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.Field + " " + f.Message
		}
		resp := httputil.NewErrorResponse("invalid_input", strings.Join(parts, "; "))
		resp.Data = fields
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
	}
}
