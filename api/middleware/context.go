package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/customeros/mailbackend/internal/utils"
)

// CustomContextMiddleware carries the app source, request id and account id of a request
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
