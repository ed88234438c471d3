package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/customeros/mailbackend/internal/tracing"
)

const TRACE_ID_HEADER = "X-Trace-Id"

// TracingMiddleware creates a new span for each request and adds common tags
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(
			c.Request.Context(),
			c.Request.Method+" "+c.FullPath(),
			c.Request.Header,
		)
		defer span.Finish()

		tracing.SetDefaultRestSpanTags(ctx, span)
		if id := c.Param("id"); id != "" {
			tracing.TagAccount(span, id)
		}
		if folder := c.Param("folder"); folder != "" {
			tracing.TagFolder(span, folder)
		}

		if traceID := tracing.GetTraceId(span); traceID != "" {
			c.Header(TRACE_ID_HEADER, traceID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		ext.HTTPStatusCode.Set(span, uint16(c.Writer.Status()))
		if c.Writer.Status() >= 500 {
			ext.Error.Set(span, true)
		}
	}
}
