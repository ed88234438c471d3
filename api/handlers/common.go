package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailbackend/api/errors"
	"github.com/customeros/mailbackend/internal/tracing"
)

func respondError(c *gin.Context, span opentracing.Span, err error) {
	tracing.TraceErr(span, err)
	c.JSON(apierrors.HTTPStatus(err), gin.H{"error": err.Error()})
}
