package utils

import (
	"context"

	"github.com/gin-gonic/gin"
)

type CustomContext struct {
	AppSource   string
	AccountUUID string
	RequestID   string
}

type customContextKeyType string

const customContextKey customContextKeyType = "CUSTOM_CONTEXT"

func WithCustomContext(ctx context.Context, customContext *CustomContext) context.Context {
	return context.WithValue(ctx, customContextKey, customContext)
}

func WithCustomContextFromGinRequest(c *gin.Context, appSource string) context.Context {
	customContext := &CustomContext{
		AppSource:   appSource,
		AccountUUID: c.Param("id"),
		RequestID:   c.GetHeader("X-Request-ID"),
	}
	return WithCustomContext(c.Request.Context(), customContext)
}

func GetContext(ctx context.Context) *CustomContext {
	customContext, ok := ctx.Value(customContextKey).(*CustomContext)
	if !ok {
		return new(CustomContext)
	}
	return customContext
}

func WithAccount(ctx context.Context, accountUUID string) context.Context {
	existing := GetContext(ctx)
	cc := *existing
	cc.AccountUUID = accountUUID
	return WithCustomContext(ctx, &cc)
}

func GetAccountFromContext(ctx context.Context) string {
	return GetContext(ctx).AccountUUID
}

func GetAppSourceFromContext(ctx context.Context) string {
	return GetContext(ctx).AppSource
}

func GetRequestIDFromContext(ctx context.Context) string {
	return GetContext(ctx).RequestID
}
