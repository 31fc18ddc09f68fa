package ginx

import (
	"github.com/gin-gonic/gin"
)

// contextKey 用于在 gin.Context 中存储值的类型安全 key
type contextKey struct{ name string }

var (
	// responseFormatKey 存储响应格式（"json" 或 "xml"）
	responseFormatKey = contextKey{name: "responseFormat"}
	// requestIDKey 存储请求 ID，由中间件写入
	requestIDKey = contextKey{name: "requestID"}
)

func setResponseFormat(ctx *gin.Context, format string) {
	ctx.Set(responseFormatKey, format)
}

// getResponseFormat 获取响应格式，默认 JSON
func getResponseFormat(ctx *gin.Context) string {
	format, exists := ctx.Get(responseFormatKey)
	if !exists {
		return "json"
	}
	if str, ok := format.(string); ok {
		return str
	}
	return "json"
}

// SetRequestID 记录当前请求的 ID，错误响应中会带上该 ID
func SetRequestID(ctx *gin.Context, requestID string) {
	ctx.Set(requestIDKey, requestID)
}

// RequestID 返回当前请求的 ID，不存在时返回空字符串
func RequestID(ctx *gin.Context) string {
	id, exists := ctx.Get(requestIDKey)
	if !exists {
		return ""
	}
	str, _ := id.(string)
	return str
}
