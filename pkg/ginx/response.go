package ginx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/jva/pkg/apierror"
)

// StatusCoder 响应体可以实现该接口来覆盖默认的 200 状态码
// 例如异步受理的操作返回 202
type StatusCoder interface {
	StatusCode() int
}

// isXMLResponse 检查是否应该使用 XML 格式响应
func isXMLResponse(ctx *gin.Context) bool {
	format := getResponseFormat(ctx)
	if format == "xml" {
		return true
	}
	// 如果没有设置，检查 Accept header
	accept := ctx.GetHeader("Accept")
	return strings.Contains(accept, "application/xml") ||
		strings.Contains(accept, "text/xml")
}

// renderResponse 渲染响应
// 根据请求的 Content-Type 或 Accept header 决定响应格式
func renderResponse(ctx *gin.Context, response any) {
	if response == nil {
		ctx.Status(http.StatusNoContent)
		return
	}

	statusCode := http.StatusOK
	if coder, ok := response.(StatusCoder); ok {
		statusCode = coder.StatusCode()
	}

	switch v := response.(type) {
	case string:
		ctx.String(statusCode, v)
		return
	case int, int64, uint, uint64, float64, bool:
		response = gin.H{"value": v}
	}

	if isXMLResponse(ctx) {
		ctx.XML(statusCode, response)
	} else {
		ctx.JSON(statusCode, response)
	}
}

// renderError 渲染错误响应
// 错误链中包含 *apierror.Error 时使用其 HTTP 状态码并序列化为 ErrorResponse
// 否则使用默认的错误格式
func renderError(ctx *gin.Context, statusCode int, err error) {
	useXML := isXMLResponse(ctx)
	requestID := RequestID(ctx)

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus > 0 {
			statusCode = apiErr.HTTPStatus
		}
		errorResp := apierror.NewErrorResponse(requestID, apiErr)
		if useXML {
			ctx.XML(statusCode, errorResp)
		} else {
			ctx.JSON(statusCode, errorResp)
		}
		return
	}

	var errorResp *apierror.ErrorResponse
	if errors.As(err, &errorResp) {
		if len(errorResp.Errors) > 0 && errorResp.Errors[0].HTTPStatus > 0 {
			statusCode = errorResp.Errors[0].HTTPStatus
		}
		if useXML {
			ctx.XML(statusCode, errorResp)
		} else {
			ctx.JSON(statusCode, errorResp)
		}
		return
	}

	// 默认错误格式
	errorMsg := gin.H{"error": err.Error(), "requestID": requestID}
	if useXML {
		ctx.XML(statusCode, errorMsg)
	} else {
		ctx.JSON(statusCode, errorMsg)
	}
}
