package ginx

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// isXMLRequest 检查请求是否为 XML 格式
func isXMLRequest(ctx *gin.Context) bool {
	contentType := ctx.GetHeader("Content-Type")
	return strings.Contains(contentType, "application/xml") ||
		strings.Contains(contentType, "text/xml")
}

// hasBody 判断请求是否携带 body
// GET/DELETE 请求通常不带 body，ContentLength 为 -1 时表示未知长度，按有 body 处理
func hasBody(ctx *gin.Context) bool {
	if ctx.Request.Body == nil || ctx.Request.Body == http.NoBody {
		return false
	}
	return ctx.Request.ContentLength != 0
}

// bindArgs 绑定请求参数到 args 结构体
// 顺序：URI 参数 → Query 参数 → XML/JSON Body（根据 Content-Type）
// 后绑定的来源会覆盖先绑定的同名字段
// 参数校验统一通过 IsValid 完成，这里不使用 binding tag
func bindArgs(ctx *gin.Context, args any) error {
	setResponseFormat(ctx, "json")

	if len(ctx.Params) > 0 {
		if err := ctx.ShouldBindUri(args); err != nil {
			return err
		}
	}

	if len(ctx.Request.URL.Query()) > 0 {
		if err := ctx.ShouldBindQuery(args); err != nil {
			return err
		}
	}

	if !hasBody(ctx) {
		return nil
	}

	if isXMLRequest(ctx) {
		setResponseFormat(ctx, "xml")
		return ctx.ShouldBindXML(args)
	}
	return ctx.ShouldBindJSON(args)
}
