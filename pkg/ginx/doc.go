// Package ginx 提供 gin 框架的 handler 适配器，支持自动参数绑定和响应处理
//
// 参数绑定顺序：URI 参数 → Query 参数 → Body（JSON 或 XML）。
// 参数结构体实现 IsValid() error 时，绑定完成后会自动校验，失败返回 400。
//
// 响应：
//   - 默认使用 JSON 格式；请求为 XML 时响应也使用 XML
//   - 响应结构体实现 StatusCoder 时使用其状态码（例如 202 Accepted）
//   - 错误链中包含 *apierror.Error 时使用其 HTTPStatus，并序列化为 apierror.ErrorResponse
//
// 支持的 handler 函数签名：
//
//	// 有参数，有返回值，有 error
//	func(c *gin.Context, args *Args) (resp, error)   // Adapt5
//
//	// 有参数，只有 error
//	func(c *gin.Context, args *Args) error           // Adapt4
//
//	// 无参数，有返回值，有 error
//	func(c *gin.Context) (resp, error)               // Adapt3
//
//	// 无参数，只有返回值
//	func(c *gin.Context) resp                        // Adapt2
//
// 使用示例：
//
//	router.PUT("/attachments/:id", ginx.Adapt5(func(c *gin.Context, args *UpdateArgs) (*Resp, error) {
//	    return svc.Update(c, args)
//	}))
package ginx
