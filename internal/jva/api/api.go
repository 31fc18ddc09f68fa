package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options API 依赖的非业务组件
type Options struct {
	Address       string
	Authenticator policy.Authenticator
	// Gatherer 为 nil 时不注册 /metrics
	Gatherer prometheus.Gatherer
}

type API struct {
	engine *gin.Engine
	server *http.Server

	attachment *Attachment
	volume     *Volume
}

func New(opts Options, attachments AttachmentServiceInterface, volumes VolumeServiceInterface) (*API, error) {
	engine := gin.New()
	// handler 直接把 *gin.Context 传给 service，需要回落到 Request.Context 取 logger 和取消信号
	engine.ContextWithFallback = true
	engine.Use(gin.Recovery(), requestContext())

	api := &API{
		engine:     engine,
		attachment: NewAttachment(attachments),
		volume:     NewVolume(volumes, attachments),
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if opts.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	authenticator := opts.Authenticator
	if authenticator == nil {
		authenticator = policy.NoAuth{}
	}
	group := engine.Group("/api", authenticate(authenticator))
	api.attachment.RegisterRoutes(group)
	api.volume.RegisterRoutes(group)

	api.server = &http.Server{
		Addr:    opts.Address,
		Handler: engine,
	}
	return api, nil
}

// Handler 返回 HTTP handler
func (a *API) Handler() http.Handler {
	return a.engine
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "JVA API"
}

func (a *API) Run(ctx context.Context) error {
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
