package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jimyag/jva/internal/jva/policy"
	"github.com/jimyag/jva/pkg/apierror"
	"github.com/jimyag/jva/pkg/ginx"
	"github.com/rs/zerolog"
)

const (
	headerRequestID = "X-Request-Id"
	actorKey        = "jva.actor"
)

// requestContext 为每个请求生成 request ID，并把带 requestID 的 logger 放进 Request.Context
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = "req-" + uuid.NewString()
		}
		ginx.SetRequestID(c, requestID)
		c.Header(headerRequestID, requestID)

		logger := zerolog.Ctx(c.Request.Context()).With().
			Str("requestID", requestID).
			Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// authenticate 解析请求主体，失败时返回 401
func authenticate(authenticator policy.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := authenticator.Authenticate(c.Request)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("Authentication failed")
			apiErr := apierror.ErrAuthFailure
			errors.As(err, &apiErr)
			c.AbortWithStatusJSON(apiErr.HTTPStatus, apierror.NewErrorResponse(ginx.RequestID(c), apiErr))
			return
		}
		c.Set(actorKey, actor)

		logger := zerolog.Ctx(c.Request.Context()).With().
			Str("userID", actor.UserID).
			Str("projectID", actor.ProjectID).
			Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

// actorFrom 返回认证中间件解析出的请求主体
func actorFrom(c *gin.Context) policy.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(policy.Actor); ok {
			return actor
		}
	}
	return policy.Actor{}
}
