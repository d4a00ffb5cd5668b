package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/carmod-studio/internal/config"
	"github.com/iliyamo/carmod-studio/internal/handler"
	"github.com/iliyamo/carmod-studio/internal/middleware"
	"github.com/iliyamo/carmod-studio/internal/model"
)

// RegisterOperator registers the operator workspace under /v1/operator.
// These static paths take precedence over /v1/operator/:id.  Segmentation
// runs are rate limited per user since each one costs a credit; results are
// cached because a finished run never changes.
func RegisterOperator(e *echo.Echo, h *handler.OperatorHandler, authn echo.MiddlewareFunc, rdb *redis.Client) {
	operator := middleware.RequireRole(model.RoleOperator)

	g := e.Group("/v1/operator", authn)
	g.POST("/modification", h.CreateModification, operator)
	g.GET("/modification", h.ListModifications, operator)
	g.POST("/segment", h.Segment,
		operator,
		echomw.BodyLimit("11M"),
		middleware.NewTokenBucket(config.LoadRateLimitConfig("segment"), rdb),
	)
	// Detection is free but costs as much compute, so it shares the
	// segmentation bucket.
	analysis := middleware.NewTokenBucket(config.LoadRateLimitConfig("segment"), rdb)
	g.POST("/detect-parts", h.DetectParts, operator, echomw.BodyLimit("11M"), analysis)
	g.POST("/detect-and-segment", h.DetectAndSegment, operator, echomw.BodyLimit("11M"), analysis)
	g.POST("/classify-car", h.ClassifyCar, operator, echomw.BodyLimit("11M"), analysis)
	g.GET("/segmentation-data/:timestamp", h.SegmentationData,
		middleware.RequireRole(model.RoleOperator, model.RoleAdmin, model.RoleProvider),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	)
}
