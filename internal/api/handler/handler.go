package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

// Deps handler 依赖
type Deps struct {
	Assembler  *feed.Assembler
	Heater     *feed.Heater
	Caches     *feed.Caches
	HeatAll    *service.HeatAll
	HeatQueue  *service.HeatQueue // 可为 nil
	Publisher  *service.Publisher
	RelService service.RelationshipService
	// Engagements EngagementStream 或同步的 *service.Engagements
	Engagements service.EngagementSink
}

type Handler struct {
	assembler  *feed.Assembler
	heater     *feed.Heater
	caches     *feed.Caches
	heatAll    *service.HeatAll
	heatQueue  *service.HeatQueue
	publisher  *service.Publisher
	relService service.RelationshipService
	engagement service.EngagementSink
}

func New(d Deps) *Handler {
	return &Handler{
		assembler:  d.Assembler,
		heater:     d.Heater,
		caches:     d.Caches,
		heatAll:    d.HeatAll,
		heatQueue:  d.HeatQueue,
		publisher:  d.Publisher,
		relService: d.RelService,
		engagement: d.Engagements,
	}
}

// writeErr 把领域错误映射为 HTTP 状态码
func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feed.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, feed.ErrUpstreamUnavailable):
		response.Error(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrEmptyContent), errors.Is(err, service.ErrContentTooLong), errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrBadEngagement):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrHeatQueueFull):
		response.Error(c, http.StatusServiceUnavailable, err.Error())
	default:
		response.InternalError(c, err)
	}
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// parseCursor 空串表示首页
func parseCursor(c *gin.Context) (*int64, bool) {
	raw := c.Query("cursor")
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid cursor")
		return nil, false
	}
	return &v, true
}

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
