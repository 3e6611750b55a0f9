package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/internal/feed"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

// GetMyFeed 当前用户的新闻流
// @Summary 获取我的新闻流
// @Tags 新闻流
// @Security BearerAuth
// @Produce json
// @Param cursor query int false "上一页最后一条帖子ID"
// @Success 200 {object} response.Response{data=feed.Page}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/feed [get]
func (h *Handler) GetMyFeed(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "no user in context")
		return
	}
	h.serveFeed(c, userID)
}

// GetUserFeed 内部接口：按用户 ID 取新闻流
// @Summary 获取指定用户的新闻流
// @Tags 新闻流
// @Produce json
// @Param user_id path int true "用户ID"
// @Param cursor query int false "上一页最后一条帖子ID"
// @Success 200 {object} response.Response{data=feed.Page}
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{user_id}/feed [get]
func (h *Handler) GetUserFeed(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	h.serveFeed(c, userID)
}

func (h *Handler) serveFeed(c *gin.Context, userID int64) {
	cursor, ok := parseCursor(c)
	if !ok {
		return
	}
	page, err := h.assembler.GetFeed(c.Request.Context(), userID, cursor)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Success(c, page)
}

// HeatUser 同步预热一个用户的索引
// @Summary 预热用户新闻流
// @Tags 新闻流
// @Produce json
// @Param user_id path int true "用户ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 404 {object} response.Response
// @Router /api/v1/feed/heat/{user_id} [post]
func (h *Handler) HeatUser(c *gin.Context) {
	userID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	created, err := h.heater.HeatUser(c.Request.Context(), userID)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Success(c, gin.H{"user_id": userID, "created": created})
}

// HeatAll 为全部用户发布预热信号
// @Summary 全量预热
// @Tags 新闻流
// @Produce json
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 503 {object} response.Response
// @Router /api/v1/feed/heat [post]
func (h *Handler) HeatAll(c *gin.Context) {
	n, err := h.heatAll.Run(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Success(c, gin.H{"published": n})
}

type statsResponse struct {
	Assembler    feed.AssemblerStats `json:"assembler"`
	Heater       feed.HeaterStats    `json:"heater"`
	HeatQueueLen int                 `json:"heat_queue_len"`
}

// Stats 计数器快照
// @Summary 新闻流统计
// @Tags 新闻流
// @Produce json
// @Success 200 {object} response.Response{data=statsResponse}
// @Router /api/v1/feed/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	res := statsResponse{Assembler: h.assembler.Stats(), Heater: h.heater.Stats()}
	if h.heatQueue != nil {
		res.HeatQueueLen = h.heatQueue.QueueLen()
	}
	response.Success(c, res)
}
