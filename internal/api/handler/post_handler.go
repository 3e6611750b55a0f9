package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/newsfeed/internal/api/middleware"
	"github.com/d60-Lab/newsfeed/internal/service"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

type createPostRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreatePost 发帖，作者为当前用户；粉丝索引由 outbox 扇出异步追加
// @Summary 发布帖子
// @Tags 帖子
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body createPostRequest true "帖子内容"
// @Success 200 {object} response.Response{data=feed.CachedPost}
// @Failure 400 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	authorID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "no user in context")
		return
	}
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	post, err := h.publisher.Publish(c.Request.Context(), authorID, req.Content)
	if err != nil {
		writeErr(c, err)
		return
	}
	cached, err := h.caches.Posts.Get(c.Request.Context(), post.ID)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Success(c, cached)
}

// GetPost 读取帖子快照（缓存未命中时回源）
// @Summary 查询帖子
// @Tags 帖子
// @Produce json
// @Param id path int true "帖子ID"
// @Success 200 {object} response.Response{data=feed.CachedPost}
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id} [get]
func (h *Handler) GetPost(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	post, err := h.caches.Posts.Get(c.Request.Context(), id)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Success(c, post)
}

// LikePost 当前用户点赞；有 redis 时计数与帖子快照由互动事件流异步更新
// @Summary 点赞帖子
// @Tags 帖子
// @Security BearerAuth
// @Produce json
// @Param id path int true "帖子ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id}/like [post]
func (h *Handler) LikePost(c *gin.Context) {
	h.engage(c, service.EngagementLike)
}

// ViewPost 记录一次浏览
// @Summary 浏览帖子
// @Tags 帖子
// @Security BearerAuth
// @Produce json
// @Param id path int true "帖子ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id}/view [post]
func (h *Handler) ViewPost(c *gin.Context) {
	h.engage(c, service.EngagementView)
}

func (h *Handler) engage(c *gin.Context, kind service.EngagementKind) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "no user in context")
		return
	}
	postID, ok := parseID(c, "id")
	if !ok {
		return
	}
	// 事件异步处理，先确认帖子存在
	if _, err := h.caches.Posts.Get(c.Request.Context(), postID); err != nil {
		writeErr(c, err)
		return
	}
	ev := service.EngagementEvent{PostID: postID, UserID: userID, Kind: kind}
	if err := h.engagement.Publish(c.Request.Context(), ev); err != nil {
		writeErr(c, err)
		return
	}
	response.Success(c, gin.H{"post_id": postID, "kind": kind})
}
