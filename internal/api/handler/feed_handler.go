package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/middleware"
	"github.com/d60-Lab/skyframe/pkg/response"
)

// ReasonInvalidCursor 客户端应丢弃游标并从头开始
const ReasonInvalidCursor = "invalid_cursor"

// Feed 获取首页 feed
// @Summary 分页获取 feed
// @Tags feed
// @Produce json
// @Param cursor query string false "上一页返回的 next_cursor"
// @Success 200 {object} response.Response{data=service.FeedPage}
// @Failure 400 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/feed [get]
func (h *Handler) Feed(c *gin.Context) {
	uid, _ := middleware.UserID(c)
	page, err := h.feedService.FetchPage(c.Request.Context(), uid, c.Query("cursor"))
	if err != nil {
		writeFeedError(c, err)
		return
	}
	response.Success(c, page)
}

// MyFeed 获取当前用户自己的上传
// @Summary 分页获取我的上传
// @Tags feed
// @Produce json
// @Param cursor query string false "上一页返回的 next_cursor"
// @Success 200 {object} response.Response{data=service.FeedPage}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/my-feed [get]
func (h *Handler) MyFeed(c *gin.Context) {
	uid, _ := middleware.UserID(c)
	page, err := h.feedService.MyUploads(c.Request.Context(), uid, c.Query("cursor"))
	if err != nil {
		writeFeedError(c, err)
		return
	}
	response.Success(c, page)
}

func writeFeedError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feed.ErrInvalidCursor):
		response.BadRequestReason(c, ReasonInvalidCursor, err.Error())
	case errors.Is(err, feed.ErrStorageUnavailable):
		response.ServiceUnavailable(c, err)
	default:
		response.InternalError(c, err)
	}
}
