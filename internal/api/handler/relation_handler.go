package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/skyframe/internal/middleware"
	"github.com/d60-Lab/skyframe/internal/repository"
	"github.com/d60-Lab/skyframe/internal/service"
	"github.com/d60-Lab/skyframe/pkg/response"
)

type followRequest struct {
	UserID uint64 `json:"user_id" binding:"required,gt=0"`
}

// Follow 关注用户
// @Summary 关注用户
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "被关注的用户"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	uid, _ := middleware.UserID(c)
	if err := h.relService.Follow(c.Request.Context(), uid, req.UserID); err != nil {
		writeRelationError(c, err)
		return
	}
	response.Success(c, nil)
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body followRequest true "取消关注的用户"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	uid, _ := middleware.UserID(c)
	if err := h.relService.Unfollow(c.Request.Context(), uid, req.UserID); err != nil {
		writeRelationError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListFollowing 查询某用户关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Param user_id path int true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if pageSize > 100 {
		pageSize = 100
	}
	list, err := h.relService.ListFollowing(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

// Like 点赞图片
// @Summary 点赞
// @Tags 关系链
// @Param id path int true "图片ID"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/images/{id}/like [post]
func (h *Handler) Like(c *gin.Context) {
	imageID, ok := imageIDParam(c)
	if !ok {
		return
	}
	uid, _ := middleware.UserID(c)
	if err := h.relService.Like(c.Request.Context(), uid, imageID); err != nil {
		writeRelationError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": true})
}

// Unlike 取消点赞
// @Summary 取消点赞
// @Tags 关系链
// @Param id path int true "图片ID"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.Response
// @Router /api/v1/images/{id}/like [delete]
func (h *Handler) Unlike(c *gin.Context) {
	imageID, ok := imageIDParam(c)
	if !ok {
		return
	}
	uid, _ := middleware.UserID(c)
	if err := h.relService.Unlike(c.Request.Context(), uid, imageID); err != nil {
		writeRelationError(c, err)
		return
	}
	response.Success(c, gin.H{"liked": false})
}

func imageIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid image id")
		return 0, false
	}
	return id, true
}

func writeRelationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAnonymousUser):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrFollowSelf):
		response.BadRequest(c, err.Error())
	case errors.Is(err, repository.ErrImageNotFound):
		response.NotFound(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
