package service

import (
	"context"
	"errors"

	"github.com/d60-Lab/skyframe/internal/repository"
)

var (
	ErrFollowSelf    = errors.New("cannot follow self")
	ErrAnonymousUser = errors.New("user identity required")
)

// RelationshipService 关注与点赞，feed 优先池的输入
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID uint64) error
	Unfollow(ctx context.Context, fromUserID, toUserID uint64) error
	Like(ctx context.Context, userID, imageID uint64) error
	Unlike(ctx context.Context, userID, imageID uint64) error
	ListFollowing(ctx context.Context, userID uint64, page, pageSize int) ([]uint64, error)
}

type relationshipService struct {
	followRepo repository.FollowRepository
	likeRepo   repository.LikeRepository
	imageRepo  repository.ImageRepository
}

func NewRelationshipService(followRepo repository.FollowRepository, likeRepo repository.LikeRepository, imageRepo repository.ImageRepository) RelationshipService {
	return &relationshipService{followRepo: followRepo, likeRepo: likeRepo, imageRepo: imageRepo}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID uint64) error {
	if fromUserID == 0 {
		return ErrAnonymousUser
	}
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	return s.followRepo.Create(ctx, fromUserID, toUserID)
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID uint64) error {
	if fromUserID == 0 {
		return ErrAnonymousUser
	}
	return s.followRepo.Delete(ctx, fromUserID, toUserID)
}

// Like 幂等；图片不存在时返回 repository.ErrImageNotFound
func (s *relationshipService) Like(ctx context.Context, userID, imageID uint64) error {
	if userID == 0 {
		return ErrAnonymousUser
	}
	if _, err := s.imageRepo.GetByID(ctx, imageID); err != nil {
		return err
	}
	return s.likeRepo.Create(ctx, userID, imageID)
}

func (s *relationshipService) Unlike(ctx context.Context, userID, imageID uint64) error {
	if userID == 0 {
		return ErrAnonymousUser
	}
	return s.likeRepo.Delete(ctx, userID, imageID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID uint64, page, pageSize int) ([]uint64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]uint64, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}
