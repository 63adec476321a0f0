package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/model"
	"github.com/d60-Lab/skyframe/internal/repository"
)

var tagPattern = regexp.MustCompile(`#([A-Za-z0-9_\-]+)`)

// ImageSummary 是 feed 卡片渲染所需的图片信息
type ImageSummary struct {
	ID                 uint64    `json:"id"`
	UploaderID         uint64    `json:"uploader_id"`
	Uploader           string    `json:"uploader"`
	Category           string    `json:"category"`
	ObjectName         string    `json:"object_name"`
	ObserverName       string    `json:"observer_name"`
	ObservedAt         time.Time `json:"observed_at"`
	CreatedAt          time.Time `json:"created_at"`
	Location           string    `json:"location,omitempty"`
	Telescope          string    `json:"telescope,omitempty"`
	Camera             string    `json:"camera,omitempty"`
	Filter             string    `json:"filter,omitempty"`
	Notes              string    `json:"notes"`
	Tags               []string  `json:"tags"`
	Liked              bool      `json:"liked"`
	FollowingUploader  bool      `json:"following_uploader"`
	OwnedByCurrentUser bool      `json:"owned_by_current_user"`
	Source             string    `json:"source,omitempty"`
}

// FeedPage 返回给 web 层的分页结果；NextCursor 为 nil 表示已到末尾
type FeedPage struct {
	Images     []ImageSummary `json:"images"`
	NextCursor *string        `json:"next_cursor"`
	Fallback   bool           `json:"fallback"`
}

type FeedService interface {
	FetchPage(ctx context.Context, userID uint64, cursor string) (*FeedPage, error)
	// MyUploads 按 feed 顺序分页列出用户自己的上传，不参与混排与已推送记录
	MyUploads(ctx context.Context, userID uint64, cursor string) (*FeedPage, error)
}

// PageFetcher is satisfied by *feed.Engine.
type PageFetcher interface {
	FetchPage(ctx context.Context, userID uint64, cursor string) (feed.Page, error)
	Codec() *feed.Codec
	Config() feed.Config
}

// UploadLister is satisfied by repository.ImageRepository.
type UploadLister interface {
	ListByUser(ctx context.Context, userID uint64, after feed.Position, limit int) ([]model.Image, error)
}

// UploaderLookup is satisfied by *repository.UserDirectory.
type UploaderLookup interface {
	Lookup(ctx context.Context, ids []uint64) (map[uint64]repository.UserSnapshot, error)
}

type feedService struct {
	engine  PageFetcher
	uploads UploadLister
	users   UploaderLookup
	follows repository.FollowRepository
	likes   repository.LikeRepository
}

// NewFeedService wires the engine with card hydration.
func NewFeedService(engine PageFetcher, uploads UploadLister, users UploaderLookup, follows repository.FollowRepository, likes repository.LikeRepository) FeedService {
	return &feedService{engine: engine, uploads: uploads, users: users, follows: follows, likes: likes}
}

func (s *feedService) FetchPage(ctx context.Context, userID uint64, cursor string) (*FeedPage, error) {
	page, err := s.engine.FetchPage(ctx, userID, cursor)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, userID, page)
}

// MyUploads 的游标复用 feed 编码，只使用 Global 位置
func (s *feedService) MyUploads(ctx context.Context, userID uint64, cursor string) (*FeedPage, error) {
	if userID == 0 {
		return nil, ErrAnonymousUser
	}
	codec := s.engine.Codec()
	state, err := codec.Decode(cursor)
	if err != nil {
		return nil, err
	}
	if state.Phase != feed.PhaseBlend || !state.Prioritized.IsZero() || !state.FreshCutoff.IsZero() ||
		len(state.PrioritizedServed) > 0 || len(state.GlobalServed) > 0 {
		return nil, fmt.Errorf("%w: not an uploads cursor", feed.ErrInvalidCursor)
	}

	limit := s.engine.Config().PageSize
	imgs, err := s.uploads.ListByUser(ctx, userID, state.Global, limit+1)
	if err != nil {
		return nil, fmt.Errorf("%w: uploads: %w", feed.ErrStorageUnavailable, err)
	}
	page := feed.Page{Images: imgs}
	if len(imgs) > limit {
		page.Images = imgs[:limit]
		last := feed.PositionOf(page.Images[limit-1])
		if page.NextCursor, err = codec.Encode(feed.State{Global: last, Phase: feed.PhaseBlend}); err != nil {
			return nil, err
		}
	}
	return s.hydrate(ctx, userID, page)
}

func (s *feedService) hydrate(ctx context.Context, userID uint64, page feed.Page) (*FeedPage, error) {
	out := &FeedPage{Images: make([]ImageSummary, 0, len(page.Images)), Fallback: page.Fallback}
	if page.NextCursor != "" {
		next := page.NextCursor
		out.NextCursor = &next
	}
	if len(page.Images) == 0 {
		return out, nil
	}

	uploaderIDs := make([]uint64, 0, len(page.Images))
	imageIDs := make([]uint64, len(page.Images))
	for i, img := range page.Images {
		uploaderIDs = append(uploaderIDs, img.UserID)
		imageIDs[i] = img.ID
	}

	uploaders, err := s.users.Lookup(ctx, uploaderIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: uploaders: %w", feed.ErrStorageUnavailable, err)
	}
	following, err := s.follows.FollowingAmong(ctx, userID, uploaderIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: following: %w", feed.ErrStorageUnavailable, err)
	}
	liked, err := s.likes.LikedAmong(ctx, userID, imageIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: likes: %w", feed.ErrStorageUnavailable, err)
	}

	for i, img := range page.Images {
		sum := summarize(img, uploaders[img.UserID].Username)
		sum.Liked = liked[img.ID]
		sum.FollowingUploader = following[img.UserID]
		sum.OwnedByCurrentUser = userID != 0 && img.UserID == userID
		if i < len(page.Sources) {
			sum.Source = page.Sources[i].String()
		}
		out.Images = append(out.Images, sum)
	}
	return out, nil
}

func summarize(img model.Image, uploader string) ImageSummary {
	return ImageSummary{
		ID:           img.ID,
		UploaderID:   img.UserID,
		Uploader:     uploader,
		Category:     img.Category,
		ObjectName:   img.ObjectName,
		ObserverName: img.ObserverName,
		ObservedAt:   img.ObservedAt.UTC(),
		CreatedAt:    img.CreatedAt.UTC(),
		Location:     img.Location,
		Telescope:    img.Telescope,
		Camera:       img.Camera,
		Filter:       img.Filter,
		Notes:        img.Notes,
		Tags:         ExtractTags(img.Notes),
	}
}

// ExtractTags returns the #hashtags found in notes, in order of appearance.
func ExtractTags(notes string) []string {
	matches := tagPattern.FindAllStringSubmatch(notes, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}
