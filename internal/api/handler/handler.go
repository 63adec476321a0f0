package handler

import (
	"context"

	"github.com/d60-Lab/skyframe/internal/service"
)

// Pinger 用于健康检查（数据库、redis）
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	feedService service.FeedService
	relService  service.RelationshipService
	checks      map[string]Pinger
}

func NewHandler(feedService service.FeedService, relService service.RelationshipService, checks map[string]Pinger) *Handler {
	return &Handler{feedService: feedService, relService: relService, checks: checks}
}
