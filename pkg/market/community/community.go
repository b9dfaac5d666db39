// Package community manages farmer posts and their engagement counters.
package community

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/events"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type PostInput struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	VideoURL       string `json:"videoUrl"`
	VideoThumbnail string `json:"videoThumbnail"`
}

type Service struct {
	store  store.Store
	events events.Publisher
	logger *slog.Logger
}

func New(s store.Store, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, events: pub, logger: logger}
}

func (s *Service) Create(ctx context.Context, userID int64, in PostInput) (*types.Post, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, core.NewInvalidRequestErrorWithParam("title is required", "title")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, core.NewInvalidRequestErrorWithParam("content is required", "content")
	}
	video := strings.TrimSpace(in.VideoURL)
	if video != "" && !validMediaURL(video) {
		return nil, core.NewInvalidRequestErrorWithParam("videoUrl must be an http(s) URL or an uploaded file", "videoUrl")
	}
	thumb := strings.TrimSpace(in.VideoThumbnail)
	if thumb != "" && !validMediaURL(thumb) {
		return nil, core.NewInvalidRequestErrorWithParam("videoThumbnail must be an http(s) URL or an uploaded file", "videoThumbnail")
	}

	p, err := s.store.CreatePost(ctx, &types.Post{
		Title:          title,
		Content:        content,
		UserID:         userID,
		VideoURL:       video,
		VideoThumbnail: thumb,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("post created", "post_id", p.ID, "user_id", userID, "video", p.VideoURL != "")
	if err := s.events.Publish(ctx, events.Event{Type: events.PostCreated, PostID: p.ID, UserID: userID, Title: p.Title}); err != nil {
		s.logger.Warn("publish event failed", "type", events.PostCreated, "error", err)
	}
	return p, nil
}

// CreateVideoPost is Create with a mandatory video.
func (s *Service) CreateVideoPost(ctx context.Context, userID int64, in PostInput) (*types.Post, error) {
	if strings.TrimSpace(in.VideoURL) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("videoUrl is required", "videoUrl")
	}
	return s.Create(ctx, userID, in)
}

func (s *Service) List(ctx context.Context) ([]*types.Post, error) {
	return s.store.ListPosts(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*types.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewNotFoundError("post not found")
	}
	return p, err
}

func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return core.NewPermissionError("only the author can delete this post")
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		return err
	}
	s.logger.Info("post deleted", "post_id", id, "user_id", userID)
	return nil
}

func (s *Service) Like(ctx context.Context, id int64) (*types.Post, error) {
	return s.bump(ctx, id, types.CounterLikes)
}

func (s *Service) Share(ctx context.Context, id int64) (*types.Post, error) {
	return s.bump(ctx, id, types.CounterShares)
}

func (s *Service) Save(ctx context.Context, id int64) (*types.Post, error) {
	return s.bump(ctx, id, types.CounterSaves)
}

func (s *Service) bump(ctx context.Context, id int64, c types.PostCounter) (*types.Post, error) {
	p, err := s.store.IncrementPostCounter(ctx, id, c)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewNotFoundError("post not found")
	}
	return p, err
}

// validMediaURL accepts absolute http(s) URLs and paths under /uploads/.
func validMediaURL(raw string) bool {
	if strings.HasPrefix(raw, "/uploads/") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
