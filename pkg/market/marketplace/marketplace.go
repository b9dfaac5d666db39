// Package marketplace owns product listings and time-boxed bidding.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/events"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type ProductInput struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Price          int64      `json:"price"`
	Category       string     `json:"category"`
	Images         []string   `json:"images"`
	BiddingEndTime *time.Time `json:"biddingEndTime"`
}

// ProductDetail is a listing together with its bids, highest first.
type ProductDetail struct {
	*types.Product
	Bids []*types.Bid `json:"bids"`
}

type Options struct {
	Store  store.Store
	Events events.Publisher
	Logger *slog.Logger

	// DefaultDuration applies when a listing has no explicit end time.
	DefaultDuration time.Duration
	Now             func() time.Time
}

type Service struct {
	store           store.Store
	events          events.Publisher
	logger          *slog.Logger
	defaultDuration time.Duration
	now             func() time.Time
}

func New(opts Options) *Service {
	s := &Service{
		store:           opts.Store,
		events:          opts.Events,
		logger:          opts.Logger,
		defaultDuration: opts.DefaultDuration,
		now:             opts.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.defaultDuration <= 0 {
		s.defaultDuration = 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) CreateProduct(ctx context.Context, sellerID int64, in ProductInput) (*types.Product, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, core.NewInvalidRequestErrorWithParam("title is required", "title")
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, core.NewInvalidRequestErrorWithParam("description is required", "description")
	}
	if in.Price <= 0 {
		return nil, core.NewInvalidRequestErrorWithParam("price must be greater than 0", "price")
	}

	now := s.now()
	end := now.Add(s.defaultDuration)
	if in.BiddingEndTime != nil && !in.BiddingEndTime.IsZero() {
		if !in.BiddingEndTime.After(now) {
			return nil, core.NewInvalidRequestErrorWithParam("biddingEndTime must be in the future", "biddingEndTime")
		}
		end = *in.BiddingEndTime
	}

	images := make([]string, 0, len(in.Images))
	for _, img := range in.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}

	p, err := s.store.CreateProduct(ctx, &types.Product{
		Title:          title,
		Description:    desc,
		Price:          in.Price,
		Category:       strings.TrimSpace(in.Category),
		Images:         images,
		UserID:         sellerID,
		Status:         types.ProductActive,
		CurrentBid:     in.Price,
		BiddingEndTime: end.UTC(),
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("product listed", "product_id", p.ID, "seller_id", sellerID, "ends_at", p.BiddingEndTime)
	return p, nil
}

func (s *Service) List(ctx context.Context, filter store.ProductFilter) ([]*types.Product, error) {
	return s.store.ListProducts(ctx, filter)
}

// Get hides soft-deleted listings.
func (s *Service) Get(ctx context.Context, id int64) (*ProductDetail, error) {
	p, err := s.product(ctx, id)
	if err != nil {
		return nil, err
	}
	bids, err := s.store.ListBids(ctx, id)
	if err != nil {
		return nil, err
	}
	if bids == nil {
		bids = []*types.Bid{}
	}
	return &ProductDetail{Product: p, Bids: bids}, nil
}

func (s *Service) Bids(ctx context.Context, productID int64) ([]*types.Bid, error) {
	if _, err := s.product(ctx, productID); err != nil {
		return nil, err
	}
	return s.store.ListBids(ctx, productID)
}

func (s *Service) product(ctx context.Context, id int64) (*types.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.Status == types.ProductDeleted) {
		return nil, core.NewNotFoundError("product not found")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PlaceBid validates the bid against the listing and records it. The store
// re-checks the amount under its own lock so concurrent bids cannot both win.
func (s *Service) PlaceBid(ctx context.Context, bidderID, productID, amount int64) (*types.Bid, error) {
	p, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if p.Status != types.ProductActive {
		return nil, core.NewInvalidRequestError("product is no longer available for bidding")
	}
	if !now.Before(p.BiddingEndTime) {
		return nil, core.NewInvalidRequestError("bidding has ended for this product")
	}
	if p.UserID == bidderID {
		return nil, core.NewPermissionError("you cannot bid on your own product")
	}
	if amount <= p.MinimumBid() {
		return nil, core.NewInvalidRequestErrorWithParam(
			fmt.Sprintf("bid amount must be higher than current bid of %d", p.MinimumBid()), "amount")
	}

	bid, updated, err := s.store.PlaceBid(ctx, &types.Bid{
		ProductID: productID,
		UserID:    bidderID,
		Amount:    amount,
		CreatedAt: now,
	})
	switch {
	case errors.Is(err, store.ErrBidTooLow):
		return nil, core.NewInvalidRequestErrorWithParam("bid amount must be higher than current bid", "amount")
	case errors.Is(err, store.ErrBiddingClosed):
		return nil, core.NewInvalidRequestError("bidding has ended for this product")
	case err != nil:
		return nil, err
	}

	s.logger.Info("bid placed", "product_id", productID, "bidder_id", bidderID, "amount", amount)
	s.publish(ctx, events.Event{
		Type:      events.BidPlaced,
		ProductID: productID,
		UserID:    bidderID,
		Amount:    updated.CurrentBid,
		Title:     updated.Title,
	})
	return bid, nil
}

// DeleteProduct soft-deletes a listing owned by userID.
func (s *Service) DeleteProduct(ctx context.Context, userID, productID int64) error {
	p, err := s.product(ctx, productID)
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return core.NewPermissionError("only the seller can delete this product")
	}
	// A concurrent sweep may settle the listing between the read and the
	// write, so retry against the fresh status.
	for attempt := 0; ; attempt++ {
		_, err := s.store.SetProductStatus(ctx, productID, p.Status, types.ProductDeleted)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStatusChanged) || attempt >= 2 {
			return err
		}
		if p, err = s.product(ctx, productID); err != nil {
			return err
		}
	}
	s.logger.Info("product deleted", "product_id", productID, "seller_id", userID)
	return nil
}

// CloseExpired settles every active listing whose bidding window has
// passed: sold when at least one bid exists, closed otherwise.
func (s *Service) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredProducts(ctx, now)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, p := range expired {
		bids, err := s.store.ListBids(ctx, p.ID)
		if err != nil {
			return closed, err
		}
		status := types.ProductClosed
		var winner int64
		if len(bids) > 0 {
			status = types.ProductSold
			winner = bids[0].UserID
		}
		updated, err := s.store.SetProductStatus(ctx, p.ID, types.ProductActive, status)
		if errors.Is(err, store.ErrStatusChanged) || errors.Is(err, store.ErrNotFound) {
			// Deleted or settled by someone else since the listing was read.
			continue
		}
		if err != nil {
			return closed, err
		}
		p = updated
		closed++
		s.logger.Info("bidding closed", "product_id", p.ID, "status", p.Status, "winning_bid", p.CurrentBid)
		s.publish(ctx, events.Event{
			Type:      events.BiddingClosed,
			ProductID: p.ID,
			UserID:    winner,
			Amount:    p.CurrentBid,
			Status:    string(p.Status),
			Title:     p.Title,
		})
	}
	return closed, nil
}

// RunSweeper calls CloseExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.CloseExpired(ctx, s.now()); err != nil && ctx.Err() == nil {
				s.logger.Warn("bidding sweep failed", "error", err)
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event failed", "type", e.Type, "error", err)
	}
}
