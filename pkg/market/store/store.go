// Package store persists users, listings, bids and posts. Memory backs
// development and tests; Postgres backs deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vango-go/agrimarket/pkg/core/types"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique field (username) is taken.
	ErrConflict = errors.New("conflict")
	// ErrBidTooLow means another bid landed first and raised the minimum.
	ErrBidTooLow = errors.New("bid too low")
	// ErrBiddingClosed means the product stopped accepting bids.
	ErrBiddingClosed = errors.New("bidding closed")
	// ErrStatusChanged means a conditional status transition found the
	// product in a different status than expected.
	ErrStatusChanged = errors.New("product status changed")
)

// ProductFilter narrows ListProducts. Deleted products are never listed.
type ProductFilter struct {
	Status types.ProductStatus
	UserID int64
}

// Store is implemented by Memory and Postgres.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, u *types.User) (*types.User, error)
	GetUser(ctx context.Context, id int64) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	UpdateUser(ctx context.Context, u *types.User) (*types.User, error)

	CreateProduct(ctx context.Context, p *types.Product) (*types.Product, error)
	GetProduct(ctx context.Context, id int64) (*types.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]*types.Product, error)
	UpdateProduct(ctx context.Context, p *types.Product) (*types.Product, error)
	// SetProductStatus moves a product from one status to another and
	// leaves every other column alone. It fails with ErrStatusChanged when
	// the product is no longer in status from.
	SetProductStatus(ctx context.Context, id int64, from, to types.ProductStatus) (*types.Product, error)
	// ListExpiredProducts returns active products whose bidding ended at or
	// before now.
	ListExpiredProducts(ctx context.Context, now time.Time) ([]*types.Product, error)

	// PlaceBid records b and raises the product's current bid in one step.
	// The product must still be active, b.CreatedAt must be before the
	// bidding end, and b.Amount must beat the current minimum.
	PlaceBid(ctx context.Context, b *types.Bid) (*types.Bid, *types.Product, error)
	ListBids(ctx context.Context, productID int64) ([]*types.Bid, error)

	CreatePost(ctx context.Context, p *types.Post) (*types.Post, error)
	GetPost(ctx context.Context, id int64) (*types.Post, error)
	ListPosts(ctx context.Context) ([]*types.Post, error)
	DeletePost(ctx context.Context, id int64) error
	IncrementPostCounter(ctx context.Context, id int64, c types.PostCounter) (*types.Post, error)
}
