package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/agrimarket/pkg/core/types"
)

// DemoUsername owns the seeded listings and post.
const DemoUsername = "demo_farmer"

// SeedDemoData creates a demo farmer, three listings and one community post.
// It does nothing when the demo farmer already exists. passwordHash is
// stored as-is.
func SeedDemoData(ctx context.Context, s Store, now time.Time, passwordHash string) (bool, error) {
	if _, err := s.GetUserByUsername(ctx, DemoUsername); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("seed: lookup demo user: %w", err)
	}

	farmer, err := s.CreateUser(ctx, &types.User{
		Username:     DemoUsername,
		PasswordHash: passwordHash,
		Name:         "Ramesh Reddy",
		UserType:     types.UserTypeFarmer,
		Location:     "Warangal",
	})
	if err != nil {
		return false, fmt.Errorf("seed: create demo user: %w", err)
	}

	products := []types.Product{
		{
			Title:          "Organic Rice",
			Description:    "Premium quality organic rice grown using traditional farming methods.",
			Price:          60,
			CurrentBid:     65,
			Category:       "grains",
			Images:         []string{"https://images.unsplash.com/photo-1586201375761-83865001e31c?auto=format&fit=crop&w=800&q=80"},
			BiddingEndTime: now.Add(24 * time.Hour),
		},
		{
			Title:          "Fresh Vegetables Bundle",
			Description:    "Assorted fresh vegetables directly from our farm.",
			Price:          120,
			CurrentBid:     130,
			Category:       "vegetables",
			Images:         []string{"https://images.unsplash.com/photo-1518843875459-f738682238a6?auto=format&fit=crop&w=800&q=80"},
			BiddingEndTime: now.Add(48 * time.Hour),
		},
		{
			Title:          "Organic Cotton",
			Description:    "High-quality cotton harvested from sustainable farms.",
			Price:          200,
			CurrentBid:     210,
			Category:       "fibre",
			Images:         []string{"https://images.unsplash.com/photo-1573676048035-9c2a72b6a12a?auto=format&fit=crop&w=800&q=80"},
			BiddingEndTime: now.Add(36 * time.Hour),
		},
	}
	for i := range products {
		p := products[i]
		p.UserID = farmer.ID
		p.Status = types.ProductActive
		p.CreatedAt = now
		if _, err := s.CreateProduct(ctx, &p); err != nil {
			return false, fmt.Errorf("seed: create product %q: %w", p.Title, err)
		}
	}

	if _, err := s.CreatePost(ctx, &types.Post{
		Title:     "Sustainable Farming Practices",
		Content:   "Here are some tips for sustainable farming in Telangana...",
		UserID:    farmer.ID,
		VideoURL:  "https://www.youtube.com/embed/dQw4w9WgXcQ",
		CreatedAt: now,
	}); err != nil {
		return false, fmt.Errorf("seed: create post: %w", err)
	}
	return true, nil
}
