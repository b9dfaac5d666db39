package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/agrimarket/pkg/core/types"
)

// Memory is an in-process Store. Every entity kind has its own id sequence.
type Memory struct {
	mu sync.RWMutex

	users    map[int64]*types.User
	products map[int64]*types.Product
	bids     map[int64]*types.Bid
	posts    map[int64]*types.Post

	nextUser, nextProduct, nextBid, nextPost int64

	now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]*types.User),
		products: make(map[int64]*types.Product),
		bids:     make(map[int64]*types.Bid),
		posts:    make(map[int64]*types.Post),
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, u *types.User) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return nil, fmt.Errorf("username %q: %w", u.Username, ErrConflict)
		}
	}
	m.nextUser++
	now := m.now()
	cp := *u
	cp.ID = m.nextUser
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			out := *u
			return &out, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
}

func (m *Memory) UpdateUser(_ context.Context, u *types.User) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[u.ID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	cp := *u
	cp.Username = existing.Username
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = m.now()
	m.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func copyProduct(p *types.Product) *types.Product {
	cp := *p
	cp.Images = append([]string{}, p.Images...)
	return &cp
}

func (m *Memory) CreateProduct(_ context.Context, p *types.Product) (*types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProduct++
	now := m.now()
	cp := copyProduct(p)
	cp.ID = m.nextProduct
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.products[cp.ID] = cp
	return copyProduct(cp), nil
}

func (m *Memory) GetProduct(_ context.Context, id int64) (*types.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return copyProduct(p), nil
}

func (m *Memory) ListProducts(_ context.Context, f ProductFilter) ([]*types.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Product, 0, len(m.products))
	for _, p := range m.products {
		if p.Status == types.ProductDeleted {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.UserID != 0 && p.UserID != f.UserID {
			continue
		}
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) UpdateProduct(_ context.Context, p *types.Product) (*types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.products[p.ID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	cp := copyProduct(p)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = m.now()
	m.products[cp.ID] = cp
	return copyProduct(cp), nil
}

func (m *Memory) SetProductStatus(_ context.Context, id int64, from, to types.ProductStatus) (*types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if p.Status != from {
		return nil, fmt.Errorf("product %d is %s: %w", id, p.Status, ErrStatusChanged)
	}
	p.Status = to
	p.UpdatedAt = m.now()
	return copyProduct(p), nil
}

func (m *Memory) ListExpiredProducts(_ context.Context, now time.Time) ([]*types.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Product
	for _, p := range m.products {
		if p.Status == types.ProductActive && !p.BiddingEndTime.After(now) {
			out = append(out, copyProduct(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PlaceBid(_ context.Context, b *types.Bid) (*types.Bid, *types.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[b.ProductID]
	if !ok {
		return nil, nil, fmt.Errorf("product %d: %w", b.ProductID, ErrNotFound)
	}
	if !p.BiddingOpen(b.CreatedAt) {
		return nil, nil, fmt.Errorf("product %d: %w", b.ProductID, ErrBiddingClosed)
	}
	if b.Amount <= p.MinimumBid() {
		return nil, nil, fmt.Errorf("amount %d <= %d: %w", b.Amount, p.MinimumBid(), ErrBidTooLow)
	}
	m.nextBid++
	cp := *b
	cp.ID = m.nextBid
	m.bids[cp.ID] = &cp

	p.CurrentBid = b.Amount
	p.UpdatedAt = m.now()

	bid := cp
	return &bid, copyProduct(p), nil
}

func (m *Memory) ListBids(_ context.Context, productID int64) ([]*types.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Bid
	for _, b := range m.bids {
		if b.ProductID == productID {
			cp := *b
			out = append(out, &cp)
		}
	}
	// Highest first; ties by arrival.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreatePost(_ context.Context, p *types.Post) (*types.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPost++
	now := m.now()
	cp := *p
	cp.ID = m.nextPost
	cp.Likes, cp.Shares, cp.Saves = 0, 0, 0
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.posts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) GetPost(_ context.Context, id int64) (*types.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (m *Memory) ListPosts(context.Context) ([]*types.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Post, 0, len(m.posts))
	for _, p := range m.posts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) DeletePost(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	delete(m.posts, id)
	return nil
}

func (m *Memory) IncrementPostCounter(_ context.Context, id int64, c types.PostCounter) (*types.Post, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown post counter %q", c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	switch c {
	case types.CounterLikes:
		p.Likes++
	case types.CounterShares:
		p.Shares++
	case types.CounterSaves:
		p.Saves++
	}
	p.UpdatedAt = m.now()
	out := *p
	return &out, nil
}
