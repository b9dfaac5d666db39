package marketplace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/core/types"
	"github.com/vango-go/agrimarket/pkg/market/events"
	"github.com/vango-go/agrimarket/pkg/market/store"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *store.Memory
	events *recorder
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), events: &recorder{}, now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = New(Options{
		Store:           f.store,
		Events:          f.events,
		DefaultDuration: 24 * time.Hour,
		Now:             func() time.Time { return f.now },
	})
	return f
}

func errType(err error) core.ErrorType {
	if ce, ok := core.AsError(err); ok {
		return ce.Type
	}
	return ""
}

func TestCreateProduct_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.CreateProduct(ctx, 1, ProductInput{Title: " Rice ", Description: "Sona masoori", Price: 50, Images: []string{"", "/uploads/a.jpg"}})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if p.Title != "Rice" || p.Status != types.ProductActive || p.CurrentBid != 50 {
		t.Fatalf("unexpected product: %+v", p)
	}
	if !p.BiddingEndTime.Equal(f.now.Add(24 * time.Hour)) {
		t.Fatalf("BiddingEndTime=%v", p.BiddingEndTime)
	}
	if len(p.Images) != 1 {
		t.Fatalf("images=%v", p.Images)
	}

	past := f.now.Add(-time.Minute)
	cases := []struct {
		name  string
		in    ProductInput
		param string
	}{
		{"missing title", ProductInput{Description: "d", Price: 1}, "title"},
		{"missing description", ProductInput{Title: "t", Price: 1}, "description"},
		{"zero price", ProductInput{Title: "t", Description: "d"}, "price"},
		{"past end", ProductInput{Title: "t", Description: "d", Price: 1, BiddingEndTime: &past}, "biddingEndTime"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateProduct(ctx, 1, tc.in)
			ce, ok := core.AsError(err)
			if !ok || ce.Type != core.ErrInvalidRequest || ce.Param != tc.param {
				t.Fatalf("err=%v", err)
			}
		})
	}
}

func TestPlaceBid_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Cotton", Description: "Long staple", Price: 200})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	if _, err := f.svc.PlaceBid(ctx, 1, p.ID, 300); errType(err) != core.ErrPermission {
		t.Fatalf("seller bid: err=%v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, 2, p.ID, 200); errType(err) != core.ErrInvalidRequest {
		t.Fatalf("equal bid: err=%v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, 2, 999, 300); errType(err) != core.ErrNotFound {
		t.Fatalf("missing product: err=%v", err)
	}

	bid, err := f.svc.PlaceBid(ctx, 2, p.ID, 210)
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if bid.Amount != 210 || bid.UserID != 2 {
		t.Fatalf("bid=%+v", bid)
	}
	if _, err := f.svc.PlaceBid(ctx, 3, p.ID, 205); errType(err) != core.ErrInvalidRequest {
		t.Fatalf("lower bid: err=%v", err)
	}

	detail, err := f.svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.CurrentBid != 210 || len(detail.Bids) != 1 {
		t.Fatalf("detail=%+v", detail)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != events.BidPlaced {
		t.Fatalf("events=%v", got)
	}

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.PlaceBid(ctx, 3, p.ID, 500)
	if ce, ok := core.AsError(err); !ok || ce.Message != "bidding has ended for this product" {
		t.Fatalf("ended: err=%v", err)
	}
}

func TestPlaceBid_InactiveProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Chilli", Description: "Red", Price: 10})
	p.Status = types.ProductSold
	if _, err := f.store.UpdateProduct(ctx, p); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	_, err := f.svc.PlaceBid(ctx, 2, p.ID, 20)
	if ce, ok := core.AsError(err); !ok || ce.Message != "product is no longer available for bidding" {
		t.Fatalf("err=%v", err)
	}
}

func TestDeleteProduct_OwnerOnlyAndHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Onion", Description: "Nashik", Price: 30})

	if err := f.svc.DeleteProduct(ctx, 2, p.ID); errType(err) != core.ErrPermission {
		t.Fatalf("non-owner delete: err=%v", err)
	}
	if err := f.svc.DeleteProduct(ctx, 1, p.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := f.svc.Get(ctx, p.ID); errType(err) != core.ErrNotFound {
		t.Fatalf("Get after delete: err=%v", err)
	}
	list, _ := f.svc.List(ctx, store.ProductFilter{})
	if len(list) != 0 {
		t.Fatalf("deleted product listed: %+v", list)
	}
	if err := f.svc.DeleteProduct(ctx, 1, p.ID); errType(err) != core.ErrNotFound {
		t.Fatalf("second delete: err=%v", err)
	}
}

func TestCloseExpired_SoldAndClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withBid, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Wheat", Description: "Durum", Price: 100})
	noBid, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Maize", Description: "Yellow", Price: 80})
	later := f.now.Add(72 * time.Hour)
	open, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Jowar", Description: "White", Price: 90, BiddingEndTime: &later})

	if _, err := f.svc.PlaceBid(ctx, 2, withBid.ID, 120); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	f.now = f.now.Add(25 * time.Hour)
	n, err := f.svc.CloseExpired(ctx, f.now)
	if err != nil || n != 2 {
		t.Fatalf("CloseExpired: n=%d err=%v", n, err)
	}

	check := func(id int64, want types.ProductStatus) {
		t.Helper()
		p, err := f.store.GetProduct(ctx, id)
		if err != nil || p.Status != want {
			t.Fatalf("product %d: status=%v err=%v", id, p.Status, err)
		}
	}
	check(withBid.ID, types.ProductSold)
	check(noBid.ID, types.ProductClosed)
	check(open.ID, types.ProductActive)

	var closedEvents int
	for _, e := range f.events.events {
		if e.Type == events.BiddingClosed {
			closedEvents++
			if e.ProductID == withBid.ID && (e.UserID != 2 || e.Status != "sold") {
				t.Fatalf("unexpected sold event: %+v", e)
			}
		}
	}
	if closedEvents != 2 {
		t.Fatalf("closed events=%d", closedEvents)
	}

	if n, _ := f.svc.CloseExpired(ctx, f.now); n != 0 {
		t.Fatalf("second sweep closed %d", n)
	}
}

// settleHookStore runs onListBids once, after the sweep has read the
// expired listings and before it settles them.
type settleHookStore struct {
	*store.Memory
	once       sync.Once
	onListBids func()
}

func (s *settleHookStore) ListBids(ctx context.Context, productID int64) ([]*types.Bid, error) {
	s.once.Do(s.onListBids)
	return s.Memory.ListBids(ctx, productID)
}

func newHookFixture(t *testing.T) (*fixture, *settleHookStore) {
	t.Helper()
	f := newFixture(t)
	hs := &settleHookStore{Memory: f.store, onListBids: func() {}}
	f.svc = New(Options{
		Store:           hs,
		Events:          f.events,
		DefaultDuration: 24 * time.Hour,
		Now:             func() time.Time { return f.now },
	})
	return f, hs
}

func TestCloseExpired_DoesNotReviveDeletedListing(t *testing.T) {
	f, hs := newHookFixture(t)
	ctx := context.Background()
	p, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Ragi", Description: "Finger millet", Price: 40})
	if _, err := f.svc.PlaceBid(ctx, 2, p.ID, 45); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	hs.onListBids = func() {
		if err := f.svc.DeleteProduct(ctx, 1, p.ID); err != nil {
			t.Errorf("DeleteProduct: %v", err)
		}
	}

	f.now = f.now.Add(25 * time.Hour)
	n, err := f.svc.CloseExpired(ctx, f.now)
	if err != nil || n != 0 {
		t.Fatalf("CloseExpired: n=%d err=%v", n, err)
	}
	got, _ := f.store.GetProduct(ctx, p.ID)
	if got.Status != types.ProductDeleted {
		t.Fatalf("status=%s, want deleted", got.Status)
	}
	for _, typ := range f.events.types() {
		if typ == events.BiddingClosed {
			t.Fatalf("bidding.closed published for a deleted listing")
		}
	}
}

func TestCloseExpired_KeepsConcurrentCurrentBid(t *testing.T) {
	f, hs := newHookFixture(t)
	ctx := context.Background()
	p, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Toor dal", Description: "Pigeon pea", Price: 60})
	if _, err := f.svc.PlaceBid(ctx, 2, p.ID, 70); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	hs.onListBids = func() {
		cur, _ := f.store.GetProduct(ctx, p.ID)
		cur.CurrentBid = 95
		if _, err := f.store.UpdateProduct(ctx, cur); err != nil {
			t.Errorf("UpdateProduct: %v", err)
		}
	}

	f.now = f.now.Add(25 * time.Hour)
	if n, err := f.svc.CloseExpired(ctx, f.now); err != nil || n != 1 {
		t.Fatalf("CloseExpired: n=%d err=%v", n, err)
	}
	got, _ := f.store.GetProduct(ctx, p.ID)
	if got.Status != types.ProductSold || got.CurrentBid != 95 {
		t.Fatalf("product=%+v", got)
	}
}

func TestDeleteProduct_AfterSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.svc.CreateProduct(ctx, 1, ProductInput{Title: "Garlic", Description: "Ooty", Price: 20})
	f.now = f.now.Add(25 * time.Hour)
	if _, err := f.svc.CloseExpired(ctx, f.now); err != nil {
		t.Fatalf("CloseExpired: %v", err)
	}
	if err := f.svc.DeleteProduct(ctx, 1, p.ID); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	got, _ := f.store.GetProduct(ctx, p.ID)
	if got.Status != types.ProductDeleted {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.RunSweeper(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunSweeper: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestBids_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Bids(context.Background(), 42); errType(err) != core.ErrNotFound {
		t.Fatalf("err=%v", err)
	}
}
