package types

import "time"

// ProductStatus is the lifecycle state of a listing.
type ProductStatus string

const (
	ProductActive  ProductStatus = "active"
	ProductSold    ProductStatus = "sold"
	ProductClosed  ProductStatus = "closed"
	ProductDeleted ProductStatus = "deleted"
)

// Product is a listing open for time-boxed bidding. Prices are whole
// currency units.
type Product struct {
	ID             int64         `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Price          int64         `json:"price"`
	Category       string        `json:"category,omitempty"`
	Images         []string      `json:"images"`
	UserID         int64         `json:"userId"`
	Status         ProductStatus `json:"status"`
	CurrentBid     int64         `json:"currentBid"`
	BiddingEndTime time.Time     `json:"biddingEndTime"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// MinimumBid is the amount a new bid has to beat.
func (p *Product) MinimumBid() int64 {
	if p.CurrentBid > 0 {
		return p.CurrentBid
	}
	return p.Price
}

// BiddingOpen reports whether bids are still accepted at now.
func (p *Product) BiddingOpen(now time.Time) bool {
	return p.Status == ProductActive && now.Before(p.BiddingEndTime)
}

// Bid is an offer against a product.
type Bid struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"productId"`
	UserID    int64     `json:"userId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}
