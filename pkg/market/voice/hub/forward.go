package hub

import (
	"context"
	"fmt"

	"github.com/vango-go/agrimarket/pkg/market/events"
	"github.com/vango-go/agrimarket/pkg/market/voice/protocol"
)

// Forward relays marketplace events to connected clients until ch closes
// or ctx is done. The winning bidder of a closed listing also gets a
// targeted, acknowledged notice that is queued while they are offline.
func (h *Hub) Forward(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.forward(e)
		}
	}
}

func (h *Hub) forward(e events.Event) {
	ts := e.At.UnixMilli()
	switch e.Type {
	case events.BidPlaced:
		h.Broadcast(protocol.Server{
			Type:      protocol.TypeBid,
			ProductID: e.ProductID,
			Amount:    e.Amount,
			UserID:    e.UserID,
			Title:     e.Title,
			Timestamp: ts,
		})
	case events.BiddingClosed:
		h.Broadcast(protocol.Server{
			Type:      protocol.TypeBiddingClosed,
			ProductID: e.ProductID,
			Amount:    e.Amount,
			Status:    e.Status,
			Title:     e.Title,
			Timestamp: ts,
		})
		if e.UserID != 0 {
			h.SendToUser(e.UserID, protocol.Server{
				Type:      protocol.TypeBidWon,
				ProductID: e.ProductID,
				Amount:    e.Amount,
				Title:     e.Title,
				Message:   fmt.Sprintf("You won the bidding for %s at %d", e.Title, e.Amount),
				Timestamp: ts,
			})
		}
	case events.PostCreated:
		h.Broadcast(protocol.Server{
			Type:      protocol.TypePostCreated,
			PostID:    e.PostID,
			UserID:    e.UserID,
			Title:     e.Title,
			Timestamp: ts,
		})
	default:
		h.logger.Debug("ignoring event", "type", e.Type)
	}
}
