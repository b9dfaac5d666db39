package types

import "time"

// Post is a community post. VideoURL is set for video posts.
type Post struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	UserID         int64     `json:"userId"`
	VideoURL       string    `json:"videoUrl,omitempty"`
	VideoThumbnail string    `json:"videoThumbnail,omitempty"`
	Likes          int64     `json:"likes"`
	Shares         int64     `json:"shares"`
	Saves          int64     `json:"saves"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PostCounter names one of the engagement counters on a post.
type PostCounter string

const (
	CounterLikes  PostCounter = "likes"
	CounterShares PostCounter = "shares"
	CounterSaves  PostCounter = "saves"
)

func (c PostCounter) Valid() bool {
	switch c {
	case CounterLikes, CounterShares, CounterSaves:
		return true
	}
	return false
}
