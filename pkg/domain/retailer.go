package domain

import "time"

// Retailer represents a shop whose product feed is imported. Retailers are
// keyed by their unique feed URL; banner/feed ids identify partner-network
// feeds that have no direct URL.
type Retailer struct {
	ID        int64
	Name      string
	FeedURL   string
	BannerID  *int64
	FeedID    *int64
	CreatedAt time.Time
}
