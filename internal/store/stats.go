package store

import (
	"context"
	"time"
)

// Stats contains aggregate statistics about the marketplace.
type Stats struct {
	TotalUsers     int
	TotalFiles     int
	GoldSupply     int64
	TotalBytes     int64
	TotalLikes     int64
	TotalCollects  int64
	TotalPurchases int64
	TotalDownloads int64
	OldestFile     time.Time
	NewestFile     time.Time
}

// CollectStats computes marketplace aggregates from both collections.
func CollectStats(ctx context.Context, users *Users, files *Files) (*Stats, error) {
	stats := &Stats{}

	us, err := users.List(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalUsers = len(us)
	for _, u := range us {
		stats.GoldSupply += u.Gold
	}

	fs, err := files.List(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalFiles = len(fs)
	for _, f := range fs {
		stats.TotalBytes += f.SizeBytes
		stats.TotalLikes += f.LikeCount
		stats.TotalCollects += f.CollectCount
		stats.TotalPurchases += f.PurchaseCount
		stats.TotalDownloads += f.DownloadCount
		if stats.OldestFile.IsZero() || f.CreatedAt.Before(stats.OldestFile) {
			stats.OldestFile = f.CreatedAt
		}
		if f.CreatedAt.After(stats.NewestFile) {
			stats.NewestFile = f.CreatedAt
		}
	}

	return stats, nil
}
