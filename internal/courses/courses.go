// Package courses tracks course content readiness. The platform's
// content pipeline notifies us when an asset finishes processing; a
// course becomes publishable once its video content is ready, and the
// snapshot is what the storefront reads.
package courses

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("course not found")
)

// AssetKind classifies a processed content asset.
type AssetKind string

const (
	AssetVideo      AssetKind = "video"
	AssetCaption    AssetKind = "caption"
	AssetAttachment AssetKind = "attachment"
)

// Asset is one processed piece of course content.
type Asset struct {
	ID      string    `json:"id"`
	Kind    AssetKind `json:"kind"`
	Title   string    `json:"title,omitempty"`
	ReadyAt time.Time `json:"readyAt"`
}

// Course is the publishable snapshot for a course.
type Course struct {
	CourseID    string    `json:"courseId"`
	Title       string    `json:"title,omitempty"`
	Assets      []Asset   `json:"assets"`
	Publishable bool      `json:"publishable"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasAsset reports whether the asset was already recorded.
func (c *Course) HasAsset(assetID string) bool {
	for _, a := range c.Assets {
		if a.ID == assetID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers.
func (c *Course) Clone() *Course {
	cp := *c
	cp.Assets = make([]Asset, len(c.Assets))
	copy(cp.Assets, c.Assets)
	return &cp
}

// Store persists course snapshots.
type Store interface {
	Get(ctx context.Context, courseID string) (*Course, error)
	Put(ctx context.Context, c *Course) error
}

// ContentReadyEvent is the payload the content pipeline delivers when
// an asset finishes processing. Delivery is at-least-once.
type ContentReadyEvent struct {
	CourseID    string    `json:"courseId" binding:"required"`
	AssetID     string    `json:"assetId" binding:"required"`
	Kind        AssetKind `json:"kind"`
	Title       string    `json:"title"`
	CourseTitle string    `json:"courseTitle"`
}
