package courses

import (
	"context"
	"sync"
	"time"
)

// Service applies content-readiness notifications to course snapshots.
type Service struct {
	store Store
	mu    sync.Mutex
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ContentReady records one processed asset. Redelivery of the same
// assetId is a no-op, so the pipeline can retry freely. The course
// becomes publishable once its first video asset lands; the flag never
// clears.
func (s *Service) ContentReady(ctx context.Context, ev ContentReadyEvent) (*Course, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.store.Get(ctx, ev.CourseID)
	if err == ErrNotFound {
		c = &Course{
			CourseID:  ev.CourseID,
			Title:     ev.CourseTitle,
			CreatedAt: s.now(),
		}
		err = nil
	}
	if err != nil {
		return nil, false, err
	}

	if c.HasAsset(ev.AssetID) {
		return c, true, nil
	}

	kind := ev.Kind
	if kind == "" {
		kind = AssetVideo
	}
	c.Assets = append(c.Assets, Asset{
		ID:      ev.AssetID,
		Kind:    kind,
		Title:   ev.Title,
		ReadyAt: s.now(),
	})
	if kind == AssetVideo {
		c.Publishable = true
	}
	if ev.CourseTitle != "" {
		c.Title = ev.CourseTitle
	}
	c.UpdatedAt = s.now()

	if err := s.store.Put(ctx, c); err != nil {
		return nil, false, err
	}
	return c, false, nil
}

// Get returns the publishable snapshot for a course.
func (s *Service) Get(ctx context.Context, courseID string) (*Course, error) {
	return s.store.Get(ctx, courseID)
}
