package cache

import (
	"context"
	"log/slog"

	"github.com/spboyer/promptloop/internal/judge"
	"github.com/spboyer/promptloop/internal/models"
	"golang.org/x/sync/singleflight"
)

// CachingJudge wraps a judge.Evaluator with a Store. Concurrent identical requests share one
// backend call. Errors are never cached.
type CachingJudge struct {
	inner  judge.Evaluator
	store  *Store
	flight singleflight.Group
}

var _ judge.Evaluator = (*CachingJudge)(nil)

func NewCachingJudge(inner judge.Evaluator, store *Store) *CachingJudge {
	return &CachingJudge{inner: inner, store: store}
}

func (c *CachingJudge) Evaluate(ctx context.Context, req judge.Request) (*models.JudgeResult, error) {
	key, err := Fingerprint(req)
	if err != nil {
		slog.Debug("Judge request cannot be fingerprinted, skipping cache", "error", err)
		return c.inner.Evaluate(ctx, req)
	}

	if res, ok := c.store.Get(key); ok {
		res.Cached = true
		return res, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// a call that just finished may have stored the result after our lookup
		if res, ok := c.store.mem.get(key); ok {
			return res, nil
		}
		res, err := c.inner.Evaluate(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(key, res); err != nil {
			slog.Warn("Failed to store judge result", "error", err)
		}
		if err := c.store.Verify(); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.JudgeResult).Clone(), nil
}
