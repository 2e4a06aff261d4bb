package jobs

import (
	"context"
	"log"
)

// Pruner drops stale cache entries
type Pruner interface {
	Prune() int
}

// CachePruneJob evicts expired task snapshots so idle tenants do not hold memory
type CachePruneJob struct {
	cache Pruner
}

// NewCachePruneJob creates a new cache prune job
func NewCachePruneJob(cache Pruner) *CachePruneJob {
	return &CachePruneJob{cache: cache}
}

// Run prunes the cache once
func (j *CachePruneJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if removed := j.cache.Prune(); removed > 0 {
		log.Printf("🧹 [CACHE-PRUNE] Removed %d stale task snapshots", removed)
	}
	return nil
}
