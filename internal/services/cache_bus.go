package services

import (
	"context"
	"log/slog"
	"time"

	"taskhub/internal/taskview"
)

const (
	tasksTopic           = "tasks"
	tasksInvalidatedType = "tasks_invalidated"
	publishTimeout       = 3 * time.Second
)

// Broadcaster publishes a message to every instance
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, message PubSubMessage) error
}

// InvalidationRecorder observes invalidated cache keys
type InvalidationRecorder interface {
	RecordInvalidation(keys int)
}

// CacheBus invalidates the local read cache and tells the other instances to
// do the same. With a nil broadcaster it only invalidates locally.
type CacheBus struct {
	local       taskview.Invalidator
	broadcaster Broadcaster
	recorder    InvalidationRecorder
}

// NewCacheBus creates a bus over the local invalidator
func NewCacheBus(local taskview.Invalidator, broadcaster Broadcaster, recorder InvalidationRecorder) *CacheBus {
	return &CacheBus{local: local, broadcaster: broadcaster, recorder: recorder}
}

// Listen applies invalidations published by other instances
func (b *CacheBus) Listen(ps *PubSubService) {
	ps.Subscribe("broadcast:"+tasksTopic, b.HandleMessage)
}

// InvalidateTenant drops the tenant's cached reads here and publishes the
// invalidation. It returns the local keys that were removed.
func (b *CacheBus) InvalidateTenant(tenantID string) []string {
	keys := b.invalidateLocal(tenantID)

	if b.broadcaster != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			msg := PubSubMessage{Type: tasksInvalidatedType, TenantID: tenantID}
			if err := b.broadcaster.Broadcast(ctx, tasksTopic, msg); err != nil {
				slog.Warn("failed to publish cache invalidation", "tenant_id", tenantID, "error", err)
			}
		}()
	}
	return keys
}

// HandleMessage is the pub/sub handler for remote invalidations
func (b *CacheBus) HandleMessage(_ string, msg *PubSubMessage) {
	if msg == nil || msg.Type != tasksInvalidatedType {
		return
	}
	keys := b.invalidateLocal(msg.TenantID)
	slog.Debug("applied remote cache invalidation", "tenant_id", msg.TenantID, "source", msg.InstanceID, "keys", len(keys))
}

func (b *CacheBus) invalidateLocal(tenantID string) []string {
	keys := b.local.InvalidateTenant(tenantID)
	if b.recorder != nil {
		b.recorder.RecordInvalidation(len(keys))
	}
	return keys
}
