package taskview

import (
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"taskhub/internal/models"
)

// DefaultSessionTTL is how long an idle viewer keeps its reader
const DefaultSessionTTL = 30 * time.Minute

// Sessions keeps one Reader per viewer and cache key, so requests with
// different filters never share reader state. Each access extends the TTL.
type Sessions struct {
	service *Service
	readers *cache.Cache
	ttl     time.Duration
	mu      sync.Mutex
}

// NewSessions creates a session store over service
func NewSessions(service *Service, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	c := cache.New(ttl, ttl/3)
	c.OnEvicted(func(_ string, value interface{}) {
		if reader, ok := value.(*Reader); ok {
			reader.Close()
		}
	})
	return &Sessions{
		service: service,
		readers: c,
		ttl:     ttl,
	}
}

func sessionKey(viewerID, cacheKey string) string {
	return viewerID + "|" + cacheKey
}

// Reader returns the viewer's reader for scope and filters, creating it on first use
func (s *Sessions) Reader(viewerID string, scope models.Scope, filters models.TaskFilters) *Reader {
	key := sessionKey(viewerID, s.service.Key(scope, filters))

	s.mu.Lock()
	defer s.mu.Unlock()

	if value, found := s.readers.Get(key); found {
		reader := value.(*Reader)
		s.readers.Set(key, reader, s.ttl)
		return reader
	}

	reader := NewReader(s.service, scope, filters)
	s.readers.Set(key, reader, s.ttl)
	return reader
}

// Drop closes and removes every reader of the viewer
func (s *Sessions) Drop(viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := viewerID + "|"
	for key := range s.readers.Items() {
		if strings.HasPrefix(key, prefix) {
			s.readers.Delete(key)
		}
	}
}

// Len returns the number of live readers
func (s *Sessions) Len() int {
	return s.readers.ItemCount()
}
