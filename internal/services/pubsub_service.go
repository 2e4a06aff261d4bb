package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PubSubService manages Redis pub/sub for cross-instance communication
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	handlers   map[string][]MessageHandler
	mu         sync.RWMutex
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// MessageHandler is a callback for handling pub/sub messages
type MessageHandler func(channel string, message *PubSubMessage)

// PubSubMessage represents a message sent via pub/sub
type PubSubMessage struct {
	Type       string                 `json:"type"`             // Message type (e.g., "tasks_invalidated")
	TenantID   string                 `json:"tenant,omitempty"` // Tenant the message is about
	InstanceID string                 `json:"instanceId"`       // Source instance ID
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewPubSubService creates a new pub/sub service
func NewPubSubService(redisService *RedisService, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		handlers:   make(map[string][]MessageHandler),
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID returns the id stamped on outgoing messages
func (s *PubSubService) InstanceID() string {
	return s.instanceID
}

// Subscribe registers a handler for a channel or pattern such as "broadcast:*"
func (s *PubSubService) Subscribe(pattern string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[pattern] = append(s.handlers[pattern], handler)
	log.Printf("📡 [PUBSUB] Subscribed to pattern: %s", pattern)
}

// Start begins listening for broadcast messages
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.PSubscribe(s.ctx, "broadcast:*")

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Started listening for messages (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg.Channel, msg.Payload)
		}
	}
}

// handleMessage decodes one payload and dispatches it to every matching handler
func (s *PubSubService) handleMessage(channel, payload string) {
	var message PubSubMessage
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return
	}

	// Skip messages from this instance (avoid loops)
	if message.InstanceID == s.instanceID {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for pattern, handlers := range s.handlers {
		if matchPattern(pattern, channel) {
			for _, handler := range handlers {
				handler(channel, &message)
			}
		}
	}
}

// Broadcast publishes a message to all instances
func (s *PubSubService) Broadcast(ctx context.Context, topic string, message PubSubMessage) error {
	message.InstanceID = s.instanceID

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return s.redis.Publish(ctx, "broadcast:"+topic, data)
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

// matchPattern checks if a channel matches a pattern where "*" stands for one segment
func matchPattern(pattern, channel string) bool {
	if pattern == channel {
		return true
	}

	patternParts := strings.Split(pattern, ":")
	channelParts := strings.Split(channel, ":")

	if len(patternParts) != len(channelParts) {
		return false
	}

	for i, part := range patternParts {
		if part != "*" && part != channelParts[i] {
			return false
		}
	}

	return true
}
