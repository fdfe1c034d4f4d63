package store

import (
	"context"
	"sort"
	"sync"

	"accord/internal/chat/models"
	id "accord/pkg/domain"
)

// InMemoryStore keeps the message log in memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[id.PartnerID][]*models.Message
}

// NewInMemory constructs an empty in-memory chat store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{messages: make(map[id.PartnerID][]*models.Message)}
}

func (s *InMemoryStore) Append(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyMessage := *message
	s.messages[message.PartnerID] = append(s.messages[message.PartnerID], &copyMessage)
	return nil
}

func (s *InMemoryStore) ListByPartner(_ context.Context, partnerID id.PartnerID) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, 0, len(s.messages[partnerID]))
	for _, message := range s.messages[partnerID] {
		copyMessage := *message
		out = append(out, &copyMessage)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
