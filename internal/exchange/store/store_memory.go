package store

import (
	"context"
	"sort"
	"sync"

	"accord/internal/agent"
	"accord/internal/exchange/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

// InMemoryStore keeps exchanges in memory under one mutex.
type InMemoryStore struct {
	mu            sync.RWMutex
	exchanges     map[id.ExchangeID]*models.Exchange
	byCorrelation map[string]id.ExchangeID
}

// NewInMemory constructs an empty in-memory exchange store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		exchanges:     make(map[id.ExchangeID]*models.Exchange),
		byCorrelation: make(map[string]id.ExchangeID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, exchange *models.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.exchanges[exchange.ID]; exists {
		return sentinel.ErrDuplicate
	}
	if exchange.CorrelationID != "" {
		if _, exists := s.byCorrelation[exchange.CorrelationID]; exists {
			return sentinel.ErrDuplicate
		}
	}
	copyExchange := cloneExchange(exchange)
	s.exchanges[exchange.ID] = copyExchange
	if exchange.CorrelationID != "" {
		s.byCorrelation[exchange.CorrelationID] = exchange.ID
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, exchangeID id.ExchangeID) (*models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exchange, ok := s.exchanges[exchangeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneExchange(exchange), nil
}

func (s *InMemoryStore) FindByCorrelationID(_ context.Context, correlationID string) (*models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exchangeID, ok := s.byCorrelation[correlationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneExchange(s.exchanges[exchangeID]), nil
}

func (s *InMemoryStore) ListByPartner(_ context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(e *models.Exchange) bool { return e.PartnerID == partnerID }), nil
}

func (s *InMemoryStore) ListOpenByPartner(_ context.Context, partnerID id.PartnerID) ([]*models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(func(e *models.Exchange) bool { return e.PartnerID == partnerID && e.IsOpen() }), nil
}

func (s *InMemoryStore) FindOpenByPartnerAndDocument(_ context.Context, partnerID id.PartnerID, kind models.Kind, documentID string) (*models.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, exchange := range s.exchanges {
		if exchange.PartnerID == partnerID && exchange.Kind == kind && exchange.DocumentID == documentID && exchange.IsOpen() {
			return cloneExchange(exchange), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) CountCompletedByPartner(_ context.Context, partnerID id.PartnerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, exchange := range s.exchanges {
		if exchange.PartnerID == partnerID && exchange.State == models.StateComplete {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Execute(_ context.Context, exchangeID id.ExchangeID, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exchange, ok := s.exchanges[exchangeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return executeLocked(exchange, validate, mutate)
}

func (s *InMemoryStore) ExecuteByCorrelationID(_ context.Context, correlationID string, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exchangeID, ok := s.byCorrelation[correlationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return executeLocked(s.exchanges[exchangeID], validate, mutate)
}

func executeLocked(exchange *models.Exchange, validate func(*models.Exchange) error, mutate func(*models.Exchange)) (*models.Exchange, error) {
	working := cloneExchange(exchange)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	*exchange = *cloneExchange(working)
	return working, nil
}

func (s *InMemoryStore) listLocked(keep func(*models.Exchange) bool) []*models.Exchange {
	out := make([]*models.Exchange, 0)
	for _, exchange := range s.exchanges {
		if keep(exchange) {
			out = append(out, cloneExchange(exchange))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneExchange(e *models.Exchange) *models.Exchange {
	copyExchange := *e
	if e.Claims != nil {
		copyExchange.Claims = make(map[string]string, len(e.Claims))
		for k, v := range e.Claims {
			copyExchange.Claims[k] = v
		}
	}
	if e.Attributes != nil {
		copyExchange.Attributes = append([]agent.DisclosedAttribute(nil), e.Attributes...)
	}
	return &copyExchange
}
