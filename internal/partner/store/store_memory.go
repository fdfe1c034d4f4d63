package store

import (
	"context"
	"sort"
	"sync"

	"accord/internal/partner/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

// InMemoryStore keeps partners in memory. One mutex guards the record map and
// both secondary indexes, so Execute callbacks run fully serialized per store.
type InMemoryStore struct {
	mu            sync.RWMutex
	partners      map[id.PartnerID]*models.Partner
	byDID         map[id.DID]id.PartnerID
	byCorrelation map[string]id.PartnerID
}

// NewInMemory constructs an empty in-memory partner store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		partners:      make(map[id.PartnerID]*models.Partner),
		byDID:         make(map[id.DID]id.PartnerID),
		byCorrelation: make(map[string]id.PartnerID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, partner *models.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.partners[partner.ID]; exists {
		return sentinel.ErrDuplicate
	}
	if !partner.DID.IsNil() {
		if _, exists := s.byDID[partner.DID]; exists {
			return sentinel.ErrDuplicate
		}
	}
	if partner.CorrelationID != "" {
		if _, exists := s.byCorrelation[partner.CorrelationID]; exists {
			return sentinel.ErrDuplicate
		}
	}

	copyPartner := *partner
	s.partners[partner.ID] = &copyPartner
	if !partner.DID.IsNil() {
		s.byDID[partner.DID] = partner.ID
	}
	if partner.CorrelationID != "" {
		s.byCorrelation[partner.CorrelationID] = partner.ID
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, partnerID id.PartnerID) (*models.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(partnerID)
}

func (s *InMemoryStore) FindByDID(_ context.Context, did id.DID) (*models.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partnerID, ok := s.byDID[did]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.findLocked(partnerID)
}

func (s *InMemoryStore) FindByCorrelationID(_ context.Context, correlationID string) (*models.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partnerID, ok := s.byCorrelation[correlationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.findLocked(partnerID)
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Partner, 0, len(s.partners))
	for _, partner := range s.partners {
		copyPartner := *partner
		out = append(out, &copyPartner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, partnerID id.PartnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, ok := s.partners[partnerID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !partner.DID.IsNil() {
		delete(s.byDID, partner.DID)
	}
	if partner.CorrelationID != "" {
		delete(s.byCorrelation, partner.CorrelationID)
	}
	delete(s.partners, partnerID)
	return nil
}

func (s *InMemoryStore) Execute(_ context.Context, partnerID id.PartnerID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, ok := s.partners[partnerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.executeLocked(partner, validate, mutate)
}

func (s *InMemoryStore) ExecuteByDID(_ context.Context, did id.DID, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	partnerID, ok := s.byDID[did]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	partner, ok := s.partners[partnerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.executeLocked(partner, validate, mutate)
}

// executeLocked runs validate and mutate on a working copy, committing the
// copy (and reindexing a changed DID) only when both succeed.
func (s *InMemoryStore) executeLocked(partner *models.Partner, validate func(*models.Partner) error, mutate func(*models.Partner)) (*models.Partner, error) {
	working := *partner
	if err := validate(&working); err != nil {
		return nil, err
	}
	mutate(&working)

	if working.DID != partner.DID {
		if !working.DID.IsNil() {
			if _, taken := s.byDID[working.DID]; taken {
				return nil, sentinel.ErrDuplicate
			}
			s.byDID[working.DID] = working.ID
		}
		if !partner.DID.IsNil() {
			delete(s.byDID, partner.DID)
		}
	}

	*partner = working
	result := working
	return &result, nil
}

func (s *InMemoryStore) findLocked(partnerID id.PartnerID) (*models.Partner, error) {
	partner, ok := s.partners[partnerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyPartner := *partner
	return &copyPartner, nil
}
