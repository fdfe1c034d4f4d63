package store

import (
	"context"
	"sort"
	"sync"

	"accord/internal/trust/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

// InMemoryStore keeps the trust registry in memory. The single mutex makes
// the duplicate check in AddRestriction atomic without further coordination.
type InMemoryStore struct {
	mu           sync.RWMutex
	schemas      map[id.SchemaID]*models.Schema
	restrictions map[id.RestrictionID]*models.TrustedIssuerRestriction
	pairs        map[pairKey]id.RestrictionID
	definitions  map[id.CredentialDefinitionID]*models.CredentialDefinition
}

type pairKey struct {
	schemaID  id.SchemaID
	issuerDID id.DID
}

// NewInMemory constructs an empty in-memory trust store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		schemas:      make(map[id.SchemaID]*models.Schema),
		restrictions: make(map[id.RestrictionID]*models.TrustedIssuerRestriction),
		pairs:        make(map[pairKey]id.RestrictionID),
		definitions:  make(map[id.CredentialDefinitionID]*models.CredentialDefinition),
	}
}

func (s *InMemoryStore) SaveSchema(_ context.Context, schema *models.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schemas[schema.ID]; exists {
		return sentinel.ErrDuplicate
	}
	copySchema := *schema
	copySchema.Attributes = append([]string(nil), schema.Attributes...)
	s.schemas[schema.ID] = &copySchema
	return nil
}

func (s *InMemoryStore) FindSchema(_ context.Context, schemaID id.SchemaID) (*models.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.schemas[schemaID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copySchema := *schema
	return &copySchema, nil
}

func (s *InMemoryStore) ListSchemas(_ context.Context) ([]*models.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Schema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		copySchema := *schema
		out = append(out, &copySchema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteSchema(_ context.Context, schemaID id.SchemaID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[schemaID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.schemas, schemaID)
	return nil
}

// AddRestriction inserts the restriction if the (schema, issuer DID) pair is
// not already present. The check and insert happen under one lock, so
// concurrent adds of the same pair yield exactly one success.
func (s *InMemoryStore) AddRestriction(_ context.Context, restriction *models.TrustedIssuerRestriction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{schemaID: restriction.SchemaID, issuerDID: restriction.IssuerDID}
	if _, exists := s.pairs[key]; exists {
		return sentinel.ErrDuplicate
	}
	copyRestriction := *restriction
	s.restrictions[restriction.ID] = &copyRestriction
	s.pairs[key] = restriction.ID
	return nil
}

func (s *InMemoryStore) FindRestriction(_ context.Context, restrictionID id.RestrictionID) (*models.TrustedIssuerRestriction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	restriction, ok := s.restrictions[restrictionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copyRestriction := *restriction
	return &copyRestriction, nil
}

func (s *InMemoryStore) UpdateRestrictionLabel(_ context.Context, restrictionID id.RestrictionID, label string) (*models.TrustedIssuerRestriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	restriction, ok := s.restrictions[restrictionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	restriction.Label = label
	copyRestriction := *restriction
	return &copyRestriction, nil
}

func (s *InMemoryStore) DeleteRestriction(_ context.Context, restrictionID id.RestrictionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	restriction, ok := s.restrictions[restrictionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.pairs, pairKey{schemaID: restriction.SchemaID, issuerDID: restriction.IssuerDID})
	delete(s.restrictions, restrictionID)
	return nil
}

func (s *InMemoryStore) ListRestrictionsBySchema(_ context.Context, schemaID id.SchemaID) ([]*models.TrustedIssuerRestriction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TrustedIssuerRestriction, 0)
	for _, restriction := range s.restrictions {
		if restriction.SchemaID != schemaID {
			continue
		}
		copyRestriction := *restriction
		out = append(out, &copyRestriction)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CountRestrictions(_ context.Context, schemaID id.SchemaID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, restriction := range s.restrictions {
		if restriction.SchemaID == schemaID {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) SaveCredentialDefinition(_ context.Context, def *models.CredentialDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyDef := *def
	s.definitions[def.ID] = &copyDef
	return nil
}

func (s *InMemoryStore) DeleteCredentialDefinition(_ context.Context, defID id.CredentialDefinitionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[defID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.definitions, defID)
	return nil
}

func (s *InMemoryStore) ListCredentialDefinitionsBySchema(_ context.Context, schemaID id.SchemaID) ([]*models.CredentialDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CredentialDefinition, 0)
	for _, def := range s.definitions {
		if def.SchemaID != schemaID {
			continue
		}
		copyDef := *def
		out = append(out, &copyDef)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CountCredentialDefinitions(_ context.Context, schemaID id.SchemaID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, def := range s.definitions {
		if def.SchemaID == schemaID {
			count++
		}
	}
	return count, nil
}
