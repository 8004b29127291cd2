package store

import (
	"fmt"

	"github.com/pavelanni/shoshin/internal/model"
)

func (s *Store) headquarters() Collection[model.Headquarters] {
	return newCollection(s, CollectionHeadquarters, func(h *model.Headquarters) *string { return &h.Code })
}

// ListHeadquarters returns all headquarters in creation order.
func (s *Store) ListHeadquarters() ([]model.Headquarters, error) {
	return s.headquarters().List()
}

// GetHeadquarters returns a headquarters by code, or nil.
func (s *Store) GetHeadquarters(code string) (*model.Headquarters, error) {
	return s.headquarters().Get(code)
}

// PutHeadquarters writes each headquarters keyed by its code.
func (s *Store) PutHeadquarters(hqs ...model.Headquarters) error {
	for _, hq := range hqs {
		if err := s.headquarters().Put(hq); err != nil {
			return fmt.Errorf("put headquarters %s: %w", hq.Code, err)
		}
	}
	return nil
}

// DeleteHeadquarters removes a headquarters.
func (s *Store) DeleteHeadquarters(code string) error {
	return s.headquarters().Delete(code)
}
