package store

import (
	"fmt"
	"log/slog"

	"github.com/pavelanni/shoshin/internal/model"
)

func (s *Store) users() Collection[model.User] {
	return newCollection(s, CollectionUsers, func(u *model.User) *string { return &u.ID })
}

// CreateUser inserts a new user keyed by employee ID.
func (s *Store) CreateUser(u model.User) (string, error) {
	if u.EmployeeID == "" {
		return "", fmt.Errorf("create user: employee ID required")
	}
	existing, err := s.GetUser(u.EmployeeID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("create user %s: %w", u.EmployeeID, ErrDuplicate)
	}
	u.ID = u.EmployeeID
	id, err := s.users().Create(u)
	if err != nil {
		slog.Error("failed to create user", "employee_id", u.EmployeeID, "error", err)
		return "", err
	}
	slog.Info("created user", "id", id, "role", u.Role)
	return id, nil
}

// GetUser returns a user by ID (the employee ID), or nil.
func (s *Store) GetUser(id string) (*model.User, error) {
	return s.users().Get(id)
}

// ListUsers returns all users.
func (s *Store) ListUsers() ([]model.User, error) {
	return s.users().List()
}

// UpdateUser merges fields into a user document.
func (s *Store) UpdateUser(id string, fields map[string]any) error {
	return s.users().Update(id, fields)
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(id string) error {
	return s.users().Delete(id)
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	return s.users().Count()
}
