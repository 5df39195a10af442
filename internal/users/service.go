// Package users handles account creation and credential checks. Identity
// for every core operation comes from here; the core packages themselves
// never read ambient session state.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"goldmarket/internal/store"
)

var (
	ErrEmptyCredentials = errors.New("username and password must not be empty")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrUsernameTaken    = errors.New("username already exists")
	ErrInvalidLogin     = errors.New("invalid username or password")
	ErrWrongOldPassword = errors.New("old password is incorrect")
)

const bcryptCost = 12

// Service manages accounts over the user collection.
type Service struct {
	users *store.Users
}

func NewService(users *store.Users) *Service {
	return &Service{users: users}
}

// Register creates a new account. Usernames are unique and case-sensitive;
// new accounts start with zero gold and empty containers.
func (s *Service) Register(ctx context.Context, username, password, confirm string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrEmptyCredentials
	}
	if password != confirm {
		return nil, ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	user := store.NewUser(username, string(hash), time.Now())

	// Uniqueness is checked inside the insert transaction so two
	// simultaneous registrations of the same name cannot both pass.
	err = s.users.DB().Update(ctx, func(tx *store.Tx) error {
		existing, err := s.users.ListTx(tx)
		if err != nil {
			return err
		}
		for _, u := range existing {
			if u.Username == username {
				return ErrUsernameTaken
			}
		}
		_, err = s.users.InsertTx(tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and returns the account.
func (s *Service) Login(ctx context.Context, username, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrEmptyCredentials
	}

	all, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range all {
		if u.Username == username {
			if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil {
				return u, nil
			}
			break
		}
	}
	return nil, ErrInvalidLogin
}

// Get returns the account by id.
func (s *Service) Get(ctx context.Context, id uint64) (*store.User, error) {
	return s.users.Get(ctx, id)
}

// ChangePassword replaces the user's password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, userID uint64, oldPassword, newPassword, confirm string) error {
	if oldPassword == "" || newPassword == "" {
		return ErrEmptyCredentials
	}
	if newPassword != confirm {
		return ErrPasswordMismatch
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}

	_, err = s.users.Mutate(ctx, userID, func(u *store.User) error {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
			return ErrWrongOldPassword
		}
		u.PasswordHash = string(hash)
		return nil
	})
	return err
}
