// Package social implements the like and collect toggles. Both features are
// the same algorithm: flip the file's membership in a per-user set and move
// the file's paired counter by one, atomically across the two records.
package social

import (
	"context"
	"errors"

	"goldmarket/internal/store"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrSelfLike     = errors.New("cannot like your own file")
)

// Kind selects which membership set and counter a toggle operates on.
type Kind string

const (
	Like    Kind = "like"
	Collect Kind = "collect"
)

// Action is the result of a toggle, so callers can adjust cached counters
// by one instead of re-fetching.
type Action string

const (
	Added   Action = "add"
	Removed Action = "remove"
)

type Service struct {
	db    *store.DB
	users *store.Users
	files *store.Files
}

func NewService(db *store.DB, users *store.Users, files *store.Files) *Service {
	return &Service{db: db, users: users, files: files}
}

// Toggle flips the user's like or collect membership for the file. Adding
// increments the file's counter, removing decrements it; a second identical
// call restores the original state. Likes on the user's own file are
// rejected.
func (s *Service) Toggle(ctx context.Context, kind Kind, userID, fileID uint64) (Action, error) {
	var action Action
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		file, err := s.files.GetTx(tx, fileID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrFileNotFound
			}
			return err
		}
		if kind == Like && file.OwnerID == userID {
			return ErrSelfLike
		}

		if _, err := s.users.MutateTx(tx, userID, func(u *store.User) error {
			set := u.Likes
			if kind == Collect {
				set = u.Collections
			}
			if set[fileID] {
				delete(set, fileID)
				action = Removed
			} else {
				set[fileID] = true
				action = Added
			}
			return nil
		}); err != nil {
			return err
		}

		_, err = s.files.MutateTx(tx, fileID, func(f *store.FileRecord) error {
			delta := int64(1)
			if action == Removed {
				delta = -1
			}
			if kind == Like {
				f.LikeCount += delta
			} else {
				f.CollectCount += delta
			}
			return nil
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return action, nil
}
