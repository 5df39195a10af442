package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStore(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	usersStore := NewUsers(db)

	t.Run("InsertAssignsMonotonicIDs", func(t *testing.T) {
		id1, err := usersStore.Insert(ctx, NewUser("alice", "hash", time.Now()))
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
		id2, err := usersStore.Insert(ctx, NewUser("bob", "hash", time.Now()))
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}

		if id1 != 1 {
			t.Errorf("first id = %d, want 1", id1)
		}
		if id2 != id1+1 {
			t.Errorf("second id = %d, want %d", id2, id1+1)
		}
	})

	t.Run("GetRoundTrip", func(t *testing.T) {
		got, err := usersStore.Get(ctx, 1)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got.Username != "alice" {
			t.Errorf("username = %q, want %q", got.Username, "alice")
		}
		if got.Likes == nil || got.Collections == nil || got.Purchases == nil {
			t.Error("expected containers to survive the round trip non-nil")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := usersStore.Get(ctx, 999)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		all, err := usersStore.List(ctx)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 users, got %d", len(all))
		}
		if all[0].ID != 1 || all[1].ID != 2 {
			t.Errorf("expected list ordered by id, got %d, %d", all[0].ID, all[1].ID)
		}
	})

	t.Run("MutateCommits", func(t *testing.T) {
		_, err := usersStore.Mutate(ctx, 1, func(u *User) error {
			u.Gold += 100
			return nil
		})
		if err != nil {
			t.Fatalf("failed to mutate: %v", err)
		}

		got, _ := usersStore.Get(ctx, 1)
		if got.Gold != 100 {
			t.Errorf("gold = %d, want 100", got.Gold)
		}
	})

	t.Run("MutateAbortWritesNothing", func(t *testing.T) {
		abort := errors.New("abort")
		_, err := usersStore.Mutate(ctx, 1, func(u *User) error {
			u.Gold = 9999
			return abort
		})
		if !errors.Is(err, abort) {
			t.Fatalf("expected abort error, got %v", err)
		}

		got, _ := usersStore.Get(ctx, 1)
		if got.Gold != 100 {
			t.Errorf("gold = %d after abort, want 100", got.Gold)
		}
	})

	t.Run("MutateNotFound", func(t *testing.T) {
		_, err := usersStore.Mutate(ctx, 999, func(u *User) error { return nil })
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestStore_NoLostUpdates drives many concurrent read-modify-write cycles
// at one record; every increment must survive.
func TestStore_NoLostUpdates(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	usersStore := NewUsers(db)
	id, err := usersStore.Insert(ctx, NewUser("carol", "hash", time.Now()))
	if err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := usersStore.Mutate(ctx, id, func(u *User) error {
				u.Gold++
				return nil
			})
			if err != nil {
				t.Errorf("mutate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := usersStore.Get(ctx, id)
	if got.Gold != workers {
		t.Errorf("gold = %d, want %d (lost updates)", got.Gold, workers)
	}
}

func TestStore_CrossCollectionUpdate(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	usersStore := NewUsers(db)
	filesStore := NewFiles(db)

	uid, _ := usersStore.Insert(ctx, NewUser("dave", "hash", time.Now()))
	fid, _ := filesStore.Insert(ctx, &FileRecord{OwnerID: uid, Name: "a.bin"})

	t.Run("BothCommit", func(t *testing.T) {
		err := db.Update(ctx, func(tx *Tx) error {
			if _, err := usersStore.MutateTx(tx, uid, func(u *User) error {
				u.Likes[fid] = true
				return nil
			}); err != nil {
				return err
			}
			_, err := filesStore.MutateTx(tx, fid, func(f *FileRecord) error {
				f.LikeCount++
				return nil
			})
			return err
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		u, _ := usersStore.Get(ctx, uid)
		f, _ := filesStore.Get(ctx, fid)
		if !u.Likes[fid] || f.LikeCount != 1 {
			t.Errorf("expected both sides committed, got likes=%v count=%d", u.Likes, f.LikeCount)
		}
	})

	t.Run("NeitherCommitsOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.Update(ctx, func(tx *Tx) error {
			if _, err := usersStore.MutateTx(tx, uid, func(u *User) error {
				u.Gold = 777
				return nil
			}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		u, _ := usersStore.Get(ctx, uid)
		if u.Gold != 0 {
			t.Errorf("gold = %d after rollback, want 0", u.Gold)
		}
	})
}

func TestOpenUnusablePath(t *testing.T) {
	// The parent directory does not exist, so the open fails at Ping.
	_, err := Open(filepath.Join(t.TempDir(), "missing", "market.db"))
	if err == nil {
		t.Fatal("expected an error for an unusable database path")
	}
}

func TestStore_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	ctx := context.Background()
	usersStore := NewUsers(db)
	id, err := usersStore.Insert(ctx, NewUser("erin", "hash", time.Now()))
	if err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if _, err := usersStore.Mutate(ctx, id, func(u *User) error {
		u.Gold = 42
		return nil
	}); err != nil {
		t.Fatalf("failed to mutate: %v", err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen database: %v", err)
	}
	defer reopened.Close()

	got, err := NewUsers(reopened).Get(ctx, id)
	if err != nil {
		t.Fatalf("failed to get after reopen: %v", err)
	}
	if got.Username != "erin" || got.Gold != 42 {
		t.Errorf("got %q gold=%d, want erin gold=42", got.Username, got.Gold)
	}
}
