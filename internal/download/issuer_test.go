package download

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldmarket/internal/files"
	"goldmarket/internal/store"
)

type fixture struct {
	t      *testing.T
	db     *store.DB
	users  *store.Users
	files  *store.Files
	svc    *files.Service
	issuer *Issuer
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage, err := files.NewFSStorage(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	fileStore := store.NewFiles(db)
	svc, err := files.NewService(storage, filepath.Join(t.TempDir(), "staging"), db, fileStore)
	require.NoError(t, err)

	users := store.NewUsers(db)
	return &fixture{
		t:      t,
		db:     db,
		users:  users,
		files:  fileStore,
		svc:    svc,
		issuer: NewIssuer(svc, users, ttl),
	}
}

func (f *fixture) addUser(username string) uint64 {
	f.t.Helper()
	user := store.NewUser(username, "hash", time.Now())
	id, err := f.users.Insert(context.Background(), user)
	require.NoError(f.t, err)
	return id
}

// addFile uploads one chunk and completes it so the blob really exists.
func (f *fixture) addFile(uploadID string, ownerID uint64, payload string) uint64 {
	f.t.Helper()
	ctx := context.Background()
	_, err := f.svc.ReceiveChunk(ctx, uploadID, 0, 1, strings.NewReader(payload))
	require.NoError(f.t, err)
	record, err := f.svc.Complete(ctx, uploadID, ownerID, 1, files.Meta{Name: uploadID + ".bin", Price: 10})
	require.NoError(f.t, err)
	return record.ID
}

func (f *fixture) markPurchased(userID, fileID uint64) {
	f.t.Helper()
	_, err := f.users.Mutate(context.Background(), userID, func(u *store.User) error {
		u.Purchases[fileID] = time.Now()
		return nil
	})
	require.NoError(f.t, err)
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresPurchase", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "bytes")

		_, err := f.issuer.Issue(ctx, buyer, fileID)
		assert.ErrorIs(t, err, ErrNotPurchased)
	})

	t.Run("RequiresBlobInStorage", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "bytes")
		f.markPurchased(buyer, fileID)
		require.NoError(t, f.svc.Delete(ctx, owner, fileID))

		_, err := f.issuer.Issue(ctx, buyer, fileID)
		assert.ErrorIs(t, err, ErrFileMissing)
	})

	t.Run("TokensAreUnique", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		fileID := f.addFile("u1", owner, "bytes")

		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			buyer := f.addUser("buyer" + string(rune('a'+i)))
			f.markPurchased(buyer, fileID)
			grant, err := f.issuer.Issue(ctx, buyer, fileID)
			require.NoError(t, err)
			assert.Len(t, grant.Token, 32)
			assert.False(t, seen[grant.Token], "token reused")
			seen[grant.Token] = true
		}
	})

	t.Run("NewGrantSupersedesPrevious", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "bytes")
		f.markPurchased(buyer, fileID)

		first, err := f.issuer.Issue(ctx, buyer, fileID)
		require.NoError(t, err)
		second, err := f.issuer.Issue(ctx, buyer, fileID)
		require.NoError(t, err)

		_, _, err = f.issuer.Redeem(ctx, first.Token)
		assert.ErrorIs(t, err, ErrInvalidToken, "superseded grant must be dead")

		record, reader, err := f.issuer.Redeem(ctx, second.Token)
		require.NoError(t, err)
		reader.Close()
		assert.Equal(t, fileID, record.ID)
	})
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()

	t.Run("StreamsBytesAndCountsOnce", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "the payload")
		f.markPurchased(buyer, fileID)

		grant, err := f.issuer.Issue(ctx, buyer, fileID)
		require.NoError(t, err)

		record, reader, err := f.issuer.Redeem(ctx, grant.Token)
		require.NoError(t, err)
		data, err := io.ReadAll(reader)
		reader.Close()
		require.NoError(t, err)
		assert.Equal(t, "the payload", string(data))
		assert.Equal(t, int64(1), record.DownloadCount)

		stored, err := f.files.Get(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.DownloadCount)
	})

	t.Run("SecondRedemptionRejected", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "bytes")
		f.markPurchased(buyer, fileID)

		grant, err := f.issuer.Issue(ctx, buyer, fileID)
		require.NoError(t, err)

		_, reader, err := f.issuer.Redeem(ctx, grant.Token)
		require.NoError(t, err)
		reader.Close()

		_, _, err = f.issuer.Redeem(ctx, grant.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ConcurrentRedemptionsSingleWinner", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "bytes")
		f.markPurchased(buyer, fileID)

		grant, err := f.issuer.Issue(ctx, buyer, fileID)
		require.NoError(t, err)

		var wins atomic.Int64
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, reader, err := f.issuer.Redeem(ctx, grant.Token); err == nil {
					reader.Close()
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), wins.Load())

		stored, err := f.files.Get(ctx, fileID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.DownloadCount, "counter must move once")
	})

	t.Run("ExpiredTokenRejected", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		owner := f.addUser("owner")
		buyer := f.addUser("buyer")
		fileID := f.addFile("u1", owner, "bytes")
		f.markPurchased(buyer, fileID)

		grant, err := f.issuer.Issue(ctx, buyer, fileID)
		require.NoError(t, err)

		f.issuer.now = func() time.Time { return grant.IssuedAt.Add(2 * time.Minute) }
		_, _, err = f.issuer.Redeem(ctx, grant.Token)
		assert.ErrorIs(t, err, ErrExpired)

		// Consumed on the expired attempt, so it cannot be replayed later.
		f.issuer.now = time.Now
		_, _, err = f.issuer.Redeem(ctx, grant.Token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("UnknownToken", func(t *testing.T) {
		f := newFixture(t, DefaultTTL)
		_, _, err := f.issuer.Redeem(ctx, "deadbeefdeadbeefdeadbeefdeadbeef")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	owner := f.addUser("owner")
	alice := f.addUser("alice")
	bob := f.addUser("bob")
	fileID := f.addFile("u1", owner, "bytes")
	f.markPurchased(alice, fileID)
	f.markPurchased(bob, fileID)

	stale, err := f.issuer.Issue(ctx, alice, fileID)
	require.NoError(t, err)

	// Only alice's grant is past the TTL when the sweep runs.
	f.issuer.now = func() time.Time { return stale.IssuedAt.Add(2 * time.Minute) }
	fresh, err := f.issuer.Issue(ctx, bob, fileID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.issuer.SweepExpired())

	_, _, err = f.issuer.Redeem(ctx, stale.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, reader, err := f.issuer.Redeem(ctx, fresh.Token)
	require.NoError(t, err)
	reader.Close()
}
