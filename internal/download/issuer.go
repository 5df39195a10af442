// Package download issues and redeems single-use download grants. A grant
// is an unguessable capability binding one principal to one file for a
// bounded time; redeeming it consumes it, so a leaked URL is good for at
// most one stream.
package download

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"goldmarket/internal/files"
	"goldmarket/internal/store"
)

var (
	ErrNotPurchased = errors.New("file not purchased")
	ErrFileMissing  = errors.New("file missing from storage")
	ErrInvalidToken = errors.New("invalid or consumed download token")
	ErrExpired      = errors.New("download token expired")
)

// DefaultTTL is how long a grant stays redeemable after issue.
const DefaultTTL = 10 * time.Minute

// Grant is a live, unredeemed download capability.
type Grant struct {
	Token       string
	FileID      uint64
	PrincipalID uint64
	IssuedAt    time.Time
}

// Issuer mints and redeems download grants. State is in-memory and
// ephemeral: grants do not survive a restart, which only costs the client a
// second "generate download" request.
type Issuer struct {
	files *files.Service
	users *store.Users
	ttl   time.Duration

	mu          sync.Mutex
	grants      map[string]*Grant // keyed by token
	byPrincipal map[uint64]string // principal -> live token

	now func() time.Time
}

func NewIssuer(filesSvc *files.Service, users *store.Users, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		files:       filesSvc,
		users:       users,
		ttl:         ttl,
		grants:      make(map[string]*Grant),
		byPrincipal: make(map[uint64]string),
		now:         time.Now,
	}
}

// TTL returns the grant lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a grant for the principal to download the file once. The
// principal must have purchased the file and its bytes must still exist.
// Each principal holds at most one live grant; issuing a new one invalidates
// any previous unredeemed grant.
func (i *Issuer) Issue(ctx context.Context, principalID, fileID uint64) (*Grant, error) {
	user, err := i.users.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !user.HasPurchased(fileID) {
		return nil, ErrNotPurchased
	}

	if err := i.files.StatBlob(ctx, fileID); err != nil {
		if errors.Is(err, files.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
			return nil, ErrFileMissing
		}
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	grant := &Grant{
		Token:       token,
		FileID:      fileID,
		PrincipalID: principalID,
		IssuedAt:    i.now(),
	}

	i.mu.Lock()
	if prev, ok := i.byPrincipal[principalID]; ok {
		delete(i.grants, prev)
	}
	i.grants[token] = grant
	i.byPrincipal[principalID] = token
	i.mu.Unlock()

	return grant, nil
}

// Redeem consumes the grant and returns the file record and a reader over
// its bytes. Exactly one of any number of concurrent redemptions of the
// same token succeeds; the rest fail with ErrInvalidToken. A successful
// redemption increments the file's download counter once.
func (i *Issuer) Redeem(ctx context.Context, token string) (*store.FileRecord, io.ReadCloser, error) {
	i.mu.Lock()
	grant, ok := i.grants[token]
	if ok {
		// Consumed on first sight, expired or not.
		delete(i.grants, token)
		if i.byPrincipal[grant.PrincipalID] == token {
			delete(i.byPrincipal, grant.PrincipalID)
		}
	}
	i.mu.Unlock()

	if !ok {
		return nil, nil, ErrInvalidToken
	}
	if i.now().Sub(grant.IssuedAt) > i.ttl {
		return nil, nil, ErrExpired
	}

	record, reader, err := i.files.Open(ctx, grant.FileID)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrFileMissing
		}
		return nil, nil, err
	}

	record, err = i.files.IncrementDownloads(ctx, grant.FileID)
	if err != nil {
		reader.Close()
		return nil, nil, err
	}
	return record, reader, nil
}

// SweepExpired drops grants past their TTL. Returns the number removed.
func (i *Issuer) SweepExpired() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	removed := 0
	for token, grant := range i.grants {
		if i.now().Sub(grant.IssuedAt) > i.ttl {
			delete(i.grants, token)
			if i.byPrincipal[grant.PrincipalID] == token {
				delete(i.byPrincipal, grant.PrincipalID)
			}
			removed++
		}
	}
	return removed
}

// generateToken returns 128 bits from crypto/rand, hex encoded.
func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
