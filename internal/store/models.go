package store

import "time"

// User is a marketplace account. Gold, level, and the sign-in streak are
// mutated only through ledger operations; the membership containers are
// mutated only through the social toggle and purchase settlement, so their
// sizes always match the corresponding counters on live FileRecords.
type User struct {
	ID           uint64               `json:"id"`
	Username     string               `json:"username"`
	PasswordHash string               `json:"password_hash"`
	Gold         int64                `json:"gold"`
	Level        int                  `json:"level"`
	SignStreak   int                  `json:"sign_streak"`
	LastSignDate string               `json:"last_sign_date,omitempty"` // YYYY-MM-DD
	Collections  map[uint64]bool      `json:"collections"`
	Likes        map[uint64]bool      `json:"likes"`
	Purchases    map[uint64]time.Time `json:"purchases"`
	CreatedAt    time.Time            `json:"created_at"`
}

func (u *User) RecordID() uint64      { return u.ID }
func (u *User) SetRecordID(id uint64) { u.ID = id }

// NewUser returns an account with zero balances and empty containers.
func NewUser(username, passwordHash string, now time.Time) *User {
	return &User{
		Username:     username,
		PasswordHash: passwordHash,
		Collections:  make(map[uint64]bool),
		Likes:        make(map[uint64]bool),
		Purchases:    make(map[uint64]time.Time),
		CreatedAt:    now,
	}
}

// HasPurchased reports whether the user owns a copy of the file.
func (u *User) HasPurchased(fileID uint64) bool {
	_, ok := u.Purchases[fileID]
	return ok
}

// FileRecord is a published marketplace file. StorageKey addresses the
// assembled bytes in blob storage; the counters are derived aggregates kept
// in lockstep with the per-user containers by cross-collection transactions.
type FileRecord struct {
	ID            uint64    `json:"id"`
	UploadID      string    `json:"upload_id"`
	OwnerID       uint64    `json:"owner_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Price         int64     `json:"price"`
	SizeBytes     int64     `json:"size_bytes"`
	StorageKey    string    `json:"storage_key"`
	LikeCount     int64     `json:"like_count"`
	CollectCount  int64     `json:"collect_count"`
	PurchaseCount int64     `json:"purchase_count"`
	DownloadCount int64     `json:"download_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func (f *FileRecord) RecordID() uint64      { return f.ID }
func (f *FileRecord) SetRecordID(id uint64) { f.ID = id }
