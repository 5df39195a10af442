// Package ledger implements the gold economy: daily sign-in rewards,
// account-to-account transfers, and purchase settlement. Every operation
// that touches more than one record runs inside a single store transaction,
// so an observer never sees gold leave one account without arriving at the
// other, and a crash cannot strand a half-applied purchase.
package ledger

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"goldmarket/internal/store"
)

var (
	ErrAlreadySigned     = errors.New("already signed in today")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrReceiverNotFound  = errors.New("receiver not found")
	ErrInsufficientFunds = errors.New("insufficient gold")
	ErrSelfPurchase      = errors.New("cannot buy your own file")
	ErrAlreadyPurchased  = errors.New("file already purchased")
	ErrFileNotFound      = errors.New("file not found")
)

// Sign-in rewards a uniform random amount of gold in [RewardMin, RewardMax].
const (
	RewardMin = 10
	RewardMax = 30
)

const dateLayout = "2006-01-02"

// Service performs ledger operations over the user and file collections.
type Service struct {
	db    *store.DB
	users *store.Users
	files *store.Files

	now func() time.Time
}

func NewService(db *store.DB, users *store.Users, files *store.Files) *Service {
	return &Service{
		db:    db,
		users: users,
		files: files,
		now:   time.Now,
	}
}

// SignResult reports the outcome of a daily sign-in for display.
type SignResult struct {
	Reward int64
	Streak int
	Level  int
	Gold   int64
}

// SignIn performs the daily sign-in for the user. At most one sign-in per
// calendar day succeeds; a sign-in on the day after the previous one extends
// the streak, any gap resets it to 1. The level is a step function of the
// post-increment streak.
func (s *Service) SignIn(ctx context.Context, userID uint64) (*SignResult, error) {
	today := s.now().Format(dateLayout)
	yesterday := s.now().AddDate(0, 0, -1).Format(dateLayout)
	reward := int64(RewardMin + rand.Intn(RewardMax-RewardMin+1))

	var result SignResult
	_, err := s.users.Mutate(ctx, userID, func(u *store.User) error {
		if u.LastSignDate == today {
			return ErrAlreadySigned
		}

		if u.LastSignDate == yesterday {
			u.SignStreak++
		} else {
			u.SignStreak = 1
		}

		u.Gold += reward
		u.Level = levelForStreak(u.SignStreak)
		u.LastSignDate = today

		result = SignResult{Reward: reward, Streak: u.SignStreak, Level: u.Level, Gold: u.Gold}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func levelForStreak(streak int) int {
	switch {
	case streak >= 4:
		return 3
	case streak >= 2:
		return 2
	default:
		return 1
	}
}

// Transfer moves amount gold from one user to another as a single economic
// event. Returns the sender's new balance.
func (s *Service) Transfer(ctx context.Context, from, to uint64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if from == to {
		return 0, ErrSelfTransfer
	}

	var senderBalance int64
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		if _, err := s.users.GetTx(tx, to); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrReceiverNotFound
			}
			return err
		}

		sender, err := s.users.MutateTx(tx, from, func(u *store.User) error {
			if u.Gold < amount {
				return ErrInsufficientFunds
			}
			u.Gold -= amount
			return nil
		})
		if err != nil {
			return err
		}
		senderBalance = sender.Gold

		_, err = s.users.MutateTx(tx, to, func(u *store.User) error {
			u.Gold += amount
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return senderBalance, nil
}

// Purchase settles a file purchase: the buyer is debited the price, the
// owner credited, the purchase recorded on the buyer, and the file's
// purchase counter incremented, all in one transaction. A second purchase of
// the same file by the same buyer fails with ErrAlreadyPurchased even when
// racing the first.
func (s *Service) Purchase(ctx context.Context, buyerID, fileID uint64) (int64, error) {
	var buyerBalance int64
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		file, err := s.files.GetTx(tx, fileID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrFileNotFound
			}
			return err
		}
		if file.OwnerID == buyerID {
			return ErrSelfPurchase
		}

		now := s.now()
		buyer, err := s.users.MutateTx(tx, buyerID, func(u *store.User) error {
			if u.HasPurchased(fileID) {
				return ErrAlreadyPurchased
			}
			if u.Gold < file.Price {
				return ErrInsufficientFunds
			}
			u.Gold -= file.Price
			u.Purchases[fileID] = now
			return nil
		})
		if err != nil {
			return err
		}
		buyerBalance = buyer.Gold

		if _, err := s.users.MutateTx(tx, file.OwnerID, func(u *store.User) error {
			u.Gold += file.Price
			return nil
		}); err != nil {
			return err
		}

		_, err = s.files.MutateTx(tx, fileID, func(f *store.FileRecord) error {
			f.PurchaseCount++
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return buyerBalance, nil
}
