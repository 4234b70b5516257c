// Package ledger implements the double-entry accounting core (C6): ledger
// accounts keyed by (source_type, source_id, currency), an append-only
// journal of credit/debit pairs, and the reserve/revert primitives the
// placement coordinator uses to hold funds across the two-phase place-order
// protocol.
//
// Grounded directly on the original implementation's
// crates/common-core/src/app_cx.rs (reserve_by_asset, the exchange-account
// SELECT-by-source_type/source_id subquery) and app_cx/reserve_ok.rs
// (revert as an inverse journal row with credit/debit swapped). Re-expressed
// with gorm transactions in place of raw sqlx queries, following the
// teacher's repository shape (internal/db/repositories/order_repository.go:
// WithContext, zap logging on failure, errors.Is against
// gorm.ErrRecordNotFound).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"github.com/abdoElHodaky/exchange-core/pkg/xerrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SourceType classifies which kind of account a journal entry touches.
type SourceType string

const (
	SourceUser   SourceType = "user"
	SourceFiat   SourceType = "fiat"
	SourceCrypto SourceType = "crypto"
)

// ExchangeSourceID is the well-known source_id for the exchange's own fiat
// and crypto accounts, credited when a user's funds are reserved.
const ExchangeSourceID = "exchange"

// TransactionType tags what a journal entry represents, matching the
// original schema's transaction_type values.
type TransactionType string

const (
	TxReserveAsset       TransactionType = "reserve asset"
	TxRevertReserveAsset TransactionType = "revert reserve asset"
	TxTradeSettlement    TransactionType = "trade settlement"
	TxChainDeposit       TransactionType = "CHAIN.DEPOSIT"
)

// Account is a ledger account row. Accounts are created lazily (by
// accountID's FirstOrCreate) on first reference; the table exists mainly to
// give journal rows a stable foreign key and a place to look up an account's
// identity.
type Account struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	SourceType string `gorm:"uniqueIndex:idx_account_tuple;not null"`
	SourceID   string `gorm:"uniqueIndex:idx_account_tuple;not null"`
	Currency   string `gorm:"uniqueIndex:idx_account_tuple;not null"`
}

func (Account) TableName() string { return "accounts" }

// Entry is one append-only journal row: a credit to one account and a debit
// to another of the same currency and amount. Balance is always derived by
// summing entries, never stored.
type Entry struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	CreditAccountID uint64 `gorm:"not null;index"`
	DebitAccountID  uint64 `gorm:"not null;index"`
	Currency        string `gorm:"not null"`
	Amount          int64  `gorm:"not null"`
	TransactionType string `gorm:"not null"`
	CreatedAt       time.Time
}

func (Entry) TableName() string { return "account_tx_journal" }

// ReservationID identifies a reserve journal entry, returned by Reserve and
// consumed by Revert.
type ReservationID uint64

// Ledger is the gorm-backed double-entry store.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New returns a Ledger over db.
func New(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Migrate creates the accounts and account_tx_journal tables if absent.
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&Account{}, &Entry{}); err != nil {
		return xerrors.Wrap(err, xerrors.Storage, "ledger migration failed")
	}
	return nil
}

func sourceTypeForCurrency(ccy coretypes.Currency) SourceType {
	if ccy == coretypes.USD {
		return SourceFiat
	}
	return SourceCrypto
}

func (l *Ledger) accountID(tx *gorm.DB, sourceType SourceType, sourceID string, ccy coretypes.Currency) (uint64, error) {
	acct := Account{SourceType: string(sourceType), SourceID: sourceID, Currency: string(ccy)}
	// FirstOrCreate can race when two transactions create the same account
	// at once (the coordinator calls Reserve from each caller's goroutine,
	// not through the engine worker). The unique index on
	// (source_type, source_id, currency) makes the losing transaction fail
	// with an error instead of creating a duplicate account.
	if err := tx.Where(Account{SourceType: acct.SourceType, SourceID: acct.SourceID, Currency: acct.Currency}).
		FirstOrCreate(&acct).Error; err != nil {
		return 0, err
	}
	return acct.ID, nil
}

// Balance returns the user's balance in ccy: the sum of everything credited
// to their account minus everything debited from it. Never stored directly.
func (l *Ledger) Balance(ctx context.Context, user coretypes.UserID, ccy coretypes.Currency) (int64, error) {
	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acctID, err := l.accountID(tx, SourceUser, string(user), ccy)
		if err != nil {
			return err
		}

		var credited, debited int64
		if err := tx.Model(&Entry{}).
			Where("credit_account_id = ?", acctID).
			Select("COALESCE(SUM(amount), 0)").Scan(&credited).Error; err != nil {
			return err
		}
		if err := tx.Model(&Entry{}).
			Where("debit_account_id = ?", acctID).
			Select("COALESCE(SUM(amount), 0)").Scan(&debited).Error; err != nil {
			return err
		}
		balance = credited - debited
		return nil
	})
	if err != nil {
		return 0, xerrors.Wrap(err, xerrors.Storage, "balance lookup failed")
	}
	return balance, nil
}

// Reserve debits user's account and credits the exchange's matching account
// by quantity, failing with InsufficientFunds if the user's current balance
// is below quantity. The returned ReservationID is later passed to Revert
// if the order this reservation backs never successfully commits.
func (l *Ledger) Reserve(ctx context.Context, user coretypes.UserID, ccy coretypes.Currency, quantity int64) (ReservationID, error) {
	if quantity <= 0 {
		return 0, xerrors.New(xerrors.Internal, "reserve quantity must be positive")
	}

	var id ReservationID
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userAcctID, err := l.accountID(tx, SourceUser, string(user), ccy)
		if err != nil {
			return err
		}

		var credited, debited int64
		if err := tx.Model(&Entry{}).Where("credit_account_id = ?", userAcctID).
			Select("COALESCE(SUM(amount), 0)").Scan(&credited).Error; err != nil {
			return err
		}
		if err := tx.Model(&Entry{}).Where("debit_account_id = ?", userAcctID).
			Select("COALESCE(SUM(amount), 0)").Scan(&debited).Error; err != nil {
			return err
		}
		balance := credited - debited
		if balance < quantity {
			return xerrors.New(xerrors.InsufficientFunds, fmt.Sprintf("balance %d below requested reservation %d", balance, quantity))
		}

		exchangeAcctID, err := l.accountID(tx, sourceTypeForCurrency(ccy), ExchangeSourceID, ccy)
		if err != nil {
			return err
		}

		entry := &Entry{
			CreditAccountID: exchangeAcctID,
			DebitAccountID:  userAcctID,
			Currency:        string(ccy),
			Amount:          quantity,
			TransactionType: string(TxReserveAsset),
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		id = ReservationID(entry.ID)
		return nil
	})

	if err != nil {
		var ce *xerrors.CoreError
		if errors.As(err, &ce) {
			return 0, ce
		}
		l.logger.Error("reserve failed", zap.Error(err), zap.String("user", string(user)))
		return 0, xerrors.Wrap(err, xerrors.Storage, "reserve failed")
	}
	return id, nil
}

// Deposit credits user's account and debits the exchange's matching
// account by quantity — the ledger side-effect of a confirmed on-chain
// deposit or other external funding event. Grounded on the original
// implementation's check_bitcoind chain-scan loop, which posts exactly this
// credit/debit pair with transaction_type 'CHAIN.DEPOSIT' once a
// transaction is confirmed.
func (l *Ledger) Deposit(ctx context.Context, user coretypes.UserID, ccy coretypes.Currency, quantity int64, txType TransactionType) error {
	if quantity <= 0 {
		return xerrors.New(xerrors.Internal, "deposit quantity must be positive")
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userAcctID, err := l.accountID(tx, SourceUser, string(user), ccy)
		if err != nil {
			return err
		}
		exchangeAcctID, err := l.accountID(tx, sourceTypeForCurrency(ccy), ExchangeSourceID, ccy)
		if err != nil {
			return err
		}

		entry := &Entry{
			CreditAccountID: userAcctID,
			DebitAccountID:  exchangeAcctID,
			Currency:        string(ccy),
			Amount:          quantity,
			TransactionType: string(txType),
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return xerrors.Wrap(err, xerrors.Storage, "deposit failed")
	}
	return nil
}

// Revert appends the inverse of the journal entry reservation identifies:
// same currency and amount, credit and debit swapped. It is the
// compensating action for a reservation whose order was never committed.
func (l *Ledger) Revert(ctx context.Context, reservation ReservationID) error {
	var newID uint64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original Entry
		if err := tx.First(&original, uint64(reservation)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerrors.New(xerrors.NotFound, "reservation not found")
			}
			return err
		}

		inverse := &Entry{
			CreditAccountID: original.DebitAccountID,
			DebitAccountID:  original.CreditAccountID,
			Currency:        original.Currency,
			Amount:          original.Amount,
			TransactionType: string(TxRevertReserveAsset),
		}
		if err := tx.Create(inverse).Error; err != nil {
			return err
		}
		newID = inverse.ID
		return nil
	})

	if err != nil {
		var ce *xerrors.CoreError
		if errors.As(err, &ce) {
			return ce
		}
		l.logger.Error("revert failed", zap.Error(err), zap.Uint64("reservation_id", uint64(reservation)))
		return xerrors.Wrap(err, xerrors.Storage, "revert failed")
	}
	l.logger.Debug("reverted reservation", zap.Uint64("reservation_id", uint64(reservation)), zap.Uint64("revert_entry_id", newID))
	return nil
}
