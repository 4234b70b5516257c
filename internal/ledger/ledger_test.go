package ledger_test

import (
	"context"
	"testing"

	"github.com/abdoElHodaky/exchange-core/internal/ledger"
	"github.com/abdoElHodaky/exchange-core/pkg/coretypes"
	"github.com/abdoElHodaky/exchange-core/pkg/xerrors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	l := ledger.New(db, zap.NewNop())
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func TestLedger_DepositThenReserveDebitsUser(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	user := coretypes.UserID("u1")

	require.NoError(t, l.Deposit(ctx, user, coretypes.USD, 1000, ledger.TxChainDeposit))

	before, err := l.Balance(ctx, user, coretypes.USD)
	require.NoError(t, err)
	require.Equal(t, int64(1000), before)

	_, err = l.Reserve(ctx, user, coretypes.USD, 400)
	require.NoError(t, err)

	after, err := l.Balance(ctx, user, coretypes.USD)
	require.NoError(t, err)
	require.Equal(t, int64(600), after)
}

func TestLedger_ReserveFailsWhenBalanceInsufficient(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Reserve(ctx, coretypes.UserID("brand-new-user"), coretypes.USD, 100)
	require.Error(t, err)
}

func TestLedger_RevertRestoresBalanceToPreReserveState(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	user := coretypes.UserID("u1")

	require.NoError(t, l.Deposit(ctx, user, coretypes.USD, 1000, ledger.TxChainDeposit))

	id, err := l.Reserve(ctx, user, coretypes.USD, 250)
	require.NoError(t, err)

	mid, err := l.Balance(ctx, user, coretypes.USD)
	require.NoError(t, err)
	require.Equal(t, int64(750), mid)

	require.NoError(t, l.Revert(ctx, id))

	after, err := l.Balance(ctx, user, coretypes.USD)
	require.NoError(t, err)
	require.Equal(t, int64(1000), after)
}

func TestLedger_RevertUnknownReservationReturnsNotFound(t *testing.T) {
	l := newTestLedger(t)
	err := l.Revert(context.Background(), ledger.ReservationID(999))
	require.Error(t, err)
	require.Equal(t, xerrors.NotFound, xerrors.GetCode(err))
}

func TestLedger_BalanceIsIndependentAcrossCurrencies(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	user := coretypes.UserID("u1")

	require.NoError(t, l.Deposit(ctx, user, coretypes.USD, 500, ledger.TxChainDeposit))
	require.NoError(t, l.Deposit(ctx, user, coretypes.Currency("BTC"), 3, ledger.TxChainDeposit))

	usd, err := l.Balance(ctx, user, coretypes.USD)
	require.NoError(t, err)
	btc, err := l.Balance(ctx, user, coretypes.Currency("BTC"))
	require.NoError(t, err)

	require.Equal(t, int64(500), usd)
	require.Equal(t, int64(3), btc)
}
