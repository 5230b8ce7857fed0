package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yerrors "github.com/yanun0323/errors"

	"spotledger/pkg/exception"
)

func TestWrap(t *testing.T) {
	err := Wrap(errWrapped, "Hello, Wrapped!")
	if err.Error() != "Hello, Wrapped!, err: wrapped error" {
		t.Fatalf("error mismatch: %+v", err)
	}
	if Wrap(nil, "nothing") != nil {
		t.Fatalf("wrap nil should stay nil")
	}
}

func TestViolationMatchesSentinel(t *testing.T) {
	v := Violationf(exception.ErrLedgerChainBreak, "cash_ledger", "acct-1/PAPER/3", "balance_before %s != %s", "1", "2")
	err := Wrap(v, "commit cycle")

	require.True(t, errors.Is(err, exception.ErrLedgerChainBreak))
	assert.False(t, errors.Is(err, exception.ErrCausalityViolation))

	got, ok := AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, "cash_ledger", got.Table)
	assert.Equal(t, "acct-1/PAPER/3", got.RowID)
	assert.Contains(t, err.Error(), "ledger chain break table=cash_ledger row=acct-1/PAPER/3: balance_before 1 != 2")
}

func TestJoinCollectsViolations(t *testing.T) {
	a := Violationf(exception.ErrCausalityViolation, "order_fill", "f1", "early")
	b := Violationf(exception.ErrClusterCapViolation, "order_request", "o1", "over cap")
	err := Join(nil, a, Wrap(b, "cluster"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrCausalityViolation))
	assert.True(t, errors.Is(err, exception.ErrClusterCapViolation))

	vs := Violations(err)
	require.Len(t, vs, 2)
	assert.Equal(t, "f1", vs[0].RowID)
	assert.Equal(t, "o1", vs[1].RowID)

	assert.NoError(t, Join(nil, nil))
}

func TestViolationSurvivesFlatteningWrap(t *testing.T) {
	v := Violationf(exception.ErrRiskGateViolation, "order_request", "o7", "halted")
	err := yerrors.Wrapf(yerrors.Wrap(v, "admit"), "commit cycle").With("partition", "acct-1/PAPER")

	got, ok := AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, "o7", got.RowID)
	assert.True(t, yerrors.Is(err, exception.ErrRiskGateViolation))
	assert.True(t, errors.Is(err, exception.ErrRiskGateViolation))
	assert.False(t, yerrors.Is(err, exception.ErrLedgerChainBreak))

	joined := Join(err, yerrors.Wrap(Violationf(exception.ErrCausalityViolation, "order_fill", "f2", "early"), "fill"))
	vs := Violations(joined)
	require.Len(t, vs, 2)
	assert.Equal(t, "o7", vs[0].RowID)
	assert.Equal(t, "f2", vs[1].RowID)
	assert.True(t, yerrors.Is(joined, exception.ErrCausalityViolation))
}
