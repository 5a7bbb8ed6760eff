package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, doErr, undoErr error) Step {
	return Step{
		Name: name,
		Do: func(context.Context) error {
			r.calls = append(r.calls, "do:"+name)
			return doErr
		},
		Undo: func(context.Context) error {
			r.calls = append(r.calls, "undo:"+name)
			return undoErr
		},
	}
}

func TestRunAllStepsSucceed(t *testing.T) {
	rec := &recorder{}
	s := New("fund").
		Add(rec.step("a", nil, nil)).
		Add(rec.step("b", nil, nil))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"do:a", "do:b"}, rec.calls)
}

func TestRunCompensatesInReverse(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("insert contract: timeout")
	s := New("fund").
		Add(rec.step("debit", nil, nil)).
		Add(rec.step("funding_tx", nil, nil)).
		Add(rec.step("contract", boom, nil))

	err := s.Run(context.Background())
	require.Error(t, err)

	var aborted *AbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, "contract", aborted.Step)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCompensationFailed)

	// The failing step wrote nothing, so only its predecessors are undone.
	assert.Equal(t, []string{"do:debit", "do:funding_tx", "do:contract", "undo:funding_tx", "undo:debit"}, rec.calls)
}

func TestRunReportsCompensationFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("approve: conflict")
	undoErr := errors.New("delete tx: connection reset")
	s := New("fund").
		Add(rec.step("debit", nil, nil)).
		Add(rec.step("funding_tx", nil, undoErr)).
		Add(rec.step("approve", boom, nil))
	s.Ref("wallet_id", "w-1")
	s.Ref("transaction_id", "tx-9")

	err := s.Run(context.Background())

	var comp *CompensationError
	require.ErrorAs(t, err, &comp)
	assert.ErrorIs(t, err, ErrCompensationFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAborted)
	assert.Equal(t, []string{"funding_tx"}, comp.FailedSteps())
	assert.Equal(t, "w-1", comp.Refs["wallet_id"])
	assert.Contains(t, err.Error(), "transaction_id=tx-9")

	// Remaining compensations still run after one fails.
	assert.Contains(t, rec.calls, "undo:debit")
}

func TestCompensationIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoCtxErr error
	s := New("fund").
		Add(Step{
			Name: "debit",
			Do:   func(context.Context) error { return nil },
			Undo: func(ctx context.Context) error {
				undoCtxErr = ctx.Err()
				return nil
			},
		}).
		Add(Step{
			Name: "contract",
			Do: func(context.Context) error {
				cancel()
				return context.Canceled
			},
		})

	err := s.Run(ctx)
	assert.ErrorIs(t, err, ErrAborted)
	assert.NoError(t, undoCtxErr)
}

func TestRefsReturnsCopy(t *testing.T) {
	s := New("x")
	s.Ref("k", "v")
	refs := s.Refs()
	refs["k"] = "changed"
	assert.Equal(t, "v", s.Refs()["k"])
	assert.Equal(t, "x", s.Name())
}
