package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/statebridge"
	"github.com/clydemeng/vmadapter/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethvm "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/require"
)

func TestDryRunLeavesNoTrace(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		before, _ := a.StateRoot()

		for _, to := range []common.Address{storeAddr, reasonAddr, testRecv} {
			res, err := a.DryRun(context.Background(), signTx(t, a, header, 0, &to, big.NewInt(1), 100000), header, false)
			require.NoError(t, err)
			require.NotZero(t, res.UsedGas)
			require.Nil(t, res.Receipt)
		}
		v, _ := a.Storage(storeAddr, common.Hash{})
		require.Equal(t, common.Hash{}, v)
		acct, _ := a.Account(testAddr)
		require.Zero(t, acct.Nonce)
		requireBalance(t, a, testAddr, testBalance)
		requireBalance(t, a, testRecv, new(big.Int))

		after, _ := a.StateRoot()
		require.Equal(t, before, after)
	})
}

func TestDryRunSkipsNonceAndFunds(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())

		// Far more value than the sender owns, with a future nonce.
		value := new(big.Int).Mul(testBalance, big.NewInt(10))
		res, err := a.DryRun(context.Background(), signTx(t, a, header, 9, &testRecv, value, 21000), header, false)
		require.NoError(t, err)
		require.False(t, res.Failed())
		require.Equal(t, params.TxGas, res.UsedGas)
		requireBalance(t, a, testRecv, new(big.Int))
	})
}

func TestDryRunRevertReason(t *testing.T) {
	a, chain := newTestAdapter(t, statebridge.KindManaged)
	header := nextHeader(a, chain.CurrentHeader())

	res, err := a.DryRun(context.Background(), signTx(t, a, header, 0, &reasonAddr, nil, 100000), header, false)
	require.NoError(t, err)
	require.True(t, res.Reverted())
	require.Equal(t, "boom", res.RevertReason)
	require.Len(t, res.ReturnData, 100)
}

func TestDryRunForceBaseFeeZero(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		// The gas price is below the base fee.
		header.BaseFee = big.NewInt(10 * params.InitialBaseFee)

		tx := signTx(t, a, header, 0, &storeAddr, nil, 100000)
		_, err := a.DryRun(context.Background(), tx, header, false)
		require.ErrorIs(t, err, ErrInvalidTransaction)

		res, err := a.DryRun(context.Background(), tx, header, true)
		require.NoError(t, err)
		require.False(t, res.Failed())
	})
}

func TestDryRunCancelled(t *testing.T) {
	a, chain := newTestAdapter(t, statebridge.KindOverlay)
	header := nextHeader(a, chain.CurrentHeader())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.DryRun(ctx, signTx(t, a, header, 0, &storeAddr, nil, 100000), header, false)
	require.ErrorIs(t, err, ErrAborted)
	require.ErrorIs(t, err, context.Canceled)
}

// hookRecorder records callback invocations as compact strings.
type hookRecorder struct {
	events []string
	before func(*tracing.Message) tracing.Action
	step   func(*tracing.Step) tracing.Action
}

func (r *hookRecorder) callbacks() tracing.Callbacks {
	return tracing.Callbacks{
		BeforeMessage: func(m *tracing.Message) tracing.Action {
			r.events = append(r.events, fmt.Sprintf("enter %d %s", m.Depth, m.To.Hex()))
			if r.before != nil {
				return r.before(m)
			}
			return tracing.Continue()
		},
		Step: func(s *tracing.Step) tracing.Action {
			r.events = append(r.events, fmt.Sprintf("step %s %s", s.Address.Hex(), s.Opcode))
			if r.step != nil {
				return r.step(s)
			}
			return tracing.Continue()
		},
		AfterMessage: func(m *tracing.MessageResult) tracing.Action {
			r.events = append(r.events, fmt.Sprintf("exit %d", m.Depth))
			return tracing.Continue()
		},
	}
}

func nestedCallEvents(outerSteps, innerSteps bool) []string {
	step := func(addr common.Address, ops ...string) []string {
		out := make([]string, len(ops))
		for i, op := range ops {
			out[i] = fmt.Sprintf("step %s %s", addr.Hex(), op)
		}
		return out
	}
	events := []string{"enter 0 " + outerAddr.Hex()}
	if outerSteps {
		events = append(events, step(outerAddr, "PUSH1", "PUSH1", "PUSH1", "PUSH1", "PUSH1", "PUSH20", "GAS", "CALL")...)
	}
	events = append(events, "enter 1 "+innerAddr.Hex())
	if innerSteps {
		events = append(events, step(innerAddr, "PUSH1", "PUSH1", "MSTORE", "PUSH1", "PUSH1", "RETURN")...)
	}
	events = append(events, "exit 1")
	events = append(events, step(outerAddr, "POP", "STOP")...)
	return append(events, "exit 0")
}

func TestNestedCallHookOrder(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		rec := new(hookRecorder)
		a.EnableTracing(rec.callbacks())

		s, err := a.StartBlock()
		require.NoError(t, err)
		res, err := a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &outerAddr, nil, 200000), header)
		require.NoError(t, err)
		require.False(t, res.Failed())
		require.Equal(t, nestedCallEvents(true, true), rec.events)

		// Disabled tracing records nothing.
		a.DisableTracing()
		rec.events = nil
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 1, &outerAddr, nil, 200000), header)
		require.NoError(t, err)
		require.Empty(t, rec.events)
	})
}

func TestHookSkipSteps(t *testing.T) {
	a, chain := newTestAdapter(t, statebridge.KindManaged)
	header := nextHeader(a, chain.CurrentHeader())
	rec := &hookRecorder{
		before: func(m *tracing.Message) tracing.Action {
			if m.Depth == 0 {
				return tracing.SkipSteps(8)
			}
			return tracing.SkipSteps(6)
		},
	}
	a.EnableTracing(rec.callbacks())

	_, err := a.DryRun(context.Background(), signTx(t, a, header, 0, &outerAddr, nil, 200000), header, false)
	require.NoError(t, err)
	require.Equal(t, nestedCallEvents(false, false), rec.events)
}

func TestHookAbort(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		rec := &hookRecorder{
			step: func(s *tracing.Step) tracing.Action {
				if s.Address == innerAddr {
					return tracing.Abort()
				}
				return tracing.Continue()
			},
		}
		a.EnableTracing(rec.callbacks())

		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &outerAddr, nil, 200000), header)
		require.ErrorIs(t, err, ErrAborted)
		require.True(t, s.Open())

		acct, _ := a.Account(testAddr)
		require.Zero(t, acct.Nonce, "aborted transaction must be rolled back")

		a.DisableTracing()
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &outerAddr, nil, 200000), header)
		require.NoError(t, err)
	})
}

func TestTraceTransaction(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind, hardfork.Activation{Block: 0, Name: hardfork.Cancun})
		parent := chain.CurrentHeader()
		header := nextHeader(a, parent)

		txs := []*types.Transaction{
			signTx(t, a, header, 0, &testRecv, big.NewInt(1), 21000),
			signTx(t, a, header, 1, &storeAddr, nil, 100000),
		}
		s, err := a.StartBlock()
		require.NoError(t, err)
		var used uint64
		for _, tx := range txs {
			res, err := a.RunTxInBlock(context.Background(), s, tx, header)
			require.NoError(t, err)
			used = res.UsedGas
		}
		sealed, err := a.SealBlock(s)
		require.NoError(t, err)
		header.Root = sealed.Root
		header.GasUsed = sealed.GasUsed
		block := types.NewBlock(header, &types.Body{Transactions: txs, Withdrawals: []*types.Withdrawal{}}, sealed.Receipts, trie.NewStackTrie(nil))
		chain.Append(block.Header())

		// Tracing never touches the live state.
		a.EnableTracing(tracing.Callbacks{Step: func(*tracing.Step) tracing.Action {
			t.Fatal("live hooks fired during trace")
			return tracing.Continue()
		}})
		res, err := a.TraceTransaction(context.Background(), txs[1].Hash(), block, &tracing.TraceConfig{EnableMemory: true})
		require.NoError(t, err)
		a.DisableTracing()

		require.False(t, res.Failed)
		require.Equal(t, used, res.Gas)
		ops := make([]string, len(res.StructLogs))
		for i, l := range res.StructLogs {
			ops[i] = l.Op
		}
		require.Equal(t, []string{"PUSH1", "PUSH1", "SSTORE", "STOP"}, ops)
		require.Equal(t, []string{"0x2a", "0x0"}, res.StructLogs[2].Stack)

		res, err = a.TraceTransaction(context.Background(), txs[0].Hash(), block, nil)
		require.NoError(t, err)
		require.Equal(t, params.TxGas, res.Gas)
		require.Empty(t, res.StructLogs)

		_, err = a.TraceTransaction(context.Background(), common.HexToHash("0x01"), block, nil)
		require.True(t, errors.Is(err, ErrTransactionNotFound))

		// The traced state is the parent state even after the head moved on.
		v, _ := a.Storage(storeAddr, common.Hash{})
		require.Equal(t, common.HexToHash("0x2a"), v)
	})
}

// TestHardforkHistoryRules runs opcodes of a later fork on blocks before its
// activation: they must be invalid there and valid from the activation on.
func TestHardforkHistoryRules(t *testing.T) {
	push0Addr := common.HexToAddress("0x7000000000000000000000000000000000000007")
	blobFeeAddr := common.HexToAddress("0x8000000000000000000000000000000000000008")

	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind,
			hardfork.Activation{Block: 0, Name: hardfork.Merge},
			hardfork.Activation{Block: 100, Name: hardfork.Cancun},
		)
		require.NoError(t, a.PutCode(push0Addr, common.FromHex("5f00")))   // push0; stop
		require.NoError(t, a.PutCode(blobFeeAddr, common.FromHex("4a00"))) // blobbasefee; stop

		header := nextHeader(a, chain.CurrentHeader())
		require.Equal(t, hardfork.Merge, a.SelectHardfork(header.Number.Uint64()))

		s, err := a.StartBlock()
		require.NoError(t, err)
		for i, to := range []common.Address{push0Addr, blobFeeAddr} {
			res, err := a.RunTxInBlock(context.Background(), s, signTx(t, a, header, uint64(i), &to, common.Big0, 100000), header)
			require.NoError(t, err)
			var opErr *gethvm.ErrInvalidOpCode
			require.ErrorAs(t, res.Err, &opErr)
		}
		require.True(t, s.Open())
		_, err = a.SealBlock(s)
		require.NoError(t, err)

		late := nextHeader(a, &types.Header{Number: big.NewInt(99), GasLimit: header.GasLimit, Time: header.Time})
		require.Equal(t, hardfork.Cancun, a.SelectHardfork(late.Number.Uint64()))
		for _, to := range []common.Address{push0Addr, blobFeeAddr} {
			res, err := a.DryRun(context.Background(), signTx(t, a, late, 0, &to, common.Big0, 100000), late, false)
			require.NoError(t, err)
			require.False(t, res.Failed(), "call to %x: %v", to, res.Err)
		}
	})
}

func TestDisableEIP3607(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		for _, disable := range []bool{false, true} {
			cfg := DefaultConfig
			cfg.Backend = kind
			cfg.Hardfork = hardfork.Shanghai
			cfg.DisableEIP3607 = disable
			cfg.Genesis = testAlloc()
			a, chain, err := New(&cfg)
			require.NoError(t, err)
			require.NoError(t, a.PutCode(testAddr, storeCode))

			header := nextHeader(a, chain.CurrentHeader())
			s, err := a.StartBlock()
			require.NoError(t, err)
			tx := signTx(t, a, header, 0, &testRecv, big.NewInt(1000), params.TxGas)
			res, err := a.RunTxInBlock(context.Background(), s, tx, header)
			if !disable {
				require.ErrorIs(t, err, ErrInvalidTransaction)
				continue
			}
			require.NoError(t, err)
			require.False(t, res.Failed())
			requireBalance(t, a, testRecv, big.NewInt(1000))

			dry, err := a.DryRun(context.Background(), signTx(t, a, header, 1, &testRecv, common.Big1, params.TxGas), header, false)
			require.NoError(t, err)
			require.False(t, dry.Failed())
		}
	})
}
