package core

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/clydemeng/vmadapter/core/vm"
	"github.com/clydemeng/vmadapter/hardfork"
	"github.com/clydemeng/vmadapter/statebridge"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestEmptyBlockKeepsRoot(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, _ := newTestAdapter(t, kind)
		before, err := a.StateRoot()
		require.NoError(t, err)

		s, err := a.StartBlock()
		require.NoError(t, err)
		sealed, err := a.SealBlock(s)
		require.NoError(t, err)

		require.Equal(t, before, sealed.Root)
		require.True(t, sealed.Empty())
		require.Zero(t, sealed.GasUsed)
		require.False(t, s.Open())
		require.Same(t, sealed, s.Sealed())
	})
}

func TestRevertBlockRestoresRoot(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		before, err := a.StateRoot()
		require.NoError(t, err)

		s, err := a.StartBlock()
		require.NoError(t, err)
		for i, to := range []common.Address{testRecv, storeAddr, reasonAddr} {
			_, err := a.RunTxInBlock(context.Background(), s, signTx(t, a, header, uint64(i), &to, big.NewInt(1), 100000), header)
			require.NoError(t, err)
		}
		require.NoError(t, a.AddBlockRewards(s, []Reward{{Address: testCoinbase, Amount: uint256.NewInt(5)}}))
		require.NoError(t, a.RevertBlock(s))

		after, err := a.StateRoot()
		require.NoError(t, err)
		require.Equal(t, before, after)
		requireBalance(t, a, testAddr, testBalance)
		v, _ := a.Storage(storeAddr, common.Hash{})
		require.Equal(t, common.Hash{}, v)

		// The adapter is idle again.
		s2, err := a.StartBlock()
		require.NoError(t, err)
		require.NotEqual(t, s.ID(), s2.ID())
	})
}

func TestRevertSealedBlock(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		before, _ := a.StateRoot()

		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &testRecv, big.NewInt(1000), 21000), header)
		require.NoError(t, err)
		sealed, err := a.SealBlock(s)
		require.NoError(t, err)
		require.NotEqual(t, before, sealed.Root)
		require.Equal(t, uint64(1), sealed.Number)

		require.NoError(t, a.RevertBlock(s))
		root, _ := a.StateRoot()
		require.Equal(t, before, root)
		require.ErrorIs(t, a.RevertBlock(s), ErrNoOpenBlock)

		// A sealed block can no longer be undone once the state moved on.
		s, _ = a.StartBlock()
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &testRecv, big.NewInt(1000), 21000), header)
		require.NoError(t, err)
		_, err = a.SealBlock(s)
		require.NoError(t, err)
		require.NoError(t, a.PutStorage(storeAddr, common.Hash{1}, common.Hash{1}))
		require.ErrorIs(t, a.RevertBlock(s), ErrNoOpenBlock)
	})
}

// TestRewardOrderIrrelevant credits the same rewards in every order and
// expects identical balances and roots.
func TestRewardOrderIrrelevant(t *testing.T) {
	rewards := []Reward{
		{Address: testCoinbase, Amount: uint256.NewInt(3)},
		{Address: testRecv, Amount: uint256.NewInt(5)},
		{Address: testCoinbase, Amount: uint256.NewInt(7)},
	}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, _ := newTestAdapter(t, kind)
		var want common.Hash
		for i, perm := range perms {
			s, err := a.StartBlock()
			require.NoError(t, err)
			ordered := make([]Reward, len(perm))
			for j, k := range perm {
				ordered[j] = rewards[k]
			}
			require.NoError(t, a.AddBlockRewards(s, ordered))
			sealed, err := a.SealBlock(s)
			require.NoError(t, err)
			require.Len(t, sealed.Rewards, 3)

			require.Equal(t, uint64(10), balanceOf(t, a, testCoinbase).Uint64())
			require.Equal(t, uint64(5), balanceOf(t, a, testRecv).Uint64())
			if i == 0 {
				want = sealed.Root
			}
			require.Equal(t, want, sealed.Root, "permutation %v", perm)
			require.NoError(t, a.RevertBlock(s))
		}
	})
}

// TestPreMergeValueTransfer builds a London block before the merge holding
// one value transfer and a miner reward.
func TestPreMergeValueTransfer(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind, hardfork.Activation{Block: 0, Name: hardfork.London})
		header := nextHeader(a, chain.CurrentHeader())
		require.Equal(t, uint64(1), header.Difficulty.Uint64())

		value := big.NewInt(params.Ether)
		reward := hardfork.BlockReward(a.SelectHardfork(header.Number.Uint64()))
		require.Equal(t, "2000000000000000000", reward.Dec())

		s, err := a.StartBlock()
		require.NoError(t, err)
		res, err := a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &testRecv, value, 21000), header)
		require.NoError(t, err)
		require.False(t, res.Failed())
		require.Equal(t, params.TxGas, res.UsedGas)
		require.Equal(t, types.ReceiptStatusSuccessful, res.Receipt.Status)

		require.NoError(t, a.AddBlockRewards(s, []Reward{{Address: testCoinbase, Amount: reward}}))
		sealed, err := a.SealBlock(s)
		require.NoError(t, err)
		require.Equal(t, params.TxGas, sealed.GasUsed)
		require.Len(t, sealed.Receipts, 1)
		require.Equal(t, params.TxGas, sealed.Receipts[0].CumulativeGasUsed)

		cost := new(big.Int).Mul(new(big.Int).SetUint64(params.TxGas), big.NewInt(params.InitialBaseFee))
		wantSender := new(big.Int).Sub(testBalance, new(big.Int).Add(value, cost))
		requireBalance(t, a, testAddr, wantSender)
		requireBalance(t, a, testRecv, value)
		// The gas price equals the base fee: the tip is zero and the fee burnt.
		require.Equal(t, reward, balanceOf(t, a, testCoinbase))
	})
}

func TestBlockGasLimit(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())
		header.GasLimit = 30000

		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &testRecv, big.NewInt(1), 21000), header)
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 1, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrInvalidTransaction)
		require.True(t, s.Open())
		require.NoError(t, a.RevertBlock(s))

		a.disableBlockGasLimit = true
		s, err = a.StartBlock()
		require.NoError(t, err)
		for nonce := uint64(0); nonce < 2; nonce++ {
			_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, nonce, &testRecv, big.NewInt(1), 21000), header)
			require.NoError(t, err)
		}
		require.Equal(t, 2*params.TxGas, s.GasUsed())
	})
}

func TestRejectedTransactionKeepsSession(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		header := nextHeader(a, chain.CurrentHeader())

		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 5, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrInvalidTransaction)
		require.True(t, s.Open())
		require.Nil(t, s.Env(), "a rejected transaction must not bind the block")

		res, err := a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &reasonAddr, nil, 100000), header)
		require.NoError(t, err)
		require.True(t, res.Reverted())
		require.Equal(t, "boom", res.RevertReason)
		require.Equal(t, types.ReceiptStatusFailed, res.Receipt.Status)
		require.Equal(t, uint(0), res.Receipt.TransactionIndex)

		sealed, err := a.SealBlock(s)
		require.NoError(t, err)
		require.Len(t, sealed.Receipts, 1)
		acct, _ := a.Account(testAddr)
		require.Equal(t, uint64(1), acct.Nonce, "reverted transactions still consume the nonce")
	})
}

func TestSessionMisuse(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		other, _ := newTestAdapter(t, kind)
		genesis := chain.CurrentHeader()
		header := nextHeader(a, genesis)
		ctx := context.Background()

		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.StartBlock()
		require.ErrorIs(t, err, ErrAlreadyBuilding)

		require.ErrorIs(t, a.RevertToStateRoot(genesis.Root), ErrAlreadyBuilding)
		require.ErrorIs(t, a.RestoreBlockContext(genesis.Root), ErrAlreadyBuilding)
		require.ErrorIs(t, a.SetBlockContext(genesis, nil), ErrAlreadyBuilding)

		_, err = other.RunTxInBlock(ctx, s, signTx(t, a, header, 0, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrSessionMismatch)
		require.ErrorIs(t, other.AddBlockRewards(s, nil), ErrSessionMismatch)
		_, err = other.SealBlock(s)
		require.ErrorIs(t, err, ErrSessionMismatch)
		require.ErrorIs(t, other.RevertBlock(s), ErrSessionMismatch)

		_, err = a.RunTxInBlock(ctx, s, signTx(t, a, header, 0, &testRecv, big.NewInt(1), 21000), header)
		require.NoError(t, err)

		differing := types.CopyHeader(header)
		differing.Number = big.NewInt(2)
		_, err = a.RunTxInBlock(ctx, s, signTx(t, a, differing, 1, &testRecv, big.NewInt(1), 21000), differing)
		require.ErrorIs(t, err, ErrSessionMismatch)

		_, err = a.RunTxInBlock(ctx, s, signTx(t, a, header, 1, &testRecv, big.NewInt(1), 21000), &types.Header{})
		require.ErrorIs(t, err, ErrTranslation)

		require.NoError(t, a.AddBlockRewards(s, []Reward{{Address: testCoinbase, Amount: uint256.NewInt(1)}}))
		_, err = a.RunTxInBlock(ctx, s, signTx(t, a, header, 1, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrRewardsApplied)

		_, err = a.SealBlock(s)
		require.NoError(t, err)
		_, err = a.SealBlock(s)
		require.ErrorIs(t, err, ErrNoOpenBlock)
		_, err = a.RunTxInBlock(ctx, s, signTx(t, a, header, 1, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrNoOpenBlock)
		require.ErrorIs(t, a.AddBlockRewards(s, nil), ErrNoOpenBlock)
		require.ErrorIs(t, a.RevertBlock(nil), ErrSessionMismatch)
	})
}

func TestEngineFaultAbortsSession(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		base, chain := newTestAdapter(t, kind)
		ctrl := gomock.NewController(t)
		engine := vm.NewMockEngine(ctrl)
		engine.EXPECT().Name().Return("mock").AnyTimes()

		a := NewAdapter(base.Backend(), engine, Options{ChainConfig: base.ChainConfig(), SelectHardfork: base.SelectHardfork, Chain: chain})
		header := nextHeader(a, chain.CurrentHeader())
		before, _ := a.StateRoot()

		gomock.InOrder(
			engine.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, sdb *state.StateDB, _ *vm.BlockEnv, call *vm.CallMetadata, _ vm.ExecOptions) (*vm.Result, error) {
					sdb.SetNonce(call.From, 1, 0)
					changes := vm.NewChangeSet()
					c := vm.NewAccountChange()
					c.Nonce = 1
					c.Balance = uint256.MustFromBig(testBalance)
					changes.Set(call.From, c)
					return &vm.Result{UsedGas: params.TxGas, Changes: changes}, nil
				}),
			engine.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(nil, &vm.FaultError{Engine: "mock", Err: errors.New("database corrupted")}),
		)
		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &testRecv, big.NewInt(1), 21000), header)
		require.NoError(t, err)
		acct, _ := a.Account(testAddr)
		require.Equal(t, uint64(1), acct.Nonce)

		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 1, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrEngineFault)
		require.False(t, s.Open())

		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 1, &testRecv, big.NewInt(1), 21000), header)
		require.ErrorIs(t, err, ErrNoOpenBlock)
		require.ErrorIs(t, a.RevertBlock(s), ErrNoOpenBlock)

		root, _ := a.StateRoot()
		require.Equal(t, before, root)
		acct, _ = a.Account(testAddr)
		require.Zero(t, acct.Nonce)

		_, err = a.StartBlock()
		require.NoError(t, err)
	})
}

func requireBalance(t *testing.T, a *Adapter, addr common.Address, want *big.Int) {
	t.Helper()
	if have := balanceOf(t, a, addr).ToBig(); have.Cmp(want) != 0 {
		t.Fatalf("balance of %s mismatch: have %s, want %s", addr, have, want)
	}
}

// TestEmptyBlockAdvancesHead seals empty blocks, bound and unbound, across
// the London activation and resolves block tags after each.
func TestEmptyBlockAdvancesHead(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind,
			hardfork.Activation{Block: 0, Name: hardfork.Berlin},
			hardfork.Activation{Block: 2, Name: hardfork.London},
		)
		require.False(t, a.IsEIP1559Active(rpc.PendingBlockNumber))

		// Unbound: the block follows the head.
		s, err := a.StartBlock()
		require.NoError(t, err)
		sealed, err := a.SealBlock(s)
		require.NoError(t, err)
		require.Equal(t, uint64(1), sealed.Number)
		require.False(t, a.IsEIP1559Active(rpc.LatestBlockNumber))
		require.True(t, a.IsEIP1559Active(rpc.PendingBlockNumber))

		// Bound through BindBlock.
		parent := nextHeader(a, chain.CurrentHeader())
		header := nextHeader(a, parent)
		s, err = a.StartBlock()
		require.NoError(t, err)
		require.NoError(t, a.BindBlock(s, header))
		require.Equal(t, uint64(2), s.Env().Number)
		require.True(t, a.IsEIP1559Active(rpc.PendingBlockNumber))
		require.ErrorIs(t, a.BindBlock(s, nextHeader(a, header)), ErrSessionMismatch)

		// A rejected first transaction keeps the bound block.
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 7, &testRecv, common.Big1, params.TxGas), header)
		require.ErrorIs(t, err, ErrInvalidTransaction)
		require.NotNil(t, s.Env())

		sealed, err = a.SealBlock(s)
		require.NoError(t, err)
		require.Equal(t, uint64(2), sealed.Number)
		require.True(t, a.IsEIP1559Active(rpc.LatestBlockNumber))

		// Undoing the block restores the previous head.
		require.NoError(t, a.RevertBlock(s))
		require.False(t, a.IsEIP1559Active(rpc.LatestBlockNumber))
		require.ErrorIs(t, a.BindBlock(s, header), ErrNoOpenBlock)
	})
}

func TestSealedBlockBloom(t *testing.T) {
	logAddr := common.HexToAddress("0x9000000000000000000000000000000000000009")
	topic := common.HexToHash("0xfeedface")
	// log1(0, 32, topic); stop
	logCode := append(append(common.FromHex("7f"), topic.Bytes()...), common.FromHex("60206000a100")...)

	forEachKind(t, func(t *testing.T, kind statebridge.Kind) {
		a, chain := newTestAdapter(t, kind)
		require.NoError(t, a.PutCode(logAddr, logCode))
		header := nextHeader(a, chain.CurrentHeader())

		s, err := a.StartBlock()
		require.NoError(t, err)
		_, err = a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 0, &testRecv, common.Big1, params.TxGas), header)
		require.NoError(t, err)
		res, err := a.RunTxInBlock(context.Background(), s, signTx(t, a, header, 1, &logAddr, common.Big0, 100000), header)
		require.NoError(t, err)
		require.Len(t, res.Receipt.Logs, 1)
		require.Equal(t, uint(0), res.Receipt.Logs[0].Index)
		require.True(t, types.BloomLookup(res.Receipt.Bloom, logAddr))
		require.True(t, types.BloomLookup(res.Receipt.Bloom, topic))

		sealed, err := a.SealBlock(s)
		require.NoError(t, err)
		require.True(t, types.BloomLookup(sealed.Bloom, logAddr))
		require.True(t, types.BloomLookup(sealed.Bloom, topic))
		require.False(t, types.BloomLookup(sealed.Receipts[0].Bloom, topic))
	})
}
