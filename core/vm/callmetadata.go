package vm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallMetadata is the engine-facing representation of a transaction. It is
// built once from a signed transaction and is never mutated afterwards.
type CallMetadata struct {
	Tx   *types.Transaction // source transaction, used for hashing and tracer events
	Hash common.Hash

	From     common.Address
	To       *common.Address // nil for contract creation
	Nonce    uint64
	Value    *big.Int
	GasLimit uint64
	Data     []byte

	GasPrice      *big.Int
	GasFeeCap     *big.Int
	GasTipCap     *big.Int
	BlobGasFeeCap *big.Int
	BlobHashes    []common.Hash
	AccessList    types.AccessList
	AuthList      []types.SetCodeAuthorization
}

// NewCallMetadata recovers the sender of tx and copies out the fields the
// engine needs.
func NewCallMetadata(tx *types.Transaction, signer types.Signer) (*CallMetadata, error) {
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return &CallMetadata{
		Tx:            tx,
		Hash:          tx.Hash(),
		From:          from,
		To:            tx.To(),
		Nonce:         tx.Nonce(),
		Value:         tx.Value(),
		GasLimit:      tx.Gas(),
		Data:          tx.Data(),
		GasPrice:      tx.GasPrice(),
		GasFeeCap:     tx.GasFeeCap(),
		GasTipCap:     tx.GasTipCap(),
		BlobGasFeeCap: tx.BlobGasFeeCap(),
		BlobHashes:    tx.BlobHashes(),
		AccessList:    tx.AccessList(),
		AuthList:      tx.SetCodeAuthorizations(),
	}, nil
}

// Message converts the call into a state-transition message. With a base fee
// the effective gas price is min(tip+baseFee, feeCap). skipFromEOACheck lets
// a sender with code sign transactions (EIP-3607 off).
func (c *CallMetadata) Message(baseFee *big.Int, skipNonceChecks, skipFromEOACheck bool) *core.Message {
	msg := &core.Message{
		From:                  c.From,
		To:                    c.To,
		Nonce:                 c.Nonce,
		Value:                 new(big.Int).Set(c.Value),
		GasLimit:              c.GasLimit,
		GasPrice:              new(big.Int).Set(c.GasPrice),
		GasFeeCap:             new(big.Int).Set(c.GasFeeCap),
		GasTipCap:             new(big.Int).Set(c.GasTipCap),
		Data:                  c.Data,
		AccessList:            c.AccessList,
		BlobGasFeeCap:         c.BlobGasFeeCap,
		BlobHashes:            c.BlobHashes,
		SetCodeAuthorizations: c.AuthList,
		SkipNonceChecks:       skipNonceChecks,
		SkipFromEOACheck:      skipFromEOACheck,
	}
	if baseFee != nil {
		msg.GasPrice = new(big.Int).Add(msg.GasTipCap, baseFee)
		if msg.GasPrice.Cmp(msg.GasFeeCap) > 0 {
			msg.GasPrice.Set(msg.GasFeeCap)
		}
	}
	return msg
}

// maxCost is the most the call can charge its sender: value plus the full
// gas limit at the fee cap.
func (c *CallMetadata) maxCost() *big.Int {
	price := c.GasFeeCap
	if price == nil {
		price = c.GasPrice
	}
	cost := new(big.Int).SetUint64(c.GasLimit)
	cost.Mul(cost, price)
	return cost.Add(cost, c.Value)
}
