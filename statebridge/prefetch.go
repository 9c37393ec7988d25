package statebridge

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
)

// BatchKey identifies a (address, storage slot) tuple to warm before
// execution. An all-zero Slot primes only the account (balance, nonce, code
// hash) without touching storage.
type BatchKey struct {
	Address common.Address
	Slot    common.Hash
}

// AccountKeys returns account-only keys for addrs.
func AccountKeys(addrs ...common.Address) []BatchKey {
	keys := make([]BatchKey, len(addrs))
	for i, addr := range addrs {
		keys[i] = BatchKey{Address: addr}
	}
	return keys
}

// prefetch resolves keys through sdb so that the objects sit in its cache.
// Unknown accounts and slots are silently ignored.
func prefetch(sdb *state.StateDB, keys []BatchKey) {
	for _, k := range keys {
		sdb.GetCodeHash(k.Address)
		if k.Slot != (common.Hash{}) {
			sdb.GetState(k.Address, k.Slot)
		}
	}
}
