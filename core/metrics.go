package core

import (
	"math"

	"github.com/ethereum/go-ethereum/metrics"
)

const maxBlockGas = math.MaxUint64

var (
	openSessionGauge     = metrics.NewRegisteredGauge("vmadapter/session/open", nil)
	sealedBlockCounter   = metrics.NewRegisteredCounter("vmadapter/block/sealed", nil)
	revertedBlockCounter = metrics.NewRegisteredCounter("vmadapter/block/reverted", nil)
	abortedBlockCounter  = metrics.NewRegisteredCounter("vmadapter/block/aborted", nil)
	sealTimer            = metrics.NewRegisteredTimer("vmadapter/block/seal", nil)

	txAppliedCounter  = metrics.NewRegisteredCounter("vmadapter/tx/applied", nil)
	txRejectedCounter = metrics.NewRegisteredCounter("vmadapter/tx/rejected", nil)
	dryRunTimer       = metrics.NewRegisteredTimer("vmadapter/tx/dryrun", nil)
)
