package statebridge

import "github.com/ethereum/go-ethereum/metrics"

var (
	journalHitCounter  = metrics.NewRegisteredCounter("statebridge/overlay/journal/hits", nil)
	journalMissCounter = metrics.NewRegisteredCounter("statebridge/overlay/journal/misses", nil)
	commitTimer        = metrics.NewRegisteredTimer("statebridge/commit", nil)
)

// ResetProfileCounters zeros the overlay journal hit and miss counters.
func ResetProfileCounters() {
	journalHitCounter.Clear()
	journalMissCounter.Clear()
}

// ProfileCounters returns (journalHits, snapshotReads) since the last reset.
func ProfileCounters() (int64, int64) {
	return journalHitCounter.Snapshot().Count(), journalMissCounter.Snapshot().Count()
}
