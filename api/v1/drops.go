package v1

import "sync/atomic"

// Dropped payloads are counted by reason so the system endpoint can report
// them. Drops never fail the request on the beacon path.
const (
	dropReasonDecode   = "decode"
	dropReasonOrigin   = "origin"
	dropReasonSite     = "site"
	dropReasonWrite    = "write"
	dropReasonExcluded = "excluded"
)

type dropCounters struct {
	decode   atomic.Int64
	origin   atomic.Int64
	site     atomic.Int64
	write    atomic.Int64
	excluded atomic.Int64
}

var drops dropCounters

func countDrop(reason string) {
	switch reason {
	case dropReasonDecode:
		drops.decode.Add(1)
	case dropReasonOrigin:
		drops.origin.Add(1)
	case dropReasonSite:
		drops.site.Add(1)
	case dropReasonExcluded:
		drops.excluded.Add(1)
	default:
		drops.write.Add(1)
	}
}

// dropReasonFor maps a collection error to a counter bucket.
func dropReasonFor(err error) string {
	if err == nil {
		return dropReasonWrite
	}
	switch {
	case isDecodeError(err):
		return dropReasonDecode
	case isSiteError(err):
		return dropReasonSite
	default:
		return dropReasonWrite
	}
}

// DropCounts returns a snapshot of dropped payload counts by reason.
func DropCounts() map[string]int64 {
	return map[string]int64{
		dropReasonDecode:   drops.decode.Load(),
		dropReasonOrigin:   drops.origin.Load(),
		dropReasonSite:     drops.site.Load(),
		dropReasonWrite:    drops.write.Load(),
		dropReasonExcluded: drops.excluded.Load(),
	}
}

// DroppedTotal returns the total number of dropped payloads since start.
func DroppedTotal() int64 {
	return drops.decode.Load() + drops.origin.Load() + drops.site.Load() + drops.write.Load() + drops.excluded.Load()
}

// ResetDropCounts zeroes all counters. Test helper.
func ResetDropCounts() {
	drops.decode.Store(0)
	drops.origin.Store(0)
	drops.site.Store(0)
	drops.write.Store(0)
	drops.excluded.Store(0)
}
