package tracker

import (
	"context"
	"time"
)

// LCPTimeout bounds how long a performance sample waits for the largest
// contentful paint before going out without it.
const LCPTimeout = 5 * time.Second

// PerformanceSample carries page timing metrics in milliseconds. Nil means
// the metric was never observed.
type PerformanceSample struct {
	Path     string
	LoadTime *float64
	TTFB     *float64
	FCP      *float64
	LCP      *float64
}

func (s PerformanceSample) payload() map[string]any {
	data := map[string]any{"path": s.Path}
	if s.LoadTime != nil {
		data["loadTime"] = *s.LoadTime
	}
	if s.TTFB != nil {
		data["ttfb"] = *s.TTFB
	}
	if s.FCP != nil {
		data["fcp"] = *s.FCP
	}
	if s.LCP != nil {
		data["lcp"] = *s.LCP
	}
	return data
}

// AwaitLCP waits for an LCP observation for at most timeout, returning nil
// when none arrives in time. LCP often never fires (background tabs,
// pages without contentful elements), so the sample must not wait forever.
func AwaitLCP(ctx context.Context, lcp <-chan float64, timeout time.Duration) *float64 {
	if timeout <= 0 {
		timeout = LCPTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case value, ok := <-lcp:
		if !ok {
			return nil
		}
		return &value
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// SamplePerformance completes a sample with the LCP observation if one
// arrives within the timeout, then reports it through the tracker.
func (t *Tracker) SamplePerformance(ctx context.Context, sample PerformanceSample, lcp <-chan float64, timeout time.Duration) {
	sample.LCP = AwaitLCP(ctx, lcp, timeout)
	t.Performance(sample)
}
