package main

import (
	"time"

	"github.com/chonky-labs/triarb/api"
	"github.com/chonky-labs/triarb/pkg/logsink"
	"github.com/chonky-labs/triarb/pkg/simulator"
	"github.com/chonky-labs/triarb/pkg/types"
)

// recordingTradeSink fans every completed cycle out to both the CSV sinks
// and the API server's in-memory recent-trades ring buffer, so the two
// observability surfaces stay in sync without either owning the other.
type recordingTradeSink struct {
	sinks  *logsink.Sinks
	trades *api.RecentTrades
}

func (r *recordingTradeSink) LogCycle(c simulator.CycleRecord) {
	r.sinks.LogCycle(c)
	r.trades.Add(c)
}

func (r *recordingTradeSink) LogLeg(l simulator.LegRecord) {
	r.sinks.LogLeg(l)
}

func (r *recordingTradeSink) LogScan(now time.Time, symbol types.Symbol, trianglesScanned int, bestProfit float64, latency time.Duration) {
	r.sinks.LogScan(now, symbol, trianglesScanned, bestProfit, latency)
}

func (r *recordingTradeSink) LogFailure(now time.Time, triangleKey string, reason types.FailReason) {
	r.sinks.LogFailure(now, triangleKey, reason)
}
