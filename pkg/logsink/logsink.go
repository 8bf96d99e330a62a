// Package logsink implements the append-only CSV sinks: one file per log
// kind, header written once, rows appended thereafter.
package logsink

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/simulator"
	"github.com/chonky-labs/triarb/pkg/types"
)

// csvFile is one append-only CSV file: a header row written exactly once
// (on first open, when the file is empty), then one mutex-guarded writer
// per row thereafter.
type csvFile struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

func openCSV(path string, header []string) (*csvFile, error) {
	info, statErr := os.Stat(path)
	needsHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header for %s: %w", path, err)
		}
		w.Flush()
	}

	return &csvFile{file: f, writer: w}, nil
}

func (c *csvFile) writeRow(row []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.Write(row); err != nil {
		return err
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvFile) Close() error {
	return c.file.Close()
}

// Paths names the five CSV files a Sinks writes to, defaulted by
// internal/config to the working directory.
type Paths struct {
	SimLog           string
	LegLog           string
	ScanLog          string
	FailLog          string
	ProfitableCycles string
}

// Sinks is the concrete, file-backed implementation of
// pkg/simulator.TradeSink plus the Scanner's scan/fail/export logging,
// bundled together because they share the open-append-flush lifecycle.
type Sinks struct {
	sim        *csvFile
	leg        *csvFile
	scan       *csvFile
	fail       *csvFile
	profitable *csvFile
	log        *logrus.Entry
}

// Open creates or appends to every CSV file named in paths.
func Open(paths Paths, log *logrus.Entry) (*Sinks, error) {
	sim, err := openCSV(paths.SimLog, []string{"timestamp", "path", "start_val", "end_val", "profit_percent"})
	if err != nil {
		return nil, err
	}
	leg, err := openCSV(paths.LegLog, []string{"timestamp", "pair", "side", "requestedQty", "filledQty", "fillRatio", "slippage", "latencyMs"})
	if err != nil {
		return nil, err
	}
	scan, err := openCSV(paths.ScanLog, []string{"timestamp", "symbol", "triangles_scanned", "best_profit", "latency_ms"})
	if err != nil {
		return nil, err
	}
	fail, err := openCSV(paths.FailLog, []string{"timestamp", "triangleKey", "reason"})
	if err != nil {
		return nil, err
	}
	profitable, err := openCSV(paths.ProfitableCycles, []string{"timestamp", "rank", "triIdx", "profitPct", "path"})
	if err != nil {
		return nil, err
	}

	return &Sinks{sim: sim, leg: leg, scan: scan, fail: fail, profitable: profitable, log: log}, nil
}

// Close closes every underlying file.
func (s *Sinks) Close() {
	for _, f := range []*csvFile{s.sim, s.leg, s.scan, s.fail, s.profitable} {
		if err := f.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close log file")
		}
	}
}

var decimalHundred = decimal.NewFromInt(100)

func stamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// LogCycle implements simulator.TradeSink: one sim_log.csv row per cycle
// attempt.
func (s *Sinks) LogCycle(c simulator.CycleRecord) {
	profitPct := "0"
	if !c.StartBalance.IsZero() {
		profitPct = c.ProfitUSDT.Div(c.StartBalance).Mul(decimalHundred).String()
	}
	row := []string{
		stamp(c.Time),
		c.TriangleKey,
		c.StartBalance.String(),
		c.EndBalance.String(),
		profitPct,
	}
	if err := s.sim.writeRow(row); err != nil {
		s.log.WithError(err).Warn("failed to write sim_log row")
	}
}

// LogLeg implements simulator.TradeSink: one leg_log.csv row per leg.
// requestedQty and filledQty both read l.Quantity because LegRecord reports
// only one quantity per leg — the desired amount on a failed walk, the
// actual fill on a successful one. fillRatio and slippage are left blank on
// a failed leg, where Walk never produced them.
func (s *Sinks) LogLeg(l simulator.LegRecord) {
	side := "BUY"
	if l.IsSell {
		side = "SELL"
	}
	fillRatio, slippage := "", ""
	if l.Success {
		fillRatio, slippage = "1", "0"
	}
	row := []string{
		stamp(l.Time),
		string(l.Symbol),
		side,
		l.Quantity.String(),
		l.Quantity.String(),
		fillRatio,
		slippage,
		"",
	}
	if err := s.leg.writeRow(row); err != nil {
		s.log.WithError(err).Warn("failed to write leg_log row")
	}
}

// LogScan writes one scan_log.csv row — the per-symbol incremental rescan
// summary, including the scan's latency budget.
func (s *Sinks) LogScan(now time.Time, symbol types.Symbol, trianglesScanned int, bestProfit float64, latency time.Duration) {
	row := []string{
		stamp(now),
		string(symbol),
		fmt.Sprintf("%d", trianglesScanned),
		fmt.Sprintf("%.6f", bestProfit),
		fmt.Sprintf("%d", latency.Milliseconds()),
	}
	if err := s.scan.writeRow(row); err != nil {
		s.log.WithError(err).Warn("failed to write scan_log row")
	}
}

// LogFailure writes one fail_log.csv row.
func (s *Sinks) LogFailure(now time.Time, triangleKey string, reason types.FailReason) {
	row := []string{stamp(now), triangleKey, string(reason)}
	if err := s.fail.writeRow(row); err != nil {
		s.log.WithError(err).Warn("failed to write fail_log row")
	}
}

// ProfitableCycle is one row of the --export-cycles materialized list.
type ProfitableCycle struct {
	Rank      int
	TriangleID int
	ProfitPct float64
	Path      string
}

// LogProfitableCycles writes the full ranked export, one row per cycle.
func (s *Sinks) LogProfitableCycles(now time.Time, cycles []ProfitableCycle) {
	for _, c := range cycles {
		row := []string{
			stamp(now),
			fmt.Sprintf("%d", c.Rank),
			fmt.Sprintf("%d", c.TriangleID),
			fmt.Sprintf("%.6f", c.ProfitPct),
			c.Path,
		}
		if err := s.profitable.writeRow(row); err != nil {
			s.log.WithError(err).Warn("failed to write profitable_cycles row")
			return
		}
	}
}
