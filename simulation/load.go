// Package simulation drives a mixed read/write workload against a column
// family and reports latency percentiles per round.
package simulation

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flynnfc/helenus/pkg/helenus/cf"
)

// --------------------------------------------------------------------------------------
// Stats & CSV Helpers
// --------------------------------------------------------------------------------------

// Stats holds latency measurements for a set of operations. Safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	latencies []time.Duration
}

// NewStats creates a Stats object
func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 1000),
	}
}

// Record adds one measurement (the latency) to the stats
func (s *Stats) Record(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// Len returns how many measurements we have
func (s *Stats) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latencies)
}

// Compute calculates p50, p95, p99, plus overall ops/sec if you provide totalOps & totalTime.
func (s *Stats) Compute(totalOps int, totalTime time.Duration) (p50, p95, p99 time.Duration, opsSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.latencies)
	if n == 0 {
		return 0, 0, 0, 0
	}

	sort.Slice(s.latencies, func(i, j int) bool {
		return s.latencies[i] < s.latencies[j]
	})

	percentileIndex := func(p float64) int {
		idx := int(float64(n)*p) - 1
		return max(0, min(idx, n-1))
	}

	p50 = s.latencies[percentileIndex(0.50)]
	p95 = s.latencies[percentileIndex(0.95)]
	p99 = s.latencies[percentileIndex(0.99)]

	if totalTime > 0 {
		opsSec = float64(totalOps) / totalTime.Seconds()
	}
	return p50, p95, p99, opsSec
}

// ResultRecord holds the stats we want to log for each test run/round.
type ResultRecord struct {
	TestName  string
	RunNumber int
	Round     int
	OpsCount  int
	Errors    int
	OpsSec    float64
	P50Us     float64 // p50 in microseconds
	P95Us     float64 // p95 in microseconds
	P99Us     float64 // p99 in microseconds
	TotalTime time.Duration
}

// WriteCSV writes a list of ResultRecords to a CSV file.
func WriteCSV(filename string, records []ResultRecord) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"test_name", "run_number", "round",
		"ops_count", "errors", "ops_sec",
		"p50_us", "p95_us", "p99_us",
		"total_time_ms",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.TestName,
			strconv.Itoa(rec.RunNumber),
			strconv.Itoa(rec.Round),
			strconv.Itoa(rec.OpsCount),
			strconv.Itoa(rec.Errors),
			fmt.Sprintf("%.2f", rec.OpsSec),
			fmt.Sprintf("%.2f", rec.P50Us),
			fmt.Sprintf("%.2f", rec.P95Us),
			fmt.Sprintf("%.2f", rec.P99Us),
			strconv.FormatInt(rec.TotalTime.Milliseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// --------------------------------------------------------------------------------------
// Mixed workload
// --------------------------------------------------------------------------------------

// Column is the column every operation writes and reads.
const Column = "data"

// Load simulates a workload pattern resembling Cassandra usage: random row keys
// from a fixed key space, single-column writes and single-column reads.
type Load struct {
	Family        *cf.ColumnFamily
	Logger        *zap.Logger
	NumRounds     int           // How many rounds of testing to run
	OpsPerRound   int           // Total operations per round
	ReadRatio     int           // % of ops that are reads (e.g., 70)
	KeySpaceSize  int           // Number of unique keys in the keyspace
	MaxValueSize  int           // Max size of values in bytes
	Workers       int           // Concurrency level
	RoundInterval time.Duration // Pause between rounds
	Seed          uint64
}

func (l *Load) randomKey(rng *rand.Rand) string {
	return fmt.Sprintf("user_%010d", rng.IntN(max(1, l.KeySpaceSize)))
}

func (l *Load) randomValue(rng *rand.Rand) []byte {
	b := make([]byte, rng.IntN(max(1, l.MaxValueSize))+1)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

// Run simulates multiple rounds of mixed reads and writes, capturing stats each round.
// Failed operations are counted, not fatal.
func (l *Load) Run(ctx context.Context, runNumber int) ([]ResultRecord, error) {
	if l.Family == nil {
		return nil, fmt.Errorf("simulation: no column family")
	}
	if l.Logger == nil {
		l.Logger = zap.NewNop()
	}
	var roundResults []ResultRecord

	for round := 1; round <= l.NumRounds; round++ {
		writeOps := l.OpsPerRound * (100 - l.ReadRatio) / 100
		readOps := l.OpsPerRound - writeOps
		l.Logger.Info("Starting round",
			zap.Int("round", round),
			zap.Int("read_ops", readOps),
			zap.Int("write_ops", writeOps),
			zap.Int("workers", l.Workers),
		)

		start := time.Now()
		stats, errCount, err := l.runRound(ctx, round, readOps, writeOps)
		duration := time.Since(start)
		if err != nil {
			l.Logger.Error("Error during round", zap.Int("round", round), zap.Error(err))
			return roundResults, err
		}

		totalOps := readOps + writeOps
		p50, p95, p99, opsSec := stats.Compute(totalOps, duration)
		rec := ResultRecord{
			TestName:  l.Family.Name(),
			RunNumber: runNumber,
			Round:     round,
			OpsCount:  totalOps,
			Errors:    errCount,
			OpsSec:    opsSec,
			P50Us:     float64(p50.Microseconds()),
			P95Us:     float64(p95.Microseconds()),
			P99Us:     float64(p99.Microseconds()),
			TotalTime: duration,
		}
		l.Logger.Info("Round completed",
			zap.Int("round", round),
			zap.Duration("duration", duration),
			zap.Int("errors", errCount),
			zap.Float64("ops_sec", rec.OpsSec),
			zap.Float64("p50_us", rec.P50Us),
			zap.Float64("p99_us", rec.P99Us),
		)
		roundResults = append(roundResults, rec)

		if round < l.NumRounds && l.RoundInterval > 0 {
			select {
			case <-ctx.Done():
				return roundResults, ctx.Err()
			case <-time.After(l.RoundInterval):
			}
		}
	}
	return roundResults, nil
}

// runRound executes readOps and writeOps interleaved over the workers.
func (l *Load) runRound(ctx context.Context, round, readOps, writeOps int) (*Stats, int, error) {
	stats := NewStats()
	var wg sync.WaitGroup
	opCh := make(chan bool, max(1, l.Workers)*2) // true=write, false=read
	var done, failed atomic.Int64

	worker := func(id int) {
		defer wg.Done()
		rng := rand.New(rand.NewPCG(l.Seed, uint64(round)<<32|uint64(id)))
		for op := range opCh {
			key := l.randomKey(rng)
			start := time.Now()
			var err error
			if op {
				err = l.Family.InsertMap(ctx, key, map[string]any{Column: l.randomValue(rng)}, nil)
			} else {
				_, err = l.Family.Get(ctx, key, &cf.ReadOptions{Columns: []any{Column}})
			}
			stats.Record(time.Since(start))
			done.Add(1)
			if err != nil {
				failed.Add(1)
				l.Logger.Debug("operation failed", zap.Bool("write", op), zap.String("key", key), zap.Error(err))
			}
		}
	}

	for i := 0; i < max(1, l.Workers); i++ {
		wg.Add(1)
		go worker(i)
	}

	// Interleave so reads see rows written earlier in the round.
	total := readOps + writeOps
	writes := 0
enqueue:
	for i := 0; i < total; i++ {
		write := writes < writeOps && (i*writeOps/max(1, total) >= writes || total-i == writeOps-writes)
		if write {
			writes++
		}
		select {
		case opCh <- write:
		case <-ctx.Done():
			break enqueue
		}
	}
	close(opCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, int(failed.Load()), err
	}
	if n := done.Load(); n != int64(total) {
		return stats, int(failed.Load()), fmt.Errorf("op mismatch: %d/%d", n, total)
	}
	return stats, int(failed.Load()), nil
}
