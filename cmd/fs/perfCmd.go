package fs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/cmd/util"
	"github.com/ValentinKolb/dBridge/lib/fsops"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measures call round trips over the channel",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfDir              = ".dbridge-perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 4
	perfIterations       = 1000
	perfSkip             = make([]string, 0)
)

// percentiles reported for every benchmark
var perfPercentiles = []float64{0.5, 0.9, 0.99}

// perfBench is one benchmark: setup runs once, call runs per iteration
type perfBench struct {
	name  string
	setup func() error
	call  func(i int) error
	// expected reports errors that are the point of the benchmark
	expected func(err error) bool
}

type perfResult struct {
	name    string
	timer   gometrics.Timer
	errors  int64
	elapsed time.Duration
	skipped bool
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. write,read-large)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 4, util.WrapString("Number of goroutines sharing the channel"))
	key = "iterations"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of calls per benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the file for the read-large test should be (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfIterations = viper.GetInt("iterations")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumThreads < 1 || perfIterations < 1 {
		return fmt.Errorf("threads and iterations must be positive")
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for bridge channels")

	cfg := util.GetChannelConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Iterations: %d\n", perfIterations)
	fmt.Println()

	ch := session.Channel
	small := []byte("test")
	large := make([]byte, perfLargeValueSizeKB*1024)
	unknown := common.OpIDFor("perf.unknown")

	benches := []perfBench{
		{
			name: "stat",
			call: func(int) error {
				_, err := ch.CallNamed(fsops.OpStat, perfDir)
				return err
			},
		},
		{
			name: "write",
			call: func(i int) error {
				_, err := ch.CallNamed(fsops.OpWriteFile, perfPath("write", i%100), small)
				return err
			},
		},
		{
			name: "read",
			setup: func() error {
				_, err := ch.CallNamed(fsops.OpWriteFile, perfPath("read", 0), small)
				return err
			},
			call: func(int) error {
				_, err := ch.CallNamed(fsops.OpReadFile, perfPath("read", 0))
				return err
			},
		},
		{
			name: "read-large",
			setup: func() error {
				_, err := ch.CallNamed(fsops.OpWriteFile, perfPath("read-large", 0), large)
				return err
			},
			call: func(int) error {
				_, err := ch.CallNamed(fsops.OpReadFile, perfPath("read-large", 0))
				return err
			},
		},
		{
			name: "unknown-op",
			call: func(int) error {
				_, err := ch.Call(unknown)
				return err
			},
			expected: func(err error) bool { return errors.Is(err, common.ErrUnknownOperation) },
		},
		{
			name: "not-found",
			call: func(i int) error {
				_, err := ch.CallNamed(fsops.OpStat, perfPath("missing", i))
				return err
			},
			expected: func(err error) bool { return common.RemoteName(err) == fsops.NameNotFound },
		},
	}

	if err := ignoreExists(ch.CallNamed(fsops.OpMkdir, perfDir)); err != nil {
		return fmt.Errorf("create %s: %w", perfDir, err)
	}

	fmt.Println("starting tests...")

	reg := gometrics.NewRegistry()
	results := make([]perfResult, 0, len(benches))
	for _, b := range benches {
		res := runBench(reg, b)
		results = append(results, res)
		printResult(res)
	}

	// cleanup
	if _, err := ch.CallNamed(fsops.OpRemove, perfDir, true); err != nil {
		fmt.Printf("cleanup failed: %v\n", err)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// runBench spreads the iterations of b over perfNumThreads goroutines
func runBench(reg gometrics.Registry, b perfBench) perfResult {
	res := perfResult{name: b.name}
	if shouldSkip(b.name) {
		res.skipped = true
		return res
	}
	if b.setup != nil {
		if err := b.setup(); err != nil {
			fmt.Printf("(%s) - setup failed: %v\n", b.name, err)
			res.skipped = true
			return res
		}
	}

	res.timer = gometrics.GetOrRegisterTimer(b.name, reg)
	errCount := gometrics.GetOrRegisterCounter(b.name+".errors", reg)

	var wg sync.WaitGroup
	start := time.Now()
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			for i := t; i < perfIterations; i += perfNumThreads {
				callStart := time.Now()
				err := b.call(i)
				res.timer.UpdateSince(callStart)
				if err != nil && (b.expected == nil || !b.expected(err)) {
					errCount.Inc(1)
				}
			}
		}(t)
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	res.errors = errCount.Count()
	return res
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func perfPath(prefix string, i int) string {
	return fmt.Sprintf("%s/%s-%d", perfDir, prefix, i)
}

func ignoreExists(_ any, err error) error {
	if common.RemoteName(err) == fsops.NameAlreadyExists {
		return nil
	}
	return err
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func opsPerSec(res perfResult) float64 {
	secs := math.Max(res.elapsed.Seconds(), 1e-9) // prevent division by zero
	return float64(res.timer.Count()) / secs
}

// printResult prints the result of a benchmark in a formatted way
func printResult(res perfResult) {
	if res.skipped {
		fmt.Printf("%-14sskipped\n", res.name)
		return
	}
	snap := res.timer.Snapshot()
	ps := snap.Percentiles(perfPercentiles)
	fmt.Printf("%-14smean %-10s p50 %-10s p90 %-10s p99 %-10s max %-10s %8.0f ops/sec",
		res.name,
		time.Duration(snap.Mean()),
		time.Duration(ps[0]),
		time.Duration(ps[1]),
		time.Duration(ps[2]),
		time.Duration(snap.Max()),
		opsPerSec(res),
	)
	if res.errors > 0 {
		fmt.Printf("  (%d errors)", res.errors)
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, cfg common.ChannelConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Calls", "Errors", "MeanNs", "P50Ns", "P90Ns", "P99Ns", "MaxNs", "OpsPerSec", "Skipped",
		"SegmentLength", "Serializer", "Workers", "Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].name < results[j].name })
	for _, res := range results {
		row := []string{res.name}
		if res.skipped {
			row = append(row, "0", "0", "0", "0", "0", "0", "0", "0", "true")
		} else {
			snap := res.timer.Snapshot()
			ps := snap.Percentiles(perfPercentiles)
			row = append(row,
				strconv.FormatInt(snap.Count(), 10),
				strconv.FormatInt(res.errors, 10),
				fmt.Sprintf("%.0f", snap.Mean()),
				fmt.Sprintf("%.0f", ps[0]),
				fmt.Sprintf("%.0f", ps[1]),
				fmt.Sprintf("%.0f", ps[2]),
				strconv.FormatInt(snap.Max(), 10),
				fmt.Sprintf("%.0f", opsPerSec(res)),
				"false",
			)
		}
		row = append(row,
			strconv.Itoa(cfg.SegmentLength),
			cfg.Serializer,
			strconv.Itoa(cfg.Workers),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
		)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", res.name, err)
		}
	}
	return nil
}
