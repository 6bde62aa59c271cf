// Benchmark tool for load testing Heron's batch scoring endpoint.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -entities 500 -batches 50
//
// This tool:
//  1. Reads the loaded rule tables from GET /v1/tables to learn the input fields
//  2. Generates random snapshots for a synthetic universe of entities
//  3. Sends the universe to POST /v1/score/batch from concurrent workers
//  4. Reports latency percentiles, throughput and the direction mix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// categorical inputs take one of a fixed set of values.
var categorical = map[string][]string{
	"news_type":      {"EARNINGS", "ANALYST", "OFFERING", "OTHER"},
	"surprise_level": {"HUGE_POSITIVE", "POSITIVE", "INLINE", "NEGATIVE", "HUGE_NEGATIVE"},
	"analyst_action": {"UPGRADE", "DOWNGRADE", "REITERATE"},
}

// regimeInputs feed blend departments directly and are not table fields.
var regimeInputs = []string{
	"spy_daily_regime_score",
	"spy_intraday_regime_score",
	"vix_score",
	"fear_greed_score",
	"macro_news_score",
	"sector_score_daily",
	"sector_score_intraday",
}

type entityRequest struct {
	EntityID string         `json:"entity_id"`
	Snapshot map[string]any `json:"snapshot"`
}

type batchRequest struct {
	Entities     []entityRequest `json:"entities"`
	AdvanceCycle bool            `json:"advance_cycle"`
}

type batchResult struct {
	Direction string `json:"direction"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
	Ranked  []batchResult `json:"ranked"`
	Signals int           `json:"signals"`
	TotalMs int64         `json:"total_ms"`
}

type tableSummary struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Metrics tracks benchmark results
type Metrics struct {
	Batches  int64
	Entities int64
	Signals  int64
	Errors   int64

	Long    int64
	Short   int64
	Neutral int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Heron base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	entities := flag.Int("entities", 500, "Entities per batch")
	batches := flag.Int("batches", 50, "Number of batches to send")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	advance := flag.Bool("advance", false, "Advance the refresh cycle with every batch")
	seed := flag.Uint64("seed", 1, "Random seed for snapshot generation")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	if *entities <= 0 || *batches <= 0 || *workers <= 0 {
		fmt.Println("Usage: benchmark [-url http://localhost:8080] [-entities 500] [-batches 50]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            HERON BENCHMARK - Batch Universe Scoring           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHeron URL:   %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Entities:    %d per batch\n", *entities)
	fmt.Printf("Batches:     %d\n", *batches)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	client := &http.Client{Timeout: 30 * time.Second}

	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Heron not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Heron is running:")
		fmt.Println("  go run ./cmd/heron serve")
		os.Exit(1)
	}
	fmt.Println("✓ Heron is healthy")

	fields, err := fetchFields(client, *baseURL, *tenantID)
	if err != nil {
		fmt.Printf("ERROR: Failed to list rule tables: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Discovered %d input fields\n", len(fields))

	rng := rand.New(rand.NewPCG(*seed, *seed))
	payloads := make([][]byte, *batches)
	for i := range payloads {
		body, err := json.Marshal(buildBatch(rng, fields, *entities, *advance))
		if err != nil {
			fmt.Printf("ERROR: Failed to encode batch: %v\n", err)
			os.Exit(1)
		}
		payloads[i] = body
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(client, payloads, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// fetchFields returns the sorted union of input fields across loaded tables
// plus the regime inputs.
func fetchFields(client *http.Client, baseURL, tenantID string) ([]string, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/tables", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		Tables []tableSummary `json:"tables"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, t := range body.Tables {
		for _, f := range t.Fields {
			seen[f] = struct{}{}
		}
	}
	for _, f := range regimeInputs {
		seen[f] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields, nil
}

func buildBatch(rng *rand.Rand, fields []string, n int, advance bool) batchRequest {
	req := batchRequest{
		Entities:     make([]entityRequest, n),
		AdvanceCycle: advance,
	}
	for i := range req.Entities {
		snap := make(map[string]any, len(fields))
		for _, f := range fields {
			// Leave some inputs absent so NoData paths are exercised.
			if rng.Float64() < 0.1 {
				continue
			}
			snap[f] = randomValue(rng, f)
		}
		req.Entities[i] = entityRequest{
			EntityID: fmt.Sprintf("SYN%05d", i),
			Snapshot: snap,
		}
	}
	return req
}

func randomValue(rng *rand.Rand, field string) any {
	if values, ok := categorical[field]; ok {
		return values[rng.IntN(len(values))]
	}
	switch rng.IntN(3) {
	case 0:
		return rng.Float64()*2 - 1 // biases and ratios
	case 1:
		return rng.Float64()*20 - 10 // pre-scored inputs
	default:
		return rng.Float64() * 100 // oscillators and percentages
	}
}

func runBenchmark(client *http.Client, payloads [][]byte, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{latencies: make([]time.Duration, 0, len(payloads))}

	work := make(chan int, len(payloads))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				start := time.Now()
				result, err := scoreBatch(client, baseURL, tenantID, payloads[idx])
				elapsed := time.Since(start)
				atomic.AddInt64(&metrics.Batches, 1)

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: batch %d -> %v\n", idx, err)
					}
					continue
				}
				metrics.observe(elapsed)

				atomic.AddInt64(&metrics.Entities, int64(len(result.Results)))
				atomic.AddInt64(&metrics.Signals, int64(result.Signals))
				for _, r := range result.Results {
					switch r.Direction {
					case "LONG":
						atomic.AddInt64(&metrics.Long, 1)
					case "SHORT":
						atomic.AddInt64(&metrics.Short, 1)
					default:
						atomic.AddInt64(&metrics.Neutral, 1)
					}
				}

				if verbose {
					fmt.Printf("✓ batch %-4d | entities: %5d | ranked: %5d | signals: %5d | server: %5d ms | round trip: %v\n",
						idx, len(result.Results), len(result.Ranked), result.Signals, result.TotalMs, elapsed.Round(time.Millisecond))
				}
			}
		}()
	}

	for i := range payloads {
		work <- i
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreBatch(client *http.Client, baseURL, tenantID string, body []byte) (*batchResponse, error) {
	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/v1/score/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 VOLUME\n")
	fmt.Printf("   Batches Sent:     %d\n", m.Batches)
	fmt.Printf("   Entities Scored:  %d\n", m.Entities)
	fmt.Printf("   Signals:          %d\n", m.Signals)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	fmt.Printf("\n🧭 DIRECTION MIX\n")
	if m.Entities > 0 {
		pct := func(n int64) float64 { return 100 * float64(n) / float64(m.Entities) }
		fmt.Printf("   LONG:     %8d (%.2f%%)\n", m.Long, pct(m.Long))
		fmt.Printf("   SHORT:    %8d (%.2f%%)\n", m.Short, pct(m.Short))
		fmt.Printf("   NEUTRAL:  %8d (%.2f%%)\n", m.Neutral, pct(m.Neutral))
	}

	slices.Sort(m.latencies)
	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) > 0 {
		fmt.Printf("   Batch p50:        %v\n", percentile(m.latencies, 0.50).Round(time.Microsecond))
		fmt.Printf("   Batch p95:        %v\n", percentile(m.latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("   Batch p99:        %v\n", percentile(m.latencies, 0.99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f entities/sec\n", float64(m.Entities)/duration.Seconds())
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if m.Errors > 0 {
		fmt.Println("   ❌ Some batches failed - check server logs")
	} else {
		fmt.Println("   ✅ All batches scored")
	}
	if m.Entities > 0 && m.Neutral == m.Entities {
		fmt.Println("   ⚠️  Every entity was NEUTRAL - snapshots may not match the loaded tables")
	}

	fmt.Println()
}
