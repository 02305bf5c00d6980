// Benchmark replays a labelled corpus against a running Kestrel server and
// reports detection quality.
//
// Usage:
//
//	go run ./cmd/benchmark -in transactions.json -url http://localhost:5000
//
// This tool:
//  1. Reads a JSON corpus (with fraud labels) or an XML directory
//  2. Sends each raw message to POST /score unchanged
//  3. Compares fraud_detected with the label
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/parser"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// ScoreResponse is the Kestrel API response format
type ScoreResponse struct {
	ScoreID       string `json:"scoreId"`
	FraudDetected bool   `json:"fraud_detected"`
	RiskScore     string `json:"risk_score"`
	Message       string `json:"message"`
}

// sample is one corpus record with its ground truth.
type sample struct {
	record pipeline.Record
	fraud  bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud detected as fraud
	FalsePositives int64 // Safe detected as fraud
	TrueNegatives  int64 // Safe detected as safe
	FalseNegatives int64 // Fraud detected as safe (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

// record adds one verdict to the confusion matrix.
func (m *Metrics) record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Rates returns precision, recall, F1 and accuracy. Undefined ratios are 0.
func (m *Metrics) Rates() (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}

func main() {
	in := flag.String("in", "", "Corpus: JSON array file or directory of XML messages")
	baseURL := flag.String("url", "http://localhost:5000", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum messages to send (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each message result")
	flag.Parse()

	if *in == "" {
		fmt.Println("Usage: benchmark -in transactions.json [-url http://localhost:5000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK")
	fmt.Printf("\nCorpus:      %s\n", *in)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	samples, err := loadSamples(*in, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read corpus: %v\n", err)
		os.Exit(1)
	}
	fraudCount := 0
	for _, s := range samples {
		if s.fraud {
			fraudCount++
		}
	}
	fmt.Printf("Loaded %d messages (%d fraud)\n", len(samples), fraudCount)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(samples, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// loadSamples reads the corpus and labels each record from its own content.
func loadSamples(path string, limit int) ([]sample, error) {
	records, err := pipeline.ReadCorpus(path)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	samples := make([]sample, 0, len(records))
	for _, rec := range records {
		msg, err := parser.Parse(rec.Raw, rec.Encoding)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Source, err)
		}
		samples = append(samples, sample{record: rec, fraud: msg.Fraud == 1})
	}
	return samples, nil
}

func runBenchmark(samples []sample, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := scoreMessage(client, baseURL, tenantID, s.record)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.record.Source, err)
					}
					continue
				}

				metrics.record(result.FraudDetected, s.fraud)

				if verbose {
					status := "ok"
					if result.FraudDetected != s.fraud {
						status = "MISS"
					}
					fmt.Printf("%-4s %-12s | Fraud: %-5v | Kestrel: %-5v (%s)\n",
						status, s.record.Source, s.fraud, result.FraudDetected, result.RiskScore)
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreMessage(client *http.Client, baseURL, tenantID string, rec pipeline.Record) (*ScoreResponse, error) {
	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(rec.Raw))
	if err != nil {
		return nil, err
	}

	contentType := "application/json"
	if rec.Encoding == domain.EncodingXML {
		contentType = "application/xml"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD       SAFE")
	fmt.Printf("   Actual  F    %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision, recall, f1, accuracy := m.Rates()

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f msg/sec\n", tps)
	}

	fmt.Println()
}
