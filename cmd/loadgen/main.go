// Load generator for SentinelStream.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8000 -n 5000 -workers 20
//
// This tool:
//  1. Generates random transactions from a fixed pool of amounts and locations
//  2. Sends each one to POST /transaction
//  3. Reports the decision distribution, alert rate and latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	amounts   = []int{200, 500, 1200, 8000, 12000}
	locations = []string{"USA", "India", "Nigeria", "Russia", "UK"}
)

// TransactionRequest is the POST /transaction body.
type TransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Amount        int    `json:"amount"`
	Currency      string `json:"currency"`
	Merchant      string `json:"merchant"`
	Location      string `json:"location"`
}

// TransactionResponse is the subset of the decision response the report needs.
type TransactionResponse struct {
	Status     string  `json:"status"`
	FraudScore float64 `json:"fraud_score"`
	Alerted    bool    `json:"alerted"`
}

// Results tracks load test outcomes.
type Results struct {
	mu        sync.Mutex
	decisions map[string]int
	latencies []time.Duration

	Alerts int64
	Errors int64
}

func (r *Results) record(status string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[status]++
	r.latencies = append(r.latencies, latency)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "SentinelStream base URL")
	total := flag.Int("n", 1000, "Number of transactions to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	userPool := flag.Int("users", 50, "Number of distinct user ids")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *total <= 0 || *workers <= 0 || *userPool <= 0 {
		fmt.Println("Usage: loadgen [-url http://localhost:8000] [-n 1000] [-workers 10] [-users 50]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                 SENTINELSTREAM LOAD GENERATOR                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTarget:       %s\n", *baseURL)
	fmt.Printf("Transactions: %d\n", *total)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Users:        %d\n\n", *userPool)

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: SentinelStream not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/sentinel")
		os.Exit(1)
	}
	fmt.Println("✓ SentinelStream is healthy")

	start := time.Now()
	results := run(*baseURL, *total, *workers, *userPool, *verbose)
	printResults(results, time.Since(start))
}

func checkHealth(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
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

func randomTransaction(userPool int) TransactionRequest {
	return TransactionRequest{
		TransactionID: uuid.New().String(),
		UserID:        fmt.Sprintf("user-%d", rand.Intn(userPool)),
		Amount:        amounts[rand.Intn(len(amounts))],
		Currency:      "USD",
		Merchant:      "loadgen",
		Location:      locations[rand.Intn(len(locations))],
	}
}

func run(baseURL string, total, numWorkers, userPool int, verbose bool) *Results {
	results := &Results{decisions: make(map[string]int)}

	work := make(chan TransactionRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				resp, err := send(client, baseURL, tx)
				elapsed := time.Since(start)

				if err != nil {
					atomic.AddInt64(&results.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.TransactionID, err)
					}
					continue
				}

				results.record(resp.Status, elapsed)
				if resp.Alerted {
					atomic.AddInt64(&results.Alerts, 1)
				}

				if verbose {
					fmt.Printf("%-8s | Amount: %6d | Location: %-8s | Score: %7.2f | Alert: %v\n",
						resp.Status, tx.Amount, tx.Location, resp.FraudScore, resp.Alerted)
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		work <- randomTransaction(userPool)
	}
	close(work)
	wg.Wait()

	return results
}

func send(client *http.Client, baseURL string, tx TransactionRequest) (*TransactionResponse, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/transaction", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result TransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(r *Results, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                           RESULTS                             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	r.mu.Lock()
	defer r.mu.Unlock()

	processed := len(r.latencies)
	fmt.Printf("\nDECISIONS\n")
	for _, status := range []string{"ACCEPTED", "REVIEW", "REJECTED"} {
		n := r.decisions[status]
		share := 0.0
		if processed > 0 {
			share = 100 * float64(n) / float64(processed)
		}
		fmt.Printf("   %-9s %6d (%.1f%%)\n", status, n, share)
	}
	fmt.Printf("   Alerts:   %6d\n", r.Alerts)
	fmt.Printf("   Errors:   %6d\n", r.Errors)

	sort.Slice(r.latencies, func(i, j int) bool { return r.latencies[i] < r.latencies[j] })

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if processed > 0 {
		fmt.Printf("   p50 Latency:      %v\n", percentile(r.latencies, 0.50).Round(time.Microsecond))
		fmt.Printf("   p95 Latency:      %v\n", percentile(r.latencies, 0.95).Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", percentile(r.latencies, 0.99).Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(processed)/duration.Seconds())
	}
	fmt.Println()
}
