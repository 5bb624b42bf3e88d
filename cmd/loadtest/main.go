package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/awmpietro/cloudmake/internal/transport/analyzedto"
)

type sample struct {
	latency time.Duration
	status  int
	err     error
}

type summary struct {
	requests, ok, rejected, failed int
	avg, p50, p90, p99             time.Duration
	rps                            float64
}

func main() {
	url := flag.String("url", "http://localhost:8080/analyze", "analyze endpoint URL")
	rulesPath := flag.String("rules", "", "rule file to send (required)")
	rps := flag.Int("rps", 50, "target requests per second")
	duration := flag.Duration("duration", 60*time.Second, "test duration")
	workers := flag.Int("workers", 50, "number of concurrent workers")
	timeout := flag.Duration("timeout", 5*time.Second, "HTTP client timeout")
	maxP90 := flag.Duration("max-p90", 30*time.Millisecond, "fail when P90 latency exceeds this")
	flag.Parse()

	if *rps <= 0 || *duration <= 0 || *workers <= 0 || *rulesPath == "" {
		fmt.Fprintln(os.Stderr, "-rules is required; rps, duration and workers must be > 0")
		os.Exit(2)
	}
	rules, err := os.ReadFile(*rulesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read rules: %v\n", err)
		os.Exit(1)
	}
	body, err := json.Marshal(analyzedto.AnalyzeRequest{Rules: string(rules), Paths: []string{""}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal payload: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	jobs := make(chan struct{}, *workers)
	samples := make(chan sample, *workers)

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				samples <- send(client, *url, body)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(samples)
	}()

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(*rps))
		defer ticker.Stop()
		deadline := time.Now().Add(*duration)
		for now := range ticker.C {
			if now.After(deadline) {
				break
			}
			jobs <- struct{}{}
		}
		close(jobs)
	}()

	var all []sample
	for s := range samples {
		all = append(all, s)
	}
	if len(all) == 0 {
		fmt.Fprintln(os.Stderr, "no requests executed")
		os.Exit(1)
	}

	s := summarize(all, *duration)
	fmt.Printf("Load test finished\n")
	fmt.Printf("- target_rps: %d\n", *rps)
	fmt.Printf("- achieved_rps: %.2f\n", s.rps)
	fmt.Printf("- requests: %d (2xx %d, non_2xx %d, errors %d)\n", s.requests, s.ok, s.rejected, s.failed)
	fmt.Printf("- avg_ms: %.3f p50_ms: %.3f p90_ms: %.3f p99_ms: %.3f\n", ms(s.avg), ms(s.p50), ms(s.p90), ms(s.p99))

	if s.rps >= float64(*rps)*0.98 && s.p90 < *maxP90 && s.failed == 0 && s.rejected == 0 {
		fmt.Printf("PASS: meets %d RPS and P90 < %s\n", *rps, *maxP90)
		return
	}
	fmt.Println("FAIL: does not meet target (or has request errors)")
	os.Exit(1)
}

func send(client *http.Client, url string, body []byte) sample {
	start := time.Now()
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return sample{latency: time.Since(start), err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return sample{latency: time.Since(start), status: resp.StatusCode}
}

func summarize(all []sample, d time.Duration) summary {
	s := summary{requests: len(all)}
	latencies := make([]time.Duration, 0, len(all))
	var total time.Duration
	for _, r := range all {
		latencies = append(latencies, r.latency)
		total += r.latency
		switch {
		case r.err != nil:
			s.failed++
		case r.status >= 200 && r.status < 300:
			s.ok++
		default:
			s.rejected++
		}
	}
	slices.Sort(latencies)
	s.avg = total / time.Duration(len(latencies))
	s.p50 = percentile(latencies, 50)
	s.p90 = percentile(latencies, 90)
	s.p99 = percentile(latencies, 99)
	s.rps = float64(len(latencies)) / d.Seconds()
	return s
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)*p/100]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
