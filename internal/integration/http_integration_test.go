package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/cache"
	"github.com/awmpietro/cloudmake/internal/cloudmake"
	"github.com/awmpietro/cloudmake/internal/metrics"
	"github.com/awmpietro/cloudmake/internal/transport/httptransport"
)

func readRules(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newAnalyzeServer(t *testing.T) *httptest.Server {
	t.Helper()
	c, err := cache.NewLRU[*app.Analysis](64)
	if err != nil {
		t.Fatal(err)
	}
	registry := prometheus.NewRegistry()
	collector := metrics.New()
	collector.MustRegister(registry)

	svc := app.NewService(cloudmake.NewCompiler(), c, collector)
	h := httptransport.NewHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", h.Analyze)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, out
}

func TestHTTP_AnalyzeRules(t *testing.T) {
	srv := newAnalyzeServer(t)
	rules := readRules(t, "copy.cm")

	resp, body := postJSON(t, srv.URL+"/analyze", map[string]any{
		"rules": rules,
		"paths": []string{"n1/a", "n1/", "n2/a"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Report  app.Report      `json:"report"`
		Matches []app.PathMatch `json:"matches"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Report.Policies) != 2 || len(out.Report.Tiers) != 2 {
		t.Fatalf("unexpected report %+v", out.Report)
	}
	if len(out.Report.Nodes) != 1 || out.Report.Nodes[0] != "n1" {
		t.Fatalf("expected local node n1, got %v", out.Report.Nodes)
	}
	if len(out.Matches) != 3 || len(out.Matches[0].Accepted) != 1 || len(out.Matches[2].Prefix) != 0 {
		t.Fatalf("unexpected matches %+v", out.Matches)
	}
}

func TestHTTP_AnalyzeReportsLine(t *testing.T) {
	srv := newAnalyzeServer(t)
	rules := readRules(t, "copy.cm") + "RULE(\n"

	resp, body := postJSON(t, srv.URL+"/analyze", map[string]any{"rules": rules})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["line"] != float64(4) {
		t.Fatalf("expected error on line 4, got %v", out)
	}
}

func TestHTTP_ConcurrentAnalyzeAndMetrics(t *testing.T) {
	srv := newAnalyzeServer(t)
	rules := readRules(t, "copy.cm")

	const n = 16
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, _ := json.Marshal(map[string]any{"rules": rules})
			resp, err := http.Post(srv.URL+"/analyze", "application/json", bytes.NewReader(b))
			if err != nil {
				codes <- -1
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte(`cloudmake_compiler_compile_duration_seconds_count{result="success"} 1`)) {
		t.Fatalf("expected a single compilation in metrics:\n%s", b)
	}
}
