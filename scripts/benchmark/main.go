package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL  = flag.String("api-url", "http://localhost:8080", "resolver API base URL")
	apiKey  = flag.String("api-key", "", "API key for authenticated requests")
	runs    = flag.Int("runs", 3, "number of runs per wrapper URL")
	urlFile = flag.String("urls", "", "file with one wrapper URL per line (default: positional args)")
	output  = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// --- Response types (mirrors models package) ---

type resolveResponse struct {
	Success      bool         `json:"success"`
	ResolvedURL  string       `json:"resolved_url"`
	Strategy     string       `json:"strategy"`
	LastKnownURL string       `json:"last_known_url"`
	Reason       string       `json:"reason"`
	Timing       timingInfo   `json:"timing"`
	Error        *errorDetail `json:"error,omitempty"`
}

type timingInfo struct {
	TotalMs int64 `json:"total_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run         int    `json:"run"`
	HTTPStatus  int    `json:"http_status"`
	TotalMs     int64  `json:"total_ms"`
	Success     bool   `json:"success"`
	Strategy    string `json:"strategy,omitempty"`
	ResolvedURL string `json:"resolved_url,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

type urlSummary struct {
	AvgMs       float64 `json:"avg_ms"`
	SuccessRate float64 `json:"success_rate"`
	Strategy    string  `json:"strategy,omitempty"`
	Stable      bool    `json:"stable"` // every successful run agreed on the destination
}

type urlResult struct {
	URL     string      `json:"url"`
	Runs    []runResult `json:"runs"`
	Summary urlSummary  `json:"summary"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	wrappers, err := loadURLs(*urlFile, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(wrappers) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no wrapper URLs given (use -urls FILE or positional args)")
		os.Exit(1)
	}

	fmt.Println("=== Unwrap Benchmark ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Wrappers:  %d\n", len(wrappers))
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	client := &http.Client{Timeout: 150 * time.Second}
	for _, w := range wrappers {
		fmt.Printf("Resolving %s ...\n", truncateURL(w, 70))
		ur := urlResult{URL: w}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := resolveOnce(client, w, i)
			if rr.Success {
				fmt.Printf("OK  %dms  via %s\n", rr.TotalMs, rr.Strategy)
			} else {
				fmt.Printf("FAILED (%d): %s\n", rr.HTTPStatus, rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Summary = summarize(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

// loadURLs reads wrapper URLs from path (blank lines and # comments
// skipped) followed by any positional args.
func loadURLs(path string, args []string) ([]string, error) {
	var out []string
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			out = append(out, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read url file: %w", err)
		}
	}
	return append(out, args...), nil
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func resolveOnce(client *http.Client, wrapper string, run int) runResult {
	rr := runResult{Run: run}

	req, err := http.NewRequest(http.MethodGet, *apiURL+"/api/v1/resolve?url="+url.QueryEscape(wrapper), nil)
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		rr.TotalMs = time.Since(start).Milliseconds()
		return rr
	}
	defer resp.Body.Close()
	rr.HTTPStatus = resp.StatusCode

	var rsp resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&rsp); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = rsp.Success
	rr.TotalMs = rsp.Timing.TotalMs
	rr.Strategy = rsp.Strategy
	rr.ResolvedURL = rsp.ResolvedURL
	rr.Reason = rsp.Reason
	if rsp.Error != nil {
		rr.Error = rsp.Error.Message
	}
	return rr
}

func summarize(runs []runResult) urlSummary {
	var s urlSummary
	if len(runs) == 0 {
		return s
	}

	var total int64
	strategies := map[string]int{}
	destinations := map[string]struct{}{}
	successes := 0
	for _, r := range runs {
		total += r.TotalMs
		if !r.Success {
			continue
		}
		successes++
		strategies[r.Strategy]++
		destinations[r.ResolvedURL] = struct{}{}
	}

	s.AvgMs = float64(total) / float64(len(runs))
	s.SuccessRate = float64(successes) / float64(len(runs))
	s.Stable = len(destinations) <= 1

	bestCount := 0
	for name, count := range strategies {
		if count > bestCount {
			s.Strategy = name
			bestCount = count
		}
	}
	return s
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Wrapper\tAvg Latency\tSuccess\tStrategy\tStable\n")
	fmt.Fprintf(w, "───────\t───────────\t───────\t────────\t──────\n")

	for _, r := range results {
		strategy := r.Summary.Strategy
		if strategy == "" {
			strategy = "-"
		}
		fmt.Fprintf(w, "%s\t%dms\t%.0f%%\t%s\t%v\n",
			truncateURL(r.URL, 40),
			int64(r.Summary.AvgMs),
			r.Summary.SuccessRate*100,
			strategy,
			r.Summary.Stable,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
