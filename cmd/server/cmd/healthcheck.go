package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /health endpoint.

Used by the container HEALTHCHECK. Exits 0 when the server reports
"healthy", non-zero otherwise.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy or unreachable
  2 - Invalid response from server`,
		RunE: runHealthcheck,
	}

	healthcheckTimeout time.Duration
	healthcheckURL     string
	healthcheckRetries int
)

func init() {
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 5*time.Second, "timeout per attempt")
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/health)")
	healthcheckCmd.Flags().IntVar(&healthcheckRetries, "retries", 1, "attempts before giving up")
}

// HealthResponse matches the body written by the /health handler.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResult is the outcome of one probe.
type HealthResult struct {
	Status    string
	IsHealthy bool
	LatencyMs int64
	Error     string
	// invalid marks a response that could not be decoded
	invalid bool
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	url := healthcheckURL
	if url == "" {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8000"
		}
		url = fmt.Sprintf("http://localhost:%s/health", port)
	}

	result := performHealthCheckWithRetries(url, healthcheckTimeout, healthcheckRetries, time.Second)
	if result.IsHealthy {
		fmt.Fprintf(cmd.OutOrStdout(), "healthy (%dms)\n", result.LatencyMs)
		return nil
	}

	if result.Error != "" {
		fmt.Fprintf(os.Stderr, "Health check failed: %s\n", result.Error)
	} else {
		fmt.Fprintf(os.Stderr, "Server status: %s\n", result.Status)
	}
	if result.invalid {
		os.Exit(2)
	}
	os.Exit(1)
	return nil
}

func performHealthCheck(url string) HealthResult {
	return performHealthCheckWithTimeout(url, 5*time.Second)
}

func performHealthCheckWithTimeout(url string, timeout time.Duration) HealthResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResult{Error: err.Error()}
	}

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthResult{Error: err.Error(), LatencyMs: latency}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return HealthResult{Error: fmt.Sprintf("invalid response: %v", err), LatencyMs: latency, invalid: true}
	}

	return HealthResult{
		Status:    body.Status,
		IsHealthy: resp.StatusCode == http.StatusOK && body.Status == "healthy",
		LatencyMs: latency,
	}
}

func performHealthCheckWithRetries(url string, timeout time.Duration, attempts int, backoff time.Duration) HealthResult {
	if attempts < 1 {
		attempts = 1
	}
	var result HealthResult
	for i := 0; i < attempts; i++ {
		result = performHealthCheckWithTimeout(url, timeout)
		if result.IsHealthy {
			return result
		}
		if i < attempts-1 {
			time.Sleep(backoff)
		}
	}
	return result
}
