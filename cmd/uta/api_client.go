package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiGet performs a GET request and decodes the JSON response into out.
func apiGet(path string, out any) error {
	resp, err := apiClient.Get(strings.TrimRight(apiAddr, "/") + path)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

// apiPost sends data as JSON and decodes the response into out.
func apiPost(path string, data, out any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	resp, err := apiClient.Post(strings.TrimRight(apiAddr, "/")+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// The parsed payload is returned alongside the error on a non-200 response.
func CheckHealth() (*HealthResponse, error) {
	resp, err := apiClient.Get(strings.TrimRight(apiAddr, "/") + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}

	return &health, nil
}

// HealthResponse matches the server's health response structure.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}
