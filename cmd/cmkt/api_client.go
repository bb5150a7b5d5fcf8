package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/computemarket/cmkt/internal/controlplane"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiGet performs a GET request to the API with timeout.
func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

// apiPost performs a POST request to the API with timeout.
func apiPost(path string, data interface{}) ([]byte, error) {
	return apiDo(http.MethodPost, path, data)
}

func apiDo(method, path string, data interface{}) ([]byte, error) {
	var reader io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, reader)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setIdentity(req)

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, body)
	}
	return body, nil
}

// setIdentity attributes the request to the acting principal.
func setIdentity(req *http.Request) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if actingAs != "" {
		req.Header.Set(controlplane.PrincipalHeader, actingAs)
	}
}

// apiError renders a market error as "<message> (code N)".
func apiError(status int, body []byte) error {
	var e controlplane.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return fmt.Errorf("API error (%d): %s", status, string(body))
	}
	if e.Codespace != "" {
		return fmt.Errorf("%s (%s code %d)", e.Error, e.Codespace, e.Code)
	}
	return fmt.Errorf("%s", e.Error)
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// Unlike other API calls, this returns the parsed HealthResponse even on non-200
// responses, allowing callers to inspect the health payload alongside the error.
func CheckHealth() (*controlplane.HealthResponse, error) {
	resp, err := apiClient.Get(apiAddr + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health controlplane.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}
	return &health, nil
}
