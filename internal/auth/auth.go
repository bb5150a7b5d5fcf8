// Package auth attributes API callers to principals and keeps the CLI's
// local credentials.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Credentials are the CLI's saved identity.
type Credentials struct {
	Principal string `json:"principal"`
	Token     string `json:"token,omitempty"`
	APIURL    string `json:"api_url,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Manager loads and stores credentials under a config directory.
type Manager struct {
	configDir   string
	credentials *Credentials
	mu          sync.RWMutex
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configDir: dir}

	// Missing or unreadable credentials mean "logged out"
	_ = m.loadCredentials()

	return m, nil
}

// IsAuthenticated reports whether credentials exist and have not expired.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credentials == nil || m.credentials.Principal == "" {
		return false
	}
	if m.credentials.ExpiresAt == 0 {
		return true
	}
	return time.Now().Before(time.Unix(m.credentials.ExpiresAt, 0))
}

// Credentials returns a copy of the saved credentials, or nil.
func (m *Manager) Credentials() *Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.credentials == nil {
		return nil
	}
	c := *m.credentials
	return &c
}

// Login saves credentials for principal. token may be empty when the
// daemon trusts the principal header.
func (m *Manager) Login(principal, token, apiURL string, expiresAt time.Time) error {
	if principal == "" {
		return fmt.Errorf("principal is required")
	}

	creds := &Credentials{
		Principal: principal,
		Token:     token,
		APIURL:    apiURL,
		CreatedAt: time.Now().Unix(),
	}
	if !expiresAt.IsZero() {
		creds.ExpiresAt = expiresAt.Unix()
	}

	m.mu.Lock()
	m.credentials = creds
	m.mu.Unlock()

	if err := m.saveCredentials(); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Logout clears the saved credentials.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.credentials = nil
	m.mu.Unlock()

	if err := os.Remove(m.credentialsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

func (m *Manager) credentialsPath() string {
	return filepath.Join(m.configDir, "credentials.json")
}

func (m *Manager) loadCredentials() error {
	data, err := os.ReadFile(m.credentialsPath())
	if err != nil {
		return err
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}

	m.mu.Lock()
	m.credentials = &creds
	m.mu.Unlock()

	return nil
}

func (m *Manager) saveCredentials() error {
	m.mu.RLock()
	creds := m.credentials
	m.mu.RUnlock()

	if creds == nil {
		return nil
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.credentialsPath(), data, 0o600)
}
