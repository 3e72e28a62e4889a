// Package store provides TokenStore implementations backed by process
// memory and by a shared token file on disk.
package store

import (
	"fmt"
	"sync"
	"time"

	session "github.com/pgdesk/session-go"
)

// Memory is an in-process TokenStore. This is the default store for
// dashboards and tests; state disappears with the process.
type Memory struct {
	mu    sync.RWMutex
	creds session.Credentials
	user  *session.User
}

// compile-time check
var _ session.TokenStore = (*Memory)(nil)

// NewMemory creates an empty in-memory token store.
func NewMemory() *Memory {
	return &Memory{}
}

// Save persists the credential pair and user snapshot together.
func (m *Memory) Save(creds session.Credentials, user *session.User) error {
	m.mu.Lock()
	m.creds = creds
	m.user = user
	m.mu.Unlock()
	return nil
}

// SetAccessToken replaces only the access token. It refuses to write into
// an empty store so a refresh completing after logout cannot leave a
// half-built session behind.
func (m *Memory) SetAccessToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds.RefreshToken == "" {
		return fmt.Errorf("store: no active session")
	}
	m.creds.AccessToken = token
	return nil
}

// AccessToken returns the stored access token, or "" if absent.
func (m *Memory) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.AccessToken
}

// RefreshToken returns the stored refresh token, or "" if absent.
func (m *Memory) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds.RefreshToken
}

// User returns the stored user snapshot, or nil if absent.
func (m *Memory) User() *session.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// Clear removes all session state. Idempotent.
func (m *Memory) Clear() error {
	m.mu.Lock()
	m.creds = session.Credentials{}
	m.user = nil
	m.mu.Unlock()
	return nil
}

// Valid reports whether the stored access token is usable, clearing the
// store when it is not.
func (m *Memory) Valid() bool {
	if session.TokenExpired(m.AccessToken(), time.Now()) {
		_ = m.Clear()
		return false
	}
	return true
}
