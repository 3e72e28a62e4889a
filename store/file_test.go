package store_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgdesk/session-go/store"
)

func newFileStore(t *testing.T) (*store.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	f, err := store.NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() error: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f, path
}

func TestFile_SaveAndReopen(t *testing.T) {
	f, path := newFileStore(t)
	creds := validCreds(t)
	u := testUser

	if err := f.Save(creds, &u); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// A second store on the same path must see the saved session.
	g, err := store.NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() reopen error: %v", err)
	}
	defer g.Close()

	if g.AccessToken() != creds.AccessToken {
		t.Error("reopened store lost the access token")
	}
	if g.RefreshToken() != creds.RefreshToken {
		t.Error("reopened store lost the refresh token")
	}
	if got := g.User(); got == nil || got.ID != testUser.ID {
		t.Errorf("reopened store User() = %+v", got)
	}
}

func TestFile_ClearRemovesFile(t *testing.T) {
	f, path := newFileStore(t)
	u := testUser
	if err := f.Save(validCreds(t), &u); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := f.Clear(); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("token file should be gone after Clear")
	}
	if f.AccessToken() != "" || f.RefreshToken() != "" {
		t.Error("snapshot not emptied after Clear")
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("second Clear() error: %v", err)
	}
}

func TestFile_SetAccessToken(t *testing.T) {
	f, path := newFileStore(t)

	if err := f.SetAccessToken("tok"); err == nil {
		t.Error("SetAccessToken without a session must fail")
	}

	u := testUser
	creds := validCreds(t)
	if err := f.Save(creds, &u); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := f.SetAccessToken("next-token"); err != nil {
		t.Fatalf("SetAccessToken() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	var data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("parse token file: %v", err)
	}
	if data.AccessToken != "next-token" {
		t.Errorf("on-disk access_token = %q, want %q", data.AccessToken, "next-token")
	}
	if data.RefreshToken != creds.RefreshToken {
		t.Error("on-disk refresh_token must survive SetAccessToken")
	}
}

// A refresh performed by a sibling process rewrites the token file; the
// watcher must fold that update into the in-memory snapshot.
func TestFile_ExternalUpdate(t *testing.T) {
	f, path := newFileStore(t)
	u := testUser
	if err := f.Save(validCreds(t), &u); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	external, err := store.NewFile(path)
	if err != nil {
		t.Fatalf("NewFile() sibling error: %v", err)
	}
	defer external.Close()
	if err := external.SetAccessToken("sibling-token"); err != nil {
		t.Fatalf("sibling SetAccessToken() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.AccessToken() != "sibling-token" {
		if time.Now().After(deadline) {
			t.Fatalf("AccessToken() = %q, watcher never picked up the sibling write", f.AccessToken())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFile_MissingFileIsEmptySession(t *testing.T) {
	f, _ := newFileStore(t)
	if f.AccessToken() != "" || f.RefreshToken() != "" || f.User() != nil {
		t.Error("store over a missing file must start empty")
	}
	if f.Valid() {
		t.Error("empty file store must not be valid")
	}
}

func TestFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.NewFile(path); err == nil {
		t.Error("NewFile over a corrupt file should fail")
	}
}
