package twitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// sessionDir returns the directory for persisting session cookies.
func sessionDir(override string) string {
	if override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".go-twitter", "sessions")
}

func sessionPath(dir, username string) string {
	return filepath.Join(dir, username+".json")
}

// savedSession is the on-disk form of an account's cookies.
type savedSession struct {
	AuthToken string    `json:"auth_token"`
	CT0       string    `json:"ct0"`
	SavedAt   time.Time `json:"saved_at"`
}

// saveSession persists auth_token and ct0 to disk.
func saveSession(dir, username, authToken, ct0 string) error {
	d := sessionDir(dir)
	if err := os.MkdirAll(d, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(savedSession{AuthToken: authToken, CT0: ct0, SavedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	path := sessionPath(d, username)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}
	slog.Debug("session saved", slog.String("user", username))
	return nil
}

// loadSession returns the persisted cookies for username. A missing or
// expired session yields empty strings and no error.
func loadSession(dir, username string, ttl time.Duration) (authToken, ct0 string, err error) {
	data, err := os.ReadFile(sessionPath(sessionDir(dir), username))
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	var s savedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return "", "", fmt.Errorf("decode session %s: %w", username, err)
	}
	if time.Since(s.SavedAt) > ttl {
		slog.Debug("session expired", slog.String("user", username))
		return "", "", nil
	}
	return s.AuthToken, s.CT0, nil
}

// dropSession removes the persisted session for username.
func dropSession(dir, username string) {
	_ = os.Remove(sessionPath(sessionDir(dir), username))
}
