package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"qwenauth/internal/oauth"
	"qwenauth/pkg/logging"
)

const (
	defaultTokenDir  = ".one_dragon_alpha"
	defaultTokenFile = "qwen_oauth_creds.json"

	// The Qwen CLI keeps its credentials here; we discover and adopt
	// them so users who already ran `qwen login` need not re-auth.
	qwenCLITokenDir  = ".qwen"
	qwenCLITokenFile = "oauth_creds.json"
)

// FileStore persists the token as a JSON file under the user's home
// directory, with a secondary discovery location shared with the Qwen
// CLI tool.
type FileStore struct {
	path        string // primary location
	qwenCLIPath string // secondary (foreign tool) location, read-only
}

// NewFileStore creates a file-backed store. An empty path selects
// ~/.one_dragon_alpha/qwen_oauth_creds.json; the secondary location is
// always ~/.qwen/oauth_creds.json.
func NewFileStore(path string) (*FileStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if path == "" {
		path = filepath.Join(home, defaultTokenDir, defaultTokenFile)
	}
	return &FileStore{
		path:        path,
		qwenCLIPath: filepath.Join(home, qwenCLITokenDir, qwenCLITokenFile),
	}, nil
}

// NewFileStoreAt creates a store with both locations explicit. Used by
// tests.
func NewFileStoreAt(path, secondaryPath string) *FileStore {
	return &FileStore{path: path, qwenCLIPath: secondaryPath}
}

// Path returns the primary token file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the token to the primary location. The write goes to a
// temp file in the same directory followed by a rename, so a reader
// sees either the old or the new record, never a torn one. File mode is
// restricted to 0600; a chmod failure is logged, not fatal.
func (s *FileStore) Save(ctx context.Context, token *oauth.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".qwen_oauth_creds-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close token file: %w", err)
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		logging.Warn("TokenStore", "Failed to set token file permissions: %v", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace token file: %w", err)
	}

	logging.Info("TokenStore", "Token saved to %s", s.path)
	return nil
}

// Load reads the token, trying the primary location first and falling
// back to the Qwen CLI location. A token found only at the CLI location
// is synced into the primary location as a side effect. Returns
// (nil, nil) when neither location yields a valid record.
func (s *FileStore) Load(ctx context.Context) (*oauth.Token, error) {
	if token := readTokenFile(s.path); token != nil {
		logging.Info("TokenStore", "Token loaded from %s", s.path)
		return token, nil
	}

	if token := readTokenFile(s.qwenCLIPath); token != nil {
		if err := s.Save(ctx, token); err != nil {
			logging.Warn("TokenStore", "Failed to sync token from Qwen CLI location: %v", err)
		} else {
			logging.Info("TokenStore", "Token synced from Qwen CLI (%s) to %s", s.qwenCLIPath, s.path)
		}
		return token, nil
	}

	logging.Info("TokenStore", "No token found in %s or %s", s.path, s.qwenCLIPath)
	return nil, nil
}

// Delete removes the primary token file. A missing file is a no-op.
func (s *FileStore) Delete(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// readTokenFile reads and validates one location. Any failure (missing
// file, bad JSON, missing fields) is treated as absent at that location
// and logged at most as a warning.
func readTokenFile(path string) *oauth.Token {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("TokenStore", "Failed to read token file %s: %v", path, err)
		}
		return nil
	}

	var token oauth.Token
	if err := json.Unmarshal(data, &token); err != nil {
		logging.Warn("TokenStore", "Malformed token file %s: %v", path, err)
		return nil
	}
	if token.AccessToken == "" || token.RefreshToken == "" || token.ExpiresAt == 0 {
		logging.Warn("TokenStore", "Token file %s is missing required fields", path)
		return nil
	}

	return &token
}
