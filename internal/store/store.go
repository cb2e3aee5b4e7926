package store

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

const (
	appName   = "picoprov"
	stateFile = "settings.yaml"
)

// Settings is the persisted device state. Field order here fixes the
// key order on disk, so repeated save/load cycles are byte-stable.
type Settings struct {
	WifiSSID  string `yaml:"wifi_ssid"`
	WifiPSK   string `yaml:"wifi_psk"`
	BootCount uint32 `yaml:"boot_count"`
}

// Store reads and writes the settings file. All file operations are
// protected by a mutex and writes are atomic (temp file plus rename).
type Store struct {
	mu       sync.Mutex
	path     string
	settings Settings
	loaded   bool
}

// DefaultDir returns the OS-appropriate state directory:
//   - Linux: $XDG_CONFIG_HOME/picoprov or $HOME/.config/picoprov
//   - macOS: $HOME/.config/picoprov
//   - Windows: %LOCALAPPDATA%\picoprov
func DefaultDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// DefaultPath returns the full path to the settings file.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, stateFile), nil
}

// Open creates a store backed by the given file path. An empty path
// selects the OS-appropriate default location. The file is read
// immediately; a missing file yields zero-value settings.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, wifierr.Wrap(wifierr.KindIO, "failed to resolve settings path", err)
		}
	}

	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.settings = Settings{}
		s.loaded = true
		return nil
	}
	if err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to read settings file", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to parse settings file", err)
	}

	s.settings = settings
	s.loaded = true
	return nil
}

// save writes the settings atomically. Caller holds s.mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to create settings directory", err)
	}

	data, err := yaml.Marshal(&s.settings)
	if err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to marshal settings", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to write temporary settings file", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return wifierr.Wrap(wifierr.KindIO, "failed to save settings file", err)
	}

	return nil
}

// Credentials returns the stored SSID and pre-shared key. ok is false
// when no credentials have been saved (empty SSID).
func (s *Store) Credentials() (ssid, psk string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.WifiSSID == "" {
		return "", "", false
	}
	return s.settings.WifiSSID, s.settings.WifiPSK, true
}

// SetCredentials validates and persists a credential pair. The SSID must
// be non-empty and at most 32 bytes; the key at most 64 bytes.
func (s *Store) SetCredentials(ssid, psk string) error {
	if ssid == "" {
		return wifierr.New(wifierr.KindInvalidArgument, "SSID must not be empty")
	}
	if len(ssid) > radio.MaxSSIDLen {
		return wifierr.Newf(wifierr.KindInvalidArgument,
			"SSID exceeds %d bytes", radio.MaxSSIDLen)
	}
	if len(psk) > radio.MaxPassphraseLen {
		return wifierr.Newf(wifierr.KindInvalidArgument,
			"passphrase exceeds %d bytes", radio.MaxPassphraseLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.WifiSSID = ssid
	s.settings.WifiPSK = psk
	if err := s.save(); err != nil {
		return err
	}

	logging.Info("Credentials saved", logging.SSID(ssid))
	return nil
}

// ClearCredentials removes the stored credential pair. Clearing an
// already-empty store is a no-op.
func (s *Store) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.WifiSSID == "" && s.settings.WifiPSK == "" {
		return nil
	}
	s.settings.WifiSSID = ""
	s.settings.WifiPSK = ""
	if err := s.save(); err != nil {
		return err
	}

	logging.Info("Credentials cleared")
	return nil
}

// BootCount returns the persisted boot counter.
func (s *Store) BootCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.BootCount
}

// IncrementBootCount bumps the boot counter and persists it, returning
// the new value.
func (s *Store) IncrementBootCount() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.BootCount++
	if err := s.save(); err != nil {
		s.settings.BootCount--
		return s.settings.BootCount, err
	}
	return s.settings.BootCount, nil
}
