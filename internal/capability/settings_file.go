package capability

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/fswatch/internal/utils"
)

var ErrSettingsLocked = errors.New("settings file is locked by another process")

const lockRetryDelay = 50 * time.Millisecond

type settingsFile struct {
	Settings
	PollFrequencyMs int64     `json:"poll_frequency_ms"`
	DetectedAt      time.Time `json:"detected_at"`
	Platform        string    `json:"platform,omitempty"`
}

// Save writes s to path as JSON, holding an advisory lock next to it.
func Save(path string, s Settings) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("settings dir: %w", err)
	}

	lock := flock.New(lockPath(path))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("settings lock: %w", err)
	}
	if !locked {
		return ErrSettingsLocked
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(settingsFile{
		Settings:        s,
		PollFrequencyMs: s.PollFrequency.Milliseconds(),
		DetectedAt:      time.Now().UTC(),
		Platform:        runtime.GOOS,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("settings marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings write: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads settings saved by Save. The poll frequency is clamped to the floor.
func Load(path string) (Settings, error) {
	// the lock file cannot be created in a missing dir
	if _, err := os.Stat(path); err != nil {
		return Settings{}, err
	}

	lock := flock.New(lockPath(path))
	locked, err := lock.TryRLock()
	if err != nil {
		return Settings{}, fmt.Errorf("settings lock: %w", err)
	}
	if !locked {
		// a writer is mid-save; give it one chance to finish
		time.Sleep(lockRetryDelay)
		if locked, err = lock.TryRLock(); err != nil || !locked {
			return Settings{}, ErrSettingsLocked
		}
	}
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var f settingsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Settings{}, fmt.Errorf("settings parse '%s': %w", path, err)
	}

	s := f.Settings
	s.PollFrequency = ClampPollFrequency(time.Duration(f.PollFrequencyMs) * time.Millisecond)
	return s, nil
}

func lockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".lock")
}
