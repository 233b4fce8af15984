package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joules/server/audio"
	"github.com/joules/server/backend"
	"github.com/joules/server/config"
	"github.com/joules/server/meeting"
)

const sqliteFileName = "joules.db"

// app holds what the commands share: the resolved config and the
// constructors for the store, backend client and capture device.
type app struct {
	configPath string
	overrides  struct {
		dataDir    string
		backendURL string
		store      string
	}
	cfg *config.Config
}

// loadConfig resolves defaults, then the YAML file, then the environment,
// then flags.
func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}

	a.applyOverrides(cfg)

	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}
	cfg.DataDir = abs

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	return nil
}

func (a *app) applyOverrides(cfg *config.Config) {
	if a.overrides.dataDir != "" {
		cfg.DataDir = a.overrides.dataDir
	}
	if a.overrides.backendURL != "" {
		cfg.Backend.URL = a.overrides.backendURL
	}
	if a.overrides.store != "" {
		cfg.Store.Backend = a.overrides.store
	}
}

// openedStore is a store plus the file to watch for external edits.
type openedStore struct {
	*meeting.SlotStore
	path  string
	close func() error
}

func (a *app) openStore(ctx context.Context) (*openedStore, error) {
	cfg := a.cfg
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	switch cfg.Store.Backend {
	case config.StoreSQLite:
		slot, err := meeting.OpenSQLiteSlot(filepath.Join(cfg.DataDir, sqliteFileName), cfg.Store.Slot)
		if err != nil {
			return nil, err
		}
		return &openedStore{
			SlotStore: meeting.NewSlotStore(ctx, slot),
			path:      slot.Path(),
			close:     slot.Close,
		}, nil
	default:
		slot, err := meeting.NewFileSlot(cfg.DataDir, cfg.Store.Slot)
		if err != nil {
			return nil, err
		}
		return &openedStore{
			SlotStore: meeting.NewSlotStore(ctx, slot),
			path:      slot.Path(),
			close:     func() error { return nil },
		}, nil
	}
}

func (a *app) describeStore(s *openedStore) string {
	return a.cfg.Store.Backend + " " + s.path
}

func (a *app) newBackend() *backend.Client {
	return backend.NewClient(a.cfg.Backend.URL, a.cfg.Backend.Timeout)
}

func (a *app) newFFmpeg() *audio.FFmpegDevice {
	return audio.NewFFmpegDevice(audio.FFmpegConfig{
		Binary: a.cfg.Capture.FFmpeg,
		Format: a.cfg.Capture.Format,
		Input:  a.cfg.Capture.Input,
	})
}
