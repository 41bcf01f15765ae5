// Package config holds the host's on-disk state: a TOML settings file and
// the JSON deck config (catalog + tile profiles) the protocol snapshots are
// built from, plus a watcher that reports external edits.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Settings is the host daemon configuration.
type Settings struct {
	Addr       string `toml:"addr"`
	Token      string `toml:"token"`
	DeckPath   string `toml:"deck_path"`
	UploadsDir string `toml:"uploads_dir"`
	DBPath     string `toml:"db_path"`
	LogDir     string `toml:"log_dir"`
	Debug      bool   `toml:"debug"`
}

// DefaultSettings returns the values used when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		Addr:       ":8765",
		DeckPath:   "deck.json",
		UploadsDir: "uploads",
		DBPath:     "tiledeck.db",
		LogDir:     "logs",
	}
}

// LoadSettings reads path, layering the file over the defaults. A missing
// file is not an error; the defaults are returned unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}
