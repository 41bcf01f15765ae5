package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tiledeck/internal/protocol"
)

// DefaultLanguage is used when the deck config carries no usable language.
const DefaultLanguage = "en"

// Profile is one saved tile grid.
type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Rows         int       `json:"rows"`
	Cols         int       `json:"cols"`
	Cells        []*string `json:"cells"`
	TileHeightDp int       `json:"tileHeightDp"`
	IconSizeDp   int       `json:"iconSizeDp"`
}

// Deck is the persisted catalog + profile set.
type Deck struct {
	Version         int                     `json:"version"`
	ActiveProfileID string                  `json:"activeProfileId"`
	Language        string                  `json:"language"`
	Catalog         []protocol.CatalogEntry `json:"catalog"`
	Profiles        []Profile               `json:"profiles"`
}

// DeckStore owns the deck config file. It implements the snapshot source
// the server builds hello/layout/lang messages from.
type DeckStore struct {
	path string

	mu   sync.Mutex
	deck Deck
}

// LoadDeck reads (or creates with defaults) the deck config at path. The
// loaded deck is normalized before use.
func LoadDeck(path string) (*DeckStore, error) {
	s := &DeckStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read deck config: %w", err)
		}
		s.deck = defaultDeck()
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	var deck Deck
	if err := json.Unmarshal(data, &deck); err != nil {
		return nil, fmt.Errorf("parse deck config: %w", err)
	}
	s.deck = normalizeDeck(deck)
	return s, nil
}

// Reload re-reads the file, used after an external edit. A broken file
// keeps the last good deck in memory.
func (s *DeckStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read deck config: %w", err)
	}
	var deck Deck
	if err := json.Unmarshal(data, &deck); err != nil {
		return fmt.Errorf("parse deck config: %w", err)
	}
	s.mu.Lock()
	s.deck = normalizeDeck(deck)
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current language, catalog and active layout.
func (s *DeckStore) Snapshot() (string, []protocol.CatalogEntry, protocol.Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := make([]protocol.CatalogEntry, len(s.deck.Catalog))
	copy(catalog, s.deck.Catalog)

	var active Profile
	for _, p := range s.deck.Profiles {
		if p.ID == s.deck.ActiveProfileID {
			active = p
			break
		}
	}
	layout := protocol.Layout{
		Rows:         active.Rows,
		Cols:         active.Cols,
		Cells:        append([]*string(nil), active.Cells...),
		TileHeightDp: active.TileHeightDp,
		IconSizeDp:   active.IconSizeDp,
	}.Normalize()
	return s.deck.Language, catalog, layout
}

// SetLanguage updates and persists the language.
func (s *DeckStore) SetLanguage(lang string) error {
	s.mu.Lock()
	s.deck.Language = normalizeLanguage(lang)
	s.mu.Unlock()
	return s.Save()
}

// Save writes the deck config back to disk.
func (s *DeckStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *DeckStore) save() error {
	data, err := json.MarshalIndent(s.deck, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write deck config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace deck config: %w", err)
	}
	return nil
}

// normalizeDeck restores every invariant: profile grids clamped and padded,
// an existing active profile, cells referencing only catalog ids, and a
// known language code.
func normalizeDeck(deck Deck) Deck {
	if len(deck.Profiles) == 0 {
		deck.Profiles = []Profile{newProfile("Default", 4, 6)}
	}
	allowed := make(map[string]bool, len(deck.Catalog))
	for _, a := range deck.Catalog {
		allowed[strings.ToLower(a.ID)] = true
	}
	for i, p := range deck.Profiles {
		deck.Profiles[i] = normalizeProfile(p, allowed)
	}

	found := false
	for _, p := range deck.Profiles {
		if p.ID == deck.ActiveProfileID {
			found = true
			break
		}
	}
	if !found {
		deck.ActiveProfileID = deck.Profiles[0].ID
	}
	deck.Language = normalizeLanguage(deck.Language)
	return deck
}

func normalizeProfile(p Profile, allowed map[string]bool) Profile {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	l := protocol.Layout{
		Rows:         p.Rows,
		Cols:         p.Cols,
		Cells:        p.Cells,
		TileHeightDp: p.TileHeightDp,
		IconSizeDp:   p.IconSizeDp,
	}.Normalize()

	// Drop assignments to actions that left the catalog.
	for i, cell := range l.Cells {
		if cell != nil && !allowed[strings.ToLower(*cell)] {
			l.Cells[i] = nil
		}
	}
	p.Rows, p.Cols, p.Cells = l.Rows, l.Cols, l.Cells
	p.TileHeightDp, p.IconSizeDp = l.TileHeightDp, l.IconSizeDp
	return p
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) < 2 {
		return DefaultLanguage
	}
	return lang[:2]
}

func newProfile(name string, rows, cols int) Profile {
	return Profile{
		ID:    uuid.NewString(),
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Cells: make([]*string, rows*cols),
	}
}

func defaultDeck() Deck {
	catalog := []protocol.CatalogEntry{
		{ID: "launch:notepad", Label: "Notepad"},
		{ID: "launch:calc", Label: "Calculator"},
		{ID: "media:playpause", Label: "Play/Pause"},
		{ID: "media:next", Label: "Next"},
		{ID: "media:prev", Label: "Previous"},
		{ID: "media:mute", Label: "Mute"},
	}
	p := newProfile("Default", 4, 6)
	for i, a := range catalog {
		if i >= len(p.Cells) {
			break
		}
		id := a.ID
		p.Cells[i] = &id
	}
	return normalizeDeck(Deck{
		Version:         1,
		ActiveProfileID: p.ID,
		Language:        DefaultLanguage,
		Catalog:         catalog,
		Profiles:        []Profile{p},
	})
}
