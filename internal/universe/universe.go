package universe

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"stocklive/config"
	"stocklive/internal/model"
)

// Universe holds the static security list and theme membership. Both are
// loaded once at startup and read-only afterwards.
type Universe struct {
	stocks []model.Stock
	themes []model.ThemeGroup
	names  map[string]string
}

type themeFile struct {
	Themes []themeEntry `json:"themes"`
}

type themeEntry struct {
	ThemeName string        `json:"theme_name"`
	Name      string        `json:"name"`
	Stocks    []model.Stock `json:"stocks"`
}

// Load reads the stock list and theme files. The theme file may be either a
// bare array or wrapped in a {"themes": [...]} object.
func Load(cfg config.UniverseConfig) (*Universe, error) {
	u := &Universe{names: make(map[string]string)}

	data, err := os.ReadFile(cfg.StocksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read stock list: %w", err)
	}
	if err := json.Unmarshal(data, &u.stocks); err != nil {
		return nil, fmt.Errorf("failed to parse stock list: %w", err)
	}
	for _, s := range u.stocks {
		if s.Code != "" && s.Name != "" {
			u.names[s.Code] = s.Name
		}
	}

	if cfg.ThemesPath != "" {
		entries, err := loadThemes(cfg.ThemesPath)
		if err != nil {
			return nil, err
		}
		for _, t := range entries {
			name := t.ThemeName
			if name == "" {
				name = t.Name
			}
			group := model.ThemeGroup{Name: name}
			for _, s := range t.Stocks {
				group.Codes = append(group.Codes, s.Code)
				// Theme files carry names for codes the KRX list may miss.
				if s.Code != "" && s.Name != "" {
					if _, ok := u.names[s.Code]; !ok {
						u.names[s.Code] = s.Name
					}
				}
			}
			u.themes = append(u.themes, group)
		}
	}

	return u, nil
}

func loadThemes(path string) ([]themeEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme file: %w", err)
	}
	var wrapped themeFile
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Themes) > 0 {
		return wrapped.Themes, nil
	}
	var bare []themeEntry
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("failed to parse theme file: %w", err)
	}
	return bare, nil
}

// Codes returns every security code of the universe in file order.
func (u *Universe) Codes() []string {
	out := make([]string, 0, len(u.stocks))
	for _, s := range u.stocks {
		out = append(out, s.Code)
	}
	return out
}

// Themes returns the theme groups in file order.
func (u *Universe) Themes() []model.ThemeGroup {
	return u.themes
}

// ThemeCodes returns the union of all theme member codes, deduplicated and in
// first-seen order.
func (u *Universe) ThemeCodes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range u.themes {
		for _, code := range t.Codes {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	return out
}

// Name returns the locally-known display name for a code, or "" when unknown.
func (u *Universe) Name(code string) string {
	return u.names[code]
}

// Size returns the number of securities in the universe.
func (u *Universe) Size() int {
	return len(u.stocks)
}
