package universe

import (
	"os"
	"path/filepath"
	"testing"

	"stocklive/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	stocks := writeFile(t, dir, "stocks.json", `[
  {"code": "005930", "name": "SamsungElec"},
  {"code": "000660", "name": "SKHynix"}
]`)
	themes := writeFile(t, dir, "themes.json", `{"themes": [
  {"theme_name": "Semiconductor", "stocks": [{"code": "005930", "name": "SamsungElec"}, {"code": "000660", "name": "SKHynix"}]},
  {"theme_name": "AI", "stocks": [{"code": "000660", "name": "SKHynix"}, {"code": "035420", "name": "Naver"}]}
]}`)

	u, err := Load(config.UniverseConfig{StocksPath: stocks, ThemesPath: themes})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if u.Size() != 2 {
		t.Errorf("unexpected universe size: %d", u.Size())
	}
	if got := u.Codes(); len(got) != 2 || got[0] != "005930" {
		t.Errorf("unexpected codes: %v", got)
	}
	if len(u.Themes()) != 2 {
		t.Errorf("unexpected theme count: %d", len(u.Themes()))
	}

	// Union of theme members, deduplicated, first-seen order.
	union := u.ThemeCodes()
	want := []string{"005930", "000660", "035420"}
	if len(union) != len(want) {
		t.Fatalf("unexpected union: %v", union)
	}
	for i := range want {
		if union[i] != want[i] {
			t.Errorf("union[%d] = %s, want %s", i, union[i], want[i])
		}
	}

	// Theme-only codes still resolve a name.
	if u.Name("035420") != "Naver" {
		t.Errorf("theme-only name lookup failed: %q", u.Name("035420"))
	}
	if u.Name("999999") != "" {
		t.Errorf("unknown code should yield empty name")
	}
}

func TestLoadBareThemeArray(t *testing.T) {
	dir := t.TempDir()
	stocks := writeFile(t, dir, "stocks.json", `[{"code": "005930", "name": "SamsungElec"}]`)
	themes := writeFile(t, dir, "themes.json", `[
  {"name": "Semiconductor", "stocks": [{"code": "005930", "name": "SamsungElec"}]}
]`)

	u, err := Load(config.UniverseConfig{StocksPath: stocks, ThemesPath: themes})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(u.Themes()) != 1 || u.Themes()[0].Name != "Semiconductor" {
		t.Errorf("bare array themes not loaded: %+v", u.Themes())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(config.UniverseConfig{StocksPath: "does/not/exist.json"})
	if err == nil {
		t.Fatalf("expected error for missing stock list")
	}
}
