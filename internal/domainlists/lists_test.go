package domainlists

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	l := NewDefault()

	if !l.IsDisposable("tempmail.com") {
		t.Errorf("expected tempmail.com to be disposable")
	}
	if l.IsDisposable("example.com") {
		t.Errorf("did not expect example.com to be disposable")
	}
	if !l.IsRoleAccount("Admin") {
		t.Errorf("expected case-insensitive role match")
	}
	if !l.IsKnownCatchAll("penniesuntouched.com") {
		t.Errorf("expected penniesuntouched.com on the catch-all allowlist")
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lists.yaml")
	contents := `
disposable_domains:
  - burner.example
role_local_parts:
  - bot
catch_all_domains:
  - acceptall.example
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	l, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if !l.IsDisposable("burner.example") {
		t.Errorf("expected reloaded disposable domain to apply")
	}
	if l.IsDisposable("tempmail.com") {
		t.Errorf("reload should replace, not merge, the default table")
	}
	if !l.IsRoleAccount("bot") {
		t.Errorf("expected reloaded role local part to apply")
	}
	if !l.IsKnownCatchAll("acceptall.example") {
		t.Errorf("expected reloaded catch-all domain to apply")
	}
}
