package updatecenter

import (
	"os"
	"path/filepath"
	"testing"

	"updatecenter/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Default(t.TempDir())
}

func TestNewRegistry_CreatesDefaultSiteWhenEmpty(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reg.Get(config.ReservedDefaultSiteID); !ok {
		t.Fatal("expected a default site to be created")
	}
	ids := reg.IDs()
	if len(ids) != 1 || ids[0] != config.ReservedDefaultSiteID {
		t.Fatalf("expected only the default site, got %v", ids)
	}
}

func TestRegistry_AddPersistAndReload(t *testing.T) {
	cfg := testConfig(t)
	reg, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := reg.Add("extra", "https://updates.example.test/update-center.json"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("reload NewRegistry: %v", err)
	}

	ids := reloaded.IDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 sites after reload, got %v", ids)
	}
	site, ok := reloaded.Get("extra")
	if !ok {
		t.Fatal("expected extra site to survive reload")
	}
	if site.URL() != "https://updates.example.test/update-center.json" {
		t.Errorf("URL = %q", site.URL())
	}
}

func TestRegistry_CannotRemoveDefaultSite(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Remove(config.ReservedDefaultSiteID); err == nil {
		t.Fatal("expected an error removing the reserved default site")
	}
}

func TestRegistry_RemoveNonDefaultSite(t *testing.T) {
	cfg := testConfig(t)
	reg, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Add("extra", "https://updates.example.test/update-center.json"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Remove("extra"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := reg.Get("extra"); ok {
		t.Fatal("expected extra site to be gone")
	}
}

func TestRegistry_AddGitHubPersistAndReload(t *testing.T) {
	cfg := testConfig(t)
	reg, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := reg.AddGitHub("gh", "octocat/hello-world"); err != nil {
		t.Fatalf("AddGitHub: %v", err)
	}

	site, ok := reg.Get("gh")
	if !ok {
		t.Fatal("expected gh site to exist")
	}
	gh, ok := site.(*GitHubSite)
	if !ok {
		t.Fatalf("site is %T, want *GitHubSite", site)
	}
	if gh.OwnerRepo() != "octocat/hello-world" {
		t.Errorf("OwnerRepo = %q", gh.OwnerRepo())
	}

	reloaded, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("reload NewRegistry: %v", err)
	}
	reloadedSite, ok := reloaded.Get("gh")
	if !ok {
		t.Fatal("expected gh site to survive reload")
	}
	reloadedGH, ok := reloadedSite.(*GitHubSite)
	if !ok {
		t.Fatalf("reloaded site is %T, want *GitHubSite", reloadedSite)
	}
	if reloadedGH.OwnerRepo() != "octocat/hello-world" {
		t.Errorf("reloaded OwnerRepo = %q", reloadedGH.OwnerRepo())
	}
}

func TestRegistry_AddGitHubRejectsMalformedURL(t *testing.T) {
	reg, err := NewRegistry(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.AddGitHub("gh", "not-a-repo-slug"); err == nil {
		t.Fatal("expected an error for a url with no owner/repo separator")
	}
}

// TestRegistry_DropsLegacyDefaultEntries covers §4.6: "drop any entry
// flagged 'legacy default'" on load.
func TestRegistry_DropsLegacyDefaultEntries(t *testing.T) {
	cfg := testConfig(t)
	doc := `<sites>
  <site id="default" url="https://updates.legacy.example.org/update-center.json" legacy="true"></site>
  <site id="extra" url="https://updates.example.test/update-center.json"></site>
</sites>`
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Home, "registry.xml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	site, ok := reg.Get(config.ReservedDefaultSiteID)
	if !ok {
		t.Fatal("expected ensureDefaultSite to construct the built-in default")
	}
	if site.URL() == "https://updates.legacy.example.org/update-center.json" {
		t.Fatal("legacy default entry should have been dropped, not loaded")
	}
	if _, ok := reg.Get("extra"); !ok {
		t.Fatal("expected the non-legacy extra entry to survive load")
	}
}

func TestRegistry_DefaultUpdateSiteIDOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.DefaultUpdateSiteID = "primary"

	reg, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := reg.Get("primary"); !ok {
		t.Fatal("expected the overridden default site id to be used")
	}
	if _, ok := reg.Get(config.ReservedDefaultSiteID); ok {
		t.Fatal("did not expect the reserved \"default\" id to also exist")
	}
	if err := reg.Remove("primary"); err == nil {
		t.Fatal("expected removing the configured default site to be rejected")
	}
}

func TestRegistry_PersistedFileIsXML(t *testing.T) {
	cfg := testConfig(t)
	reg, err := NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	path := filepath.Join(cfg.Home, "registry.xml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected registry.xml to exist: %v", err)
	}
}
