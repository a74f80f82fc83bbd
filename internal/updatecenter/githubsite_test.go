package updatecenter

import "testing"

func TestPluginNameFromAsset(t *testing.T) {
	cases := []struct {
		filename string
		name     string
		ok       bool
	}{
		{"foo-1.2.3.jpi", "foo", true},
		{"bar-baz-2.0.hpi", "bar-baz", true},
		{"checksums.txt", "", false},
		{"standalone.jpi", "standalone", true},
	}
	for _, c := range cases {
		name, ok := pluginNameFromAsset(c.filename)
		if ok != c.ok || name != c.name {
			t.Errorf("pluginNameFromAsset(%q) = (%q, %v), want (%q, %v)", c.filename, name, ok, c.name, c.ok)
		}
	}
}

func TestSplitOwnerRepo(t *testing.T) {
	owner, repo, ok := splitOwnerRepo("octocat/hello-world")
	if !ok || owner != "octocat" || repo != "hello-world" {
		t.Fatalf("got (%q, %q, %v)", owner, repo, ok)
	}
	if _, _, ok := splitOwnerRepo("no-slash"); ok {
		t.Fatal("expected ok=false for a url with no separator")
	}
	if _, _, ok := splitOwnerRepo("/missing-owner"); ok {
		t.Fatal("expected ok=false for an empty owner")
	}
}

// TestGitHubSite_EmptyUntilRefreshed covers the site's behavior before any
// Refresh call succeeds: every getter reports "no data" rather than panicking.
func TestGitHubSite_EmptyUntilRefreshed(t *testing.T) {
	site := NewGitHubSite("gh", "octocat", "hello-world", "")

	if site.ID() != "gh" {
		t.Errorf("ID = %q", site.ID())
	}
	if site.OwnerRepo() != "octocat/hello-world" {
		t.Errorf("OwnerRepo = %q", site.OwnerRepo())
	}
	if _, ok := site.ConnectionCheckURL(); ok {
		t.Error("expected no connection-check url")
	}
	if _, ok := site.GetPlugin("foo"); ok {
		t.Error("expected no plugin before a successful refresh")
	}
	if avail := site.GetAvailables(); avail != nil {
		t.Errorf("GetAvailables = %v, want nil", avail)
	}
	if _, ok := site.GetCoreEntry(); ok {
		t.Error("a GitHub-backed site never publishes a core entry")
	}
	if url, ok := site.MetadataURLFor("some-id"); !ok || url == "" {
		t.Errorf("MetadataURLFor = (%q, %v)", url, ok)
	}
}
