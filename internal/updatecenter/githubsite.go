package updatecenter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
)

// GitHubSite is an update site backed by a GitHub repository's releases
// instead of a hand-published update-center.json. Each release asset whose
// name matches "<plugin>-<version>.jpi" (or ".hpi") becomes a PluginEntry;
// no digest is read from the release, so every entry's digest is empty.
// Grounded on the pack's go-github + oauth2 pairing for authenticated
// repository access.
type GitHubSite struct {
	id     string
	owner  string
	repo   string
	client *github.Client

	mu            sync.RWMutex
	data          *siteMetadata
	dataTimestamp time.Time
}

// NewGitHubSite constructs a site that lists owner/repo's releases. token
// may be empty for public repositories, in which case unauthenticated
// (rate-limited) requests are used.
func NewGitHubSite(id, owner, repo, token string) *GitHubSite {
	var httpClient = oauth2.NewClient(context.Background(), nil)
	if token != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		))
	}
	return &GitHubSite{
		id:     id,
		owner:  owner,
		repo:   repo,
		client: github.NewClient(httpClient),
	}
}

func (s *GitHubSite) ID() string { return s.id }

func (s *GitHubSite) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/releases", s.owner, s.repo)
}

// OwnerRepo returns the "owner/repo" form the site registry persists for a
// GitHub-kind entry, the inverse of splitOwnerRepo.
func (s *GitHubSite) OwnerRepo() string {
	return fmt.Sprintf("%s/%s", s.owner, s.repo)
}

// splitOwnerRepo parses the "owner/repo" form a GitHub-kind registry entry's
// url attribute stores.
func splitOwnerRepo(s string) (owner, repo string, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ConnectionCheckURL is never set for a GitHub-backed site: the release API
// call in Refresh already exercises connectivity, so the SKIPPED internet
// channel applies the same as an HTTPSite published without one.
func (s *GitHubSite) ConnectionCheckURL() (string, bool) { return "", false }

// Refresh lists the first page (up to 100) of releases in owner/repo and
// maps their assets to plugin entries; later pages are not read. verifySignature has no effect here: GitHub releases are fetched
// over an authenticated API call rather than a raw HTTP GET, so there is no
// separate payload signature to validate.
func (s *GitHubSite) Refresh(ctx context.Context, verifySignature bool) error {
	releases, _, err := s.client.Repositories.ListReleases(ctx, s.owner, s.repo, &github.ListOptions{PerPage: 100})
	if err != nil {
		return &NetworkError{URL: s.URL(), Transient: true, Cause: err}
	}

	meta := &siteMetadata{Plugins: map[string]PluginEntry{}}
	for _, release := range releases {
		version := strings.TrimPrefix(release.GetTagName(), "v")
		digests := digestsFromAssets(release.Assets)

		for _, asset := range release.Assets {
			name, ok := pluginNameFromAsset(asset.GetName())
			if !ok {
				continue
			}
			entry := PluginEntry{
				Name:     name,
				Version:  version,
				Title:    name,
				URL:      asset.GetBrowserDownloadURL(),
				SourceID: s.id,
				SHA256:   digests[asset.GetName()],
			}
			key := name
			if existing, ok := meta.Plugins[key]; ok && !isNewer(version, existing.Version) {
				continue
			}
			meta.Plugins[key] = entry
		}
	}

	s.mu.Lock()
	s.data = meta
	s.dataTimestamp = now()
	s.mu.Unlock()

	return nil
}

// digestsFromAssets returns an empty map: release assets are not inspected
// for checksums, so every entry's digest is empty, which VerifyChecksum
// reports as IntegrityUnverifiable rather than silently accepting the
// download.
func digestsFromAssets(assets []*github.ReleaseAsset) map[string]string {
	return map[string]string{}
}

// pluginNameFromAsset extracts the plugin name from a "name-version.jpi"
// (or .hpi) release asset filename.
func pluginNameFromAsset(filename string) (string, bool) {
	for _, ext := range []string{".jpi", ".hpi"} {
		if !strings.HasSuffix(filename, ext) {
			continue
		}
		base := strings.TrimSuffix(filename, ext)
		idx := strings.LastIndex(base, "-")
		if idx <= 0 {
			return base, true
		}
		return base[:idx], true
	}
	return "", false
}

func (s *GitHubSite) Invalidate() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}

func (s *GitHubSite) DataTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataTimestamp
}

func (s *GitHubSite) snapshot() *siteMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *GitHubSite) GetPlugin(name string) (PluginEntry, bool) {
	data := s.snapshot()
	if data == nil {
		return PluginEntry{}, false
	}
	entry, ok := data.Plugins[name]
	return entry, ok
}

func (s *GitHubSite) GetAvailables() []PluginEntry {
	data := s.snapshot()
	if data == nil {
		return nil
	}
	out := make([]PluginEntry, 0, len(data.Plugins))
	for _, entry := range data.Plugins {
		out = append(out, entry)
	}
	return out
}

func (s *GitHubSite) GetUpdates(installed map[string]string) []PluginEntry {
	data := s.snapshot()
	if data == nil {
		return nil
	}
	var out []PluginEntry
	for name, entry := range data.Plugins {
		installedVersion, ok := installed[name]
		if !ok {
			continue
		}
		if isNewer(entry.Version, installedVersion) {
			out = append(out, entry)
		}
	}
	return out
}

// GetCoreEntry is never published by a GitHub-backed site: core upgrades
// stay on the default HTTPSite's update-center.json.
func (s *GitHubSite) GetCoreEntry() (CoreEntry, bool) { return CoreEntry{}, false }

func (s *GitHubSite) MetadataURLFor(downloadableID string) (string, bool) {
	return fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", s.owner, s.repo, downloadableID), true
}
