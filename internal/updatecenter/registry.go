package updatecenter

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"updatecenter/internal/config"
	"updatecenter/pkg/logging"
)

// registryDocument is the on-disk shape of the site registry: an ordered
// list of <site> entries, each carrying an id and a url. encoding/xml is
// used here deliberately rather than a third-party library: no XML
// serialization dependency exists anywhere in this codebase's dependency
// stack, and the wire format is explicitly specified as XML, so introducing
// one purely to marshal {id,url} pairs would not be grounded in anything
// else this project does.
type registryDocument struct {
	XMLName xml.Name        `xml:"sites"`
	Sites   []registryEntry `xml:"site"`
}

// SiteKind picks which Site constructor a persisted registry entry resolves
// to, replacing the original's reflective subclass selection (§9: "a
// SiteKind field on the persisted registry entry picks the constructor, not
// reflection").
type SiteKind string

const (
	SiteKindHTTP   SiteKind = "http"
	SiteKindGitHub SiteKind = "github"
)

type registryEntry struct {
	ID   string   `xml:"id,attr"`
	URL  string   `xml:"url,attr"`
	Kind SiteKind `xml:"kind,attr,omitempty"`

	// Legacy marks an entry carried over from an older registry.xml whose
	// default site pointed at a retired URL. Such entries are dropped on
	// load (§4.6) rather than reconstructed, since the built-in default
	// (ensureDefaultSite) already supersedes them.
	Legacy bool `xml:"legacy,attr,omitempty"`
}

// Registry is the ordered, persistent collection of update sites. It
// guarantees the presence of the default site, whose id is
// Config.DefaultUpdateSiteID, or "default" when that is empty.
type Registry struct {
	mu       sync.RWMutex
	path     string
	order    []string
	sites    map[string]Site
	watcher  *fsnotify.Watcher
	cfg      config.Config
	fetcher  *Fetcher
	onReload func()
}

// NewRegistry loads the registry document at <home>/registry.xml if
// present, else starts with an empty list, and then ensures the default
// site (id from defaultSiteID) exists per §4.6.
func NewRegistry(cfg config.Config, fetcher *Fetcher) (*Registry, error) {
	r := &Registry{
		path:    filepath.Join(cfg.Home, "registry.xml"),
		sites:   make(map[string]Site),
		cfg:     cfg,
		fetcher: fetcher,
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	r.ensureDefaultSite()

	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading registry: %w", err)
	}

	var doc registryDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.sites = make(map[string]Site)
	for _, entry := range doc.Sites {
		if entry.Legacy {
			logging.Info("SiteRegistry", "dropping legacy default site entry %q from %s", entry.ID, r.path)
			continue
		}

		site, err := r.buildSite(entry)
		if err != nil {
			logging.Warn("SiteRegistry", "ignoring unbuildable site entry %q: %v", entry.ID, err)
			continue
		}
		r.order = append(r.order, entry.ID)
		r.sites[entry.ID] = site
	}
	return nil
}

// buildSite constructs the Site implementation a persisted entry's Kind
// selects (§9's SiteKind dispatch), defaulting to the HTTP+JSONP site for an
// empty/unrecognized Kind so registry.xml documents written before this
// field existed keep loading unchanged.
func (r *Registry) buildSite(entry registryEntry) (Site, error) {
	switch entry.Kind {
	case SiteKindGitHub:
		owner, repo, ok := splitOwnerRepo(entry.URL)
		if !ok {
			return nil, fmt.Errorf("github site url must be \"owner/repo\", got %q", entry.URL)
		}
		return NewGitHubSite(entry.ID, owner, repo, r.cfg.GitHubToken), nil
	default:
		return NewHTTPSite(entry.ID, entry.URL, "", nil, r.fetcher), nil
	}
}

// ensureDefaultSite constructs the built-in default site if the loaded
// registry lacks one, per §4.6.
func (r *Registry) ensureDefaultSite() {
	r.mu.Lock()
	defer r.mu.Unlock()
	defaultID := r.defaultSiteID()
	if _, ok := r.sites[defaultID]; ok {
		return
	}
	siteURL := r.cfg.UpdateCenterURL
	if siteURL == "" {
		siteURL = config.DefaultBuiltinSiteURL
	}
	r.sites[defaultID] = NewHTTPSite(defaultID, siteURL, "", nil, r.fetcher)
	r.order = append([]string{defaultID}, r.order...)
}

// defaultSiteID returns the id the registry treats as "the default site":
// cfg.DefaultUpdateSiteID when an operator has overridden it
// (<pkg>.defaultUpdateSiteId, §6), else the reserved "default".
func (r *Registry) defaultSiteID() string {
	if r.cfg.DefaultUpdateSiteID != "" {
		return r.cfg.DefaultUpdateSiteID
	}
	return config.ReservedDefaultSiteID
}

// Persist writes the current ordered list to the registry document.
func (r *Registry) Persist() error {
	r.mu.RLock()
	doc := registryDocument{}
	for _, id := range r.order {
		entry := registryEntry{ID: id, URL: r.sites[id].URL()}
		if gh, ok := r.sites[id].(*GitHubSite); ok {
			entry.Kind = SiteKindGitHub
			entry.URL = gh.OwnerRepo()
		}
		doc.Sites = append(doc.Sites, entry)
	}
	r.mu.RUnlock()

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

// Add appends a new HTTP+JSONP site and persists the registry.
func (r *Registry) Add(id, url string) error {
	return r.addSite(id, NewHTTPSite(id, url, "", nil, r.fetcher))
}

// AddGitHub appends a GitHub-release-backed site and persists the registry.
// ownerRepo must be "owner/repo"; releases are listed using r.cfg.GitHubToken
// (empty for unauthenticated, rate-limited access to public repositories).
func (r *Registry) AddGitHub(id, ownerRepo string) error {
	owner, repo, ok := splitOwnerRepo(ownerRepo)
	if !ok {
		return fmt.Errorf("github site url must be \"owner/repo\", got %q", ownerRepo)
	}
	return r.addSite(id, NewGitHubSite(id, owner, repo, r.cfg.GitHubToken))
}

func (r *Registry) addSite(id string, site Site) error {
	r.mu.Lock()
	if _, exists := r.sites[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("site %q already exists", id)
	}
	r.sites[id] = site
	r.order = append(r.order, id)
	r.mu.Unlock()
	return r.Persist()
}

// Remove drops a site (except the configured default site, which is
// reserved) and persists.
func (r *Registry) Remove(id string) error {
	r.mu.RLock()
	defaultID := r.defaultSiteID()
	r.mu.RUnlock()
	if id == defaultID {
		return fmt.Errorf("cannot remove the reserved default site")
	}
	r.mu.Lock()
	if _, exists := r.sites[id]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("site %q not found", id)
	}
	delete(r.sites, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	return r.Persist()
}

// Get returns the site bound to id.
func (r *Registry) Get(id string) (Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[id]
	return s, ok
}

// List returns every site in registration order.
func (r *Registry) List() []Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Site, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sites[id])
	}
	return out
}

// IDs returns every registered site id in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// UpdateAllSites refreshes every site in parallel using the metadata pool,
// returning a per-site error map (nil entry == success).
func (r *Registry) UpdateAllSites(ctx context.Context, pool *Queue, verifySignature bool) map[string]error {
	ids := r.IDs()
	return pool.RunMetadataPool(ctx, ids, func(ctx context.Context, id string) error {
		site, ok := r.Get(id)
		if !ok {
			return fmt.Errorf("site %q vanished during refresh", id)
		}
		if err := site.Refresh(ctx, verifySignature); err != nil {
			logging.Warn("SiteRegistry", "refresh of site %s failed: %v", id, err)
			return err
		}
		return nil
	})
}

// WatchForExternalEdits starts an fsnotify watch on the registry document's
// directory and reloads on change. Reload failures are logged and never
// replace the in-memory registry, keeping the last-good list in service.
// This is new behavior this project adds on top of "read on startup":
// an always-on controller's config directory is plausibly edited by
// something other than itself (an operator, a GitOps sync).
func (r *Registry) WatchForExternalEdits(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = watcher

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != r.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.load(); err != nil {
					logging.Warn("SiteRegistry", "ignoring unreadable external edit to %s: %v", r.path, err)
					continue
				}
				r.ensureDefaultSite()
				logging.Info("SiteRegistry", "reloaded registry after external edit to %s", r.path)
				if r.onReload != nil {
					r.onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("SiteRegistry", "watch error: %v", err)
			}
		}
	}()

	return nil
}
