package updatecenter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"updatecenter/pkg/logging"
)

// PluginEntry describes one plugin release published by a site.
type PluginEntry struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Title        string   `json:"title"`
	Categories   []string `json:"categories,omitempty"`
	URL          string   `json:"url"`
	SHA1         string   `json:"sha1,omitempty"`
	SHA256       string   `json:"sha256,omitempty"`
	SHA512       string   `json:"sha512,omitempty"`
	SourceID     string   `json:"sourceId"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ExpectedDigests projects the hashes this entry published into the shape
// the checksum verifier expects.
func (p PluginEntry) ExpectedDigests() ExpectedDigests {
	return ExpectedDigests{SHA1: p.SHA1, SHA256: p.SHA256, SHA512: p.SHA512}
}

// CoreEntry describes the host binary release published by a site.
type CoreEntry struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	SHA1    string `json:"sha1,omitempty"`
	SHA256  string `json:"sha256,omitempty"`
	SHA512  string `json:"sha512,omitempty"`
}

func (c CoreEntry) ExpectedDigests() ExpectedDigests {
	return ExpectedDigests{SHA1: c.SHA1, SHA256: c.SHA256, SHA512: c.SHA512}
}

// siteMetadata is the raw shape published at <siteUrl>, after envelope
// extraction.
type siteMetadata struct {
	CoreEntry *CoreEntry             `json:"core,omitempty"`
	Plugins   map[string]PluginEntry `json:"plugins"`
}

// Site is satisfied by every concrete update-site implementation (the
// default JSONP/postMessage HTTP site and the GitHub-release site).
type Site interface {
	ID() string
	URL() string
	ConnectionCheckURL() (string, bool)
	Refresh(ctx context.Context, verifySignature bool) error
	Invalidate()
	DataTimestamp() time.Time
	GetPlugin(name string) (PluginEntry, bool)
	GetAvailables() []PluginEntry
	GetUpdates(installed map[string]string) []PluginEntry
	GetCoreEntry() (CoreEntry, bool)
	MetadataURLFor(downloadableID string) (string, bool)
}

// HTTPSite is the default update site: a remote update-center.json served
// over HTTP, wrapped in either a JSONP or postMessage envelope.
type HTTPSite struct {
	id                 string
	siteURL            string
	connectionCheckURL string
	validator          SignatureValidator
	fetcher            *Fetcher

	mu            sync.RWMutex
	data          *siteMetadata
	dataTimestamp time.Time
}

// NewHTTPSite constructs a site bound to siteURL. connectionCheckURL may be
// empty, in which case the internet-reachability probe is SKIPPED for this
// site per §4.9.
func NewHTTPSite(id, siteURL, connectionCheckURL string, validator SignatureValidator, fetcher *Fetcher) *HTTPSite {
	if validator == nil {
		validator = noSignatureValidator{}
	}
	return &HTTPSite{
		id:                 id,
		siteURL:            siteURL,
		connectionCheckURL: connectionCheckURL,
		validator:          validator,
		fetcher:            fetcher,
	}
}

func (s *HTTPSite) ID() string  { return s.id }
func (s *HTTPSite) URL() string { return s.siteURL }

func (s *HTTPSite) ConnectionCheckURL() (string, bool) {
	if s.connectionCheckURL == "" {
		return "", false
	}
	return s.connectionCheckURL, true
}

// baseURL strips the canonical "update-center.json" suffix, per §6's URL
// conventions.
func (s *HTTPSite) baseURL() (string, bool) {
	const suffix = "update-center.json"
	if !strings.HasSuffix(s.siteURL, suffix) {
		return "", false
	}
	return strings.TrimSuffix(s.siteURL, suffix), true
}

func (s *HTTPSite) MetadataURLFor(downloadableID string) (string, bool) {
	base, ok := s.baseURL()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%supdates/%s.json", base, downloadableID), true
}

// Refresh fetches and replaces this site's metadata atomically. The
// postMessage envelope is tried first, JSONP second, matching the
// preference order real sites evolved toward.
func (s *HTTPSite) Refresh(ctx context.Context, verifySignature bool) error {
	result, err := s.fetcher.Open(ctx, s.siteURL)
	if err != nil {
		return err
	}
	defer result.Body.Close()

	var buf strings.Builder
	if _, err := io.Copy(&buf, result.Body); err != nil {
		return &NetworkError{URL: s.siteURL, Transient: true, Cause: err}
	}
	body := buf.String()

	rawJSON, err := extractMetadataJSON(body)
	if err != nil {
		return err
	}

	if verifySignature {
		ok, warn, verr := s.validator.Verify([]byte(rawJSON))
		if verr != nil {
			return &SignatureRejected{SiteID: s.id, Reason: verr.Error()}
		}
		if !ok {
			return &SignatureRejected{SiteID: s.id, Reason: "validator rejected payload"}
		}
		if warn != "" {
			logging.Warn("UpdateSite", "site %s signature warning: %s", s.id, warn)
		}
	}

	var meta siteMetadata
	if err := json.Unmarshal([]byte(rawJSON), &meta); err != nil {
		return &MalformedJSON{Cause: err}
	}
	if meta.Plugins == nil {
		meta.Plugins = map[string]PluginEntry{}
	}
	for name, entry := range meta.Plugins {
		entry.SourceID = s.id
		meta.Plugins[name] = entry
	}

	s.mu.Lock()
	s.data = &meta
	s.dataTimestamp = now()
	s.mu.Unlock()

	return nil
}

// Invalidate clears the cached metadata; the next Refresh behaves as a
// first load.
func (s *HTTPSite) Invalidate() {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}

func (s *HTTPSite) DataTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataTimestamp
}

func (s *HTTPSite) snapshot() *siteMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *HTTPSite) GetPlugin(name string) (PluginEntry, bool) {
	data := s.snapshot()
	if data == nil {
		return PluginEntry{}, false
	}
	entry, ok := data.Plugins[name]
	return entry, ok
}

func (s *HTTPSite) GetAvailables() []PluginEntry {
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

// GetUpdates returns the subset of this site's plugins that are strictly
// newer than the caller's installed version, keyed by plugin name.
func (s *HTTPSite) GetUpdates(installed map[string]string) []PluginEntry {
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

func (s *HTTPSite) GetCoreEntry() (CoreEntry, bool) {
	data := s.snapshot()
	if data == nil || data.CoreEntry == nil {
		return CoreEntry{}, false
	}
	return *data.CoreEntry, true
}

// isNewer compares two version strings with semver, falling back to a
// simple string inequality when either fails to parse (some plugin
// versions historically weren't valid semver, e.g. "1.2-beta-1").
func isNewer(candidate, baseline string) bool {
	c, err1 := semver.NewVersion(candidate)
	b, err2 := semver.NewVersion(baseline)
	if err1 == nil && err2 == nil {
		return c.GreaterThan(b)
	}
	return candidate != baseline && candidate > baseline
}

func now() time.Time { return time.Now() }
