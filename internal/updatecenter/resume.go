package updatecenter

import (
	"sync"

	"gopkg.in/yaml.v3"

	"updatecenter/internal/config"
	"updatecenter/pkg/logging"
)

const resumeEntityType = "install-resume"
const resumeEntityName = "state"

// PersistedInstallStatus is one plugin's last-known install status, as
// recorded at the moment the process shut down mid-install.
type PersistedInstallStatus struct {
	Name            string `json:"name" yaml:"name"`
	Version         string `json:"version" yaml:"version"`
	State           State  `json:"state" yaml:"state"`
	RequiresRestart bool   `json:"requiresRestart" yaml:"requiresRestart"`
}

// ResumeStore persists in-flight installation status across restarts,
// reusing the generic per-entity YAML storage this codebase already has
// for durable state instead of inventing a bespoke file format.
type ResumeStore struct {
	storage *config.Storage

	mu    sync.Mutex
	cache map[string]PersistedInstallStatus
}

// NewResumeStore builds a store rooted at cfg.Home and loads whatever was
// last persisted, if anything.
func NewResumeStore(cfg config.Config) *ResumeStore {
	store := &ResumeStore{
		storage: config.NewStorageWithPath(cfg.Home),
		cache:   make(map[string]PersistedInstallStatus),
	}
	store.reload()
	return store
}

func (r *ResumeStore) reload() {
	data, err := r.storage.Load(resumeEntityType, resumeEntityName)
	if err != nil {
		// Absence is the common case (clean shutdown); not logged as an
		// error.
		return
	}
	var entries map[string]PersistedInstallStatus
	if err := yaml.Unmarshal(data, &entries); err != nil {
		logging.Warn("ResumeStore", "ignoring unreadable resume state: %v", err)
		return
	}
	r.mu.Lock()
	r.cache = entries
	r.mu.Unlock()
}

// Sync checks whether any install in jobs is still non-terminal-successful
// and either persists the current snapshot or clears durable state,
// matching §4.10's "serialize if any install is non-successful, else
// clear" rule.
func (r *ResumeStore) Sync(jobs []*Job) error {
	snapshot := make(map[string]PersistedInstallStatus)
	anyIncomplete := false

	for _, j := range jobs {
		if j.Kind != JobInstall {
			continue
		}
		status := j.Status()
		if status.State != StateSuccess && status.State != StateSkipped {
			anyIncomplete = true
		}
		snapshot[j.Plugin.Name] = PersistedInstallStatus{
			Name:            j.Plugin.Name,
			Version:         j.Plugin.Version,
			State:           status.State,
			RequiresRestart: status.RequiresRestart,
		}
	}

	r.mu.Lock()
	r.cache = snapshot
	r.mu.Unlock()

	if !anyIncomplete {
		_ = r.storage.Delete(resumeEntityType, resumeEntityName)
		return nil
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return err
	}
	return r.storage.Save(resumeEntityType, resumeEntityName, data)
}

// IncompleteInstalls returns the last-persisted map, or an empty map if
// nothing was ever persisted (e.g. a clean prior shutdown).
func (r *ResumeStore) IncompleteInstalls() map[string]PersistedInstallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]PersistedInstallStatus, len(r.cache))
	for k, v := range r.cache {
		out[k] = v
	}
	return out
}
