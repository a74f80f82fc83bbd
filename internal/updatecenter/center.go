package updatecenter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"updatecenter/internal/config"
	"updatecenter/pkg/logging"
)

// Center wires together the Registry, the Queue, the ResumeStore, and the
// out-of-scope PluginRuntime/Lifecycle collaborators into the running
// update center. It is the main exported entry point cmd/ uses, and the
// Queue's dispatch function, replacing the inheritance-based job subclasses
// named in the design notes with a flat switch over Job.Kind.
type Center struct {
	cfg       config.Config
	fetcher   *Fetcher
	registry  *Registry
	queue     *Queue
	resume    *ResumeStore
	runtime   PluginRuntime
	lifecycle Lifecycle

	metrics          *Metrics
	metricsRegistry  *prometheus.Registry

	mu         sync.Mutex
	restartJob *Job
}

// NewCenter constructs a Center rooted at cfg.Home. runtime and lifecycle
// may be nil, in which case NoopPluginRuntime/NoopLifecycle are used -- the
// shape this package runs in via `updatecenter serve` when it is not
// embedded inside the larger controller process that owns the real
// collaborators.
func NewCenter(cfg config.Config, runtime PluginRuntime, lifecycle Lifecycle) (*Center, error) {
	if runtime == nil {
		runtime = NoopPluginRuntime{}
	}
	if lifecycle == nil {
		lifecycle = NoopLifecycle{}
	}

	fetcher, err := NewFetcher(cfg.PluginDownloadReadTimeout, cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("constructing fetcher: %w", err)
	}

	registry, err := NewRegistry(cfg, fetcher)
	if err != nil {
		return nil, fmt.Errorf("constructing registry: %w", err)
	}

	metricsRegistry := prometheus.NewRegistry()

	c := &Center{
		cfg:             cfg,
		fetcher:         fetcher,
		registry:        registry,
		runtime:         runtime,
		lifecycle:       lifecycle,
		metrics:         NewMetrics(metricsRegistry),
		metricsRegistry: metricsRegistry,
		resume:          NewResumeStore(cfg),
	}
	c.queue = NewQueue(cfg.MetadataPoolSize, c.dispatch)

	return c, nil
}

// Registry returns the site registry backing this center.
func (c *Center) Registry() *Registry { return c.registry }

// Queue returns the job queue backing this center.
func (c *Center) Queue() *Queue { return c.queue }

// Resume returns the install-resume store backing this center.
func (c *Center) Resume() *ResumeStore { return c.resume }

// Start launches the installer worker and the registry's filesystem watch.
// Call once at process startup.
func (c *Center) Start(ctx context.Context) error {
	c.queue.StartWorker(ctx)
	if c.cfg.Never {
		logging.Info("Center", "outbound metadata updates disabled (Never=true)")
		return nil
	}
	if err := c.registry.WatchForExternalEdits(ctx); err != nil {
		logging.Warn("Center", "registry filesystem watch disabled: %v", err)
	}
	return nil
}

// Shutdown stops the installer worker and makes a final attempt to persist
// resume state, matching §4.10's "serialize on graceful shutdown" rule.
func (c *Center) Shutdown() {
	c.queue.Shutdown()
	if err := c.resume.Sync(c.queue.AllJobs()); err != nil {
		logging.Warn("Center", "failed to persist resume state on shutdown: %v", err)
	}
}

// dispatch is the Queue's single dispatch function. It recovers from any
// panic in collaborator code (§7: "Throwable-class unexpected errors are
// caught at the job boundary"), runs the job's state machine, and re-syncs
// the resume store once an install-shaped job's run returns.
func (c *Center) dispatch(ctx context.Context, j *Job) {
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("panic: %v", r)
			j.setStatus(failureStatus(panicErr))
			logging.Error("Center", panicErr, "job %d (%s) panicked", j.ID, j.Kind)
		}
		if isInstallShaped(j.Kind) {
			if err := c.resume.Sync(c.queue.AllJobs()); err != nil {
				logging.Warn("Center", "failed to sync resume state: %v", err)
			}
		}
		if j.Status().RequiresRestart {
			c.queue.MarkRestartRequired()
		}
		c.metrics.ObserveTerminal(j)
		c.metrics.SetQueueDepth(len(c.queue.AllJobs()))
	}()

	switch j.Kind {
	case JobConnectionCheck:
		c.runConnectionCheck(ctx, j)
	case JobInstall:
		c.runInstall(ctx, j)
	case JobEnable:
		c.runEnable(ctx, j)
	case JobNoOp:
		j.setStatus(Status{State: StateSuccess, Message: "already installed at the desired version"})
	case JobDowngrade:
		c.runDowngrade(ctx, j)
	case JobCoreUpgrade:
		c.runCoreUpgrade(ctx, j)
	case JobCoreDowngrade:
		c.runCoreDowngrade(ctx, j)
	case JobCompleteBatch:
		c.runCompleteBatch(ctx, j)
	case JobRestart:
		c.runRestart(ctx, j)
	default:
		j.setStatus(failureStatus(fmt.Errorf("unknown job kind %q", j.Kind)))
	}
}

func isInstallShaped(k JobKind) bool {
	switch k {
	case JobInstall, JobEnable, JobDowngrade, JobCoreUpgrade, JobCoreDowngrade:
		return true
	default:
		return false
	}
}

func (c *Center) connCheckFactory(siteID string) *Job {
	return newJob(0, JobConnectionCheck, siteID)
}

// --- ConnectionCheckJob ------------------------------------------------

func (c *Center) runConnectionCheck(ctx context.Context, j *Job) {
	j.setStatus(Status{State: StateRunning})
	states := c.probeSiteConnection(ctx, j.SiteID)
	j.setStatus(Status{State: StateSuccess, ConnectionStates: states})
}

// probeSiteConnection implements the two independent channels: "internet"
// probes the site's connectionCheckUrl (absent -> SKIPPED), and
// "updatesite" probes the site's own URL directly. The _upload pseudo-site
// is a no-op per §4.9.
func (c *Center) probeSiteConnection(ctx context.Context, siteID string) ConnectionStates {
	if siteID == config.ReservedUploadSiteID || siteID == "" {
		return ConnectionStates{Internet: ConnSkipped, UpdateSite: ConnSkipped}
	}

	site, ok := c.registry.Get(siteID)
	if !ok {
		return ConnectionStates{Internet: ConnUnchecked, UpdateSite: ConnUnchecked}
	}

	internet := ConnSkipped
	var wg sync.WaitGroup
	if checkURL, hasCheckURL := site.ConnectionCheckURL(); hasCheckURL {
		wg.Add(1)
		go func() {
			defer wg.Done()
			internet = c.probe(ctx, checkURL)
		}()
	}

	updateSite := c.probe(ctx, site.URL())
	wg.Wait()

	return ConnectionStates{Internet: internet, UpdateSite: updateSite}
}

func (c *Center) probe(ctx context.Context, rawURL string) ConnStatus {
	result, err := c.fetcher.Open(ctx, connectionCheckURL(rawURL))
	if err != nil {
		return ConnFailed
	}
	result.Body.Close()
	return ConnOK
}

// --- InstallationJob -----------------------------------------------------

// runInstall implements §4.9 step 1's "wasInstalled" dedup contract by
// waiting on the most recent earlier InstallationJob for the identical
// (name, version, sourceID), if one is still in flight or has already
// terminated.
func (c *Center) runInstall(ctx context.Context, j *Job) {
	if dup, ok := c.queue.LatestInstallJob(j.Plugin.Name, j.Plugin.Version, j.Plugin.SourceID, j.ID); ok {
		status := dup.Status()
		if !status.State.IsTerminal() {
			status = dup.Wait()
		}
		if status.State == StateSuccess || status.State == StateSuccessButRequiresRestart {
			j.setStatus(Status{State: StateSkipped, Message: fmt.Sprintf("already installed by job %d", dup.ID)})
			return
		}
		// The earlier attempt failed or was itself skipped: this job still
		// gets to try the download.
	}

	j.setStatus(Status{State: StateInstalling})

	if err := validateAbsoluteURL(j.Plugin.URL); err != nil {
		j.setStatus(failureStatus(err))
		return
	}

	destPath := pluginPath(c.cfg.Home, j.Plugin.Name)
	tmpPath := destPath + ".tmp"
	if _, err := c.downloadAndVerify(ctx, j.Plugin.URL, tmpPath, j.Plugin.ExpectedDigests()); err != nil {
		os.Remove(tmpPath)
		j.setStatus(failureStatus(err))
		return
	}

	if err := atomicReplaceFile(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		j.setStatus(failureStatus(err))
		return
	}

	if c.runtime.IsBundled(j.Plugin.Name) {
		if err := c.runtime.Pin(j.Plugin.Name); err != nil {
			logging.Warn("Center", "failed to pin bundled plugin %s: %v", j.Plugin.Name, err)
		}
	}

	if !j.DynamicLoad {
		j.setStatus(restartRequiredStatus(fmt.Sprintf("%s installed; restart required to activate", j.Plugin.Name)))
		return
	}

	if err := c.runtime.DynamicLoad(ctx, destPath, false, j.Batch); err != nil {
		var restartRequired *RestartRequired
		if errors.As(err, &restartRequired) {
			j.setStatus(restartRequiredStatus(restartRequired.Message))
			return
		}
		j.setStatus(failureStatus(err))
		return
	}
	j.setStatus(Status{State: StateSuccess})
}

// downloadAndVerify fetches url, streams it to tmpPath through the digest
// pipeline, and enforces the layered checksum policy. The temp file is left
// on disk on both success and failure; callers remove it on failure and
// atomicReplaceFile renames it into place on success (§5: "partial files
// are discarded... never renamed over the live file").
func (c *Center) downloadAndVerify(ctx context.Context, targetURL, tmpPath string, expected ExpectedDigests) (DigestResult, error) {
	result, err := c.fetcher.Open(ctx, targetURL)
	if err != nil {
		return DigestResult{}, err
	}
	defer result.Body.Close()

	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return DigestResult{}, err
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return DigestResult{}, err
	}
	defer f.Close()

	digest, err := StreamDigest(f, result.Body, result.ContentLength)
	if err != nil {
		return DigestResult{}, err
	}
	if err := VerifyChecksum(expected, digest); err != nil {
		return digest, err
	}
	return digest, nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("plugin url %q is not absolute", raw)
	}
	return nil
}

// pluginPath returns the active-plugin path convention from §6.
func pluginPath(home, name string) string {
	return filepath.Join(home, "plugins", name+".jpi")
}

func backupPath(destPath string) string {
	return strings.TrimSuffix(destPath, filepath.Ext(destPath)) + ".bak"
}

// disabledMarkerPath is the sentinel file convention for a disabled plugin:
// its presence next to the live .jpi means the plugin is installed but not
// enabled. There is no separate metadata field for this, matching the
// original controller's own marker-file approach.
func disabledMarkerPath(destPath string) string {
	return destPath + ".disabled"
}

// atomicReplaceFile implements §6's rename discipline: any pre-existing
// backup is deleted before the live file is rotated into the backup slot,
// then the downloaded temp file is renamed into the live slot.
func atomicReplaceFile(tmpPath, destPath string) error {
	bak := backupPath(destPath)
	if _, err := os.Stat(destPath); err == nil {
		os.Remove(bak)
		if err := os.Rename(destPath, bak); err != nil {
			return err
		}
	}
	return os.Rename(tmpPath, destPath)
}

// --- EnableJob -------------------------------------------------------------

func (c *Center) runEnable(ctx context.Context, j *Job) {
	j.setStatus(Status{State: StateRunning})

	marker := disabledMarkerPath(pluginPath(c.cfg.Home, j.Plugin.Name))
	if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.setStatus(failureStatus(err))
		return
	}

	if !j.DynamicLoad {
		j.setStatus(restartRequiredStatus(fmt.Sprintf("%s enabled; restart required", j.Plugin.Name)))
		return
	}

	if err := c.runtime.DynamicLoad(ctx, pluginPath(c.cfg.Home, j.Plugin.Name), false, j.Batch); err != nil {
		var restartRequired *RestartRequired
		if errors.As(err, &restartRequired) {
			j.setStatus(restartRequiredStatus(restartRequired.Message))
			return
		}
		j.setStatus(restartRequiredStatus(fmt.Sprintf("%s enabled, but dynamic reload failed: %s", j.Plugin.Name, SanitizeErrorMessage(err.Error()))))
		return
	}
	j.setStatus(Status{State: StateSuccess})
}

// --- PluginDowngradeJob -----------------------------------------------------

func (c *Center) runDowngrade(ctx context.Context, j *Job) {
	j.setStatus(Status{State: StateInstalling})

	destPath := pluginPath(c.cfg.Home, j.Plugin.Name)
	bak := backupPath(destPath)
	// The backup is installed as-is, with no re-verification: the spec
	// preserves this as observed rather than "fixing" it (open question,
	// recorded in DESIGN.md).
	if _, err := os.Stat(bak); err != nil {
		j.setStatus(failureStatus(fmt.Errorf("no backup available for %s: %w", j.Plugin.Name, err)))
		return
	}
	if err := os.Rename(bak, destPath); err != nil {
		j.setStatus(failureStatus(err))
		return
	}
	j.setStatus(restartRequiredStatus(fmt.Sprintf("%s downgraded from backup; restart required", j.Plugin.Name)))
}

// --- HudsonUpgradeJob / HudsonDowngradeJob ----------------------------------

func coreBinaryPath(home string) string   { return filepath.Join(home, "core.war") }
func coreBackupPath(home string) string   { return filepath.Join(home, "core.war.bak") }

func (c *Center) runCoreUpgrade(ctx context.Context, j *Job) {
	j.setStatus(Status{State: StateInstalling})

	site, ok := c.registry.Get(j.SiteID)
	if !ok {
		j.setStatus(failureStatus(fmt.Errorf("core upgrade: site %q not found", j.SiteID)))
		return
	}
	core, ok := site.GetCoreEntry()
	if !ok {
		j.setStatus(failureStatus(fmt.Errorf("core upgrade: site %q publishes no core entry", j.SiteID)))
		return
	}

	tmpPath := coreBinaryPath(c.cfg.Home) + ".tmp"
	if _, err := c.downloadAndVerify(ctx, core.URL, tmpPath, core.ExpectedDigests()); err != nil {
		os.Remove(tmpPath)
		j.setStatus(failureStatus(err))
		return
	}

	destPath := coreBinaryPath(c.cfg.Home)
	if _, err := os.Stat(destPath); err == nil {
		os.Remove(coreBackupPath(c.cfg.Home))
		if err := os.Rename(destPath, coreBackupPath(c.cfg.Home)); err != nil {
			os.Remove(tmpPath)
			j.setStatus(failureStatus(err))
			return
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		j.setStatus(failureStatus(err))
		return
	}

	if err := c.lifecycle.RewriteCoreBinary(ctx, destPath); err != nil {
		j.setStatus(failureStatus(err))
		return
	}
	j.setStatus(restartRequiredStatus(fmt.Sprintf("core upgraded to %s; restart required", core.Version)))
}

func (c *Center) runCoreDowngrade(ctx context.Context, j *Job) {
	j.setStatus(Status{State: StateInstalling})

	bak := coreBackupPath(c.cfg.Home)
	if _, err := os.Stat(bak); err != nil {
		j.setStatus(failureStatus(fmt.Errorf("no core backup available: %w", err)))
		return
	}
	destPath := coreBinaryPath(c.cfg.Home)
	if err := os.Rename(bak, destPath); err != nil {
		j.setStatus(failureStatus(err))
		return
	}
	if err := c.lifecycle.RewriteCoreBinary(ctx, destPath); err != nil {
		j.setStatus(failureStatus(err))
		return
	}
	j.setStatus(restartRequiredStatus("core downgraded from backup; restart required"))
}

// --- CompleteBatchJob --------------------------------------------------------

func (c *Center) runCompleteBatch(ctx context.Context, j *Job) {
	j.setStatus(Status{State: StateRunning})
	start := time.Now()

	for _, sibling := range c.queue.JobsByCorrelationID(j.CorrelationID) {
		if sibling == j {
			continue
		}
		if !sibling.Status().State.IsTerminal() {
			sibling.Wait()
		}
	}

	if err := c.runtime.Start(ctx, j.Batch); err != nil {
		j.setStatus(failureStatus(err))
		return
	}
	j.setStatus(Status{State: StateSuccess, Message: fmt.Sprintf("batch of %d activated in %s", len(j.Batch), time.Since(start))})
}

// --- RestartJenkinsJob --------------------------------------------------------

func (c *Center) runRestart(ctx context.Context, j *Job) {
	if j.Status().State == StateCanceled {
		return
	}
	j.setStatus(Status{State: StateRunning})
	if err := c.lifecycle.SafeRestart(ctx); err != nil {
		j.setStatus(failureStatus(err))
		return
	}
	j.setStatus(Status{State: StateSuccess})
}

// --- Enqueue API --------------------------------------------------------

// EnqueueInstall submits an InstallationJob for plugin from siteID.
func (c *Center) EnqueueInstall(siteID string, plugin PluginEntry, dynamicLoad bool, correlationID string, batch []string) *Job {
	j := newJob(0, JobInstall, siteID)
	j.Plugin = plugin
	j.DynamicLoad = dynamicLoad
	j.Batch = batch
	if correlationID != "" {
		j.SetCorrelationID(correlationID)
	}
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueEnable submits an EnableJob for an already-installed plugin.
func (c *Center) EnqueueEnable(siteID string, plugin PluginEntry, dynamicLoad bool, correlationID string) *Job {
	j := newJob(0, JobEnable, siteID)
	j.Plugin = plugin
	j.DynamicLoad = dynamicLoad
	if correlationID != "" {
		j.SetCorrelationID(correlationID)
	}
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueNoOp submits a NoOpJob, used to report "already installed at the
// desired version" through the same status surface as a real install.
func (c *Center) EnqueueNoOp(siteID string, plugin PluginEntry, correlationID string) *Job {
	j := newJob(0, JobNoOp, siteID)
	j.Plugin = plugin
	if correlationID != "" {
		j.SetCorrelationID(correlationID)
	}
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueDowngrade submits a PluginDowngradeJob that restores name's .bak.
func (c *Center) EnqueueDowngrade(siteID string, plugin PluginEntry) *Job {
	j := newJob(0, JobDowngrade, siteID)
	j.Plugin = plugin
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueCoreUpgrade submits a HudsonUpgradeJob against siteID's core entry.
func (c *Center) EnqueueCoreUpgrade(siteID string) *Job {
	j := newJob(0, JobCoreUpgrade, siteID)
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueCoreDowngrade submits a HudsonDowngradeJob restoring the core
// binary backup.
func (c *Center) EnqueueCoreDowngrade(siteID string) *Job {
	j := newJob(0, JobCoreDowngrade, siteID)
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueCompleteBatch submits a CompleteBatchJob that waits for every
// sibling install bearing correlationID before activating batch.
func (c *Center) EnqueueCompleteBatch(correlationID string, batch []string) *Job {
	j := newJob(0, JobCompleteBatch, "")
	j.Batch = batch
	j.SetCorrelationID(correlationID)
	c.queue.AddJob(j, c.connCheckFactory)
	return j
}

// EnqueueRestart submits a RestartJenkinsJob, unless one is already
// outstanding, matching "Restart request issued twice concurrently: only
// one RestartJenkinsJob exists" (§8 scenario 5). The boolean return
// reports whether a new job was actually created.
func (c *Center) EnqueueRestart(requestedBy string) (*Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restartJob != nil && !c.restartJob.Status().State.IsTerminal() {
		return c.restartJob, false
	}
	j := newJob(0, JobRestart, "")
	j.RequestedBy = requestedBy
	c.restartJob = j
	c.queue.AddJob(j, c.connCheckFactory)
	return j, true
}

// IsRestartScheduled reports whether a RestartJenkinsJob is currently
// outstanding (Pending or Running).
func (c *Center) IsRestartScheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restartJob != nil && !c.restartJob.Status().State.IsTerminal()
}

// CancelRestart cancels the outstanding restart job if it is still Pending.
func (c *Center) CancelRestart() bool {
	c.mu.Lock()
	j := c.restartJob
	c.mu.Unlock()
	if j == nil {
		return false
	}
	return j.TryCancel()
}

// RequiresRestart reports the process-wide restart flag (§3, monotonic).
func (c *Center) RequiresRestart() bool {
	return c.queue.RequiresRestart()
}

// --- Status projections (consumed by the Status API) ------------------------

// latestConnectionCheck returns the one ConnectionCheckJob for siteID, if
// it has ever been scheduled.
func (c *Center) latestConnectionCheck(siteID string) (*Job, bool) {
	for _, j := range c.queue.AllJobs() {
		if j.Kind == JobConnectionCheck && j.SiteID == siteID {
			return j, true
		}
	}
	return nil, false
}

// ConnectionStatus implements §4.11: report the last-known connection
// states for siteID, re-probing once if both channels show FAILED, and
// triggering a full site refresh as a side effect if the re-probe
// succeeds.
func (c *Center) ConnectionStatus(ctx context.Context, siteID string) ConnectionStates {
	var states ConnectionStates
	if j, ok := c.latestConnectionCheck(siteID); ok {
		states = j.Status().ConnectionStates
	} else {
		states = ConnectionStates{Internet: ConnUnchecked, UpdateSite: ConnUnchecked}
	}

	if states.Internet == ConnFailed && states.UpdateSite == ConnFailed {
		reprobed := c.probeSiteConnection(ctx, siteID)
		states = reprobed
		if reprobed.Internet != ConnFailed || reprobed.UpdateSite != ConnFailed {
			go c.registry.UpdateAllSites(context.Background(), c.queue, !c.cfg.NoSignatureCheck)
		}
	}

	return states
}
