package updatecenter

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func base64SHA256(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func base64SHA512(body []byte) string {
	sum := sha512.Sum512(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// TestCenter_DuplicateInstall_SecondSkipsWithoutRefetch implements §8
// scenario 2: two back-to-back installs of the identical (name, version)
// complete Pending->Installing->SuccessButRequiresRestart for the first and
// Pending->Skipped for the second, which must never call the fetcher.
func TestCenter_DuplicateInstall_SecondSkipsWithoutRefetch(t *testing.T) {
	body := []byte("plugin-bytes")
	var fetchCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetchCount, 1)
		w.Write(body)
	}))
	defer server.Close()

	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	plugin := PluginEntry{
		Name:     "foo",
		Version:  "1.0",
		URL:      server.URL,
		SHA256:   base64SHA256(body),
		SourceID: "default",
	}

	first := c.EnqueueInstall("default", plugin, false, "", nil)
	second := c.EnqueueInstall("default", plugin, false, "", nil)

	firstStatus := first.Wait()
	secondStatus := second.Wait()

	if firstStatus.State != StateSuccessButRequiresRestart {
		t.Fatalf("first job state = %v, want SuccessButRequiresRestart", firstStatus.State)
	}
	if secondStatus.State != StateSkipped {
		t.Fatalf("second job state = %v, want Skipped", secondStatus.State)
	}
	if got := atomic.LoadInt32(&fetchCount); got != 1 {
		t.Fatalf("fetcher called %d times, want exactly 1", got)
	}
}

// TestCenter_Install_ChecksumMismatchFails verifies a wrong expected digest
// fails the job and never leaves a plugin file behind.
func TestCenter_Install_ChecksumMismatchFails(t *testing.T) {
	body := []byte("plugin-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	plugin := PluginEntry{
		Name:     "foo",
		Version:  "1.0",
		URL:      server.URL,
		SHA256:   base64.StdEncoding.EncodeToString([]byte("not-the-real-digest")),
		SourceID: "default",
	}

	job := c.EnqueueInstall("default", plugin, false, "", nil)
	status := job.Wait()
	if status.State != StateFailure {
		t.Fatalf("state = %v, want Failure", status.State)
	}

	if _, err := os.Stat(pluginPath(c.cfg.Home, "foo")); err == nil {
		t.Fatal("expected no plugin file to exist after a checksum mismatch")
	}
}

// TestCenter_CoreUpgrade_ChecksumMismatchFailsAndLeavesCoreUntouched
// implements §8 scenario 3.
func TestCenter_CoreUpgrade_ChecksumMismatchFailsAndLeavesCoreUntouched(t *testing.T) {
	body := []byte("core-binary-bytes")
	coreServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer coreServer.Close()

	siteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`callback({"plugins":{},"core":{"version":"2.0","url":"` + coreServer.URL + `","sha512":"` + base64.StdEncoding.EncodeToString([]byte("wrong-digest")) + `"}});`))
	}))
	defer siteServer.Close()

	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	if err := c.registry.Add("core-site", siteServer.URL); err != nil {
		t.Fatalf("Add: %v", err)
	}
	site, _ := c.registry.Get("core-site")
	if err := site.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	job := c.EnqueueCoreUpgrade("core-site")
	status := job.Wait()
	if status.State != StateFailure {
		t.Fatalf("state = %v, want Failure", status.State)
	}
	var mismatch *ChecksumMismatch
	if status.err == nil {
		t.Fatal("expected an underlying checksum mismatch error")
	} else if as, ok := status.err.(*ChecksumMismatch); !ok {
		t.Fatalf("expected *ChecksumMismatch, got %T", status.err)
	} else {
		mismatch = as
	}
	if mismatch.Algorithm != AlgorithmSHA512 {
		t.Errorf("Algorithm = %v, want SHA-512", mismatch.Algorithm)
	}

	if _, err := os.Stat(coreBinaryPath(c.cfg.Home)); err == nil {
		t.Fatal("expected no core binary to exist after a checksum mismatch")
	}
}

// TestCenter_RestartDedup implements §8 scenario 5: a second concurrent
// restart request observes the already-outstanding job instead of enqueuing
// a duplicate.
func TestCenter_RestartDedup(t *testing.T) {
	c := newTestCenter(t)
	// Deliberately do not start the worker, so the job stays Pending and the
	// dedup check below can't race against it already having terminated.

	first, created := c.EnqueueRestart("alice")
	if !created {
		t.Fatal("expected the first restart request to create a job")
	}
	if !c.IsRestartScheduled() {
		t.Fatal("expected IsRestartScheduled to report true")
	}

	second, created := c.EnqueueRestart("bob")
	if created {
		t.Fatal("expected the second concurrent restart request not to create a new job")
	}
	if second != first {
		t.Fatal("expected the second call to return the same outstanding job")
	}
}

func TestCenter_CancelRestart_OnlyFromPending(t *testing.T) {
	c := newTestCenter(t)

	if c.CancelRestart() {
		t.Fatal("expected no restart to cancel when none is outstanding")
	}

	if _, created := c.EnqueueRestart("alice"); !created {
		t.Fatal("expected a restart job to be created")
	}
	if !c.CancelRestart() {
		t.Fatal("expected the pending restart to be cancelable")
	}
	if c.IsRestartScheduled() {
		t.Fatal("expected IsRestartScheduled to report false after cancellation")
	}

	// A new restart can be scheduled once the previous one reached a
	// terminal state.
	if _, created := c.EnqueueRestart("carol"); !created {
		t.Fatal("expected a fresh restart request to create a new job after cancellation")
	}
}

// TestCenter_NoOpJob_ReportsSuccessImmediately covers "already installed at
// the desired version" (§4.9).
func TestCenter_NoOpJob_ReportsSuccessImmediately(t *testing.T) {
	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	job := c.EnqueueNoOp("default", PluginEntry{Name: "foo", Version: "1.0"}, "")
	status := job.Wait()
	if status.State != StateSuccess {
		t.Fatalf("state = %v, want Success", status.State)
	}
}

// TestCenter_EnableJob_NonDynamic_RequiresRestart covers §4.9's EnableJob:
// non-dynamic reload always defers activation to the next restart, and the
// job's primary effect -- clearing the plugin's disabled marker -- happens
// regardless of whether dynamic reload was requested.
func TestCenter_EnableJob_NonDynamic_RequiresRestart(t *testing.T) {
	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	marker := disabledMarkerPath(pluginPath(c.cfg.Home, "foo"))
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	job := c.EnqueueEnable("default", PluginEntry{Name: "foo", Version: "1.0"}, false, "")
	status := job.Wait()
	if status.State != StateSuccessButRequiresRestart {
		t.Fatalf("state = %v, want SuccessButRequiresRestart", status.State)
	}
	if !status.RequiresRestart {
		t.Fatal("expected RequiresRestart to be set")
	}
	if !c.RequiresRestart() {
		t.Fatal("expected the process-wide restart flag to be set")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("expected disabled marker to be removed, stat err = %v", err)
	}
}

// TestCenter_Downgrade_RestoresFromBackup covers PluginDowngradeJob (§4.9).
func TestCenter_Downgrade_RestoresFromBackup(t *testing.T) {
	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	dest := pluginPath(c.cfg.Home, "foo")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	bak := backupPath(dest)
	if err := os.WriteFile(bak, []byte("old-version-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	job := c.EnqueueDowngrade("default", PluginEntry{Name: "foo", Version: "0.9"})
	status := job.Wait()
	if status.State != StateSuccessButRequiresRestart {
		t.Fatalf("state = %v, want SuccessButRequiresRestart", status.State)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected the downgraded plugin file to exist: %v", err)
	}
	if string(data) != "old-version-bytes" {
		t.Errorf("downgraded content = %q", data)
	}
	if _, err := os.Stat(bak); err == nil {
		t.Fatal("expected the backup to be consumed by the rename")
	}
}

func TestCenter_Downgrade_FailsWithoutBackup(t *testing.T) {
	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	job := c.EnqueueDowngrade("default", PluginEntry{Name: "foo", Version: "0.9"})
	status := job.Wait()
	if status.State != StateFailure {
		t.Fatalf("state = %v, want Failure", status.State)
	}
}

// TestCenter_CompleteBatch_WaitsForSiblingsThenActivates covers
// CompleteBatchJob (§4.9): it must not report Success until every sibling
// install sharing its correlation id has reached a terminal state.
func TestCenter_CompleteBatch_WaitsForSiblingsThenActivates(t *testing.T) {
	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	const correlationID = "batch-1"
	a := c.EnqueueNoOp("default", PluginEntry{Name: "foo", Version: "1.0"}, correlationID)
	b := c.EnqueueNoOp("default", PluginEntry{Name: "bar", Version: "1.0"}, correlationID)
	batch := c.EnqueueCompleteBatch(correlationID, []string{"foo", "bar"})

	batchStatus := batch.Wait()
	if batchStatus.State != StateSuccess {
		t.Fatalf("batch state = %v, want Success", batchStatus.State)
	}
	if a.Status().State.IsTerminal() != true || b.Status().State.IsTerminal() != true {
		t.Fatal("expected both siblings to have reached a terminal state before the batch completed")
	}
}

// TestCenter_ConnectionCheck_NoCheckURLSkipsInternet covers §8 scenario 4.
func TestCenter_ConnectionCheck_NoCheckURLSkipsInternet(t *testing.T) {
	siteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`callback({"plugins":{}});`))
	}))
	defer siteServer.Close()

	c := newTestCenter(t)
	if err := c.registry.Add("probe-site", siteServer.URL); err != nil {
		t.Fatalf("Add: %v", err)
	}

	states := c.probeSiteConnection(context.Background(), "probe-site")
	if states.Internet != ConnSkipped {
		t.Errorf("Internet = %v, want SKIPPED", states.Internet)
	}
	if states.UpdateSite != ConnOK {
		t.Errorf("UpdateSite = %v, want OK", states.UpdateSite)
	}
}

func TestCenter_AddJob_PrependsConnectionCheck(t *testing.T) {
	c := newTestCenter(t)
	c.queue.StartWorker(context.Background())

	job := c.EnqueueNoOp("default", PluginEntry{Name: "foo", Version: "1.0"}, "")
	job.Wait()

	jobs := c.queue.AllJobs()
	if len(jobs) < 2 {
		t.Fatalf("expected at least a connection check and the NoOp job, got %d", len(jobs))
	}
	if jobs[0].Kind != JobConnectionCheck {
		t.Fatalf("jobs[0].Kind = %v, want ConnectionCheck", jobs[0].Kind)
	}
	if jobs[0].SiteID != "default" {
		t.Errorf("connection check site = %q, want default", jobs[0].SiteID)
	}
}
