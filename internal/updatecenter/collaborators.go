package updatecenter

import "context"

// PluginRuntime is the out-of-scope collaborator that actually loads a
// plugin file into the live process. The update center only calls it; it
// never implements it.
type PluginRuntime interface {
	// DynamicLoad activates path in the running process. strict controls
	// whether dependency resolution errors are fatal. batch, when non-nil,
	// groups this load with its siblings for CompleteBatchJob. Returning a
	// *RestartRequired is not an error: it signals SuccessButRequiresRestart.
	DynamicLoad(ctx context.Context, path string, strict bool, batch []string) error

	// Start activates every plugin in batch atomically, used by
	// CompleteBatchJob once every sibling install has terminated.
	Start(ctx context.Context, batch []string) error

	// IsBundled reports whether name ships inside the host binary and must
	// be pinned after a user-initiated install.
	IsBundled(name string) bool

	// Pin prevents name from being overwritten by a future core upgrade.
	Pin(name string) error
}

// Lifecycle is the out-of-scope collaborator that can rewrite the host
// binary and restart the process.
type Lifecycle interface {
	// SafeRestart restarts the host process once it is safe to do so.
	SafeRestart(ctx context.Context) error

	// RewriteCoreBinary replaces the running host binary with the file at
	// path, used by core upgrade/downgrade jobs.
	RewriteCoreBinary(ctx context.Context, path string) error
}

// SignatureValidator verifies a site's raw metadata JSON payload.
type SignatureValidator interface {
	// Verify returns ok=true when the payload's signature is acceptable.
	// warn carries a non-fatal concern (e.g. a soon-to-expire certificate).
	Verify(payload []byte) (ok bool, warn string, err error)
}

// noSignatureValidator is bound to a site when signature checking is
// disabled (Config.NoSignatureCheck), e.g. in tests.
type noSignatureValidator struct{}

func (noSignatureValidator) Verify(payload []byte) (bool, string, error) {
	return true, "", nil
}

// NoopPluginRuntime is bound to a Center that runs standalone, with no host
// process to actually load plugins into. Every install still downloads,
// verifies, and stages its file; only activation is skipped, and the job
// reports SuccessButRequiresRestart the same way a non-dynamic load would.
type NoopPluginRuntime struct{}

func (NoopPluginRuntime) DynamicLoad(ctx context.Context, path string, strict bool, batch []string) error {
	return &RestartRequired{Message: "no plugin runtime attached; restart required to activate"}
}

func (NoopPluginRuntime) Start(ctx context.Context, batch []string) error { return nil }

func (NoopPluginRuntime) IsBundled(name string) bool { return false }

func (NoopPluginRuntime) Pin(name string) error { return nil }

// NoopLifecycle is bound to a Center that runs standalone, with no host
// process to restart or rewrite.
type NoopLifecycle struct{}

func (NoopLifecycle) SafeRestart(ctx context.Context) error { return nil }

func (NoopLifecycle) RewriteCoreBinary(ctx context.Context, path string) error { return nil }
