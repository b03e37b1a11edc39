// Package publish uploads packaged artifacts to the release host.
//
// Publishing is gated by the release condition (tagged commit, primary
// channel) and is idempotent: re-publishing an artifact that is already on
// the host is a no-op, and host-side conflicts never fail a job.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/schollz/progressbar/v3"

	"github.com/cemconv/cemrelease/iox"
	"github.com/cemconv/cemrelease/lode"
	"github.com/cemconv/cemrelease/log"
	"github.com/cemconv/cemrelease/pack"
	"github.com/cemconv/cemrelease/types"
)

// Retry defaults for transient upload failures.
const (
	DefaultRetries = 2
	DefaultBackoff = 500 * time.Millisecond
)

// Config configures a Publisher.
type Config struct {
	// Store selects the release host backend.
	Store lode.StoreConfig
	// RequireCredential rejects uploads when the credential is zero.
	// Always true for the s3 backend.
	RequireCredential bool
	// BaseURL prefixes published keys to form download URLs (optional).
	BaseURL string
	// Retries is the number of retries on throttling, network and timeout errors.
	Retries int
	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration
	// Progress receives an upload progress bar when non-nil.
	Progress io.Writer
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// Publisher uploads artifacts and their checksum sidecars.
type Publisher struct {
	factory lodelib.StoreFactory
	cred    Credential
	cfg     Config
}

// NewPublisher creates a publisher for the configured backend.
// The credential is handed to the storage layer for the s3 backend.
func NewPublisher(ctx context.Context, cfg Config, cred Credential) (*Publisher, error) {
	if cfg.Store.Backend == lode.BackendS3 {
		cfg.RequireCredential = true
	}
	storeCfg := cfg.Store
	storeCfg.Credentials = cred.static()

	factory, err := lode.NewStoreFactory(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("release host: %w", err)
	}
	return NewPublisherWithFactory(factory, cred, cfg), nil
}

// NewPublisherWithFactory creates a publisher over an existing store factory.
// Use a shared memory store for testing.
func NewPublisherWithFactory(factory lodelib.StoreFactory, cred Credential, cfg Config) *Publisher {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Publisher{factory: factory, cred: cred, cfg: cfg}
}

// RequiresCredential reports whether uploads need a non-zero credential.
func (p *Publisher) RequiresCredential() bool {
	return p.cfg.RequireCredential
}

// Publish runs the publish state machine for one artifact.
//
// Untagged and non-primary-channel targets return a terminal no-op state
// without touching the host. A nil error is returned for every phase except
// upload-failed; the returned state is non-nil in all cases.
func (p *Publisher) Publish(ctx context.Context, artifact *types.Artifact, tag string) (*types.PublishState, error) {
	target := artifact.Target
	state := &types.PublishState{Phase: Decide(tag, target), Tag: tag}
	if state.Phase.IsTerminal() {
		return state, nil
	}

	state.Key = Key(tag, artifact.Name)
	state.URL = p.url(state.Key)

	if p.cfg.RequireCredential && p.cred.IsZero() {
		state.Phase = types.PhaseUploadFailed
		return state, types.NewStageError(types.ErrPublishAuthFailure, types.StagePublish, target.Key(), 0,
			errors.New("release host requires a credential and none was provided"))
	}

	if err := ctx.Err(); err != nil {
		state.Phase = types.PhaseUploadFailed
		return state, types.NewStageError(types.ErrCanceled, types.StagePublish, target.Key(), 0, err)
	}

	store, err := p.factory()
	if err != nil {
		state.Phase = types.PhaseUploadFailed
		return state, p.classify(target, lode.WrapInitError(err, state.Key))
	}

	digest := artifact.SHA256
	if digest == "" {
		if digest, _, err = pack.FileDigest(artifact.Path); err != nil {
			state.Phase = types.PhaseUploadFailed
			return state, types.NewStageError(types.ErrUploadFailed, types.StagePublish, target.Key(), 0, err)
		}
	}

	existing, err := p.remoteDigest(ctx, store, state.Key)
	if err != nil {
		state.Phase = types.PhaseUploadFailed
		return state, p.classify(target, err)
	}
	if existing != "" {
		state.Phase = types.PhaseAlreadyPublished
		state.Conflict = existing != digest
		p.logNoop(artifact, state, existing, digest)
		if !state.Conflict {
			// A previous run may have stopped between archive and sidecar.
			if err := p.putSidecar(ctx, store, artifact, tag, digest); err != nil {
				p.cfg.Logger.Warn("checksum sidecar upload failed", map[string]any{"key": state.Key, "error": err.Error()})
			}
		}
		return state, nil
	}

	state.Phase = types.PhaseUploading
	p.cfg.Logger.Info("uploading artifact", map[string]any{"key": state.Key, "size": artifact.Size})

	n, err := p.putWithRetry(ctx, store, state.Key, artifact.Path)
	if err != nil {
		if errors.Is(err, lode.ErrExists) {
			// Lost a race with another publisher of the same key.
			state.Phase = types.PhaseAlreadyPublished
			state.Conflict = true
			return state, nil
		}
		state.Phase = types.PhaseUploadFailed
		return state, p.classify(target, err)
	}
	state.Bytes = n

	if err := p.putSidecar(ctx, store, artifact, tag, digest); err != nil && !errors.Is(err, lode.ErrExists) {
		state.Phase = types.PhaseUploadFailed
		return state, p.classify(target, err)
	}

	state.Phase = types.PhasePublished
	return state, nil
}

func (p *Publisher) logNoop(artifact *types.Artifact, state *types.PublishState, remote, local string) {
	fields := map[string]any{"key": state.Key, "sha256": local}
	if state.Conflict {
		fields["remote_sha256"] = remote
		p.cfg.Logger.Warn("release host holds a different artifact under this key, leaving it in place", fields)
		return
	}
	p.cfg.Logger.Info("artifact already published", fields)
}

// remoteDigest returns the SHA-256 of the object at key, or "" if absent.
func (p *Publisher) remoteDigest(ctx context.Context, store lodelib.Store, key string) (string, error) {
	ok, err := store.Exists(ctx, key)
	if err != nil {
		return "", lode.Wrap(err, "exists", key)
	}
	if !ok {
		return "", nil
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		return "", lode.WrapReadError(err, key)
	}
	defer iox.DiscardClose(rc)

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", lode.WrapReadError(err, key)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Publisher) putSidecar(ctx context.Context, store lodelib.Store, artifact *types.Artifact, tag, digest string) error {
	if artifact.ChecksumPath == "" {
		return nil
	}
	key := Key(tag, artifact.Name+pack.ChecksumExt)
	ok, err := store.Exists(ctx, key)
	if err != nil {
		return lode.Wrap(err, "exists", key)
	}
	if ok {
		return nil
	}
	body := pack.ChecksumLine(digest, artifact.Name)
	if err := store.Put(ctx, key, strings.NewReader(body)); err != nil {
		return lode.Wrap(err, "put", key)
	}
	return nil
}

// putWithRetry uploads the file at path, retrying transient failures with
// exponential backoff. Auth, access and conflict errors are never retried.
func (p *Publisher) putWithRetry(ctx context.Context, store lodelib.Store, key, path string) (int64, error) {
	var lastErr error
	attempts := 1 + p.cfg.Retries

	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * p.cfg.Backoff
			select {
			case <-ctx.Done():
				return 0, lode.Wrap(ctx.Err(), "put", key)
			case <-time.After(backoff):
			}
		}

		n, err := p.put(ctx, store, key, path)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !retriable(err) {
			return 0, err
		}
		p.cfg.Logger.Warn("upload attempt failed", map[string]any{"key": key, "attempt": i + 1, "error": err.Error()})
	}
	return 0, lastErr
}

func (p *Publisher) put(ctx context.Context, store lodelib.Store, key, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, lode.WrapReadError(err, path)
	}
	defer iox.DiscardClose(f)

	info, err := f.Stat()
	if err != nil {
		return 0, lode.WrapReadError(err, path)
	}

	counter := &countingReader{r: f}
	var body io.Reader = counter
	if p.cfg.Progress != nil {
		bar := newProgressBar(p.cfg.Progress, info.Size(), key)
		pr := progressbar.NewReader(counter, bar)
		body = &pr
		defer func() { _ = bar.Finish() }()
	}

	if err := store.Put(ctx, key, body); err != nil {
		return 0, lode.Wrap(err, "put", key)
	}
	return counter.n, nil
}

func newProgressBar(w io.Writer, size int64, key string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(key),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(w, "\n")
		}),
	)
}

// classify maps a storage error to the publish error taxonomy.
func (p *Publisher) classify(target types.TargetSpec, err error) error {
	switch {
	case errors.Is(err, lode.ErrAuth), errors.Is(err, lode.ErrAccessDenied):
		return types.NewStageError(types.ErrPublishAuthFailure, types.StagePublish, target.Key(), 0, err)
	case errors.Is(err, context.Canceled):
		return types.NewStageError(types.ErrCanceled, types.StagePublish, target.Key(), 0, err)
	default:
		return types.NewStageError(types.ErrUploadFailed, types.StagePublish, target.Key(), 0, err)
	}
}

func retriable(err error) bool {
	return errors.Is(err, lode.ErrThrottled) ||
		errors.Is(err, lode.ErrNetwork) ||
		errors.Is(err, lode.ErrTimeout)
}

func (p *Publisher) url(key string) string {
	if p.cfg.BaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(p.cfg.BaseURL, "/") + "/" + key
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}
