package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MagicBeansAI/magictunnel/internal/log"
)

// Catalog holds the currently-published Snapshot behind an atomic pointer.
// Readers call Get() and never block a concurrent Publish (I5).
type Catalog struct {
	current atomic.Pointer[Snapshot]

	builder    *Builder
	loader     *Loader
	externalFn func() []ExternalTool
	errCh      chan FileLoadError
}

// Option configures a Catalog at construction.
type Option func(*Catalog)

// WithExternalSource wires a callback the Catalog polls on every reload to
// obtain the current set of conflict-resolved external tools (spec §4.X).
func WithExternalSource(fn func() []ExternalTool) Option {
	return func(c *Catalog) { c.externalFn = fn }
}

// New constructs a Catalog. errBuf sizes the non-blocking file-error
// channel; every error is also always logged via internal/log regardless
// of whether a consumer is draining the channel.
func New(loader *Loader, vis VisibilitySettings, errBuf int, opts ...Option) *Catalog {
	if errBuf <= 0 {
		errBuf = 64
	}
	c := &Catalog{
		builder: NewBuilder(vis),
		loader:  loader,
		errCh:   make(chan FileLoadError, errBuf),
	}
	for _, o := range opts {
		o(c)
	}
	c.current.Store(&Snapshot{tools: map[string]ToolDef{}, buildTime: time.Now()})
	return c
}

// Get returns the current snapshot. A call that started against snapshot N
// keeps using the returned pointer even if a swap to N+1 happens
// concurrently (spec §5 Ordering guarantees).
func (c *Catalog) Get() *Snapshot {
	return c.current.Load()
}

// Errors returns the channel of per-file parse errors (spec §4.R Failure
// model).
func (c *Catalog) Errors() <-chan FileLoadError {
	return c.errCh
}

// Reload performs one load+build+publish cycle off the hot path.
func (c *Catalog) Reload(ctx context.Context) (*Snapshot, error) {
	files, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	var external []ExternalTool
	if c.externalFn != nil {
		external = c.externalFn()
	}
	snap, fileErrs := c.builder.Build(files, external)
	for _, fe := range fileErrs {
		log.Emit(log.Warn, "registry", "catalog file failed to parse", map[string]interface{}{
			"path": fe.Path, "error": fe.Err.Error(),
		})
		select {
		case c.errCh <- fe:
		default:
		}
	}
	c.current.Store(snap)
	log.Emit(log.Info, "registry", "snapshot published", map[string]interface{}{
		"tools": snap.Len(), "hash": snap.ContentHash(),
	})
	return snap, nil
}
