package storage

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/fsprobe"
	"github.com/sigreer/ssm/internal/runner"
)

// itemEnv is what items need to probe filesystems. ctx is the context
// the owning collection was built with; attribute reads probe with it.
type itemEnv struct {
	ctx  context.Context
	run  runner.Runner
	opts fsprobe.Options
	log  *logrus.Entry
}

// Item is a handle on one named entity of one source. It holds no state
// of its own; two items are equal when they name the same entity.
type Item struct {
	src  backend.Source
	name string
	env  *itemEnv
}

// Name returns the entity name.
func (i Item) Name() string { return i.name }

// Kind returns the owning backend.
func (i Item) Kind() backend.Kind {
	if i.src == nil {
		return ""
	}
	return i.src.Kind()
}

// Valid reports whether the item is bound to a source.
func (i Item) Valid() bool { return i.src != nil }

// Record returns the underlying record, or nil when it does not exist.
func (i Item) Record() *backend.Record {
	if i.src == nil {
		return nil
	}
	return i.src.Get(i.name)
}

// Exists reports whether the entity currently exists.
func (i Item) Exists() bool {
	return i.Record() != nil
}

// Text reads an attribute as text. Missing attributes read as "".
func (i Item) Text(key string) string {
	rec := i.Record()
	if rec == nil {
		return ""
	}
	i.ensure(rec, key)
	return rec.Text(key)
}

// Number reads a numeric attribute.
func (i Item) Number(key string) (float64, bool) {
	rec := i.Record()
	if rec == nil {
		return 0, false
	}
	i.ensure(rec, key)
	return rec.Number(key)
}

// Has reports whether an attribute is set.
func (i Item) Has(key string) bool {
	rec := i.Record()
	if rec == nil {
		return false
	}
	i.ensure(rec, key)
	return rec.Has(key)
}

// Mountpoint returns the mount point, or "" when the entity is not
// mounted on a directory.
func (i Item) Mountpoint() string {
	m := i.Text(backend.AttrMount)
	if !strings.HasPrefix(m, "/") {
		return ""
	}
	return m
}

// FS returns the filesystem probe, probing on first use.
func (i Item) FS(ctx context.Context) *fsprobe.Probe {
	rec := i.Record()
	if rec == nil {
		return nil
	}
	i.probe(ctx, rec)
	return rec.FS
}

func (i Item) ensure(rec *backend.Record, key string) {
	if !strings.HasPrefix(key, "fs_") || rec.Has(key) {
		return
	}
	ctx := context.Background()
	if i.env != nil && i.env.ctx != nil {
		ctx = i.env.ctx
	}
	i.probe(ctx, rec)
}

func (i Item) probe(ctx context.Context, rec *backend.Record) {
	if rec.FS != nil || i.env == nil {
		return
	}
	dev := rec.DMName
	if dev == "" {
		dev = rec.RealDev
	}
	if dev == "" {
		dev = rec.Name
	}
	mount := rec.Mount
	if !strings.HasPrefix(mount, "/") {
		mount = ""
	}
	p, err := fsprobe.New(ctx, i.env.run, dev, mount, i.env.opts)
	if err != nil {
		i.env.log.WithError(err).WithField("device", dev).Warn("can not read file system information")
	}
	rec.SetFS(p)
}

func (i Item) unsupported(capability string) error {
	return &UnsupportedError{Name: i.name, Capability: capability}
}

// Remove removes the entity.
func (i Item) Remove(ctx context.Context) error {
	r, ok := i.src.(backend.Remover)
	if !ok {
		return i.unsupported("removal")
	}
	return r.Remove(ctx, i.name)
}

// Resize resizes the volume to size KiB.
func (i Item) Resize(ctx context.Context, size float64, resizeFS bool) error {
	r, ok := i.src.(backend.Resizer)
	if !ok {
		return i.unsupported("resizing")
	}
	return r.Resize(ctx, i.name, size, resizeFS)
}

// CanSnapshot reports whether the owning backend supports snapshots.
func (i Item) CanSnapshot() bool {
	_, ok := i.src.(backend.Snapshotter)
	return ok
}

// Snapshot snapshots the volume.
func (i Item) Snapshot(ctx context.Context, req backend.SnapshotRequest) error {
	s, ok := i.src.(backend.Snapshotter)
	if !ok {
		return i.unsupported("snapshots")
	}
	return s.Snapshot(ctx, i.name, req)
}

// Mount mounts the volume through its backend. It returns an
// *UnsupportedError when the backend relies on a plain mount.
func (i Item) Mount(ctx context.Context, target string, options []string) error {
	m, ok := i.src.(backend.Mounter)
	if !ok {
		return i.unsupported("mounting")
	}
	return m.Mount(ctx, i.name, target, options)
}

func (i Item) pool() (backend.PoolManager, error) {
	pm, ok := i.src.(backend.PoolManager)
	if !ok {
		return nil, i.unsupported("pool operations")
	}
	return pm, nil
}

// New creates the pool from devices.
func (i Item) New(ctx context.Context, devices []string) error {
	pm, err := i.pool()
	if err != nil {
		return err
	}
	return pm.New(ctx, i.name, devices)
}

// Extend adds devices to the pool.
func (i Item) Extend(ctx context.Context, devices []string) error {
	pm, err := i.pool()
	if err != nil {
		return err
	}
	return pm.Extend(ctx, i.name, devices)
}

// Reduce removes a device from the pool.
func (i Item) Reduce(ctx context.Context, device string) error {
	pm, err := i.pool()
	if err != nil {
		return err
	}
	return pm.Reduce(ctx, i.name, device)
}

// Create creates a volume in the pool and returns its name.
func (i Item) Create(ctx context.Context, req backend.CreateRequest) (string, error) {
	pm, err := i.pool()
	if err != nil {
		return "", err
	}
	return pm.Create(ctx, i.name, req)
}
