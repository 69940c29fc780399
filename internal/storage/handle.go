// Package storage presents devices, pools, volumes and snapshots of all
// backends as one model and sequences the operations that span them.
package storage

import (
	"context"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/config"
	"github.com/sigreer/ssm/internal/device"
	"github.com/sigreer/ssm/internal/fsprobe"
	"github.com/sigreer/ssm/internal/runner"
	"github.com/sigreer/ssm/internal/sysinfo"
)

// SourceFactory builds the source of one backend.
type SourceFactory struct {
	Kind  backend.Kind
	Build func(ctx context.Context) (backend.Source, error)
}

// HintFactory returns a backend's view of the devices it uses.
type HintFactory struct {
	Kind  backend.Kind
	Build func(ctx context.Context) ([]*backend.Record, error)
}

// Backends lists the sources making up each collection, in lookup order.
type Backends struct {
	Pools       []SourceFactory
	Volumes     []SourceFactory
	Snapshots   []SourceFactory
	DeviceHints []HintFactory
}

// Handle owns the four collections and implements the user operations.
type Handle struct {
	cfg      *config.Config
	run      runner.Runner
	sys      sysinfo.System
	backends Backends
	log      *logrus.Entry
	out      io.Writer
	env      *itemEnv

	devices   *Lazy[*Collection]
	pools     *Lazy[*Collection]
	volumes   *Lazy[*Collection]
	snapshots *Lazy[*Collection]
}

// Option configures a Handle.
type Option func(*Handle)

// WithOutput sets where listings and progress messages go.
func WithOutput(w io.Writer) Option {
	return func(h *Handle) { h.out = w }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(h *Handle) { h.log = log }
}

// NewHandle returns a Handle. Nothing is read until a collection is used.
func NewHandle(cfg *config.Config, run runner.Runner, sys sysinfo.System, b Backends, opts ...Option) *Handle {
	h := &Handle{
		cfg:      cfg,
		run:      run,
		sys:      sys,
		backends: b,
		out:      os.Stdout,
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = logrus.NewEntry(logrus.StandardLogger())
	}
	h.log = h.log.WithField("component", "storage")
	h.env = &itemEnv{
		run:  run,
		opts: fsprobe.Options{Force: cfg.Force, Verbose: cfg.Verbose, Log: h.log},
		log:  h.log,
	}
	if cfg.PrefixFilter != "" {
		h.log.Warnf("only devices, pools and volumes starting with %q are considered", cfg.PrefixFilter)
	}

	h.devices = NewLazy(h.buildDevices)
	h.pools = NewLazy(func(ctx context.Context) (*Collection, error) {
		c, err := h.buildCollection(ctx, Pools, poolSchema, b.Pools)
		if err != nil {
			return nil, err
		}
		c.defaultKind = backend.Kind(cfg.DefaultBackend)
		return c, nil
	})
	h.volumes = NewLazy(func(ctx context.Context) (*Collection, error) {
		return h.buildCollection(ctx, Volumes, volumeSchema, b.Volumes)
	})
	h.snapshots = NewLazy(func(ctx context.Context) (*Collection, error) {
		return h.buildCollection(ctx, Snapshots, snapshotSchema, b.Snapshots)
	})
	return h
}

// Config returns the configuration the handle was built with.
func (h *Handle) Config() *config.Config { return h.cfg }

func (h *Handle) buildCollection(ctx context.Context, kind EntityKind, schema Schema, factories []SourceFactory) (*Collection, error) {
	var sources []backend.Source
	for _, f := range factories {
		src, err := f.Build(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.log.WithError(err).WithField("backend", f.Kind).Warnf("can not read %s", kind)
			continue
		}
		sources = append(sources, src)
	}
	return NewCollection(kind, schema, h.probeEnv(ctx), h.cfg.PrefixFilter, sources...), nil
}

func (h *Handle) buildDevices(ctx context.Context) (*Collection, error) {
	var hints [][]*backend.Record
	for _, f := range h.backends.DeviceHints {
		recs, err := f.Build(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.log.WithError(err).WithField("backend", f.Kind).Warn("can not read device usage")
			continue
		}
		hints = append(hints, recs)
	}
	idx, err := device.Build(ctx, h.sys, hints...)
	if err != nil {
		return nil, errors.Wrap(err, "building device index")
	}
	return NewCollection(Devices, deviceSchema, h.probeEnv(ctx), h.cfg.PrefixFilter, idx), nil
}

// probeEnv binds the shared probe environment to ctx, so lazy attribute
// reads stop with the command that built the collection.
func (h *Handle) probeEnv(ctx context.Context) *itemEnv {
	env := *h.env
	env.ctx = ctx
	return &env
}

// Devices returns the device collection.
func (h *Handle) Devices(ctx context.Context) (*Collection, error) { return h.devices.GetOrBuild(ctx) }

// Pools returns the pool collection.
func (h *Handle) Pools(ctx context.Context) (*Collection, error) { return h.pools.GetOrBuild(ctx) }

// Volumes returns the volume collection.
func (h *Handle) Volumes(ctx context.Context) (*Collection, error) { return h.volumes.GetOrBuild(ctx) }

// Snapshots returns the snapshot collection.
func (h *Handle) Snapshots(ctx context.Context) (*Collection, error) {
	return h.snapshots.GetOrBuild(ctx)
}

// Invalidate drops the named collections, or all of them when none is
// named, so the next use re-reads the backends.
func (h *Handle) Invalidate(kinds ...EntityKind) {
	if len(kinds) == 0 {
		kinds = []EntityKind{Devices, Pools, Volumes, Snapshots}
	}
	for _, k := range kinds {
		switch k {
		case Devices:
			h.devices.Invalidate()
		case Pools:
			h.pools.Invalidate()
		case Volumes:
			h.volumes.Invalidate()
		case Snapshots:
			h.snapshots.Invalidate()
		}
	}
}

// claimable filters devices for use in pool: devices already in pool
// are dropped, devices in another pool are a conflict.
func (h *Handle) claimable(ctx context.Context, pool string, devices []string) ([]string, error) {
	devs, err := h.Devices(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, d := range devices {
		if it, ok := devs.Get(d); ok {
			if owner := it.Text(backend.AttrPoolName); owner != "" {
				if owner != pool {
					return nil, &ConflictError{Device: d, Pool: owner}
				}
				continue
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// FindDevice returns the key under which path is indexed: path itself,
// or the device-mapper node with the same minor.
func (h *Handle) FindDevice(ctx context.Context, path string) (string, error) {
	devs, err := h.Devices(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := devs.Get(path); ok {
		return path, nil
	}
	minor, err := h.sys.DeviceMinor(path)
	if err != nil {
		return path, nil
	}
	dm := "/dev/dm-" + strconv.FormatUint(uint64(minor), 10)
	if _, ok := devs.Get(dm); ok {
		return dm, nil
	}
	return path, nil
}
