package backend

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/config"
	"github.com/sigreer/ssm/internal/runner"
	"github.com/sigreer/ssm/internal/sysinfo"
)

// Source enumerates the records of one backend for one entity kind.
// Get returns nil for an unknown name.
type Source interface {
	Kind() Kind
	Names() []string
	Get(name string) *Record
}

// Raid describes the requested RAID layout of a new volume.
type Raid struct {
	Level      string
	StripeSize *int // KiB
	Stripes    *int
}

// CreateRequest describes a volume to create in a pool.
type CreateRequest struct {
	Devices []string
	Size    *float64 // KiB, nil means all free space
	Name    string
	Raid    *Raid
}

// SnapshotRequest describes a snapshot of a volume.
type SnapshotRequest struct {
	Size *float64 // KiB
	Dest string
	Name string
}

// PoolManager is the capability set of a pool source.
type PoolManager interface {
	Source
	DefaultPoolName() string
	New(ctx context.Context, pool string, devices []string) error
	Extend(ctx context.Context, pool string, devices []string) error
	Reduce(ctx context.Context, pool, device string) error
	Remove(ctx context.Context, pool string) error
	// Create makes a volume and returns its name.
	Create(ctx context.Context, pool string, req CreateRequest) (string, error)
}

// Remover removes an entity.
type Remover interface {
	Remove(ctx context.Context, name string) error
}

// Resizer resizes a volume to size KiB. resizeFS asks the backend to
// resize the filesystem on the volume as well.
type Resizer interface {
	Resize(ctx context.Context, name string, size float64, resizeFS bool) error
}

// Snapshotter snapshots a volume.
type Snapshotter interface {
	Snapshot(ctx context.Context, name string, req SnapshotRequest) error
}

// Mounter mounts a volume itself, for backends where a plain mount(2) of
// the device is not enough.
type Mounter interface {
	Mount(ctx context.Context, name, target string, options []string) error
}

// Env carries the dependencies every backend is built with.
type Env struct {
	Config *config.Config
	Run    runner.Runner
	Sys    sysinfo.System
	Log    *logrus.Entry
}

// Logger returns the environment's logger tagged with component.
func (e Env) Logger(component string) *logrus.Entry {
	log := e.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return log.WithField("component", component)
}

// Static is a Source over a fixed list of records, kept in insertion order.
type Static struct {
	kind    Kind
	names   []string
	records map[string]*Record
}

// NewStatic returns an empty Static source.
func NewStatic(kind Kind) *Static {
	return &Static{kind: kind, records: make(map[string]*Record)}
}

// Add appends rec, replacing an earlier record of the same name.
func (s *Static) Add(rec *Record) {
	if rec.Kind == "" {
		rec.Kind = s.kind
	}
	if _, ok := s.records[rec.Name]; !ok {
		s.names = append(s.names, rec.Name)
	}
	s.records[rec.Name] = rec
}

func (s *Static) Kind() Kind { return s.kind }

func (s *Static) Names() []string { return s.names }

func (s *Static) Get(name string) *Record { return s.records[name] }

// Records returns the records in order.
func (s *Static) Records() []*Record {
	out := make([]*Record, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.records[n])
	}
	return out
}
