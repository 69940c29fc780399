package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/config"
	"github.com/sigreer/ssm/internal/runner/runnertest"
	"github.com/sigreer/ssm/internal/sysinfo/sysinfotest"
)

// recorder logs capability calls and fails the ones listed in fail.
type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) do(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	r.calls = append(r.calls, call)
	return r.fail[call]
}

type fakePools struct {
	*backend.Static
	rec  *recorder
	vols *fakeVolumes
}

func (p *fakePools) DefaultPoolName() string { return "lvm_pool" }

func (p *fakePools) New(ctx context.Context, pool string, devices []string) error {
	return p.rec.do("new %s %s", pool, strings.Join(devices, " "))
}

func (p *fakePools) Extend(ctx context.Context, pool string, devices []string) error {
	return p.rec.do("extend %s %s", pool, strings.Join(devices, " "))
}

func (p *fakePools) Reduce(ctx context.Context, pool, device string) error {
	return p.rec.do("reduce %s %s", pool, device)
}

func (p *fakePools) Remove(ctx context.Context, pool string) error {
	return p.rec.do("remove %s", pool)
}

func (p *fakePools) Create(ctx context.Context, pool string, req backend.CreateRequest) (string, error) {
	name := "/dev/" + pool + "/" + req.Name
	if err := p.rec.do("create %s", name); err != nil {
		return "", err
	}
	p.vols.Add(&backend.Record{Name: name, PoolName: pool, VolSize: req.Size})
	return name, nil
}

type fakeVolumes struct {
	*backend.Static
	rec *recorder
}

func (v *fakeVolumes) Remove(ctx context.Context, name string) error {
	return v.rec.do("remove %s", name)
}

func (v *fakeVolumes) Resize(ctx context.Context, name string, size float64, resizeFS bool) error {
	return v.rec.do("resize %s %.0f fs=%t", name, size, resizeFS)
}

func (v *fakeVolumes) Snapshot(ctx context.Context, name string, req backend.SnapshotRequest) error {
	return v.rec.do("snapshot %s size=%.0f", name, *req.Size)
}

type fixture struct {
	h     *Handle
	cfg   *config.Config
	run   *runnertest.Fake
	sys   *sysinfotest.Fake
	rec   *recorder
	pools *fakePools
	vols  *fakeVolumes
	snaps *fakeVolumes
	// plain is a volume source without any capability.
	plain *backend.Static
	hints []*backend.Record
	out   *bytes.Buffer
}

const testVol = "/dev/lvm_pool/lvol001"

// newFixture builds a handle over one lvm-like pool "lvm_pool" with 200
// KiB free holding testVol (1000 KiB), a pool "other_pool", and the
// devices sda (other_pool), sdb (lvm_pool) and the free sdc, sdd, sde
// of 300, 900 and 50 KiB.
func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	f := &fixture{
		cfg: cfg,
		run: runnertest.New(),
		sys: sysinfotest.New().
			Disk(8, 0, 1000, "sda").
			Disk(8, 16, 100, "sdb").
			Disk(8, 32, 300, "sdc").
			Disk(8, 48, 900, "sdd").
			Disk(8, 64, 50, "sde"),
		rec:   &recorder{fail: map[string]error{}},
		plain: backend.NewStatic(backend.KindCrypt),
		out:   &bytes.Buffer{},
	}
	f.vols = &fakeVolumes{Static: backend.NewStatic(backend.KindLVM), rec: f.rec}
	f.snaps = &fakeVolumes{Static: backend.NewStatic(backend.KindLVM), rec: f.rec}
	f.pools = &fakePools{Static: backend.NewStatic(backend.KindLVM), rec: f.rec, vols: f.vols}

	f.pools.Add(&backend.Record{
		Name: "lvm_pool", PoolName: "lvm_pool", Type: "lvm",
		PoolSize: backend.KB(1200), PoolFree: backend.KB(200), PoolUsed: backend.KB(1000),
		DevCount: backend.Int(1),
	})
	f.pools.Add(&backend.Record{
		Name: "other_pool", PoolName: "other_pool", Type: "lvm",
		PoolSize: backend.KB(1000), PoolFree: backend.KB(1000), PoolUsed: backend.KB(0),
	})
	f.vols.Add(&backend.Record{Name: testVol, PoolName: "lvm_pool", VolSize: backend.KB(1000)})

	f.hints = []*backend.Record{
		{Name: "/dev/sda", PoolName: "other_pool"},
		{Name: "/dev/sdb", PoolName: "lvm_pool"},
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	b := Backends{
		Pools: []SourceFactory{
			{Kind: backend.KindLVM, Build: func(context.Context) (backend.Source, error) { return f.pools, nil }},
		},
		Volumes: []SourceFactory{
			{Kind: backend.KindLVM, Build: func(context.Context) (backend.Source, error) { return f.vols, nil }},
			{Kind: backend.KindCrypt, Build: func(context.Context) (backend.Source, error) { return f.plain, nil }},
		},
		Snapshots: []SourceFactory{
			{Kind: backend.KindLVM, Build: func(context.Context) (backend.Source, error) { return f.snaps, nil }},
		},
		DeviceHints: []HintFactory{
			{Kind: backend.KindLVM, Build: func(context.Context) ([]*backend.Record, error) { return f.hints, nil }},
		},
	}
	f.h = NewHandle(cfg, f.run, f.sys, b, WithOutput(f.out), WithLogger(logrus.NewEntry(log)))
	return f
}

// lsblk scripts the filesystem type reported for dev.
func (f *fixture) lsblk(dev, fstype string) {
	f.run.Stdout("lsblk -J -d -o PATH,FSTYPE "+dev,
		fmt.Sprintf(`{"blockdevices":[{"path":%q,"fstype":%q}]}`, dev, fstype))
}

func (f *fixture) volume(t *testing.T, name string) Item {
	t.Helper()
	vols, err := f.h.Volumes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	it, ok := vols.Get(name)
	if !ok {
		t.Fatalf("no volume %s", name)
	}
	return it
}

func (f *fixture) pool(t *testing.T, name string) Item {
	t.Helper()
	it, err := f.h.ResolvePool(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return it
}
