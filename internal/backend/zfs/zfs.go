// Package zfs exposes ZFS pools, filesystems and snapshots.
package zfs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gozfs "github.com/mistifyio/go-zfs/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
)

// api is the subset of go-zfs the backend uses.
type api interface {
	Pools() ([]*gozfs.Zpool, error)
	Filesystems() ([]*gozfs.Dataset, error)
	Snapshots() ([]*gozfs.Dataset, error)
	CreatePool(name string, vdevs []string) error
	DestroyPool(name string) error
	CreateFilesystem(name string, props map[string]string) error
	SetProperty(dataset, key, val string) error
	Snapshot(dataset, snap string) error
	Destroy(dataset string) error
}

// ZFS manages pools through go-zfs and the zpool tool.
type ZFS struct {
	env backend.Env
	log *logrus.Entry
	api api
}

// New returns the zfs backend.
func New(env backend.Env) *ZFS {
	log := env.Logger("zfs")
	gozfs.SetLogger(cmdLogger{log: log})
	return &ZFS{env: env, log: log, api: goZFS{}}
}

// Available reports whether the zfs tools are installed.
func (z *ZFS) Available() bool {
	return z.env.Run.Available("zpool") && z.env.Run.Available("zfs")
}

// cmdLogger routes the commands go-zfs runs to logrus.
type cmdLogger struct {
	log *logrus.Entry
}

func (l cmdLogger) Log(cmd []string) {
	l.log.WithField("cmd", strings.Join(cmd, " ")).Debug("running command")
}

func kib(bytes uint64) *float64 {
	return backend.KB(float64(bytes) / 1024)
}

func poolOf(dataset string) string {
	pool, _, _ := strings.Cut(dataset, "/")
	pool, _, _ = strings.Cut(pool, "@")
	return pool
}

func (z *ZFS) status(ctx context.Context) (map[string]*poolStatus, error) {
	res, err := z.env.Run.Run(ctx, []string{"zpool", "status", "-P"})
	if err != nil {
		return nil, errors.Wrap(err, "zpool status")
	}
	out := make(map[string]*poolStatus)
	for _, p := range parseStatus(res.Stdout) {
		out[p.Name] = p
	}
	return out, nil
}

// DeviceHints reports every leaf device of every pool.
func (z *ZFS) DeviceHints(ctx context.Context) ([]*backend.Record, error) {
	if !z.Available() {
		return nil, nil
	}
	st, err := z.status(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := z.api.Pools()
	if err != nil {
		return nil, errors.Wrap(err, "listing zfs pools")
	}
	var recs []*backend.Record
	for _, p := range pools {
		ps, ok := st[p.Name]
		if !ok {
			continue
		}
		for _, d := range ps.Devices {
			recs = append(recs, &backend.Record{
				Name:     z.env.Sys.RealPath(d.Path),
				Kind:     backend.KindZFS,
				PoolName: p.Name,
				Hide:     backend.Bool(false),
			})
		}
	}
	return recs, nil
}

// Pools lists zpools.
func (z *ZFS) Pools(ctx context.Context) (*Pools, error) {
	p := &Pools{Static: backend.NewStatic(backend.KindZFS), z: z}
	if !z.Available() {
		return p, nil
	}
	pools, err := z.api.Pools()
	if err != nil {
		return nil, errors.Wrap(err, "listing zfs pools")
	}
	st, err := z.status(ctx)
	if err != nil {
		return nil, err
	}
	fss, err := z.api.Filesystems()
	if err != nil {
		return nil, errors.Wrap(err, "listing zfs filesystems")
	}
	vols := make(map[string]int)
	for _, ds := range fss {
		vols[poolOf(ds.Name)]++
	}
	for _, zp := range pools {
		rec := &backend.Record{
			Name:     zp.Name,
			PoolName: zp.Name,
			Type:     string(backend.KindZFS),
			PoolSize: kib(zp.Size),
			PoolFree: kib(zp.Free),
			PoolUsed: kib(zp.Allocated),
			VolCount: backend.Int(vols[zp.Name]),
		}
		if ps, ok := st[zp.Name]; ok {
			rec.DevCount = backend.Int(len(ps.Devices))
		}
		p.Add(rec)
	}
	return p, nil
}

// Volumes lists zfs filesystems.
func (z *ZFS) Volumes(ctx context.Context) (*Volumes, error) {
	v := &Volumes{Static: backend.NewStatic(backend.KindZFS), z: z}
	if !z.Available() {
		return v, nil
	}
	fss, err := z.api.Filesystems()
	if err != nil {
		return nil, errors.Wrap(err, "listing zfs filesystems")
	}
	for _, ds := range fss {
		total := ds.Used + ds.Avail
		size := total
		if ds.Quota > 0 {
			size = ds.Quota
		}
		rec := &backend.Record{
			Name:     ds.Name,
			PoolName: poolOf(ds.Name),
			Type:     string(backend.KindZFS),
			VolSize:  kib(size),
			FSType:   "zfs",
			FSSize:   kib(total),
			FSUsed:   kib(ds.Used),
			FSFree:   kib(ds.Avail),
		}
		if strings.HasPrefix(ds.Mountpoint, "/") {
			rec.Mount = ds.Mountpoint
		} else if ds.Mountpoint != "" {
			rec.Display = map[string]string{backend.AttrMount: ds.Mountpoint}
		}
		v.Add(rec)
	}
	return v, nil
}

// Snapshots lists zfs snapshots.
func (z *ZFS) Snapshots(ctx context.Context) (*Snapshots, error) {
	s := &Snapshots{Static: backend.NewStatic(backend.KindZFS), z: z}
	if !z.Available() {
		return s, nil
	}
	snaps, err := z.api.Snapshots()
	if err != nil {
		return nil, errors.Wrap(err, "listing zfs snapshots")
	}
	for _, ds := range snaps {
		origin, snap, _ := strings.Cut(ds.Name, "@")
		s.Add(&backend.Record{
			Name:     ds.Name,
			SnapName: snap,
			Origin:   origin,
			PoolName: poolOf(ds.Name),
			Type:     string(backend.KindZFS),
			SnapSize: kib(ds.Used),
			FSType:   "zfs",
		})
	}
	return s, nil
}

func (z *ZFS) run(ctx context.Context, args ...string) error {
	_, err := z.env.Run.Run(ctx, args)
	return err
}

func (z *ZFS) force() []string {
	if z.env.Config.Force {
		return []string{"-f"}
	}
	return nil
}

// Pools is the zfs pool source.
type Pools struct {
	*backend.Static
	z *ZFS
}

func (p *Pools) DefaultPoolName() string {
	return "zfs_pool"
}

func (p *Pools) New(ctx context.Context, pool string, devices []string) error {
	return errors.Wrapf(p.z.api.CreatePool(pool, devices), "creating zfs pool %s", pool)
}

func (p *Pools) Extend(ctx context.Context, pool string, devices []string) error {
	args := append([]string{"zpool", "add"}, p.z.force()...)
	return p.z.run(ctx, append(append(args, pool), devices...)...)
}

func (p *Pools) Reduce(ctx context.Context, pool, device string) error {
	return p.z.run(ctx, "zpool", "remove", pool, device)
}

func (p *Pools) Remove(ctx context.Context, pool string) error {
	return errors.Wrapf(p.z.api.DestroyPool(pool), "destroying zfs pool %s", pool)
}

// Create makes a filesystem in pool, limited by a quota when a size is
// given. Redundancy is a property of zfs pools, not of filesystems.
func (p *Pools) Create(ctx context.Context, pool string, req backend.CreateRequest) (string, error) {
	if req.Raid != nil {
		return "", errors.Errorf("zfs pool '%s': RAID level is chosen when the pool is created", pool)
	}
	name := req.Name
	if name == "" {
		name = "vol-" + uuid.NewString()[:8]
	}
	dataset := pool + "/" + name
	props := map[string]string{}
	if req.Size != nil {
		props["quota"] = fmt.Sprintf("%dK", int64(*req.Size))
	}
	if err := p.z.api.CreateFilesystem(dataset, props); err != nil {
		return "", errors.Wrapf(err, "creating %s", dataset)
	}
	return dataset, nil
}

// Volumes is the zfs filesystem source.
type Volumes struct {
	*backend.Static
	z *ZFS
}

func (v *Volumes) Remove(ctx context.Context, name string) error {
	if !strings.Contains(name, "/") {
		return errors.Errorf("'%s' is the root of a zfs pool, remove the pool instead", name)
	}
	return errors.Wrapf(v.z.api.Destroy(name), "destroying %s", name)
}

// Resize sets the quota of the filesystem.
func (v *Volumes) Resize(ctx context.Context, name string, size float64, resizeFS bool) error {
	return v.z.api.SetProperty(name, "quota", fmt.Sprintf("%dK", int64(size)))
}

func (v *Volumes) Snapshot(ctx context.Context, name string, req backend.SnapshotRequest) error {
	if req.Dest != "" {
		return errors.New("zfs snapshots can not be placed at a destination path")
	}
	snap := req.Name
	if snap == "" {
		snap = "snap-" + time.Now().Format("2006-01-02-T150405")
	}
	return errors.Wrapf(v.z.api.Snapshot(name, snap), "snapshotting %s", name)
}

// Mount points the filesystem's mountpoint property at target; zfs
// mounts it.
func (v *Volumes) Mount(ctx context.Context, name, target string, options []string) error {
	if len(options) > 0 {
		v.z.log.Warnf("mount options %v ignored for zfs filesystem %s", options, name)
	}
	return v.z.api.SetProperty(name, "mountpoint", target)
}

// Snapshots is the zfs snapshot source.
type Snapshots struct {
	*backend.Static
	z *ZFS
}

func (s *Snapshots) Remove(ctx context.Context, name string) error {
	return errors.Wrapf(s.z.api.Destroy(name), "destroying %s", name)
}

// goZFS forwards to go-zfs.
type goZFS struct{}

func (goZFS) Pools() ([]*gozfs.Zpool, error) { return gozfs.ListZpools() }

func (goZFS) Filesystems() ([]*gozfs.Dataset, error) { return gozfs.Filesystems("") }

func (goZFS) Snapshots() ([]*gozfs.Dataset, error) { return gozfs.Snapshots("") }

func (goZFS) CreatePool(name string, vdevs []string) error {
	_, err := gozfs.CreateZpool(name, nil, vdevs...)
	return err
}

func (goZFS) DestroyPool(name string) error {
	zp, err := gozfs.GetZpool(name)
	if err != nil {
		return err
	}
	return zp.Destroy()
}

func (goZFS) CreateFilesystem(name string, props map[string]string) error {
	_, err := gozfs.CreateFilesystem(name, props)
	return err
}

func (goZFS) SetProperty(dataset, key, val string) error {
	ds, err := gozfs.GetDataset(dataset)
	if err != nil {
		return err
	}
	return ds.SetProperty(key, val)
}

func (goZFS) Snapshot(dataset, snap string) error {
	ds, err := gozfs.GetDataset(dataset)
	if err != nil {
		return err
	}
	_, err = ds.Snapshot(snap, false)
	return err
}

func (goZFS) Destroy(dataset string) error {
	ds, err := gozfs.GetDataset(dataset)
	if err != nil {
		return err
	}
	return ds.Destroy(gozfs.DestroyDefault)
}
