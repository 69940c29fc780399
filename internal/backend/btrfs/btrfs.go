// Package btrfs exposes btrfs filesystems as pools and volumes, and their
// subvolumes and snapshots as volumes and snapshots.
package btrfs

import (
	"bufio"
	"context"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
)

// Btrfs drives btrfs-progs.
type Btrfs struct {
	env backend.Env
	log *logrus.Entry
}

// New returns the btrfs backend.
func New(env backend.Env) *Btrfs {
	return &Btrfs{env: env, log: env.Logger("btrfs")}
}

// Available reports whether btrfs-progs are installed.
func (b *Btrfs) Available() bool {
	return b.env.Run.Available("btrfs")
}

type device struct {
	ID   int
	Size uint64
	Used uint64
	Path string
}

type subvolume struct {
	ID         int
	Path       string
	UUID       string
	ParentUUID string
}

type filesystem struct {
	Label   string
	UUID    string
	Used    uint64
	Devices []device
	// Mount is where the top-level subvolume is mounted, if anywhere.
	Mount      string
	Subvolumes []subvolume
	Snapshots  []subvolume
}

// Name is the pool name: the label, or the uuid of unlabelled filesystems.
func (fs *filesystem) Name() string {
	if fs.Label != "" {
		return fs.Label
	}
	return fs.UUID
}

func (fs *filesystem) Size() uint64 {
	var total uint64
	for _, d := range fs.Devices {
		total += d.Size
	}
	return total
}

func (fs *filesystem) firstDevice() string {
	if len(fs.Devices) == 0 {
		return ""
	}
	return fs.Devices[0].Path
}

func (fs *filesystem) devicePaths() []string {
	paths := make([]string, 0, len(fs.Devices))
	for _, d := range fs.Devices {
		paths = append(paths, d.Path)
	}
	return paths
}

// parseShow parses `btrfs filesystem show --raw`.
func parseShow(out string) ([]*filesystem, error) {
	var (
		fss []*filesystem
		cur *filesystem
	)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		fields := strings.Fields(line)
		switch {
		case strings.HasPrefix(line, "Label:"):
			cur = &filesystem{}
			fss = append(fss, cur)
			label, rest, _ := strings.Cut(strings.TrimPrefix(line, "Label:"), "uuid:")
			label = strings.TrimSpace(label)
			if label != "none" {
				cur.Label = strings.Trim(label, "'")
			}
			cur.UUID = strings.TrimSpace(rest)
		case cur == nil:
			continue
		case strings.HasPrefix(line, "Total devices"):
			// Total devices 2 FS bytes used 114688
			if n := len(fields); n > 0 {
				used, err := strconv.ParseUint(fields[n-1], 10, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing %q", line)
				}
				cur.Used = used
			}
		case strings.HasPrefix(line, "devid"):
			// devid 1 size 1073741824 used 138477568 path /dev/sdb
			d, err := parseDevid(fields)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %q", line)
			}
			cur.Devices = append(cur.Devices, d)
		}
	}
	return fss, s.Err()
}

func parseDevid(fields []string) (device, error) {
	var (
		d   device
		err error
	)
	for i := 0; i+1 < len(fields); i++ {
		switch fields[i] {
		case "devid":
			d.ID, err = strconv.Atoi(fields[i+1])
		case "size":
			d.Size, err = strconv.ParseUint(fields[i+1], 10, 64)
		case "used":
			d.Used, err = strconv.ParseUint(fields[i+1], 10, 64)
		case "path":
			d.Path = strings.Join(fields[i+1:], " ")
		}
		if err != nil {
			return d, err
		}
	}
	if d.Path == "" {
		return d, errors.New("missing device path")
	}
	return d, nil
}

// parseSubvolumes parses `btrfs subvolume list -u -q` output.
func parseSubvolumes(out string) []subvolume {
	var subs []subvolume
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		var sv subvolume
	scan:
		for i := 0; i+1 < len(fields); i++ {
			switch fields[i] {
			case "ID":
				sv.ID, _ = strconv.Atoi(fields[i+1])
			case "uuid":
				sv.UUID = fields[i+1]
			case "parent_uuid":
				sv.ParentUUID = fields[i+1]
				i++
			case "path":
				sv.Path = strings.Join(fields[i+1:], " ")
				break scan
			}
		}
		if sv.Path != "" {
			subs = append(subs, sv)
		}
	}
	return subs
}

// load reads every btrfs filesystem and, for mounted ones, their
// subvolumes.
func (b *Btrfs) load(ctx context.Context) ([]*filesystem, error) {
	if !b.Available() {
		return nil, nil
	}
	res, err := b.env.Run.Run(ctx, []string{"btrfs", "filesystem", "show", "--raw"})
	if err != nil {
		return nil, errors.Wrap(err, "btrfs filesystem show")
	}
	fss, err := parseShow(res.Stdout)
	if err != nil {
		return nil, err
	}
	mounts, err := b.env.Sys.Mounts()
	if err != nil {
		return nil, err
	}
	for _, fs := range fss {
		for _, d := range fs.Devices {
			if mp, ok := mounts[b.env.Sys.RealPath(d.Path)]; ok {
				fs.Mount = mp
				break
			}
		}
		if fs.Mount == "" {
			continue
		}
		all, err := b.env.Run.Run(ctx, []string{"btrfs", "subvolume", "list", "-u", "-q", fs.Mount})
		if err != nil {
			return nil, errors.Wrapf(err, "listing subvolumes of %s", fs.Name())
		}
		snaps, err := b.env.Run.Run(ctx, []string{"btrfs", "subvolume", "list", "-s", "-u", "-q", fs.Mount})
		if err != nil {
			return nil, errors.Wrapf(err, "listing snapshots of %s", fs.Name())
		}
		fs.Snapshots = parseSubvolumes(snaps.Stdout)
		isSnap := make(map[string]bool, len(fs.Snapshots))
		for _, sv := range fs.Snapshots {
			isSnap[sv.UUID] = true
		}
		for _, sv := range parseSubvolumes(all.Stdout) {
			if !isSnap[sv.UUID] {
				fs.Subvolumes = append(fs.Subvolumes, sv)
			}
		}
	}
	return fss, nil
}

func kib(bytes uint64) *float64 {
	return backend.KB(float64(bytes) / 1024)
}

func subvolumeName(pool, p string) string {
	return pool + ":" + p
}

// splitName splits "pool:path" volume names; whole filesystems have no path.
func splitName(name string) (pool, p string) {
	pool, p, _ = strings.Cut(name, ":")
	return pool, p
}

// DeviceHints reports every device of every btrfs filesystem.
func (b *Btrfs) DeviceHints(ctx context.Context) ([]*backend.Record, error) {
	fss, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	var recs []*backend.Record
	for _, fs := range fss {
		for _, d := range fs.Devices {
			recs = append(recs, &backend.Record{
				Name:     d.Path,
				Kind:     backend.KindBtrfs,
				PoolName: fs.Name(),
				DevSize:  kib(d.Size),
				DevUsed:  kib(d.Used),
				DevFree:  kib(d.Size - d.Used),
			})
		}
	}
	return recs, nil
}

type state struct {
	b   *Btrfs
	fss map[string]*filesystem
}

func (b *Btrfs) state(ctx context.Context) (*state, []*filesystem, error) {
	fss, err := b.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	st := &state{b: b, fss: make(map[string]*filesystem, len(fss))}
	for _, fs := range fss {
		st.fss[fs.Name()] = fs
	}
	return st, fss, nil
}

func (st *state) fs(pool string) (*filesystem, error) {
	fs, ok := st.fss[pool]
	if !ok {
		return nil, errors.Errorf("btrfs pool '%s' does not exist", pool)
	}
	return fs, nil
}

// withMount runs fn with the top-level subvolume of fs mounted,
// mounting it on a temporary directory when it is not mounted already.
func (st *state) withMount(fs *filesystem, fn func(mnt string) error) error {
	if fs.Mount != "" {
		return fn(fs.Mount)
	}
	sys := st.b.env.Sys
	tmp, err := os.MkdirTemp("", "ssm-btrfs-")
	if err != nil {
		return errors.Wrap(err, "creating temporary mount point")
	}
	defer os.Remove(tmp)
	if err := sys.Mount(fs.firstDevice(), tmp, "btrfs", ""); err != nil {
		return err
	}
	defer func() {
		if err := sys.Unmount(tmp); err != nil {
			st.b.log.WithError(err).Warnf("can not unmount %s", tmp)
		}
	}()
	return fn(tmp)
}

func (st *state) run(ctx context.Context, args ...string) error {
	_, err := st.b.env.Run.Run(ctx, args)
	return err
}

func (st *state) force() []string {
	if st.b.env.Config.Force {
		return []string{"-f"}
	}
	return nil
}

// Pools lists btrfs filesystems as pools.
func (b *Btrfs) Pools(ctx context.Context) (*Pools, error) {
	st, fss, err := b.state(ctx)
	if err != nil {
		return nil, err
	}
	p := &Pools{Static: backend.NewStatic(backend.KindBtrfs), st: st}
	for _, fs := range fss {
		size := fs.Size()
		p.Add(&backend.Record{
			Name:     fs.Name(),
			PoolName: fs.Name(),
			Type:     string(backend.KindBtrfs),
			PoolSize: kib(size),
			PoolUsed: kib(fs.Used),
			PoolFree: kib(size - min(fs.Used, size)),
			DevCount: backend.Int(len(fs.Devices)),
			VolCount: backend.Int(len(fs.Subvolumes) + 1),
			Mount:    fs.Mount,
		})
	}
	return p, nil
}

// Volumes lists every btrfs filesystem and its subvolumes.
func (b *Btrfs) Volumes(ctx context.Context) (*Volumes, error) {
	st, fss, err := b.state(ctx)
	if err != nil {
		return nil, err
	}
	v := &Volumes{Static: backend.NewStatic(backend.KindBtrfs), st: st}
	for _, fs := range fss {
		size := fs.Size()
		used := min(fs.Used, size)
		v.Add(&backend.Record{
			Name:     fs.Name(),
			PoolName: fs.Name(),
			Type:     string(backend.KindBtrfs),
			VolSize:  kib(size),
			FSType:   "btrfs",
			FSSize:   kib(size),
			FSUsed:   kib(used),
			FSFree:   kib(size - used),
			RealDev:  fs.firstDevice(),
			Mount:    fs.Mount,
		})
		for _, sv := range fs.Subvolumes {
			rec := &backend.Record{
				Name:     subvolumeName(fs.Name(), sv.Path),
				PoolName: fs.Name(),
				Type:     string(backend.KindBtrfs),
				FSType:   "btrfs",
				RealDev:  fs.firstDevice(),
			}
			if fs.Mount != "" {
				rec.Display = map[string]string{backend.AttrMount: path.Join(fs.Mount, sv.Path)}
			}
			v.Add(rec)
		}
	}
	return v, nil
}

// Snapshots lists btrfs snapshots.
func (b *Btrfs) Snapshots(ctx context.Context) (*Snapshots, error) {
	st, fss, err := b.state(ctx)
	if err != nil {
		return nil, err
	}
	s := &Snapshots{Static: backend.NewStatic(backend.KindBtrfs), st: st}
	for _, fs := range fss {
		byUUID := make(map[string]string, len(fs.Subvolumes))
		for _, sv := range fs.Subvolumes {
			byUUID[sv.UUID] = subvolumeName(fs.Name(), sv.Path)
		}
		for _, sv := range fs.Snapshots {
			origin, ok := byUUID[sv.ParentUUID]
			if !ok {
				origin = fs.Name()
			}
			name := subvolumeName(fs.Name(), sv.Path)
			rec := &backend.Record{
				Name:     name,
				SnapName: name,
				Origin:   origin,
				PoolName: fs.Name(),
				Type:     string(backend.KindBtrfs),
				FSType:   "btrfs",
				RealDev:  fs.firstDevice(),
			}
			if fs.Mount != "" {
				rec.Display = map[string]string{backend.AttrMount: path.Join(fs.Mount, sv.Path)}
			}
			s.Add(rec)
		}
	}
	return s, nil
}
