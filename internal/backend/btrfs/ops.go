package btrfs

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sigreer/ssm/internal/backend"
)

// Pools is the btrfs pool source. A pool and its top-level volume are
// the same filesystem.
type Pools struct {
	*backend.Static
	st *state
}

func (p *Pools) DefaultPoolName() string {
	return "btrfs_pool"
}

func (p *Pools) New(ctx context.Context, pool string, devices []string) error {
	return p.st.mkfs(ctx, pool, devices, nil, nil)
}

func (p *Pools) Extend(ctx context.Context, pool string, devices []string) error {
	fs, err := p.st.fs(pool)
	if err != nil {
		return err
	}
	return p.st.withMount(fs, func(mnt string) error {
		args := append([]string{"btrfs", "device", "add"}, p.st.force()...)
		args = append(append(args, devices...), mnt)
		return p.st.run(ctx, args...)
	})
}

func (p *Pools) Reduce(ctx context.Context, pool, device string) error {
	fs, err := p.st.fs(pool)
	if err != nil {
		return err
	}
	return p.st.withMount(fs, func(mnt string) error {
		return p.st.run(ctx, "btrfs", "device", "delete", device, mnt)
	})
}

// Remove destroys the filesystem by wiping its signatures from every
// device. The filesystem must not be mounted.
func (p *Pools) Remove(ctx context.Context, pool string) error {
	fs, err := p.st.fs(pool)
	if err != nil {
		return err
	}
	return p.st.destroy(ctx, fs)
}

func (p *Pools) Create(ctx context.Context, pool string, req backend.CreateRequest) (string, error) {
	fs, ok := p.st.fss[pool]
	if !ok {
		if err := p.st.mkfs(ctx, pool, req.Devices, req.Size, req.Raid); err != nil {
			return "", err
		}
		if req.Name == "" {
			return pool, nil
		}
		// The new filesystem is not in the cached state yet.
		fs = &filesystem{Label: pool, Devices: []device{{Path: req.Devices[0]}}}
	}
	name := req.Name
	if name == "" {
		name = "vol-" + uuid.NewString()[:8]
	}
	err := p.st.withMount(fs, func(mnt string) error {
		target := path.Join(mnt, name)
		if err := p.st.run(ctx, "btrfs", "subvolume", "create", target); err != nil {
			return err
		}
		if req.Size != nil {
			return p.st.limit(ctx, mnt, target, *req.Size)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return subvolumeName(pool, name), nil
}

var raidProfiles = map[string][]string{
	"0":  {"-d", "raid0"},
	"1":  {"-d", "raid1", "-m", "raid1"},
	"10": {"-d", "raid10", "-m", "raid10"},
}

func (st *state) mkfs(ctx context.Context, pool string, devices []string, size *float64, raid *backend.Raid) error {
	if len(devices) == 0 {
		return errors.Errorf("can not create btrfs pool '%s' without devices", pool)
	}
	args := append([]string{"mkfs.btrfs", "-L", pool}, st.force()...)
	if raid != nil {
		profile, ok := raidProfiles[raid.Level]
		if !ok {
			return errors.Errorf("RAID level %s is not supported by btrfs", raid.Level)
		}
		args = append(args, profile...)
	}
	if size != nil {
		args = append(args, "-b", fmt.Sprintf("%d", int64(*size)*1024))
	}
	return st.run(ctx, append(args, devices...)...)
}

func (st *state) destroy(ctx context.Context, fs *filesystem) error {
	if fs.Mount != "" {
		return errors.Errorf("btrfs pool '%s' is mounted on %s", fs.Name(), fs.Mount)
	}
	return st.run(ctx, append([]string{"wipefs", "-a"}, fs.devicePaths()...)...)
}

// limit caps a subvolume with a qgroup limit, enabling quotas first.
func (st *state) limit(ctx context.Context, mnt, target string, size float64) error {
	if err := st.run(ctx, "btrfs", "quota", "enable", mnt); err != nil {
		return err
	}
	return st.run(ctx, "btrfs", "qgroup", "limit", fmt.Sprintf("%dK", int64(size)), target)
}

// Volumes is the btrfs volume source: whole filesystems and subvolumes.
type Volumes struct {
	*backend.Static
	st *state
}

func (v *Volumes) Remove(ctx context.Context, name string) error {
	pool, sub := splitName(name)
	fs, err := v.st.fs(pool)
	if err != nil {
		return err
	}
	if sub == "" {
		return v.st.destroy(ctx, fs)
	}
	return v.st.withMount(fs, func(mnt string) error {
		return v.st.run(ctx, "btrfs", "subvolume", "delete", path.Join(mnt, sub))
	})
}

// Resize resizes the filesystem itself, or sets the quota of a
// subvolume. The filesystem always follows, so resizeFS is implied.
func (v *Volumes) Resize(ctx context.Context, name string, size float64, resizeFS bool) error {
	pool, sub := splitName(name)
	fs, err := v.st.fs(pool)
	if err != nil {
		return err
	}
	return v.st.withMount(fs, func(mnt string) error {
		if sub != "" {
			return v.st.limit(ctx, mnt, path.Join(mnt, sub), size)
		}
		return v.st.run(ctx, "btrfs", "filesystem", "resize", fmt.Sprintf("%dK", int64(size)), mnt)
	})
}

// Snapshot snapshots a filesystem or subvolume. Snapshots share extents
// with their origin, so the requested size is not used.
func (v *Volumes) Snapshot(ctx context.Context, name string, req backend.SnapshotRequest) error {
	pool, sub := splitName(name)
	fs, err := v.st.fs(pool)
	if err != nil {
		return err
	}
	snapName := req.Name
	if snapName == "" {
		snapName = "snap-" + time.Now().Format("2006-01-02-T150405")
	}
	return v.st.withMount(fs, func(mnt string) error {
		src := path.Join(mnt, sub)
		dest := path.Join(mnt, snapName)
		if req.Dest != "" {
			if !filepath.IsAbs(req.Dest) {
				return errors.Errorf("snapshot destination '%s' must be an absolute path", req.Dest)
			}
			if fs.Mount == "" || !strings.HasPrefix(req.Dest, fs.Mount) {
				return errors.Errorf("snapshot destination '%s' is not inside %s", req.Dest, fs.Name())
			}
			dest = req.Dest
			if req.Name != "" {
				dest = path.Join(req.Dest, req.Name)
			}
		}
		return v.st.run(ctx, "btrfs", "subvolume", "snapshot", src, dest)
	})
}

// Mount mounts a filesystem or, with the subvol option, a subvolume.
func (v *Volumes) Mount(ctx context.Context, name, target string, options []string) error {
	pool, sub := splitName(name)
	fs, err := v.st.fs(pool)
	if err != nil {
		// Created in this run and not read back yet.
		fs = &filesystem{Label: pool}
		if rec := v.Get(name); rec != nil {
			fs.Devices = []device{{Path: rec.RealDev}}
		}
	}
	if fs.firstDevice() == "" {
		return errors.Errorf("btrfs pool '%s' has no devices", pool)
	}
	if sub != "" {
		options = append(options, "subvol="+sub)
	}
	return v.st.b.env.Sys.Mount(fs.firstDevice(), target, "btrfs", strings.Join(options, ","))
}

// Snapshots is the btrfs snapshot source.
type Snapshots struct {
	*backend.Static
	st *state
}

func (s *Snapshots) Remove(ctx context.Context, name string) error {
	pool, sub := splitName(name)
	fs, err := s.st.fs(pool)
	if err != nil {
		return err
	}
	return s.st.withMount(fs, func(mnt string) error {
		return s.st.run(ctx, "btrfs", "subvolume", "delete", path.Join(mnt, sub))
	})
}
