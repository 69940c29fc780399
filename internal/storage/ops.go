package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/fsprobe"
	"github.com/sigreer/ssm/internal/runner"
)

// Check runs the filesystem checker on every unmounted filesystem and
// returns the number of failed checks. Failures never abort the batch.
func (h *Handle) Check(ctx context.Context, items []Item) int {
	failed := 0
	for _, it := range items {
		fs := it.FS(ctx)
		if fs == nil || fs.Type == "" {
			h.log.Warnf("'%s' does not contain a file system", it.Name())
			failed++
			continue
		}
		if mp := it.Mountpoint(); mp != "" {
			fmt.Fprintf(h.out, "Checking %s file system on '%s': MOUNTED - skipping\n", fs.Type, it.Name())
			continue
		}
		fmt.Fprintf(h.out, "Checking %s file system on '%s':\n", fs.Type, it.Name())
		code, err := fs.Fsck(ctx)
		if err != nil {
			h.log.WithError(err).Warnf("unable to check '%s'", it.Name())
			failed++
			continue
		}
		if code != 0 {
			failed++
		}
	}
	if failed > 0 {
		h.log.Warnf("%d file system check(s) failed", failed)
	}
	return failed
}

// ResizeRequest describes a volume resize.
type ResizeRequest struct {
	Volume Item
	// Size is nil to keep the volume size and only grow the filesystem.
	Size *SizeChange
	// Devices may be added to the pool when its free space is short.
	Devices []string
}

// Resize resizes a volume, first adding just enough of the given
// devices to the pool to cover the growth.
func (h *Handle) Resize(ctx context.Context, req ResizeRequest) error {
	vol := req.Volume
	volSize, _ := vol.Number(backend.AttrVolSize)
	newSize := volSize
	if req.Size != nil {
		newSize = req.Size.Apply(volSize)
	}
	if newSize <= 0 {
		return errors.Wrapf(ErrInvalidSize, "can not resize '%s' to %.0f KB", vol.Name(), newSize)
	}
	hasFS := vol.Has(backend.AttrFSType)

	poolName := vol.Text(backend.AttrPoolName)
	if poolName != "" {
		pools, err := h.Pools(ctx)
		if err != nil {
			return err
		}
		if pool, ok := pools.Get(poolName); ok {
			if err := h.growPool(ctx, pool, vol, volSize, newSize, req.Devices); err != nil {
				return err
			}
		}
	}

	if newSize != volSize {
		if err := vol.Resize(ctx, newSize, hasFS); err != nil {
			return err
		}
		h.Invalidate(Volumes, Pools)
		return nil
	}
	// Nothing to do with the volume; try growing the filesystem into it.
	if !hasFS {
		return &AlreadySizedError{Volume: vol.Name(), Size: newSize}
	}
	return vol.FS(ctx).Resize(ctx, nil)
}

// growPool walks the candidate devices in order, accumulating their size
// on top of the pool's free space until the growth from volSize to
// newSize is covered. Devices already in the pool count towards the
// growth but are not added again; only the consumed, unassigned devices
// are added to the pool.
func (h *Handle) growPool(ctx context.Context, pool, vol Item, volSize, newSize float64, candidates []string) error {
	growth := newSize - volSize
	if growth <= 0 {
		return nil
	}
	devs, err := h.Devices(ctx)
	if err != nil {
		return err
	}
	have, _ := pool.Number(backend.AttrPoolFree)
	var retained []string
	for _, d := range candidates {
		if have >= growth {
			break
		}
		it, ok := devs.Get(d)
		owner := ""
		if ok {
			owner = it.Text(backend.AttrPoolName)
		}
		if owner != "" && owner != pool.Name() {
			return &ConflictError{Device: d, Pool: owner}
		}
		if owner == "" {
			retained = append(retained, d)
		}
		if size, ok := it.Number(backend.AttrDevSize); ok {
			have += size
		}
	}
	if have < growth {
		return &InsufficientSpaceError{Pool: pool.Name(), Volume: vol.Name(), Size: newSize}
	}
	if len(retained) == 0 {
		return nil
	}
	return h.Add(ctx, pool, retained)
}

// Add puts devices into pool, creating the pool when it does not exist.
// Devices already in the pool are skipped.
func (h *Handle) Add(ctx context.Context, pool Item, devices []string) error {
	fresh, err := h.claimable(ctx, pool.Name(), devices)
	if err != nil {
		return err
	}
	if pool.Exists() {
		if len(fresh) == 0 {
			h.log.Infof("nothing to add to pool '%s'", pool.Name())
			return nil
		}
		err = pool.Extend(ctx, fresh)
	} else {
		if len(fresh) == 0 {
			return invalidArgument("no devices to create pool '%s' from", pool.Name())
		}
		err = pool.New(ctx, fresh)
	}
	if err != nil {
		return err
	}
	h.Invalidate(Devices, Pools)
	return nil
}

// CreateRequest describes a new volume.
type CreateRequest struct {
	Pool    Item
	Devices []string
	Size    *float64 // KiB
	FSType  string
	Raid    *backend.Raid
	Name    string
	Mount   string
}

// RaidLevels lists the accepted RAID levels.
var RaidLevels = []string{"0", "1", "10"}

func validateCreate(req CreateRequest) error {
	if req.FSType != "" && !fsprobe.IsSupported(req.FSType) {
		return invalidArgument("file system '%s' is not supported (choose from %s)",
			req.FSType, strings.Join(fsprobe.Supported, ", "))
	}
	if r := req.Raid; r != nil && r.Level == "" && (r.Stripes != nil || r.StripeSize != nil) {
		return invalidArgument("stripes and stripe size can only be set with a RAID level")
	}
	if r := req.Raid; r != nil && r.Level != "" {
		ok := false
		for _, l := range RaidLevels {
			ok = ok || r.Level == l
		}
		if !ok {
			return invalidArgument("RAID level '%s' is not supported (choose from %s)",
				r.Level, strings.Join(RaidLevels, ", "))
		}
	}
	if req.Mount != "" && req.FSType == "" && !req.Pool.Kind().ManagesFilesystem() {
		return invalidArgument("mount point specified, but no file system provided")
	}
	return nil
}

// Create makes a new volume in the pool, adding unassigned devices to
// the pool first, then formats and mounts it as requested. It returns
// the name of the new volume.
func (h *Handle) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := validateCreate(req); err != nil {
		return "", err
	}
	pool := req.Pool
	kind := pool.Kind()

	fresh, err := h.claimable(ctx, pool.Name(), req.Devices)
	if err != nil {
		return "", err
	}
	// A missing pool-is-volume pool is created by the volume itself.
	if len(fresh) > 0 && !(kind.PoolIsVolume() && !pool.Exists()) {
		if err := h.Add(ctx, pool, fresh); err != nil {
			return "", err
		}
	}

	name, err := pool.Create(ctx, backend.CreateRequest{
		Devices: req.Devices,
		Size:    req.Size,
		Name:    req.Name,
		Raid:    req.Raid,
	})
	if err != nil {
		return "", err
	}
	h.Invalidate()

	if req.FSType != "" && !kind.ManagesFilesystem() {
		if err := h.makeFS(ctx, req.FSType, name); err != nil {
			return name, err
		}
	}
	if req.Mount != "" {
		vols, err := h.Volumes(ctx)
		if err != nil {
			return name, err
		}
		vol, ok := vols.Get(name)
		if !ok {
			return name, &NotFoundError{Name: name, What: "volume"}
		}
		if err := h.mount(ctx, vol, req.Mount); err != nil {
			return name, err
		}
	}
	return name, nil
}

func (h *Handle) makeFS(ctx context.Context, fstype, dev string) error {
	cmd := []string{"mkfs." + fstype}
	family := fsprobe.FamilyOf(fstype)
	if h.cfg.Force {
		switch family {
		case fsprobe.FamilyXFS, fsprobe.FamilyBtrfs:
			cmd = append(cmd, "-f")
		case fsprobe.FamilyExt:
			cmd = append(cmd, "-F")
		}
	}
	if h.cfg.Verbose && family == fsprobe.FamilyExt {
		cmd = append(cmd, "-v")
	}
	cmd = append(cmd, dev)
	_, err := h.run.Run(ctx, cmd, runner.LogTo(h.log))
	return err
}

func (h *Handle) mount(ctx context.Context, vol Item, target string) error {
	err := vol.Mount(ctx, target, nil)
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		return err
	}
	dev := vol.Text(backend.AttrRealDev)
	if dev == "" {
		dev = vol.Name()
	}
	return h.sys.Mount(dev, target, vol.Text(backend.AttrFSType), "")
}

// RemoveRequest selects what to remove.
type RemoveRequest struct {
	All   bool
	Items []Item
}

// Remove removes every item, or every pool when All is set. A failing
// item is reported and the remaining ones are still processed; the
// returned *BatchError lists the failures.
func (h *Handle) Remove(ctx context.Context, req RemoveRequest) error {
	items := req.Items
	if req.All {
		pools, err := h.Pools(ctx)
		if err != nil {
			return err
		}
		items = nil
		for it := range pools.All() {
			items = append(items, it)
		}
	} else if len(items) == 0 {
		return invalidArgument("too few arguments")
	}

	var failed []string
	for _, it := range items {
		if err := h.removeOne(ctx, it); err != nil {
			h.log.WithError(err).Errorf("unable to remove '%s'", it.Name())
			failed = append(failed, it.Name())
		}
	}
	h.Invalidate()
	if len(failed) > 0 {
		return &BatchError{Failed: failed}
	}
	return nil
}

func (h *Handle) removeOne(ctx context.Context, it Item) error {
	if it.Kind() != backend.KindDevice {
		return it.Remove(ctx)
	}
	if name := it.Text(backend.AttrPoolName); name != "" {
		pools, err := h.Pools(ctx)
		if err != nil {
			return err
		}
		if pool, ok := pools.Get(name); ok {
			return pool.Reduce(ctx, it.Name())
		}
	}
	return invalidArgument("it is not clear what do you want to achieve by removing %s", it.Name())
}

// SnapshotRequest describes a snapshot.
type SnapshotRequest struct {
	Volume Item
	Size   *float64 // KiB
	Dest   string
	Name   string
}

// DefaultSnapshotRatio is the share of the volume size a snapshot gets
// when no size is given.
const DefaultSnapshotRatio = 0.20

// Snapshot snapshots a volume. Without an explicit size the snapshot
// gets DefaultSnapshotRatio of the volume, capped at the pool's free
// space; an explicit size is passed through unchanged.
func (h *Handle) Snapshot(ctx context.Context, req SnapshotRequest) error {
	vol := req.Volume
	if !vol.CanSnapshot() {
		return &UnsupportedError{Name: vol.Name(), Capability: "snapshots"}
	}
	size := req.Size
	if size == nil {
		volSize, _ := vol.Number(backend.AttrVolSize)
		s := volSize * DefaultSnapshotRatio
		if free, ok := h.poolFree(ctx, vol.Text(backend.AttrPoolName)); ok && free < s {
			s = free
		}
		size = &s
	}
	err := vol.Snapshot(ctx, backend.SnapshotRequest{Size: size, Dest: req.Dest, Name: req.Name})
	if err != nil {
		return err
	}
	h.Invalidate(Snapshots, Volumes, Pools)
	return nil
}

func (h *Handle) poolFree(ctx context.Context, name string) (float64, bool) {
	if name == "" {
		return 0, false
	}
	pools, err := h.Pools(ctx)
	if err != nil {
		return 0, false
	}
	pool, ok := pools.Get(name)
	if !ok {
		return 0, false
	}
	return pool.Number(backend.AttrPoolFree)
}

// List selectors.
var listSelectors = map[string]EntityKind{
	"dev": Devices, "devices": Devices,
	"pool": Pools, "pools": Pools,
	"vol": Volumes, "volumes": Volumes,
	"snap": Snapshots, "snapshots": Snapshots,
	"fs": "filesystems", "filesystems": "filesystems",
}

// ListTypes returns the accepted list selectors.
func ListTypes() []string {
	return []string{"volumes", "vol", "dev", "devices", "pool", "pools", "fs", "filesystems", "snap", "snapshots"}
}

// List prints the tables selected by what; "" prints all of them.
func (h *Handle) List(ctx context.Context, w io.Writer, what string) error {
	kind, ok := listSelectors[what]
	if what != "" && !ok {
		return invalidArgument("unknown list type '%s' (choose from %s)", what, strings.Join(ListTypes(), ", "))
	}
	devs, err := h.Devices(ctx)
	if err != nil {
		return err
	}
	render := func(k EntityKind) error {
		switch k {
		case Devices:
			return devs.Render(w)
		case Pools:
			pools, err := h.Pools(ctx)
			if err != nil {
				return err
			}
			return pools.Render(w)
		case Volumes:
			vols, err := h.Volumes(ctx)
			if err != nil {
				return err
			}
			return vols.Render(w, devs.Filesystems())
		case Snapshots:
			snaps, err := h.Snapshots(ctx)
			if err != nil {
				return err
			}
			return snaps.Render(w)
		default:
			vols, err := h.Volumes(ctx)
			if err != nil {
				return err
			}
			return vols.RenderWhere(w, nil, vols.Filesystems(), devs.Filesystems())
		}
	}
	if what != "" {
		return render(kind)
	}
	for _, k := range []EntityKind{Devices, Pools, Volumes, Snapshots} {
		if err := render(k); err != nil {
			return err
		}
	}
	return nil
}
