package storage

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/sigreer/ssm/internal/backend"
)

// ResolvePool returns the pool named name. A pool that does not exist
// yet resolves to a placeholder on the default backend; "" names the
// default pool.
func (h *Handle) ResolvePool(ctx context.Context, name string) (Item, error) {
	pools, err := h.Pools(ctx)
	if err != nil {
		return Item{}, err
	}
	if name != "" {
		if it, ok := pools.Get(name); ok {
			return it, nil
		}
	}
	it, ok := pools.Default(name)
	if !ok {
		return Item{}, errors.Errorf("backend '%s' is not available", h.cfg.DefaultBackend)
	}
	return it, nil
}

// ResolveVolume returns the volume named name, or a device carrying a
// filesystem.
func (h *Handle) ResolveVolume(ctx context.Context, name string) (Item, error) {
	vols, err := h.Volumes(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := vols.Get(name); ok {
		return it, nil
	}
	devs, err := h.Devices(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := devs.Get(name); ok && it.Has(backend.AttrFSType) {
		return it, nil
	}
	return Item{}, &NotFoundError{Name: name, What: "volume to resize"}
}

func (h *Handle) volumeByMount(ctx context.Context, path string) (Item, bool, error) {
	vols, err := h.Volumes(ctx)
	if err != nil {
		return Item{}, false, err
	}
	target := strings.TrimRight(path, "/")
	if target == "" {
		target = "/"
	}
	for it := range vols.All() {
		if it.Text(backend.AttrMount) == target {
			return it, true, nil
		}
	}
	return Item{}, false, nil
}

// ResolveSnapshotVolume returns the volume named by name or mounted on
// it, provided its backend can snapshot.
func (h *Handle) ResolveSnapshotVolume(ctx context.Context, name string) (Item, error) {
	vols, err := h.Volumes(ctx)
	if err != nil {
		return Item{}, err
	}
	it, ok := vols.Get(name)
	if !ok {
		it, ok, err = h.volumeByMount(ctx, name)
		if err != nil {
			return Item{}, err
		}
	}
	if !ok {
		return Item{}, &NotFoundError{Name: name, What: "volume nor mount point"}
	}
	if !it.CanSnapshot() {
		return Item{}, &UnsupportedError{Name: it.Name(), Capability: "snapshots"}
	}
	return it, nil
}

// ResolveFilesystem returns the volume or device carrying the filesystem
// at path.
func (h *Handle) ResolveFilesystem(ctx context.Context, path string) (Item, error) {
	canon := h.sys.RealPath(path)
	vols, err := h.Volumes(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, name := range []string{path, canon} {
		if it, ok := vols.Get(name); ok && it.Has(backend.AttrFSType) {
			return it, nil
		}
	}
	devs, err := h.Devices(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := devs.Get(canon); ok && it.Has(backend.AttrFSType) {
		return it, nil
	}
	return Item{}, &NotFoundError{Name: canon, What: "file system"}
}

// ResolveBlockDevice checks that path is a block device and returns the
// name it is indexed under.
func (h *Handle) ResolveBlockDevice(ctx context.Context, path string) (string, error) {
	if !h.sys.IsBlockDevice(path) {
		return "", &NotFoundError{Name: path, What: "block device"}
	}
	return h.FindDevice(ctx, path)
}

// ResolveCreateArgs splits create arguments into devices and a mount
// point: the first directory is the mount point, the rest must be
// block devices.
func (h *Handle) ResolveCreateArgs(ctx context.Context, args []string) ([]string, string, error) {
	var (
		devices []string
		mount   string
	)
	for _, a := range args {
		if mount == "" && h.sys.IsDir(a) {
			mount = a
			continue
		}
		dev, err := h.ResolveBlockDevice(ctx, a)
		if err != nil {
			return nil, "", err
		}
		devices = append(devices, dev)
	}
	return devices, mount, nil
}

// ResolveRemoveItem finds what name refers to, trying in order a
// volume, a snapshot, a pool, a device, a block device node and a mount
// point.
func (h *Handle) ResolveRemoveItem(ctx context.Context, name string) (Item, error) {
	vols, err := h.Volumes(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := vols.Get(name); ok {
		return it, nil
	}
	snaps, err := h.Snapshots(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := snaps.Get(name); ok {
		return it, nil
	}
	pools, err := h.Pools(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := pools.Get(name); ok {
		return it, nil
	}
	devs, err := h.Devices(ctx)
	if err != nil {
		return Item{}, err
	}
	if it, ok := devs.Get(name); ok {
		return it, nil
	}
	if h.sys.IsBlockDevice(name) {
		dev, err := h.FindDevice(ctx, name)
		if err != nil {
			return Item{}, err
		}
		if it, ok := devs.Get(dev); ok {
			return it, nil
		}
	}
	if it, ok, err := h.volumeByMount(ctx, name); err != nil || ok {
		return it, err
	}
	return Item{}, &NotFoundError{Name: name, What: "pool nor volume"}
}
