package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/ssm/internal/backend"
)

func TestResolvePool(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	it, err := f.h.ResolvePool(ctx, "other_pool")
	require.NoError(t, err)
	assert.True(t, it.Exists())

	it, err = f.h.ResolvePool(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "lvm_pool", it.Name())

	it, err = f.h.ResolvePool(ctx, "later")
	require.NoError(t, err)
	assert.False(t, it.Exists())
	assert.Equal(t, backend.KindLVM, it.Kind())
}

func TestResolveVolume(t *testing.T) {
	f := newFixture(t, nil)
	f.lsblk("/dev/sdc", "ext4")
	ctx := context.Background()

	it, err := f.h.ResolveVolume(ctx, testVol)
	require.NoError(t, err)
	assert.Equal(t, testVol, it.Name())

	it, err = f.h.ResolveVolume(ctx, "/dev/sdc")
	require.NoError(t, err)
	assert.Equal(t, backend.KindDevice, it.Kind())

	_, err = f.h.ResolveVolume(ctx, "/dev/sdd")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "'/dev/sdd' is not a valid volume to resize", err.Error())
}

func TestResolveSnapshotVolume(t *testing.T) {
	f := newFixture(t, nil)
	f.vols.Add(&backend.Record{Name: "/dev/lvm_pool/home", PoolName: "lvm_pool", Mount: "/home"})
	f.plain.Add(&backend.Record{Name: "/dev/mapper/secret", Mount: "/secret"})
	ctx := context.Background()

	it, err := f.h.ResolveSnapshotVolume(ctx, "/home/")
	require.NoError(t, err)
	assert.Equal(t, "/dev/lvm_pool/home", it.Name())

	_, err = f.h.ResolveSnapshotVolume(ctx, "/secret")
	var unsupported *UnsupportedError
	assert.ErrorAs(t, err, &unsupported)

	_, err = f.h.ResolveSnapshotVolume(ctx, "/nowhere")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestResolveFilesystem(t *testing.T) {
	f := newFixture(t, nil)
	f.lsblk(testVol, "xfs")
	f.lsblk("/dev/sde", "ext3")
	f.sys.Links["/dev/disk/by-label/scratch"] = "/dev/sde"
	ctx := context.Background()

	it, err := f.h.ResolveFilesystem(ctx, testVol)
	require.NoError(t, err)
	assert.Equal(t, "xfs", it.Text(backend.AttrFSType))

	it, err = f.h.ResolveFilesystem(ctx, "/dev/disk/by-label/scratch")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sde", it.Name())

	_, err = f.h.ResolveFilesystem(ctx, "/dev/sdd")
	assert.Error(t, err)
}

func TestResolveCreateArgs(t *testing.T) {
	f := newFixture(t, nil)
	f.sys.Dirs["/mnt/data"] = true
	ctx := context.Background()

	devs, mount, err := f.h.ResolveCreateArgs(ctx, []string{"/dev/sdc", "/mnt/data", "/dev/sdd"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sdc", "/dev/sdd"}, devs)
	assert.Equal(t, "/mnt/data", mount)

	_, _, err = f.h.ResolveCreateArgs(ctx, []string{"/dev/sdc", "/mnt/data", "/mnt/data"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "block device", nf.What)
}

func TestResolveRemoveItem(t *testing.T) {
	f := newFixture(t, nil)
	f.vols.Add(&backend.Record{Name: "/dev/lvm_pool/home", PoolName: "lvm_pool", Mount: "/home"})
	ctx := context.Background()

	for name, want := range map[string]backend.Kind{
		testVol:      backend.KindLVM,
		"other_pool": backend.KindLVM,
		"/dev/sdc":   backend.KindDevice,
		"/home":      backend.KindLVM,
	} {
		it, err := f.h.ResolveRemoveItem(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, want, it.Kind(), name)
	}

	_, err := f.h.ResolveRemoveItem(ctx, "nothing")
	assert.EqualError(t, err, "'nothing' is not a valid pool nor volume")
}

func TestRemoveSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.snaps.Add(&backend.Record{Name: "/dev/lvm_pool/snap1", PoolName: "lvm_pool", Origin: "lvol001"})
	ctx := context.Background()

	it, err := f.h.ResolveRemoveItem(ctx, "/dev/lvm_pool/snap1")
	require.NoError(t, err)
	assert.Equal(t, backend.KindLVM, it.Kind())

	require.NoError(t, f.h.Remove(ctx, RemoveRequest{Items: []Item{it}}))
	assert.Equal(t, []string{"remove /dev/lvm_pool/snap1"}, f.rec.calls)
}
