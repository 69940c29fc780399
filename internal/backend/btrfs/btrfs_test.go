package btrfs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/config"
	"github.com/sigreer/ssm/internal/runner/runnertest"
	"github.com/sigreer/ssm/internal/sysinfo/sysinfotest"
)

const showOut = `Label: 'data'  uuid: 5a1e2b3c-0000-4000-8000-000000000001
	Total devices 2 FS bytes used 1048576
	devid    1 size 2147483648 used 4194304 path /dev/sdb
	devid    2 size 1073741824 used 0 path /dev/sdc

Label: none  uuid: 5a1e2b3c-0000-4000-8000-000000000002
	Total devices 1 FS bytes used 0
	devid    1 size 1073741824 used 0 path /dev/sdd
`

const subvolOut = `ID 256 gen 9 top level 5 parent_uuid - uuid aaaa path home
ID 257 gen 10 top level 5 parent_uuid aaaa uuid bbbb path home-snap
ID 258 gen 11 top level 5 parent_uuid - uuid cccc path my docs
`

const snapOut = `ID 257 gen 10 cgen 10 top level 5 otime 2024-01-01 10:00:00 parent_uuid aaaa uuid bbbb path home-snap
`

func newTestBtrfs(t *testing.T) (*Btrfs, *runnertest.Fake, *sysinfotest.Fake) {
	t.Helper()
	run := runnertest.New().
		Stdout("btrfs filesystem show --raw", showOut).
		Stdout("btrfs subvolume list -u -q /mnt/data", subvolOut).
		Stdout("btrfs subvolume list -s -u -q /mnt/data", snapOut)
	sys := sysinfotest.New()
	sys.MountTab["/dev/sdb"] = "/mnt/data"
	return New(backend.Env{Config: config.Default(), Run: run, Sys: sys}), run, sys
}

func TestParseShow(t *testing.T) {
	fss, err := parseShow(showOut)
	require.NoError(t, err)
	require.Len(t, fss, 2)

	assert.Equal(t, "data", fss[0].Name())
	assert.Equal(t, uint64(1048576), fss[0].Used)
	assert.Equal(t, uint64(3221225472), fss[0].Size())
	assert.Equal(t, []string{"/dev/sdb", "/dev/sdc"}, fss[0].devicePaths())

	assert.Empty(t, fss[1].Label)
	assert.Equal(t, "5a1e2b3c-0000-4000-8000-000000000002", fss[1].Name())
}

func TestParseShowBadNumber(t *testing.T) {
	_, err := parseShow("Label: 'x'  uuid: u\n\tdevid 1 size lots used 0 path /dev/sdb\n")
	assert.Error(t, err)
}

func TestParseSubvolumes(t *testing.T) {
	subs := parseSubvolumes(subvolOut)
	require.Len(t, subs, 3)
	assert.Equal(t, subvolume{ID: 256, Path: "home", UUID: "aaaa"}, subs[0])
	assert.Equal(t, "aaaa", subs[1].ParentUUID)
	assert.Equal(t, "my docs", subs[2].Path)
}

func TestPools(t *testing.T) {
	b, _, _ := newTestBtrfs(t)
	pools, err := b.Pools(context.Background())
	require.NoError(t, err)

	data := pools.Get("data")
	require.NotNil(t, data)
	assert.Equal(t, float64(3145728), *data.PoolSize)
	assert.Equal(t, float64(1024), *data.PoolUsed)
	assert.Equal(t, float64(3145728-1024), *data.PoolFree)
	assert.Equal(t, 2, *data.DevCount)
	assert.Equal(t, 3, *data.VolCount)
	assert.Equal(t, "/mnt/data", data.Mount)
	assert.Equal(t, backend.KindBtrfs, data.Kind)
	assert.Equal(t, "btrfs_pool", pools.DefaultPoolName())
}

func TestVolumesAndSnapshots(t *testing.T) {
	b, _, _ := newTestBtrfs(t)
	ctx := context.Background()

	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"data", "data:home", "data:my docs",
		"5a1e2b3c-0000-4000-8000-000000000002",
	}, vols.Names())

	home := vols.Get("data:home")
	assert.Equal(t, "/mnt/data/home", home.Display[backend.AttrMount])
	assert.Equal(t, "/dev/sdb", home.RealDev)
	assert.Equal(t, "btrfs", home.FSType)

	snaps, err := b.Snapshots(ctx)
	require.NoError(t, err)
	snap := snaps.Get("data:home-snap")
	require.NotNil(t, snap)
	assert.Equal(t, "data:home", snap.Origin)
}

func TestDeviceHints(t *testing.T) {
	b, _, _ := newTestBtrfs(t)
	hints, err := b.DeviceHints(context.Background())
	require.NoError(t, err)
	require.Len(t, hints, 3)
	assert.Equal(t, "/dev/sdb", hints[0].Name)
	assert.Equal(t, "data", hints[0].PoolName)
	assert.Equal(t, float64(4096), *hints[0].DevUsed)
}

func TestUnavailable(t *testing.T) {
	b, run, _ := newTestBtrfs(t)
	run.Missing("btrfs")
	pools, err := b.Pools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pools.Names())
	assert.Empty(t, run.Calls)
}

func TestCreateNewPool(t *testing.T) {
	b, run, _ := newTestBtrfs(t)
	ctx := context.Background()
	pools, err := b.Pools(ctx)
	require.NoError(t, err)

	size := float64(1024)
	name, err := pools.Create(ctx, "fresh", backend.CreateRequest{
		Devices: []string{"/dev/sde", "/dev/sdf"},
		Size:    &size,
		Raid:    &backend.Raid{Level: "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", name)
	assert.Contains(t, run.Commands(),
		"mkfs.btrfs -L fresh -d raid1 -m raid1 -b 1048576 /dev/sde /dev/sdf")
}

func TestCreateSubvolume(t *testing.T) {
	b, run, _ := newTestBtrfs(t)
	ctx := context.Background()
	pools, err := b.Pools(ctx)
	require.NoError(t, err)

	size := float64(2048)
	name, err := pools.Create(ctx, "data", backend.CreateRequest{Name: "logs", Size: &size})
	require.NoError(t, err)
	assert.Equal(t, "data:logs", name)
	assert.Contains(t, run.Commands(), "btrfs subvolume create /mnt/data/logs")
	assert.Contains(t, run.Commands(), "btrfs quota enable /mnt/data")
	assert.Contains(t, run.Commands(), "btrfs qgroup limit 2048K /mnt/data/logs")

	name, err = pools.Create(ctx, "data", backend.CreateRequest{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "data:vol-"))
}

func TestCreateRejectsRaid5(t *testing.T) {
	b, _, _ := newTestBtrfs(t)
	pools, err := b.Pools(context.Background())
	require.NoError(t, err)
	_, err = pools.Create(context.Background(), "fresh", backend.CreateRequest{
		Devices: []string{"/dev/sde"},
		Raid:    &backend.Raid{Level: "5"},
	})
	assert.Error(t, err)
}

func TestExtendUnmountedPoolMountsTemporarily(t *testing.T) {
	b, run, sys := newTestBtrfs(t)
	b.env.Config.Force = true
	ctx := context.Background()
	pools, err := b.Pools(ctx)
	require.NoError(t, err)

	uuid := "5a1e2b3c-0000-4000-8000-000000000002"
	require.NoError(t, pools.Extend(ctx, uuid, []string{"/dev/sde"}))

	require.Len(t, sys.Mounted, 1)
	tmp := sys.Mounted[0].Target
	assert.Equal(t, "/dev/sdd", sys.Mounted[0].Device)
	assert.Contains(t, run.Commands(), "btrfs device add -f /dev/sde "+tmp)
	assert.Equal(t, []string{tmp}, sys.Unmounted)
}

func TestRemoveMountedPoolFails(t *testing.T) {
	b, run, _ := newTestBtrfs(t)
	ctx := context.Background()
	pools, err := b.Pools(ctx)
	require.NoError(t, err)

	assert.Error(t, pools.Remove(ctx, "data"))
	assert.False(t, run.Ran("wipefs"))

	require.NoError(t, pools.Remove(ctx, "5a1e2b3c-0000-4000-8000-000000000002"))
	assert.True(t, run.Ran("wipefs -a /dev/sdd"))
}

func TestVolumeOps(t *testing.T) {
	b, run, sys := newTestBtrfs(t)
	ctx := context.Background()
	vols, err := b.Volumes(ctx)
	require.NoError(t, err)

	require.NoError(t, vols.Resize(ctx, "data", 4194304, true))
	assert.Contains(t, run.Commands(), "btrfs filesystem resize 4194304K /mnt/data")

	require.NoError(t, vols.Resize(ctx, "data:home", 1024, true))
	assert.Contains(t, run.Commands(), "btrfs qgroup limit 1024K /mnt/data/home")

	require.NoError(t, vols.Snapshot(ctx, "data:home", backend.SnapshotRequest{Name: "before"}))
	assert.Contains(t, run.Commands(), "btrfs subvolume snapshot /mnt/data/home /mnt/data/before")

	err = vols.Snapshot(ctx, "data:home", backend.SnapshotRequest{Dest: "/elsewhere"})
	assert.Error(t, err)

	require.NoError(t, vols.Remove(ctx, "data:my docs"))
	assert.Equal(t, []string{"btrfs", "subvolume", "delete", "/mnt/data/my docs"}, run.Calls[len(run.Calls)-1])

	require.NoError(t, vols.Mount(ctx, "data:home", "/srv", nil))
	require.Len(t, sys.Mounted, 1)
	assert.Equal(t, sysinfotest.MountCall{
		Device: "/dev/sdb", Target: "/srv", FSType: "btrfs", Options: "subvol=home",
	}, sys.Mounted[0])
}

func TestSnapshotRemove(t *testing.T) {
	b, run, _ := newTestBtrfs(t)
	ctx := context.Background()
	snaps, err := b.Snapshots(ctx)
	require.NoError(t, err)
	require.NoError(t, snaps.Remove(ctx, "data:home-snap"))
	assert.Contains(t, run.Commands(), "btrfs subvolume delete /mnt/data/home-snap")
}
