package crypt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/config"
	"github.com/sigreer/ssm/internal/runner/runnertest"
	"github.com/sigreer/ssm/internal/sysinfo/sysinfotest"
)

const tableOut = `secret: 0 2093056 crypt aes-xts-plain64 :64:logon:cryptsetup:x-d0 0 8:16 4096
backup: 0 409600 crypt aes-cbc-essiv:sha256 0000000000000000 0 /dev/loop0 0 1 allow_discards
`

func newTestCrypt(t *testing.T) (*Crypt, *runnertest.Fake) {
	t.Helper()
	run := runnertest.New().Stdout("dmsetup table --target crypt", tableOut)
	sys := sysinfotest.New().Disk(8, 16, 1048576, "sdb")
	sys.Links["/dev/mapper/secret"] = "/dev/dm-3"
	sys.MountTab["/dev/dm-3"] = "/secret"
	return New(backend.Env{Config: config.Default(), Run: run, Sys: sys}), run
}

func TestParseTable(t *testing.T) {
	maps, err := parseTable(tableOut + "No devices found\n")
	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.Equal(t, mapping{
		Name: "secret", Sectors: 2093056, Cipher: "aes-xts-plain64", Backing: "8:16", Offset: 4096,
	}, maps[0])
	assert.Equal(t, "/dev/loop0", maps[1].Backing)
}

func TestParseTableBadNumber(t *testing.T) {
	_, err := parseTable("x: 0 many crypt c k 0 8:16 0\n")
	assert.Error(t, err)
}

func TestVolumes(t *testing.T) {
	c, _ := newTestCrypt(t)
	vols, err := c.Volumes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/mapper/secret", "/dev/mapper/backup"}, vols.Names())

	secret := vols.Get("/dev/mapper/secret")
	assert.Equal(t, float64(1046528), *secret.VolSize)
	assert.Equal(t, "/dev/dm-3", secret.RealDev)
	assert.Equal(t, "/secret", secret.Mount)
	assert.Equal(t, "/dev/sdb", secret.Text(backend.AttrCrypt))
	assert.Equal(t, backend.KindCrypt, secret.Kind)

	assert.Equal(t, "/dev/loop0", vols.Get("/dev/mapper/backup").CryptDevice)
}

func TestUnavailable(t *testing.T) {
	c, run := newTestCrypt(t)
	run.Missing("dmsetup")
	vols, err := c.Volumes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, vols.Names())
}

func TestRemove(t *testing.T) {
	c, run := newTestCrypt(t)
	ctx := context.Background()
	vols, err := c.Volumes(ctx)
	require.NoError(t, err)

	assert.Error(t, vols.Remove(ctx, "/dev/mapper/secret"))
	require.NoError(t, vols.Remove(ctx, "/dev/mapper/backup"))
	assert.Contains(t, run.Commands(), "cryptsetup close backup")
	assert.Error(t, vols.Remove(ctx, "/dev/mapper/nope"))
}

func TestResizeWithoutFilesystem(t *testing.T) {
	c, run := newTestCrypt(t)
	ctx := context.Background()
	vols, err := c.Volumes(ctx)
	require.NoError(t, err)

	require.NoError(t, vols.Resize(ctx, "/dev/mapper/backup", 102400, true))
	assert.Contains(t, run.Commands(), "cryptsetup resize --size 204800 backup")
	assert.False(t, run.Ran("resize2fs"))
}

func TestResizeOrdersFilesystem(t *testing.T) {
	c, run := newTestCrypt(t)
	run.Stdout("lsblk -J -d -o PATH,FSTYPE /dev/mapper/backup",
		`{"blockdevices":[{"path":"/dev/mapper/backup","fstype":"ext4"}]}`)
	// Unresolved mapping: the probe runs against the mapper path.
	ctx := context.Background()
	vols, err := c.Volumes(ctx)
	require.NoError(t, err)

	require.NoError(t, vols.Resize(ctx, "/dev/mapper/backup", 102400, true))
	shrink := run.Commands()
	assert.Less(t, indexOf(shrink, "resize2fs /dev/mapper/backup 102400K"), indexOf(shrink, "cryptsetup resize --size 204800 backup"))

	run.Calls = nil
	require.NoError(t, vols.Resize(ctx, "/dev/mapper/backup", 409600, true))
	grow := run.Commands()
	assert.Greater(t, indexOf(grow, "resize2fs /dev/mapper/backup"), indexOf(grow, "cryptsetup resize --size 819200 backup"))
}

func indexOf(cmds []string, cmd string) int {
	for i, c := range cmds {
		if c == cmd {
			return i
		}
	}
	return -1
}
