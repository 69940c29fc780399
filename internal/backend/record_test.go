package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sigreer/ssm/internal/fsprobe"
)

func TestRecordAttributes(t *testing.T) {
	r := &Record{
		Name:     "/dev/vg0/home",
		PoolName: "vg0",
		VolSize:  KB(1024),
		DevCount: Int(2),
	}
	assert.Equal(t, "/dev/vg0/home", r.Text(AttrDevName))
	assert.Equal(t, "/dev/vg0/home", r.Text(AttrSnapName))
	assert.Equal(t, "vg0", r.Text(AttrPoolName))
	assert.Equal(t, "1024", r.Text(AttrVolSize))
	assert.Equal(t, "", r.Text(AttrFSSize))
	assert.Equal(t, "", r.Text("no_such_key"))

	n, ok := r.Number(AttrDevCount)
	assert.True(t, ok)
	assert.Equal(t, float64(2), n)

	assert.True(t, r.Has(AttrVolSize))
	assert.False(t, r.Has(AttrPoolFree))
	assert.False(t, r.Has(AttrMount))
	assert.True(t, IsNumeric(AttrFSFree))
	assert.False(t, IsNumeric(AttrFSType))
}

func TestZeroSizeIsSet(t *testing.T) {
	r := &Record{PoolFree: KB(0)}
	assert.True(t, r.Has(AttrPoolFree))
	assert.Equal(t, "0", r.Text(AttrPoolFree))
}

func TestSetFSKeepsBackendValues(t *testing.T) {
	r := &Record{FSType: "btrfs", FSSize: KB(10)}
	r.SetFS(&fsprobe.Probe{Type: "btrfs", Family: fsprobe.FamilyBtrfs})
	assert.Equal(t, "btrfs", r.FSType)
	assert.Equal(t, float64(10), *r.FSSize)
	assert.Nil(t, r.FSFree)

	r = &Record{}
	r.SetFS(&fsprobe.Probe{Type: "ext4", Family: fsprobe.FamilyExt, Known: true, Size: 100, Free: 40, Used: 60})
	assert.Equal(t, "ext4", r.FSType)
	assert.Equal(t, float64(40), *r.FSFree)
	assert.NotNil(t, r.FS)
}

func TestKindTraits(t *testing.T) {
	assert.True(t, KindBtrfs.PoolIsVolume())
	assert.False(t, KindZFS.PoolIsVolume())
	assert.True(t, KindZFS.ManagesFilesystem())
	assert.False(t, KindLVM.ManagesFilesystem())
}

func TestStaticSource(t *testing.T) {
	s := NewStatic(KindLVM)
	s.Add(&Record{Name: "b"})
	s.Add(&Record{Name: "a"})
	s.Add(&Record{Name: "b", PoolName: "vg"})
	assert.Equal(t, []string{"b", "a"}, s.Names())
	assert.Equal(t, "vg", s.Get("b").PoolName)
	assert.Equal(t, KindLVM, s.Get("a").Kind)
	assert.Nil(t, s.Get("c"))
	assert.Len(t, s.Records(), 2)
}

func TestDisplayOverride(t *testing.T) {
	r := &Record{Name: "tank/data", Display: map[string]string{AttrMount: "legacy"}}
	assert.Equal(t, "legacy", r.Shown(AttrMount))
	assert.Equal(t, "", r.Text(AttrMount))
	assert.Equal(t, "tank/data", r.Shown(AttrName))
}

func TestSetFSIgnoresForeignTypes(t *testing.T) {
	r := &Record{}
	r.SetFS(&fsprobe.Probe{Type: "LVM2_member"})
	assert.Empty(t, r.FSType)
	assert.NotNil(t, r.FS)
}
