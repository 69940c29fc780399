// Package backend defines the record model shared by every storage
// backend and the capabilities a backend may offer.
package backend

import (
	"strconv"

	"github.com/sigreer/ssm/internal/fsprobe"
)

// Kind names the backend owning a record.
type Kind string

const (
	KindDevice Kind = "dev"
	KindLVM    Kind = "lvm"
	KindBtrfs  Kind = "btrfs"
	KindCrypt  Kind = "crypt"
	KindZFS    Kind = "zfs"
)

// PoolIsVolume reports whether a pool of this kind is itself a volume,
// so creating a volume in a missing pool creates the pool.
func (k Kind) PoolIsVolume() bool {
	return k == KindBtrfs
}

// ManagesFilesystem reports whether volumes of this kind come with their
// own filesystem and must not be formatted.
func (k Kind) ManagesFilesystem() bool {
	return k == KindBtrfs || k == KindZFS
}

// DevNo is a device major:minor pair.
type DevNo struct {
	Major uint32
	Minor uint32
}

// Record is the flattened view of a device, pool, volume or snapshot.
// Sizes are KiB. Pointer fields are nil when the owning source does not
// know the value.
type Record struct {
	Name string
	Kind Kind
	Type string

	// Device
	DevNo       *DevNo
	DevSize     *float64
	DevFree     *float64
	DevUsed     *float64
	Partition   bool
	Partitioned int
	Hidden      bool
	// Hide is a hint from a backend; false un-hides a device whose
	// major would otherwise hide it.
	Hide *bool

	PoolName string
	Mount    string

	// Pool
	PoolSize *float64
	PoolFree *float64
	PoolUsed *float64
	DevCount *int
	VolCount *int

	// Volume
	VolSize *float64
	DMName  string
	RealDev string
	// CryptDevice is the device underneath a dm-crypt mapping.
	CryptDevice string

	// Snapshot
	SnapName string
	Origin   string
	SnapSize *float64

	// Filesystem
	FSType string
	FSSize *float64
	FSFree *float64
	FSUsed *float64
	// FS is set once the filesystem was probed.
	FS *fsprobe.Probe

	// Display overrides how a text attribute is shown in listings.
	Display map[string]string
}

// Attribute keys.
const (
	AttrName     = "name"
	AttrDevName  = "dev_name"
	AttrPoolName = "pool_name"
	AttrDevSize  = "dev_size"
	AttrDevFree  = "dev_free"
	AttrDevUsed  = "dev_used"
	AttrPoolSize = "pool_size"
	AttrPoolFree = "pool_free"
	AttrPoolUsed = "pool_used"
	AttrDevCount = "dev_count"
	AttrVolCount = "vol_count"
	AttrVolSize  = "vol_size"
	AttrSnapName = "snap_name"
	AttrSnapSize = "snap_size"
	AttrOrigin   = "origin"
	AttrType     = "type"
	AttrMount    = "mount"
	AttrDMName   = "dm_name"
	AttrRealDev  = "real_dev"
	AttrCrypt    = "crypt_device"
	AttrFSType   = "fs_type"
	AttrFSSize   = "fs_size"
	AttrFSFree   = "fs_free"
	AttrFSUsed   = "fs_used"
)

type textAttr func(*Record) string
type numAttr func(*Record) *float64

var textAttrs = map[string]textAttr{
	AttrName:     func(r *Record) string { return r.Name },
	AttrDevName:  func(r *Record) string { return r.Name },
	AttrPoolName: func(r *Record) string { return r.PoolName },
	AttrType:     func(r *Record) string { return r.Type },
	AttrMount:    func(r *Record) string { return r.Mount },
	AttrDMName:   func(r *Record) string { return r.DMName },
	AttrRealDev:  func(r *Record) string { return r.RealDev },
	AttrOrigin:   func(r *Record) string { return r.Origin },
	AttrCrypt:    func(r *Record) string { return r.CryptDevice },
	AttrFSType:   func(r *Record) string { return r.FSType },
	AttrSnapName: func(r *Record) string {
		if r.SnapName != "" {
			return r.SnapName
		}
		return r.Name
	},
}

var numAttrs = map[string]numAttr{
	AttrDevSize:  func(r *Record) *float64 { return r.DevSize },
	AttrDevFree:  func(r *Record) *float64 { return r.DevFree },
	AttrDevUsed:  func(r *Record) *float64 { return r.DevUsed },
	AttrPoolSize: func(r *Record) *float64 { return r.PoolSize },
	AttrPoolFree: func(r *Record) *float64 { return r.PoolFree },
	AttrPoolUsed: func(r *Record) *float64 { return r.PoolUsed },
	AttrDevCount: func(r *Record) *float64 { return intAsFloat(r.DevCount) },
	AttrVolCount: func(r *Record) *float64 { return intAsFloat(r.VolCount) },
	AttrVolSize:  func(r *Record) *float64 { return r.VolSize },
	AttrSnapSize: func(r *Record) *float64 { return r.SnapSize },
	AttrFSSize:   func(r *Record) *float64 { return r.FSSize },
	AttrFSFree:   func(r *Record) *float64 { return r.FSFree },
	AttrFSUsed:   func(r *Record) *float64 { return r.FSUsed },
}

// Text returns the attribute as text. Unknown or unset keys yield "".
func (r *Record) Text(key string) string {
	if fn, ok := textAttrs[key]; ok {
		return fn(r)
	}
	if n, ok := r.Number(key); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

// Shown returns the listing text of a text attribute.
func (r *Record) Shown(key string) string {
	if v, ok := r.Display[key]; ok {
		return v
	}
	return r.Text(key)
}

// Number returns a numeric attribute.
func (r *Record) Number(key string) (float64, bool) {
	fn, ok := numAttrs[key]
	if !ok {
		return 0, false
	}
	v := fn(r)
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Has reports whether the attribute is set.
func (r *Record) Has(key string) bool {
	if _, ok := numAttrs[key]; ok {
		_, set := r.Number(key)
		return set
	}
	return r.Text(key) != ""
}

// IsNumeric reports whether key names a numeric attribute.
func IsNumeric(key string) bool {
	_, ok := numAttrs[key]
	return ok
}

// SetFS merges probed filesystem metadata into the record without
// overwriting values the owning backend already supplied.
func (r *Record) SetFS(p *fsprobe.Probe) {
	r.FS = p
	if p == nil {
		return
	}
	// Only types ssm can manage are reported; btrfs records come from
	// the btrfs backend itself.
	if r.FSType == "" && fsprobe.IsSupported(p.Type) && p.Family != fsprobe.FamilyBtrfs {
		r.FSType = p.Type
	}
	if !p.Known {
		return
	}
	if r.FSSize == nil {
		r.FSSize = KB(p.Size)
	}
	if r.FSFree == nil {
		r.FSFree = KB(p.Free)
	}
	if r.FSUsed == nil {
		r.FSUsed = KB(p.Used)
	}
}

// KB returns a pointer to a size.
func KB(v float64) *float64 {
	return &v
}

// Int returns a pointer to a count.
func Int(v int) *int {
	return &v
}

// Bool returns a pointer to a flag.
func Bool(v bool) *bool {
	return &v
}

func intAsFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
