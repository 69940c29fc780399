// Package sysinfotest provides an in-memory sysinfo.System for tests.
package sysinfotest

import (
	"github.com/sigreer/ssm/internal/sysinfo"
)

// MountCall records one Mount.
type MountCall struct {
	Device, Target, FSType, Options string
}

// Fake is a configurable sysinfo.System. Zero-value maps behave as empty.
type Fake struct {
	Parts    []sysinfo.Partition
	Hidden   map[uint32]bool
	MountTab map[string]string
	SwapTab  []string
	Links    map[string]string
	Minors   map[string]uint32
	Blocks   map[string]bool
	Dirs     map[string]bool

	Mounted   []MountCall
	Unmounted []string
	MountErr  error
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Hidden:   make(map[uint32]bool),
		MountTab: make(map[string]string),
		Links:    make(map[string]string),
		Minors:   make(map[string]uint32),
		Blocks:   make(map[string]bool),
		Dirs:     make(map[string]bool),
	}
}

// Disk adds a partition table entry and marks /dev/<name> a block device.
func (f *Fake) Disk(major, minor uint32, kib uint64, name string) *Fake {
	f.Parts = append(f.Parts, sysinfo.Partition{Major: major, Minor: minor, Blocks: kib, Name: name})
	f.Blocks["/dev/"+name] = true
	return f
}

func (f *Fake) Partitions() ([]sysinfo.Partition, error) { return f.Parts, nil }

func (f *Fake) Mounts() (map[string]string, error) { return f.MountTab, nil }

func (f *Fake) Swaps() ([]string, error) { return f.SwapTab, nil }

func (f *Fake) HiddenMajors() (map[uint32]bool, error) { return f.Hidden, nil }

func (f *Fake) RealPath(path string) string {
	if r, ok := f.Links[path]; ok {
		return r
	}
	return path
}

func (f *Fake) DeviceMinor(path string) (uint32, error) {
	return f.Minors[path], nil
}

func (f *Fake) IsBlockDevice(path string) bool { return f.Blocks[path] }

func (f *Fake) IsDir(path string) bool { return f.Dirs[path] }

func (f *Fake) Mount(device, target, fstype, options string) error {
	if f.MountErr != nil {
		return f.MountErr
	}
	f.Mounted = append(f.Mounted, MountCall{Device: device, Target: target, FSType: fstype, Options: options})
	f.MountTab[device] = target
	return nil
}

func (f *Fake) Unmount(target string) error {
	f.Unmounted = append(f.Unmounted, target)
	for dev, mp := range f.MountTab {
		if mp == target {
			delete(f.MountTab, dev)
		}
	}
	return nil
}
