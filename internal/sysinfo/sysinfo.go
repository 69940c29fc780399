// Package sysinfo reads the kernel tables ssm reconciles and wraps the
// few system calls it needs.
package sysinfo

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/moby/sys/mount"
	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HiddenDrivers are block drivers whose devices are internal plumbing
// and hidden from device listings unless a backend claims them.
var HiddenDrivers = []string{"device-mapper", "loop", "sr"}

// Partition is one line of /proc/partitions.
type Partition struct {
	Major  uint32
	Minor  uint32
	Blocks uint64 // 1 KiB blocks
	Name   string
}

// System is the set of OS primitives the storage model consumes.
type System interface {
	Partitions() ([]Partition, error)
	// Mounts maps canonical device paths to their first mount point.
	Mounts() (map[string]string, error)
	// Swaps lists canonical paths of active swap devices.
	Swaps() ([]string, error)
	// HiddenMajors returns the majors registered by HiddenDrivers.
	HiddenMajors() (map[uint32]bool, error)
	// RealPath resolves symlinks, returning path unchanged on failure.
	RealPath(path string) string
	DeviceMinor(path string) (uint32, error)
	IsBlockDevice(path string) bool
	IsDir(path string) bool
	Mount(device, target, fstype, options string) error
	Unmount(target string) error
}

// Host is the System of the running machine.
type Host struct {
	ProcRoot string
}

// NewHost returns a Host reading /proc.
func NewHost() *Host {
	return &Host{ProcRoot: "/proc"}
}

func (h *Host) open(name string) (*os.File, error) {
	f, err := os.Open(filepath.Join(h.ProcRoot, name))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	return f, nil
}

func (h *Host) Partitions() ([]Partition, error) {
	f, err := h.open("partitions")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePartitions(f)
}

func (h *Host) Swaps() ([]string, error) {
	f, err := h.open("swaps")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	swaps, err := ParseSwaps(f)
	if err != nil {
		return nil, err
	}
	for i, s := range swaps {
		swaps[i] = h.RealPath(s)
	}
	return swaps, nil
}

func (h *Host) HiddenMajors() (map[uint32]bool, error) {
	f, err := h.open("devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseBlockMajors(f, HiddenDrivers...)
}

func (h *Host) Mounts() (map[string]string, error) {
	infos, err := mountinfo.GetMounts(func(i *mountinfo.Info) (skip, stop bool) {
		return !strings.HasPrefix(i.Source, "/dev/"), false
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading mount table")
	}
	mounts := make(map[string]string, len(infos))
	for _, i := range infos {
		dev := h.RealPath(i.Source)
		if _, seen := mounts[dev]; !seen {
			mounts[dev] = i.Mountpoint
		}
	}
	return mounts, nil
}

func (h *Host) RealPath(path string) string {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return real
}

func (h *Host) DeviceMinor(path string) (uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	return unix.Minor(uint64(st.Rdev)), nil
}

func (h *Host) IsBlockDevice(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK
}

func (h *Host) IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (h *Host) Mount(device, target, fstype, options string) error {
	if err := mount.Mount(device, target, fstype, options); err != nil {
		return errors.Wrapf(err, "mounting %s on %s", device, target)
	}
	return nil
}

func (h *Host) Unmount(target string) error {
	if err := mount.Unmount(target); err != nil {
		return errors.Wrapf(err, "unmounting %s", target)
	}
	return nil
}

// ParsePartitions parses the /proc/partitions format.
func ParsePartitions(r io.Reader) ([]Partition, error) {
	var parts []Partition
	s := bufio.NewScanner(r)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) != 4 {
			continue
		}
		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			// header line
			continue
		}
		minor, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "bad minor in %q", s.Text())
		}
		blocks, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad size in %q", s.Text())
		}
		parts = append(parts, Partition{
			Major:  uint32(major),
			Minor:  uint32(minor),
			Blocks: blocks,
			Name:   fields[3],
		})
	}
	return parts, s.Err()
}

// ParseSwaps returns the device column of /proc/swaps.
func ParseSwaps(r io.Reader) ([]string, error) {
	var swaps []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 || fields[0] == "Filename" {
			continue
		}
		swaps = append(swaps, fields[0])
	}
	return swaps, s.Err()
}

// ParseBlockMajors returns the majors of the named drivers from the
// "Block devices:" section of /proc/devices.
func ParseBlockMajors(r io.Reader, drivers ...string) (map[uint32]bool, error) {
	want := make(map[string]bool, len(drivers))
	for _, d := range drivers {
		want[d] = true
	}
	majors := make(map[uint32]bool)
	block := false
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if strings.HasSuffix(line, ":") {
			block = line == "Block devices:"
			continue
		}
		fields := strings.Fields(line)
		if !block || len(fields) != 2 || !want[fields[1]] {
			continue
		}
		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		majors[uint32(major)] = true
	}
	return majors, s.Err()
}
