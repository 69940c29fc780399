// Package fsprobe inspects, checks and resizes the filesystem on a block
// device.
package fsprobe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/runner"
)

// Family groups filesystem types that share tooling and resize rules.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyExt covers ext2, ext3 and ext4.
	FamilyExt
	FamilyXFS
	FamilyBtrfs
)

func (f Family) String() string {
	switch f {
	case FamilyExt:
		return "extN"
	case FamilyXFS:
		return "xfs"
	case FamilyBtrfs:
		return "btrfs"
	default:
		return "unknown"
	}
}

// Supported lists the filesystem types ssm can create.
var Supported = []string{"xfs", "btrfs", "ext2", "ext3", "ext4"}

// FamilyOf maps a filesystem type name to its family.
func FamilyOf(fstype string) Family {
	switch fstype {
	case "ext2", "ext3", "ext4":
		return FamilyExt
	case "xfs":
		return FamilyXFS
	case "btrfs":
		return FamilyBtrfs
	default:
		return FamilyUnknown
	}
}

// IsSupported reports whether fstype is in Supported.
func IsSupported(fstype string) bool {
	for _, s := range Supported {
		if s == fstype {
			return true
		}
	}
	return false
}

var (
	// ErrNotClean is returned when the pre-resize check finds problems.
	ErrNotClean = errors.New("file system is not clean, fix the problem first")
	// ErrUnsupported is returned for operations the family has no tool for.
	ErrUnsupported = errors.New("operation not supported for this file system")
)

// PolicyError reports a resize the filesystem family cannot perform in
// its current state. It is raised before any command runs.
type PolicyError struct {
	Device string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Device, e.Reason)
}

// Options are the per-invocation switches a probe honours.
type Options struct {
	Force   bool
	Verbose bool
	Log     *logrus.Entry
}

// Probe holds the filesystem metadata of one device. Sizes are in KiB.
type Probe struct {
	Device     string
	Type       string
	Family     Family
	Mountpoint string

	Size      float64
	Free      float64
	Used      float64
	BlockSize int64
	// Known is set when size metadata was read.
	Known bool

	run  runner.Runner
	opts Options
}

// New detects the filesystem on dev and reads its metadata. mountpoint
// is empty for an unmounted device. The returned probe is usable even
// when err is non-nil; err only reports that metadata could not be read.
func New(ctx context.Context, run runner.Runner, dev, mountpoint string, opts Options) (*Probe, error) {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Probe{
		Device:     dev,
		Mountpoint: mountpoint,
		run:        run,
		opts:       opts,
	}
	fstype, err := DetectType(ctx, run, dev)
	if err != nil {
		return p, err
	}
	p.Type = fstype
	p.Family = FamilyOf(fstype)

	switch p.Family {
	case FamilyExt:
		err = p.loadExt(ctx)
	case FamilyXFS:
		err = p.loadXFS(ctx)
	}
	return p, err
}

// Mounted reports whether the filesystem is mounted.
func (p *Probe) Mounted() bool {
	return p.Mountpoint != ""
}

type lsblkOutput struct {
	BlockDevices []struct {
		Path   string  `json:"path"`
		FSType *string `json:"fstype"`
	} `json:"blockdevices"`
}

// DetectType returns the filesystem type on dev, or "" when none is found.
func DetectType(ctx context.Context, run runner.Runner, dev string) (string, error) {
	res, err := run.Run(ctx, []string{"lsblk", "-J", "-d", "-o", "PATH,FSTYPE", dev}, runner.CanFail())
	if err != nil {
		return "", errors.Wrap(err, "lsblk")
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	var out lsblkOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return "", errors.Wrap(err, "parsing lsblk output")
	}
	for _, bd := range out.BlockDevices {
		if bd.FSType != nil {
			return *bd.FSType, nil
		}
	}
	return "", nil
}

func (p *Probe) loadExt(ctx context.Context) error {
	res, err := p.run.Run(ctx, []string{"tune2fs", "-l", p.Device})
	if err != nil {
		return errors.Wrapf(err, "reading superblock of %s", p.Device)
	}
	info := parseFields(res.Stdout, ":")
	bsize, err1 := info.int("Block size")
	bcount, err2 := info.int("Block count")
	rbcount, err3 := info.int("Reserved block count")
	fbcount, err4 := info.int("Free blocks")
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return errors.Wrapf(err, "tune2fs output for %s", p.Device)
	}
	p.BlockSize = bsize
	p.Size = kib(bcount, bsize)
	p.Free = kib(fbcount-rbcount, bsize)
	p.Used = kib(bcount-fbcount, bsize)
	p.Known = true
	return nil
}

func (p *Probe) loadXFS(ctx context.Context) error {
	res, err := p.run.Run(ctx, []string{"xfs_db", "-r", "-c", "sb", "-c", "print", p.Device})
	if err != nil {
		return errors.Wrapf(err, "reading superblock of %s", p.Device)
	}
	info := parseFields(res.Stdout, "=")
	bsize, err1 := info.int("blocksize")
	dblocks, err2 := info.int("dblocks")
	logblocks, err3 := info.int("logblocks")
	agcount, err4 := info.int("agcount")
	fdblocks, err5 := info.int("fdblocks")
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return errors.Wrapf(err, "xfs_db output for %s", p.Device)
	}
	bcount := dblocks - logblocks
	// Reserved per allocation group and for the free-space btrees.
	fbcount := fdblocks - (4 + (4 + agcount))
	p.BlockSize = bsize
	p.Size = kib(bcount, bsize)
	p.Free = kib(fbcount, bsize)
	p.Used = kib(bcount-fbcount, bsize)
	p.Known = true
	return nil
}

// Fsck checks the filesystem and returns the checker's exit code.
func (p *Probe) Fsck(ctx context.Context) (int, error) {
	var cmd []string
	switch p.Family {
	case FamilyExt:
		cmd = []string{"fsck." + p.Type, "-f"}
		if p.Mounted() {
			cmd = append(cmd, "-n")
		}
		if p.opts.Verbose {
			cmd = append(cmd, "-v")
		}
		cmd = append(cmd, p.Device)
	case FamilyXFS:
		if p.Mounted() {
			if !p.run.Available("xfs_scrub") {
				p.opts.Log.Warnf("xfs_scrub not available, skipping online check of %s", p.Device)
				return 0, nil
			}
			cmd = []string{"xfs_scrub", "-n"}
			if p.opts.Verbose {
				cmd = append(cmd, "-v")
			}
			cmd = append(cmd, p.Mountpoint)
		} else {
			cmd = []string{"xfs_repair", "-n"}
			if p.opts.Verbose {
				cmd = append(cmd, "-v")
			}
			cmd = append(cmd, p.Device)
		}
	case FamilyBtrfs:
		cmd = []string{"btrfs", "check", "--readonly", p.Device}
	default:
		return 0, errors.Wrapf(ErrUnsupported, "checking %s (%s)", p.Device, p.typeName())
	}
	res, err := p.run.Run(ctx, cmd, runner.CanFail(), runner.LogTo(p.opts.Log))
	if err != nil {
		return 0, err
	}
	return res.ExitCode, nil
}

// Resize grows or shrinks the filesystem to newSize KiB, or to fill its
// device when newSize is nil. Direction rules are enforced before any
// command runs; the filesystem is then checked and left untouched if the
// check reports errors.
func (p *Probe) Resize(ctx context.Context, newSize *float64) error {
	switch p.Family {
	case FamilyExt:
		return p.resizeExt(ctx, newSize)
	case FamilyXFS:
		return p.resizeXFS(ctx, newSize)
	default:
		return errors.Wrapf(ErrUnsupported, "resizing %s (%s)", p.Device, p.typeName())
	}
}

func (p *Probe) shrinking(newSize *float64) bool {
	return newSize != nil && *newSize < p.Size
}

func (p *Probe) resizeExt(ctx context.Context, newSize *float64) error {
	if p.Mounted() {
		if p.Type == "ext2" {
			return &PolicyError{Device: p.Device, Reason: fmt.Sprintf("is mounted on %s and ext2 can not be resized while mounted", p.Mountpoint)}
		}
		if p.shrinking(newSize) {
			return &PolicyError{Device: p.Device, Reason: fmt.Sprintf("is mounted on %s and a mounted file system can not shrink", p.Mountpoint)}
		}
	}
	if err := p.ensureClean(ctx); err != nil {
		return err
	}
	cmd := []string{"resize2fs"}
	if p.opts.Verbose {
		cmd = append(cmd, "-p")
	}
	if p.opts.Force {
		cmd = append(cmd, "-f")
	}
	cmd = append(cmd, p.Device)
	if newSize != nil {
		cmd = append(cmd, fmt.Sprintf("%dK", int64(*newSize)))
	}
	_, err := p.run.Run(ctx, cmd, runner.LogTo(p.opts.Log))
	return err
}

func (p *Probe) resizeXFS(ctx context.Context, newSize *float64) error {
	if !p.Mounted() {
		return &PolicyError{Device: p.Device, Reason: "xfs file system has to be mounted to be resized"}
	}
	if p.shrinking(newSize) {
		return &PolicyError{Device: p.Device, Reason: "xfs file system can not shrink"}
	}
	if err := p.ensureClean(ctx); err != nil {
		return err
	}
	cmd := []string{"xfs_growfs"}
	if newSize != nil && p.BlockSize > 0 {
		blocks := int64(*newSize) * 1024 / p.BlockSize
		cmd = append(cmd, "-D", strconv.FormatInt(blocks, 10))
	}
	cmd = append(cmd, p.Mountpoint)
	_, err := p.run.Run(ctx, cmd, runner.LogTo(p.opts.Log))
	return err
}

func (p *Probe) ensureClean(ctx context.Context) error {
	code, err := p.Fsck(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return errors.Wrapf(ErrNotClean, "%s (check exited with %d)", p.Device, code)
	}
	return nil
}

func (p *Probe) typeName() string {
	if p.Type == "" {
		return "no file system"
	}
	return p.Type
}

type fields map[string]string

// parseFields reads "key<sep> value" lines.
func parseFields(out, sep string) fields {
	f := make(fields)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		key, val, ok := strings.Cut(s.Text(), sep)
		if !ok {
			continue
		}
		f[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return f
}

func (f fields) int(key string) (int64, error) {
	v, ok := f[key]
	if !ok {
		return 0, errors.Errorf("missing %q", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "field %q", key)
	}
	return n, nil
}

func kib(blocks, bsize int64) float64 {
	return float64(blocks) * float64(bsize) / 1024
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
