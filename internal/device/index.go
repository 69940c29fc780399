// Package device builds the reconciled view of the block devices on the
// system.
package device

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/sysinfo"
)

// Mount values that are not mount points.
const (
	MountSwap        = "SWAP"
	MountPartitioned = "PARTITIONED"
)

// Index holds one record per block device, keyed by canonical path.
type Index struct {
	sys     sysinfo.System
	records map[string]*backend.Record
	names   []string
	// shown holds devices a backend explicitly un-hid; no later hint can
	// hide them again.
	shown map[string]bool
}

// Build seeds the index from the partition table, merges the backend
// hints, then attaches mount, swap and partition information.
func Build(ctx context.Context, sys sysinfo.System, hints ...[]*backend.Record) (*Index, error) {
	idx := &Index{
		sys:     sys,
		records: make(map[string]*backend.Record),
		shown:   make(map[string]bool),
	}

	parts, err := sys.Partitions()
	if err != nil {
		return nil, errors.Wrap(err, "reading partition table")
	}
	hidden, err := sys.HiddenMajors()
	if err != nil {
		return nil, errors.Wrap(err, "reading device majors")
	}
	for _, p := range parts {
		size := float64(p.Blocks)
		name := "/dev/" + p.Name
		idx.records[name] = &backend.Record{
			Name:    name,
			Kind:    backend.KindDevice,
			DevNo:   &backend.DevNo{Major: p.Major, Minor: p.Minor},
			DevSize: backend.KB(size),
			VolSize: backend.KB(size),
			Hidden:  hidden[p.Major],
		}
	}

	for _, set := range hints {
		for _, h := range set {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			idx.mergeHint(h)
		}
	}

	mounts, err := sys.Mounts()
	if err != nil {
		return nil, err
	}
	swaps, err := sys.Swaps()
	if err != nil {
		return nil, err
	}
	for name, rec := range idx.records {
		if mp, ok := mounts[name]; ok {
			rec.Mount = mp
		}
	}
	for _, s := range swaps {
		if rec, ok := idx.records[s]; ok {
			rec.Mount = MountSwap
		}
	}

	idx.classifyPartitions()

	for name := range idx.records {
		idx.names = append(idx.names, name)
	}
	sort.Strings(idx.names)
	return idx, nil
}

// mergeHint folds a backend's view of a device into the index. Values
// from the partition table stay; the hint only fills what is unset.
func (idx *Index) mergeHint(h *backend.Record) {
	name := idx.sys.RealPath(h.Name)
	rec, ok := idx.records[name]
	if !ok {
		cp := *h
		cp.Name = name
		cp.Kind = backend.KindDevice
		cp.Hidden = false
		rec = &cp
		idx.records[name] = rec
	} else {
		fill(rec, h)
	}
	switch {
	case h.Hide == nil:
	case !*h.Hide:
		idx.shown[name] = true
		rec.Hidden = false
	case !idx.shown[name]:
		rec.Hidden = true
	}
}

func fill(dst, src *backend.Record) {
	if dst.DevNo == nil {
		dst.DevNo = src.DevNo
	}
	if dst.DevSize == nil {
		dst.DevSize = src.DevSize
	}
	if dst.DevFree == nil {
		dst.DevFree = src.DevFree
	}
	if dst.DevUsed == nil {
		dst.DevUsed = src.DevUsed
	}
	if dst.VolSize == nil {
		dst.VolSize = src.VolSize
	}
	if dst.PoolName == "" {
		dst.PoolName = src.PoolName
	}
	if dst.Type == "" {
		dst.Type = src.Type
	}
	if dst.Mount == "" {
		dst.Mount = src.Mount
	}
	if dst.FSType == "" {
		dst.FSType = src.FSType
	}
}

// classifyPartitions marks the partitions of every whole device (minor
// 0): same-major devices whose name extends the whole device's name.
func (idx *Index) classifyPartitions() {
	for _, disk := range idx.records {
		if disk.DevNo == nil || disk.DevNo.Minor != 0 {
			continue
		}
		n := 0
		for _, part := range idx.records {
			if part == disk || part.DevNo == nil || part.DevNo.Major != disk.DevNo.Major {
				continue
			}
			if !strings.HasPrefix(part.Name, disk.Name) {
				continue
			}
			part.Partition = true
			part.Type = "part"
			n++
		}
		disk.Partitioned = n
		if n > 0 {
			disk.Mount = MountPartitioned
			disk.Type = "disk"
		}
	}
}

func (idx *Index) Kind() backend.Kind { return backend.KindDevice }

// Names returns the device paths in sorted order.
func (idx *Index) Names() []string { return idx.names }

// Get returns the record of a device, resolving symlinks first. Unknown
// devices yield nil.
func (idx *Index) Get(name string) *backend.Record {
	if rec, ok := idx.records[name]; ok {
		return rec
	}
	return idx.records[idx.sys.RealPath(name)]
}
