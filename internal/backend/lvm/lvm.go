// Package lvm exposes LVM volume groups, logical volumes, snapshots and
// physical volumes as ssm records.
package lvm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
)

// LVM reads and changes LVM state through the lvm2 tools.
type LVM struct {
	env backend.Env
	log *logrus.Entry
}

// New returns the LVM backend.
func New(env backend.Env) *LVM {
	return &LVM{env: env, log: env.Logger("lvm")}
}

// Available reports whether the lvm2 tools are installed.
func (l *LVM) Available() bool {
	return l.env.Run.Available("lvm")
}

// report is the envelope of every lvm2 JSON report.
type report[T any] struct {
	Report []map[string][]T `json:"report"`
}

type pvRow struct {
	PVName string `json:"pv_name"`
	VGName string `json:"vg_name"`
	PVSize string `json:"pv_size"`
	PVFree string `json:"pv_free"`
	PVUsed string `json:"pv_used"`
}

type vgRow struct {
	VGName  string `json:"vg_name"`
	PVCount string `json:"pv_count"`
	LVCount string `json:"lv_count"`
	VGSize  string `json:"vg_size"`
	VGFree  string `json:"vg_free"`
}

type lvRow struct {
	LVName      string `json:"lv_name"`
	VGName      string `json:"vg_name"`
	LVSize      string `json:"lv_size"`
	LVPath      string `json:"lv_path"`
	LVDMPath    string `json:"lv_dm_path"`
	LVAttr      string `json:"lv_attr"`
	Origin      string `json:"origin"`
	SegType     string `json:"segtype"`
	DataPercent string `json:"data_percent"`
}

func runReport[T any](ctx context.Context, l *LVM, tool, key, fields string) ([]T, error) {
	cmd := []string{tool, "--reportformat", "json", "--units", "k", "--nosuffix", "-o", fields}
	res, err := l.env.Run.Run(ctx, cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", tool)
	}
	var r report[T]
	if err := json.Unmarshal([]byte(res.Stdout), &r); err != nil {
		return nil, errors.Wrapf(err, "parsing %s output", tool)
	}
	var rows []T
	for _, section := range r.Report {
		rows = append(rows, section[key]...)
	}
	return rows, nil
}

func size(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func count(s string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &v
}

func kib(v float64) string {
	return fmt.Sprintf("%dK", int64(v))
}

func (l *LVM) run(ctx context.Context, args ...string) (string, error) {
	res, err := l.env.Run.Run(ctx, args)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (l *LVM) flags(force bool) []string {
	var f []string
	if l.env.Config.Verbose {
		f = append(f, "-v")
	}
	if force && (l.env.Config.Force || l.env.Config.Yes) {
		f = append(f, "-f")
	}
	return f
}

// DeviceHints reports every physical volume. PVs are always shown, even
// on device-mapper nodes.
func (l *LVM) DeviceHints(ctx context.Context) ([]*backend.Record, error) {
	if !l.Available() {
		return nil, nil
	}
	rows, err := runReport[pvRow](ctx, l, "pvs", "pv", "pv_name,vg_name,pv_size,pv_free,pv_used")
	if err != nil {
		return nil, err
	}
	recs := make([]*backend.Record, 0, len(rows))
	for _, pv := range rows {
		recs = append(recs, &backend.Record{
			Name:     pv.PVName,
			Kind:     backend.KindLVM,
			PoolName: pv.VGName,
			DevSize:  size(pv.PVSize),
			DevFree:  size(pv.PVFree),
			DevUsed:  size(pv.PVUsed),
			Hide:     backend.Bool(false),
		})
	}
	return recs, nil
}

// Pools lists volume groups.
func (l *LVM) Pools(ctx context.Context) (*Pools, error) {
	p := &Pools{Static: backend.NewStatic(backend.KindLVM), lvm: l}
	if !l.Available() {
		return p, nil
	}
	rows, err := runReport[vgRow](ctx, l, "vgs", "vg", "vg_name,pv_count,lv_count,vg_size,vg_free")
	if err != nil {
		return nil, err
	}
	for _, vg := range rows {
		rec := &backend.Record{
			Name:     vg.VGName,
			PoolName: vg.VGName,
			Type:     string(backend.KindLVM),
			PoolSize: size(vg.VGSize),
			PoolFree: size(vg.VGFree),
			DevCount: count(vg.PVCount),
			VolCount: count(vg.LVCount),
		}
		if rec.PoolSize != nil && rec.PoolFree != nil {
			rec.PoolUsed = backend.KB(*rec.PoolSize - *rec.PoolFree)
		}
		p.Add(rec)
	}
	return p, nil
}

func (l *LVM) logicalVolumes(ctx context.Context) ([]lvRow, map[string]string, error) {
	rows, err := runReport[lvRow](ctx, l, "lvs", "lv",
		"lv_name,vg_name,lv_size,lv_path,lv_dm_path,lv_attr,origin,segtype,data_percent")
	if err != nil {
		return nil, nil, err
	}
	mounts, err := l.env.Sys.Mounts()
	if err != nil {
		return nil, nil, err
	}
	return rows, mounts, nil
}

// Volumes lists logical volumes that are not snapshots.
func (l *LVM) Volumes(ctx context.Context) (*Volumes, error) {
	v := &Volumes{Static: backend.NewStatic(backend.KindLVM), lvm: l}
	if !l.Available() {
		return v, nil
	}
	rows, mounts, err := l.logicalVolumes(ctx)
	if err != nil {
		return nil, err
	}
	for _, lv := range rows {
		if lv.Origin != "" || lv.LVPath == "" {
			continue
		}
		dev := l.env.Sys.RealPath(lv.LVPath)
		v.Add(&backend.Record{
			Name:     lv.LVPath,
			PoolName: lv.VGName,
			VolSize:  size(lv.LVSize),
			DMName:   lv.LVDMPath,
			RealDev:  dev,
			Type:     lv.SegType,
			Mount:    mounts[dev],
		})
	}
	return v, nil
}

// Snapshots lists logical volumes with an origin.
func (l *LVM) Snapshots(ctx context.Context) (*Snapshots, error) {
	s := &Snapshots{Static: backend.NewStatic(backend.KindLVM), lvm: l}
	if !l.Available() {
		return s, nil
	}
	rows, mounts, err := l.logicalVolumes(ctx)
	if err != nil {
		return nil, err
	}
	for _, lv := range rows {
		if lv.Origin == "" {
			continue
		}
		dev := l.env.Sys.RealPath(lv.LVPath)
		rec := &backend.Record{
			Name:     lv.LVPath,
			SnapName: lv.LVPath,
			Origin:   lv.Origin,
			PoolName: lv.VGName,
			VolSize:  size(lv.LVSize),
			DMName:   lv.LVDMPath,
			RealDev:  dev,
			Type:     lv.SegType,
			Mount:    mounts[dev],
		}
		if pct := size(lv.DataPercent); pct != nil && rec.VolSize != nil {
			rec.SnapSize = backend.KB(*rec.VolSize * *pct / 100)
		}
		s.Add(rec)
	}
	return s, nil
}

// Pools is the volume group source.
type Pools struct {
	*backend.Static
	lvm *LVM
}

func (p *Pools) DefaultPoolName() string {
	return p.lvm.env.Config.DefaultPool
}

func (p *Pools) New(ctx context.Context, pool string, devices []string) error {
	args := append([]string{"vgcreate"}, p.lvm.flags(false)...)
	args = append(append(args, pool), devices...)
	_, err := p.lvm.run(ctx, args...)
	return err
}

func (p *Pools) Extend(ctx context.Context, pool string, devices []string) error {
	args := append([]string{"vgextend"}, p.lvm.flags(false)...)
	args = append(append(args, pool), devices...)
	_, err := p.lvm.run(ctx, args...)
	return err
}

func (p *Pools) Reduce(ctx context.Context, pool, device string) error {
	args := append([]string{"vgreduce"}, p.lvm.flags(false)...)
	_, err := p.lvm.run(ctx, append(args, pool, device)...)
	return err
}

func (p *Pools) Remove(ctx context.Context, pool string) error {
	args := append([]string{"vgremove"}, p.lvm.flags(true)...)
	_, err := p.lvm.run(ctx, append(args, pool)...)
	return err
}

var createdRe = regexp.MustCompile(`Logical volume "([^"]+)" created`)

func (p *Pools) Create(ctx context.Context, pool string, req backend.CreateRequest) (string, error) {
	args := append([]string{"lvcreate"}, p.lvm.flags(false)...)
	args = append(args, pool)
	if req.Name != "" {
		args = append(args, "-n", req.Name)
	}
	if req.Size != nil {
		args = append(args, "-L", kib(*req.Size))
	} else {
		args = append(args, "-l", "100%FREE")
	}
	raid, err := raidArgs(req)
	if err != nil {
		return "", err
	}
	args = append(append(args, raid...), req.Devices...)

	out, err := p.lvm.run(ctx, args...)
	if err != nil {
		return "", err
	}
	name := req.Name
	if name == "" {
		m := createdRe.FindStringSubmatch(out)
		if m == nil {
			return "", errors.Errorf("can not find the name of the new volume in %q", strings.TrimSpace(out))
		}
		name = m[1]
	}
	return "/dev/" + pool + "/" + name, nil
}

func raidArgs(req backend.CreateRequest) ([]string, error) {
	r := req.Raid
	if r == nil {
		return nil, nil
	}
	var args []string
	stripes := func() []string {
		var s []string
		if r.Stripes != nil {
			s = append(s, "-i", strconv.Itoa(*r.Stripes))
		} else if len(req.Devices) > 0 {
			s = append(s, "-i", strconv.Itoa(len(req.Devices)))
		}
		if r.StripeSize != nil {
			s = append(s, "-I", strconv.Itoa(*r.StripeSize))
		}
		return s
	}
	switch r.Level {
	case "0":
		s := stripes()
		if len(s) == 0 {
			return nil, errors.New("striping requires devices or --stripes")
		}
		args = append(args, s...)
	case "1":
		args = append(args, "--type", "raid1", "-m", "1")
	case "10":
		args = append(args, "--type", "raid10")
		if r.Stripes != nil {
			args = append(args, "-i", strconv.Itoa(*r.Stripes))
		}
		if r.StripeSize != nil {
			args = append(args, "-I", strconv.Itoa(*r.StripeSize))
		}
	default:
		return nil, errors.Errorf("RAID level %s is not supported by lvm", r.Level)
	}
	return args, nil
}

// Volumes is the logical volume source.
type Volumes struct {
	*backend.Static
	lvm *LVM
}

func (v *Volumes) Remove(ctx context.Context, name string) error {
	args := append([]string{"lvremove"}, v.lvm.flags(true)...)
	_, err := v.lvm.run(ctx, append(args, name)...)
	return err
}

func (v *Volumes) Resize(ctx context.Context, name string, size float64, resizeFS bool) error {
	args := append([]string{"lvresize"}, v.lvm.flags(true)...)
	if resizeFS {
		args = append(args, "-r")
	}
	_, err := v.lvm.run(ctx, append(args, "-L", kib(size), name)...)
	return err
}

func (v *Volumes) Snapshot(ctx context.Context, name string, req backend.SnapshotRequest) error {
	if req.Dest != "" {
		return errors.New("lvm snapshots can not be placed at a destination path, use a name instead")
	}
	if req.Size == nil {
		return errors.New("lvm snapshots need a size")
	}
	args := append([]string{"lvcreate"}, v.lvm.flags(false)...)
	args = append(args, "-s", "-L", kib(*req.Size))
	if req.Name != "" {
		args = append(args, "-n", req.Name)
	}
	_, err := v.lvm.run(ctx, append(args, name)...)
	return err
}

// Snapshots is the snapshot source.
type Snapshots struct {
	*backend.Static
	lvm *LVM
}

func (s *Snapshots) Remove(ctx context.Context, name string) error {
	args := append([]string{"lvremove"}, s.lvm.flags(true)...)
	_, err := s.lvm.run(ctx, append(args, name)...)
	return err
}
