// Package crypt exposes open dm-crypt mappings as volumes.
package crypt

import (
	"bufio"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/fsprobe"
)

const mapperDir = "/dev/mapper"

// Crypt drives dmsetup and cryptsetup.
type Crypt struct {
	env backend.Env
	log *logrus.Entry
}

// New returns the dm-crypt backend.
func New(env backend.Env) *Crypt {
	return &Crypt{env: env, log: env.Logger("crypt")}
}

// Available reports whether dmsetup is installed.
func (c *Crypt) Available() bool {
	return c.env.Run.Available("dmsetup")
}

// mapping is one line of `dmsetup table --target crypt`.
type mapping struct {
	Name    string
	Sectors uint64
	Cipher  string
	// Backing is the underlying device as major:minor or a path.
	Backing string
	Offset  uint64
}

// parseTable parses `dmsetup table --target crypt`, e.g.
//
//	secret: 0 2093056 crypt aes-xts-plain64 :64:logon:cryptsetup:x-d0 0 8:16 4096
func parseTable(out string) ([]mapping, error) {
	var maps []mapping
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		name, rest, ok := strings.Cut(line, ": ")
		if !ok {
			// "No devices found"
			continue
		}
		f := strings.Fields(rest)
		if len(f) < 8 || f[2] != "crypt" {
			continue
		}
		sectors, err := strconv.ParseUint(f[1], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", line)
		}
		offset, err := strconv.ParseUint(f[7], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", line)
		}
		maps = append(maps, mapping{
			Name:    name,
			Sectors: sectors,
			Cipher:  f[3],
			Backing: f[6],
			Offset:  offset,
		})
	}
	return maps, s.Err()
}

// backingPath turns a major:minor pair into a /dev path using the
// kernel partition table.
func (c *Crypt) backingPath(backing string) string {
	major, minor, ok := strings.Cut(backing, ":")
	if !ok {
		return backing
	}
	parts, err := c.env.Sys.Partitions()
	if err != nil {
		return backing
	}
	for _, p := range parts {
		if strconv.FormatUint(uint64(p.Major), 10) == major && strconv.FormatUint(uint64(p.Minor), 10) == minor {
			return "/dev/" + p.Name
		}
	}
	return backing
}

// Volumes lists open crypt mappings.
func (c *Crypt) Volumes(ctx context.Context) (*Volumes, error) {
	v := &Volumes{Static: backend.NewStatic(backend.KindCrypt), c: c}
	if !c.Available() {
		return v, nil
	}
	res, err := c.env.Run.Run(ctx, []string{"dmsetup", "table", "--target", "crypt"})
	if err != nil {
		return nil, errors.Wrap(err, "dmsetup table")
	}
	maps, err := parseTable(res.Stdout)
	if err != nil {
		return nil, err
	}
	mounts, err := c.env.Sys.Mounts()
	if err != nil {
		return nil, err
	}
	for _, m := range maps {
		name := path.Join(mapperDir, m.Name)
		dev := c.env.Sys.RealPath(name)
		v.Add(&backend.Record{
			Name:        name,
			Type:        string(backend.KindCrypt),
			VolSize:     backend.KB(float64(m.Sectors) / 2),
			DMName:      name,
			RealDev:     dev,
			Mount:       mounts[dev],
			CryptDevice: c.backingPath(m.Backing),
		})
	}
	return v, nil
}

// Volumes is the crypt volume source.
type Volumes struct {
	*backend.Static
	c *Crypt
}

// Remove closes the mapping. The backing device is left untouched.
func (v *Volumes) Remove(ctx context.Context, name string) error {
	rec := v.Get(name)
	if rec == nil {
		return errors.Errorf("'%s' is not an open crypt device", name)
	}
	if rec.Mount != "" {
		return errors.Errorf("'%s' is mounted on %s", name, rec.Mount)
	}
	return v.run(ctx, "cryptsetup", "close", path.Base(name))
}

// Resize resizes the mapping to size KiB. When resizeFS is set the
// filesystem is shrunk before the mapping, or grown after it.
func (v *Volumes) Resize(ctx context.Context, name string, size float64, resizeFS bool) error {
	rec := v.Get(name)
	if rec == nil {
		return errors.Errorf("'%s' is not an open crypt device", name)
	}
	var fs *fsprobe.Probe
	if resizeFS {
		cfg := v.c.env.Config
		p, err := fsprobe.New(ctx, v.c.env.Run, rec.RealDev, rec.Mount, fsprobe.Options{
			Force: cfg.Force, Verbose: cfg.Verbose, Log: v.c.log,
		})
		if err != nil {
			v.c.log.WithError(err).Debugf("no file system metadata on %s", name)
		}
		if p.Type != "" {
			fs = p
		}
	}
	shrink := rec.VolSize != nil && size < *rec.VolSize
	if fs != nil && shrink {
		if err := fs.Resize(ctx, &size); err != nil {
			return err
		}
	}
	sectors := fmt.Sprintf("%d", int64(size)*2)
	if err := v.run(ctx, "cryptsetup", "resize", "--size", sectors, path.Base(name)); err != nil {
		return err
	}
	if fs != nil && !shrink {
		return fs.Resize(ctx, nil)
	}
	return nil
}

func (v *Volumes) run(ctx context.Context, args ...string) error {
	_, err := v.c.env.Run.Run(ctx, args)
	return err
}
