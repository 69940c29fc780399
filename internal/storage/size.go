package storage

import (
	"regexp"
	"strconv"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

var sizeRe = regexp.MustCompile(`^([+-])?(\d+(?:\.\d+)?)\s*([kKmMgGtTpP]?[iI]?[bB]?)$`)

// SizeChange is a parsed resize argument. Value is in KiB; a relative
// change carries its sign in Value.
type SizeChange struct {
	Relative bool
	Value    float64
}

// Apply returns the size resulting from applying the change to cur.
func (c SizeChange) Apply(cur float64) float64 {
	if c.Relative {
		return cur + c.Value
	}
	return c.Value
}

// ParseSizeChange parses "[+|-]number[unit]". A bare number is KiB.
func ParseSizeChange(s string) (SizeChange, error) {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return SizeChange{}, errors.Wrapf(ErrInvalidSize, "'%s' is not valid number for the resize", s)
	}
	kb, err := toKiB(m[2], m[3])
	if err != nil {
		return SizeChange{}, errors.Wrapf(ErrInvalidSize, "'%s' is not valid number for the resize", s)
	}
	if m[1] == "-" {
		kb = -kb
	}
	return SizeChange{Relative: m[1] != "", Value: kb}, nil
}

// ParseSize parses an unsigned size with an optional unit into KiB.
func ParseSize(s string) (float64, error) {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil || m[1] != "" {
		return 0, errors.Wrapf(ErrInvalidSize, "'%s' is not a valid size", s)
	}
	kb, err := toKiB(m[2], m[3])
	if err != nil || kb <= 0 {
		return 0, errors.Wrapf(ErrInvalidSize, "'%s' is not a valid size", s)
	}
	return kb, nil
}

func toKiB(num, unit string) (float64, error) {
	if unit == "" {
		return strconv.ParseFloat(num, 64)
	}
	b, err := units.RAMInBytes(num + unit)
	if err != nil {
		return 0, err
	}
	return float64(b) / 1024, nil
}
