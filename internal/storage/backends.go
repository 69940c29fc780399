package storage

import (
	"context"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/backend/btrfs"
	"github.com/sigreer/ssm/internal/backend/crypt"
	"github.com/sigreer/ssm/internal/backend/lvm"
	"github.com/sigreer/ssm/internal/backend/zfs"
)

// source adapts a typed backend constructor to a SourceFactory.
func source[S backend.Source](kind backend.Kind, build func(context.Context) (S, error)) SourceFactory {
	return SourceFactory{
		Kind: kind,
		Build: func(ctx context.Context) (backend.Source, error) {
			s, err := build(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// DefaultBackends wires every supported backend. Lookup order is lvm,
// btrfs, crypt, zfs.
func DefaultBackends(env backend.Env) Backends {
	l := lvm.New(env)
	b := btrfs.New(env)
	c := crypt.New(env)
	z := zfs.New(env)
	return Backends{
		Pools: []SourceFactory{
			source(backend.KindLVM, l.Pools),
			source(backend.KindBtrfs, b.Pools),
			source(backend.KindZFS, z.Pools),
		},
		Volumes: []SourceFactory{
			source(backend.KindLVM, l.Volumes),
			source(backend.KindBtrfs, b.Volumes),
			source(backend.KindCrypt, c.Volumes),
			source(backend.KindZFS, z.Volumes),
		},
		Snapshots: []SourceFactory{
			source(backend.KindLVM, l.Snapshots),
			source(backend.KindBtrfs, b.Snapshots),
			source(backend.KindZFS, z.Snapshots),
		},
		DeviceHints: []HintFactory{
			{Kind: backend.KindLVM, Build: l.DeviceHints},
			{Kind: backend.KindBtrfs, Build: b.DeviceHints},
			{Kind: backend.KindZFS, Build: z.DeviceHints},
		},
	}
}
