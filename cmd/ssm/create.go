package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/storage"
)

var createCmd = &cobra.Command{
	Use:   "create [flags] [device...] [mount]",
	Short: "Create a new volume with defined parameters",
	Long: `Create a new volume in a pool, adding the given devices to the pool
first. A directory among the arguments is where the new volume is mounted.

Examples:
  ssm create /dev/sdb /dev/sdc
  ssm create -s 10G --fstype xfs -p data /dev/sdd /mnt/data
  ssm create -r 0 -i 2 -I 64 /dev/sdb /dev/sdc`,
	Run: runCreate,
}

func init() {
	createFlags(createCmd)
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("size", "s", "", "size of the new volume")
	cmd.Flags().StringP("name", "n", "", "name of the new volume")
	cmd.Flags().String("fstype", "", "file system to create on the new volume (ext2, ext3, ext4, xfs, btrfs)")
	cmd.Flags().StringP("raid", "r", "", "RAID level of the new volume (0, 1, 10)")
	cmd.Flags().IntP("stripesize", "I", 0, "stripe size in KiB, needs --raid")
	cmd.Flags().IntP("stripes", "i", 0, "number of stripes, needs --raid")
	cmd.Flags().StringP("pool", "p", "", "pool to use (default pool of the backend when empty)")
}

func raidFlags(cmd *cobra.Command) (*backend.Raid, error) {
	level, _ := cmd.Flags().GetString("raid")
	raid := &backend.Raid{Level: level}
	if cmd.Flags().Changed("stripesize") {
		n, _ := cmd.Flags().GetInt("stripesize")
		raid.StripeSize = &n
	}
	if cmd.Flags().Changed("stripes") {
		n, _ := cmd.Flags().GetInt("stripes")
		if n <= 0 {
			return nil, errors.Errorf("invalid number of stripes: %d", n)
		}
		raid.Stripes = &n
	}
	if raid.Level == "" && raid.StripeSize == nil && raid.Stripes == nil {
		return nil, nil
	}
	return raid, nil
}

func runCreate(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	req := storage.CreateRequest{}
	req.Name, _ = cmd.Flags().GetString("name")
	req.FSType, _ = cmd.Flags().GetString("fstype")
	if v, _ := cmd.Flags().GetString("size"); v != "" {
		size, err := storage.ParseSize(v)
		s.check(err)
		req.Size = &size
	}
	raid, err := raidFlags(cmd)
	s.check(err)
	req.Raid = raid

	poolName, _ := cmd.Flags().GetString("pool")
	req.Pool, err = s.h.ResolvePool(s.ctx, poolName)
	s.check(err)
	req.Devices, req.Mount, err = s.h.ResolveCreateArgs(s.ctx, args)
	s.check(err)

	name, err := s.h.Create(s.ctx, req)
	s.check(err)
	fmt.Fprintf(cmd.OutOrStdout(), "Volume '%s' created\n", name)
}
