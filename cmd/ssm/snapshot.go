package main

import (
	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/storage"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [-s size] [-d dest | -n name] <volume>",
	Short: "Take a snapshot of an existing volume",
	Long: `Take a snapshot of a volume, named by its path or by its mount point.

Without a size the snapshot gets 20% of the volume size, limited to the
free space of the pool.`,
	Args: cobra.ExactArgs(1),
	Run:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringP("size", "s", "", "size of the snapshot")
	snapshotCmd.Flags().StringP("dest", "d", "", "destination of the snapshot")
	snapshotCmd.Flags().StringP("name", "n", "", "name of the snapshot")
	snapshotCmd.MarkFlagsMutuallyExclusive("dest", "name")
}

func runSnapshot(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	req := storage.SnapshotRequest{}
	req.Dest, _ = cmd.Flags().GetString("dest")
	req.Name, _ = cmd.Flags().GetString("name")
	if v, _ := cmd.Flags().GetString("size"); v != "" {
		size, err := storage.ParseSize(v)
		s.check(err)
		req.Size = &size
	}
	vol, err := s.h.ResolveSnapshotVolume(s.ctx, args[0])
	s.check(err)
	req.Volume = vol
	s.check(s.h.Snapshot(s.ctx, req))
}
