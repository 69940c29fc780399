package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/storage"
)

var removeCmd = &cobra.Command{
	Use:   "remove [-a] [item...]",
	Short: "Remove devices from the pool, volumes or pools",
	Long: `Remove items: a volume or snapshot is removed, a pool is removed with
all of its volumes, and a device is removed from its pool. A mount point
names the volume mounted there.

A failure to remove one item is reported and the remaining items are still
processed.`,
	Run: runRemove,
}

func init() {
	removeCmd.Flags().BoolP("all", "a", false, "remove all pools in the system")
}

func runRemove(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	all, _ := cmd.Flags().GetBool("all")
	req := storage.RemoveRequest{All: all}
	if !all {
		for _, a := range args {
			it, err := s.h.ResolveRemoveItem(s.ctx, a)
			s.check(err)
			req.Items = append(req.Items, it)
		}
	}
	err := s.h.Remove(s.ctx, req)
	// Per-item failures were already reported.
	var batch *storage.BatchError
	if errors.As(err, &batch) {
		return
	}
	s.check(err)
}
