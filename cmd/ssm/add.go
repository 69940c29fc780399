package main

import (
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [-p pool] <device> [device...]",
	Short: "Add one or more devices into the pool",
	Long: `Add devices into a pool. A pool that does not exist yet is created from
the devices. Devices already in the pool are skipped.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAdd,
}

func init() {
	addCmd.Flags().StringP("pool", "p", "", "pool to add the devices to (default pool of the backend when empty)")
}

func runAdd(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	poolName, _ := cmd.Flags().GetString("pool")
	pool, err := s.h.ResolvePool(s.ctx, poolName)
	s.check(err)
	var devices []string
	for _, a := range args {
		dev, err := s.h.ResolveBlockDevice(s.ctx, a)
		s.check(err)
		devices = append(devices, dev)
	}
	s.check(s.h.Add(s.ctx, pool, devices))
}
