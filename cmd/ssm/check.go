package main

import (
	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/storage"
)

var checkCmd = &cobra.Command{
	Use:   "check <device> [device...]",
	Short: "Check consistency of the file system on the device",
	Long: `Check the file system on each given volume or device. Mounted file
systems are skipped.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	var items []storage.Item
	for _, a := range args {
		it, err := s.h.ResolveFilesystem(s.ctx, a)
		s.check(err)
		items = append(items, it)
	}
	s.h.Check(s.ctx, items)
}
