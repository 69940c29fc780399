package main

import (
	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/storage"
)

var resizeCmd = &cobra.Command{
	Use:   "resize [-s size] <volume> [device...]",
	Short: "Change or set the volume and file system size",
	Long: `Change the size of a volume and the file system on it.

The size is absolute, or relative when prefixed with + or -. Without a
size the file system is grown to fill the volume. When the pool is short
of space, the given devices are added to it as needed.

Examples:
  ssm resize -s 10G /dev/lvm_pool/lvol001
  ssm resize -s +500M /dev/lvm_pool/lvol001 /dev/sdc`,
	Args: cobra.MinimumNArgs(1),
	Run:  runResize,
}

func init() {
	resizeCmd.Flags().StringP("size", "s", "", "new size, optionally prefixed with + or -")
}

func runResize(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	req := storage.ResizeRequest{}
	if v, _ := cmd.Flags().GetString("size"); v != "" {
		change, err := storage.ParseSizeChange(v)
		s.check(err)
		req.Size = &change
	}
	vol, err := s.h.ResolveVolume(s.ctx, args[0])
	s.check(err)
	req.Volume = vol
	for _, a := range args[1:] {
		dev, err := s.h.ResolveBlockDevice(s.ctx, a)
		s.check(err)
		req.Devices = append(req.Devices, dev)
	}
	s.check(s.h.Resize(s.ctx, req))
}
