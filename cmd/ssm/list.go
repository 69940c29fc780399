package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/storage"
)

var listCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List information about all detected devices, pools, volumes and snapshots",
	Long: `List devices, pools, volumes and snapshots. Without a type every table
is printed.

Types: ` + strings.Join(storage.ListTypes(), ", "),
	Aliases:   []string{"info"},
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: storage.ListTypes(),
	Run:       runList,
}

func runList(cmd *cobra.Command, args []string) {
	s := newSession()
	defer s.cancel()

	what := ""
	if len(args) > 0 {
		what = args[0]
	}
	s.check(s.h.List(s.ctx, os.Stdout, what))
}
