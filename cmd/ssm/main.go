package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sigreer/ssm/internal/backend"
	"github.com/sigreer/ssm/internal/config"
	"github.com/sigreer/ssm/internal/runner"
	"github.com/sigreer/ssm/internal/storage"
	"github.com/sigreer/ssm/internal/sysinfo"
	"github.com/sigreer/ssm/internal/version"
)

var (
	cfgFile     string
	verbose     bool
	force       bool
	yes         bool
	backendName string
)

var rootCmd = &cobra.Command{
	Use:   "ssm",
	Short: "System Storage Manager",
	Long: `ssm manages devices, pools, volumes and snapshots across LVM, btrfs,
dm-crypt and ZFS with one set of commands.

Sizes accept an optional unit (K, M, G, T, P; powers of 1024). A bare
number is KiB.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/ssm/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show more information")
	rootCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "force execution in the case where ssm has some doubts or questions")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "answer yes to all questions")
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "b", "",
		"default backend for new pools (lvm, btrfs, zfs)")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(resizeCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// session is what every command needs: a context cancelled on SIGINT or
// SIGTERM and the storage handle.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	h      *storage.Handle
}

func newSession() *session {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fail(errors.Wrap(err, "loading config"))
	}
	if backendName != "" {
		if err := cfg.SetBackend(backendName); err != nil {
			fail(err)
		}
	}
	cfg.Verbose = verbose
	cfg.Force = force
	cfg.Yes = yes

	env := backend.Env{
		Config: cfg,
		Run:    runner.NewExec(entry),
		Sys:    sysinfo.NewHost(),
		Log:    entry,
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	h := storage.NewHandle(cfg, env.Run, env.Sys, storage.DefaultBackends(env),
		storage.WithOutput(os.Stdout), storage.WithLogger(entry))
	return &session{ctx: ctx, cancel: cancel, h: h}
}

// fail reports a hard failure and exits.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "SSM Error: %v\n", err)
	os.Exit(1)
}

// check exits on err, releasing the session first.
func (s *session) check(err error) {
	if err != nil {
		s.cancel()
		fail(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
