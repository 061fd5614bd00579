package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomvcs/loom/internal/config"
	"github.com/loomvcs/loom/internal/identity"
	"github.com/loomvcs/loom/internal/logging"
	"github.com/loomvcs/loom/internal/node"
	"github.com/loomvcs/loom/internal/patchwork"
)

var (
	flagDir      string
	flagConfig   string
	flagLogLevel string

	rootCmd = &cobra.Command{
		Use:   "loom",
		Short: "Decentralized code collaboration",
		Long: `Loom exchanges issues and patches between peers without a central
server, using signed, content-addressed operation logs.`,
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", ".", "repository directory")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/loom/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(untrackCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openNode loads config and identity and opens the repository node in the
// --dir directory. Callers must Close it.
func openNode() (*node.Node, error) {
	cfg, err := config.LoadOrDefault(flagConfig)
	if err != nil {
		return nil, err
	}

	level := flagLogLevel
	if level == "" {
		level = cfg.String("node.log_level", "info")
	}
	logging.Init(level, os.Stderr)

	id, err := identity.Load("")
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	return node.Open(flagDir, cfg, id, &patchwork.ShellGit{Dir: flagDir})
}
