// Netsyncd mirrors the kernel's link and neighbor tables into SONiC APPL_DB.
//
// The daemon dumps both tables at start, follows rtnetlink notifications
// afterwards, and writes PORT_TABLE and NEIGH_TABLE rows in batches. A state
// file saved on shutdown lets a restart reconcile against what it wrote
// last time instead of rewriting every row:
//
//	netsyncd run                      # run the daemon
//	netsyncd state show               # inspect the warm-restart cache
//	netsyncd dump PORT_TABLE          # read rows back from APPL_DB
//	netsyncd config show              # effective configuration
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/netsyncd/pkg/settings"
	"github.com/newtron-network/netsyncd/pkg/util"
	"github.com/newtron-network/netsyncd/pkg/version"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool

	cfg *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "netsyncd",
	Short:             "Kernel link and neighbor sync daemon for SONiC APPL_DB",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}

		var err error
		cfg, err = settings.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("loading %s: %w", configPath, err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%s: %w", configPath, err)
		}
		util.SetLogOutput(cmd.ErrOrStderr())
		if err := util.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
		return util.SetFormat(cfg.LogFormat)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netsyncd %s\n", version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", settings.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log_level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{stateShowCmd, dumpCmd} {
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "JSON output")
	}

	stateCmd.AddCommand(stateShowCmd, stateClearCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(runCmd, stateCmd, dumpCmd, configCmd, versionCmd)
}
