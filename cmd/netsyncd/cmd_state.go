package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/newtron-network/netsyncd/pkg/cli"
	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/warmrestart"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or clear the warm-restart state file",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the entities a restart would reconcile against",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := warmrestart.LoadState(cfg.StateFile)
		if err != nil {
			return fmt.Errorf("%w (next start would be cold)", err)
		}
		dropped := st.Sanitize()

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Printf("State file: %s\n", cfg.StateFile)
		fmt.Printf("Saved:      %s\n", cli.Timestamp(st.SavedAt))
		fmt.Printf("Entities:   %d\n", len(st.Entities))
		for key, reason := range dropped {
			fmt.Printf("Corrupt:    %s (%v)\n", cli.Red(key), reason)
		}
		fmt.Println()
		return printEntities(st.Entities)
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the state file so the next start is cold",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := warmrestart.NewManager(warmrestart.Config{StatePath: cfg.StateFile})
		if err := m.DiscardState(); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", cfg.StateFile)
		return nil
	},
}

// printEntities prints links then neighbors, each sorted by key.
func printEntities(entities map[string]model.Entity) error {
	keys := make([]string, 0, len(entities))
	for key := range entities {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	links := cli.NewTable(os.Stdout, "INTERFACE", "ADMIN", "OPER", "MTU")
	neighs := cli.NewTable(os.Stdout, "INTERFACE", "ADDRESS", "MAC", "FAMILY", "STATE")
	for _, key := range keys {
		e := entities[key]
		switch e.Kind {
		case model.KindLink:
			links.Row(e.Name, cli.Level(e.AdminStatus), cli.Level(e.OperStatus), fmt.Sprint(e.MTU))
		case model.KindNeighbor:
			neighs.Row(e.Name, e.Addr, e.MAC, e.Family, e.State)
		}
	}
	if err := links.Flush(); err != nil {
		return err
	}
	fmt.Println()
	return neighs.Flush()
}
