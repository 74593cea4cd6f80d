package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/netsyncd/pkg/appldb"
	"github.com/newtron-network/netsyncd/pkg/model"
)

var dumpTimeout time.Duration

var dumpCmd = &cobra.Command{
	Use:   "dump <PORT_TABLE|NEIGH_TABLE>",
	Short: "Read the rows netsyncd owns back from APPL_DB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := strings.ToUpper(args[0])
		if table != model.PortTable && table != model.NeighTable {
			return fmt.Errorf("unknown table %q: want %s or %s", args[0], model.PortTable, model.NeighTable)
		}

		ctx, cancel := context.WithTimeout(context.Background(), dumpTimeout)
		defer cancel()

		client := appldb.NewClient(appldb.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer client.Close()
		if err := client.Ping(ctx); err != nil {
			return err
		}

		entities, err := client.LoadEntities(ctx, table)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entities)
		}
		return printEntities(entities)
	},
}

func init() {
	dumpCmd.Flags().DurationVar(&dumpTimeout, "timeout", 10*time.Second, "APPL_DB read timeout")
}
