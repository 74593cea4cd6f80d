package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newtron-network/netsyncd/pkg/appldb"
	"github.com/newtron-network/netsyncd/pkg/rtnl"
	"github.com/newtron-network/netsyncd/pkg/syncd"
	"github.com/newtron-network/netsyncd/pkg/util"
	"github.com/newtron-network/netsyncd/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		util.WithComponent("main").Infof("netsyncd %s", version.Info())

		conn, err := rtnl.Dial(cfg.EventSocketBufferSize, rtnl.DefaultReadTimeout)
		if err != nil {
			return fmt.Errorf("opening event socket: %w", err)
		}
		source := rtnl.NewSource(conn, rtnl.Options{
			Sentinel: cfg.SentinelInterface,
			Prefixes: cfg.InterfacePrefixes,
			Resolver: rtnl.NetlinkResolver{},
		})
		store := appldb.NewClient(appldb.Options{
			Addr:                 cfg.RedisAddr,
			DB:                   cfg.RedisDB,
			RetryInitialInterval: cfg.RetryInitialInterval,
			RetryMaxInterval:     cfg.RetryMaxInterval,
		})

		return syncd.New(cfg, source, store).Run(ctx)
	},
}
