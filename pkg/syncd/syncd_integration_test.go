//go:build integration || e2e

package syncd

import (
	"testing"

	"github.com/newtron-network/netsyncd/internal/testutil"
	"github.com/newtron-network/netsyncd/pkg/appldb"
	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/warmrestart"
)

func TestIntegration_WarmRestartAgainstRedis(t *testing.T) {
	testutil.SkipIfNoRedis(t)
	testutil.FlushDB(t, testutil.RedisAddr(), testutil.TestDB)

	cfg := testSettings(t)
	cfg.RedisAddr = testutil.RedisAddr()
	cfg.RedisDB = testutil.TestDB

	eth0, eth4, eth8 := testutil.Link("Ethernet0", "up"), testutil.Link("Ethernet4", "up"), testutil.Link("Ethernet8", "up")
	saveCache(t, cfg.StateFile, eth0, eth8)
	for _, e := range []model.Entity{eth0, eth8} {
		testutil.WriteHash(t, testutil.TestDB, appldb.RedisKey(e.Table(), e.Key()), e.Fields())
	}

	src := newFakeSource()
	store := appldb.NewClient(appldb.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	d := New(cfg, src, store)
	stop := start(t, d)

	src.emit(dumped(eth0), dumped(eth4), sentinel())

	eventually(t, "reconciled rows", func() bool {
		return testutil.KeyExists(t, testutil.TestDB, "PORT_TABLE:Ethernet4") &&
			!testutil.KeyExists(t, testutil.TestDB, "PORT_TABLE:Ethernet8")
	})
	if got := d.Manager().State(); got != warmrestart.InitialSyncComplete {
		t.Errorf("state = %v, want InitialSyncComplete", got)
	}

	testutil.AssertNoError(t, stop(), "Run")
	saved := loadSaved(t, cfg.StateFile)
	if len(saved) != 2 {
		t.Errorf("saved %d entities, want 2", len(saved))
	}
}
