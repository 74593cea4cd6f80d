package appldb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/newtron-network/netsyncd/pkg/model"
	"github.com/newtron-network/netsyncd/pkg/util"
)

// unreachable is a local port nothing listens on.
const unreachable = "127.0.0.1:1"

func TestRedisKey(t *testing.T) {
	tests := []struct {
		table, key, want string
	}{
		{model.PortTable, "Ethernet0", "PORT_TABLE:Ethernet0"},
		{model.NeighTable, "Vlan100:10.1.1.2", "NEIGH_TABLE:Vlan100:10.1.1.2"},
		{model.NeighTable, "Ethernet4:fc00::2", "NEIGH_TABLE:Ethernet4:fc00::2"},
	}
	for _, tt := range tests {
		if got := RedisKey(tt.table, tt.key); got != tt.want {
			t.Errorf("RedisKey(%q, %q) = %q, want %q", tt.table, tt.key, got, tt.want)
		}
	}
}

func TestNewBackOff_NeverStops(t *testing.T) {
	b := NewBackOff(10*time.Millisecond, 40*time.Millisecond)
	for i := 0; i < 50; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop {
			t.Fatalf("backoff stopped after %d attempts", i)
		}
		// Randomization can add up to 50% on top of the cap.
		if d > 60*time.Millisecond {
			t.Fatalf("attempt %d waited %v, above the cap", i, d)
		}
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient(Options{Addr: unreachable})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); !errors.Is(err, util.ErrNotConnected) {
		t.Errorf("Ping error = %v, want ErrNotConnected", err)
	}
	if c.Alive() {
		t.Error("Alive() = true after failed ping")
	}

	rec := model.SetRecord(model.OpAdd, model.Entity{Kind: model.KindLink, Name: "Ethernet0", AdminStatus: "up"})
	if err := c.Write(ctx, []model.Record{rec}); !errors.Is(err, util.ErrNotConnected) {
		t.Errorf("Write error = %v, want ErrNotConnected", err)
	}
}

func TestClient_WriteNothing(t *testing.T) {
	c := NewClient(Options{Addr: unreachable})
	defer c.Close()

	if err := c.Write(context.Background(), nil); err != nil {
		t.Errorf("Write(nil) = %v, want nil without touching Redis", err)
	}
}

func TestClient_ConnectCancelled(t *testing.T) {
	c := NewClient(Options{Addr: unreachable, RetryInitialInterval: 5 * time.Millisecond, RetryMaxInterval: 10 * time.Millisecond})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect succeeded against an unreachable address")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect kept retrying %v after cancellation", elapsed)
	}
}
