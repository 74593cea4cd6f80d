//go:build integration || e2e

package testutil

import (
	"testing"

	"github.com/newtron-network/netsyncd/pkg/model"
)

// Link returns an admin-up link with the given oper status.
func Link(name, oper string) model.Entity {
	return model.Entity{
		Kind:        model.KindLink,
		Name:        name,
		AdminStatus: "up",
		OperStatus:  oper,
		MTU:         9100,
		Flags:       0x1043,
	}
}

// Neighbor returns a reachable neighbor; family follows the address.
func Neighbor(name, addr, mac string) model.Entity {
	family := model.FamilyIPv4
	for _, c := range addr {
		if c == ':' {
			family = model.FamilyIPv6
			break
		}
	}
	return model.Entity{
		Kind:   model.KindNeighbor,
		Name:   name,
		Addr:   addr,
		MAC:    mac,
		State:  "reachable",
		Family: family,
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// Must is a generic helper that calls t.Fatal if err is not nil and returns the value.
func Must[T any](t *testing.T, val T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return val
}
