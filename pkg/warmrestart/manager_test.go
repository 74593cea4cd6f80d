package warmrestart

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/netsyncd/pkg/model"
)

func testEntities() map[string]model.Entity {
	eth0 := model.Entity{Kind: model.KindLink, Name: "Ethernet0", AdminStatus: "up", OperStatus: "up", MTU: 9100, Flags: 0x11043}
	nbr := model.Entity{Kind: model.KindNeighbor, Name: "Ethernet0", Addr: "10.0.0.2", MAC: "52:54:00:00:00:02",
		State: "reachable", Family: model.FamilyIPv4}
	return map[string]model.Entity{
		eth0.Key(): eth0,
		nbr.Key():  nbr,
	}
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netsyncd", "state.json")
	return NewManager(Config{StatePath: path, ReconciliationTimeout: timeout}), path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// ===================== Initialize =====================

func TestInitialize_NoStateFile(t *testing.T) {
	m, _ := newTestManager(t, time.Second)

	if got := m.Initialize(); got != ColdStart {
		t.Fatalf("Initialize() = %v, want ColdStart", got)
	}
	if m.ShouldSkipDownstreamWrites() {
		t.Error("cold start must not suppress writes")
	}
}

func TestInitialize_FailSecure(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid bytes", "\x00\xff\xfe garbage \x01"},
		{"empty file", ""},
		{"truncated json", `{"version": 1, "entities": {"Ethernet0": {"kind": "link"`},
		{"wrong version", `{"version": 99, "entities": {}}`},
		{"missing version", `{"entities": {}}`},
		{"entities not a map", `{"version": 1, "entities": [1, 2, 3]}`},
		{"json array", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, path := newTestManager(t, time.Second)
			writeFile(t, path, tt.content)

			if got := m.Initialize(); got != ColdStart {
				t.Errorf("Initialize() = %v, want ColdStart", got)
			}
			if m.ShouldSkipDownstreamWrites() {
				t.Error("cold start must not suppress writes")
			}
			cached, _ := m.TakeCached()
			if len(cached) != 0 {
				t.Errorf("cold start cached %d entities", len(cached))
			}
		})
	}
}

func TestInitialize_UnreadablePath(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{StatePath: dir}) // a directory, not a file

	if got := m.Initialize(); got != ColdStart {
		t.Errorf("Initialize() = %v, want ColdStart", got)
	}
}

func TestInitialize_WarmStart(t *testing.T) {
	m, path := newTestManager(t, time.Second)
	want := testEntities()
	if err := SaveState(path, want, time.Now()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	if got := m.Initialize(); got != WarmStart {
		t.Fatalf("Initialize() = %v, want WarmStart", got)
	}
	if m.ShouldSkipDownstreamWrites() {
		t.Error("writes are only suppressed once initial sync begins")
	}

	cached, ok := m.TakeCached()
	if !ok {
		t.Fatal("TakeCached() = false on first call")
	}
	if diff := cmp.Diff(want, cached); diff != "" {
		t.Errorf("cached entities mismatch (-want +got):\n%s", diff)
	}
	if again, ok := m.TakeCached(); ok || again != nil {
		t.Error("TakeCached() should hand out the cache only once")
	}
	if got := m.Status().CachedCount; got != len(want) {
		t.Errorf("CachedCount = %d, want %d", got, len(want))
	}
}

func TestInitialize_DropsCorruptEntries(t *testing.T) {
	m, path := newTestManager(t, time.Second)
	writeFile(t, path, `{
		"version": 1,
		"saved_at": "2026-01-02T03:04:05Z",
		"entities": {
			"Ethernet0": {"kind": "link", "name": "Ethernet0", "admin_status": "up"},
			"Ethernet4": {"kind": "link", "name": "Ethernet8"},
			"Ethernet12": {"kind": "route", "name": "Ethernet12"},
			"Ethernet16": {"kind": "link", "name": "Ethernet16", "mtu": "bogus"},
			"Vlan100:10.1.1.2": {"kind": "neighbor", "name": "Vlan100", "addr": "10.1.1.2", "mac": "52:54:00:00:00:01"}
		}
	}`)

	if got := m.Initialize(); got != WarmStart {
		t.Fatalf("Initialize() = %v, want WarmStart", got)
	}
	cached, _ := m.TakeCached()
	var keys []string
	for k := range cached {
		keys = append(keys, k)
	}
	if len(cached) != 2 {
		t.Errorf("kept %v, want Ethernet0 and Vlan100:10.1.1.2", keys)
	}
	if _, ok := cached["Ethernet0"]; !ok {
		t.Error("valid link entry was dropped")
	}
	if _, ok := cached["Ethernet16"]; ok {
		t.Error("entry with a non-numeric mtu was kept")
	}
	if got := m.Status().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestInitialize_Twice(t *testing.T) {
	m, path := newTestManager(t, time.Second)
	if got := m.Initialize(); got != ColdStart {
		t.Fatalf("Initialize() = %v, want ColdStart", got)
	}
	// A state file appearing later does not reclassify the start.
	if err := SaveState(path, testEntities(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if got := m.Initialize(); got != ColdStart {
		t.Errorf("second Initialize() = %v, want ColdStart", got)
	}
}

// ===================== State machine =====================

func TestWarmLifecycle(t *testing.T) {
	m, path := newTestManager(t, time.Minute)
	if err := SaveState(path, testEntities(), time.Now()); err != nil {
		t.Fatal(err)
	}
	m.Initialize()

	if !m.BeginInitialSync() {
		t.Fatal("BeginInitialSync() = false from WarmStart")
	}
	if !m.ShouldSkipDownstreamWrites() {
		t.Error("writes must be suppressed during initial sync")
	}
	if m.TimeoutC() == nil {
		t.Error("TimeoutC() is nil during initial sync")
	}
	if m.BeginInitialSync() {
		t.Error("second BeginInitialSync() should be a no-op")
	}

	if !m.CompleteInitialSync(ReasonEOIU) {
		t.Fatal("CompleteInitialSync() = false from InitialSyncInProgress")
	}
	if m.ShouldSkipDownstreamWrites() {
		t.Error("writes still suppressed after completion")
	}
	if m.TimeoutC() != nil {
		t.Error("TimeoutC() should be nil after completion")
	}
	if m.CompleteInitialSync(ReasonTimeout) {
		t.Error("CompleteInitialSync() succeeded twice")
	}

	st := m.Status()
	if st.State != InitialSyncComplete || st.Reason != ReasonEOIU {
		t.Errorf("Status = %v/%v, want InitialSyncComplete/eoiu", st.State, st.Reason)
	}
}

func TestColdStartCompletesOnEOIU(t *testing.T) {
	m, _ := newTestManager(t, time.Minute)
	m.Initialize()

	if m.TimeoutC() != nil {
		t.Error("TimeoutC() should be nil before BeginInitialSync")
	}
	if !m.CompleteInitialSync(ReasonEOIU) {
		t.Fatal("CompleteInitialSync() = false from ColdStart")
	}
	if got := m.State(); got != InitialSyncComplete {
		t.Errorf("State() = %v, want InitialSyncComplete", got)
	}
	if m.BeginInitialSync() {
		t.Error("BeginInitialSync() after completion should be a no-op")
	}
}

func TestTimeoutFallback(t *testing.T) {
	const timeout = 100 * time.Millisecond
	m, path := newTestManager(t, timeout)
	if err := SaveState(path, testEntities(), time.Now()); err != nil {
		t.Fatal(err)
	}
	m.Initialize()

	start := time.Now()
	m.BeginInitialSync()

	completions := 0
	deadline := time.After(2 * time.Second)
	for m.State() != InitialSyncComplete {
		select {
		case <-m.TimeoutC():
			if m.CompleteInitialSync(ReasonTimeout) {
				completions++
			}
		case <-deadline:
			t.Fatal("initial sync never completed")
		}
	}
	elapsed := time.Since(start)

	if elapsed < timeout {
		t.Errorf("completed after %v, before the %v timeout", elapsed, timeout)
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
	if m.CompleteInitialSync(ReasonTimeout) || m.CompleteInitialSync(ReasonEOIU) {
		t.Error("completion after timeout should not happen again")
	}
	if got := m.Status().Reason; got != ReasonTimeout {
		t.Errorf("Reason = %v, want timeout", got)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{ColdStart, InitialSyncInProgress, true},
		{ColdStart, InitialSyncComplete, true},
		{WarmStart, InitialSyncInProgress, true},
		{WarmStart, InitialSyncComplete, false},
		{InitialSyncInProgress, InitialSyncComplete, true},
		{InitialSyncInProgress, WarmStart, false},
		{InitialSyncComplete, InitialSyncInProgress, false},
		{InitialSyncComplete, ColdStart, false},
	}
	for _, tt := range tests {
		if got := tt.from.canTransition(tt.to); got != tt.want {
			t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	if InitialSyncInProgress.String() != "InitialSyncInProgress" {
		t.Errorf("String() = %q", InitialSyncInProgress.String())
	}
	if State(42).String() != "State(42)" {
		t.Errorf("String() = %q", State(42).String())
	}
}

// ===================== Persistence =====================

func TestSaveState_Atomic(t *testing.T) {
	m, path := newTestManager(t, time.Second)

	if err := m.SaveState(testEntities()); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := m.SaveState(map[string]model.Entity{}); err != nil {
		t.Fatalf("second SaveState: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}

	state, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if state.Version != StateVersion || len(state.Entities) != 0 {
		t.Errorf("loaded version %d with %d entities, want version %d and none",
			state.Version, len(state.Entities), StateVersion)
	}
	if m.Status().LastSave.IsZero() {
		t.Error("LastSave not recorded")
	}
}

func TestSaveState_FailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	writeFile(t, blocker, "x")

	m := NewManager(Config{StatePath: filepath.Join(blocker, "state.json")})
	if err := m.SaveState(testEntities()); err == nil {
		t.Fatal("SaveState under a regular file should fail")
	}
	if got := m.Status().SaveFailures; got != 1 {
		t.Errorf("SaveFailures = %d, want 1", got)
	}
	if data, _ := os.ReadFile(blocker); string(data) != "x" {
		t.Error("failed save clobbered an unrelated file")
	}
}

func TestManager_DiscardState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m := NewManager(Config{StatePath: path})
	if err := m.SaveState(map[string]model.Entity{"Ethernet0": {Kind: model.KindLink, Name: "Ethernet0"}}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := m.DiscardState(); err != nil {
		t.Fatalf("DiscardState: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("state file still present: %v", err)
	}
	if err := m.DiscardState(); err != nil {
		t.Errorf("DiscardState on missing file: %v", err)
	}
	if got := NewManager(Config{StatePath: path}).Initialize(); got != ColdStart {
		t.Errorf("Initialize after discard = %v, want ColdStart", got)
	}
}
