package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/config"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/models"
)

const cliPlanYAML = `
appId: study
plans:
  - guid: daily-plan
    label: Daily tapping
    strategy:
      type: SimpleScheduleStrategy
      schedule:
        scheduleType: recurring
        eventId: enrollment
        interval: P1D
        expires: PT24H
        times: ["10:00"]
        activities:
          - guid: tap
            label: Tap test
            task:
              identifier: tapTest
`

func runCLI(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("bridgesched %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestParseInstant(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "rfc3339 with offset",
			input: "2024-03-04T10:00:00-08:00",
			want:  time.Date(2024, time.March, 4, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 with millis",
			input: "2024-03-04T10:00:00.250Z",
			want:  time.Date(2024, time.March, 4, 10, 0, 0, 250_000_000, time.UTC),
		},
		{
			name:  "bare date",
			input: "2024-03-04",
			want:  time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "garbage",
			input:   "yesterday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInstant(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseInstant(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInstant(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseInstant(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDateIn(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatal(err)
	}

	got, err := parseDateIn("2024-03-10", la)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, time.March, 10, 0, 0, 0, 0, la); !got.Equal(want) {
		t.Errorf("parseDateIn() = %v, want %v", got, want)
	}

	got, err = parseDateIn("2024-03-10T12:00:00Z", la)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseDateIn() = %v, want %v", got, want)
	}
}

func TestParseZone(t *testing.T) {
	loc, err := parseZone("")
	if err != nil || loc != nil {
		t.Errorf("parseZone(\"\") = %v, %v; want nil, nil", loc, err)
	}

	loc, err = parseZone("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("parseZone() = %s", loc)
	}

	if _, err := parseZone("Mars/Olympus"); err == nil {
		t.Error("parseZone() expected error for unknown zone")
	}
}

func TestReadUpdates(t *testing.T) {
	input := `[
		{"guid": "tap:2024-03-04T10:00:00.000", "startedOn": "2024-03-04T10:02:00Z"},
		null,
		{"guid": "tap:2024-03-05T10:00:00.000", "finishedOn": "2024-03-05T10:09:00Z", "clientData": {"score": 3}}
	]`

	updates, err := readUpdates(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 3 {
		t.Fatalf("readUpdates() returned %d entries, want 3", len(updates))
	}

	if updates[0].GUID != "tap:2024-03-04T10:00:00.000" || updates[0].StartedOn == nil || updates[0].FinishedOn != nil {
		t.Errorf("unexpected first update: %+v", updates[0])
	}
	if updates[1] != nil {
		t.Errorf("null entry should stay nil, got %+v", updates[1])
	}
	if string(updates[2].ClientData) != `{"score": 3}` {
		t.Errorf("client data = %s", updates[2].ClientData)
	}

	if _, err := readUpdates(strings.NewReader(`{"guid": "x"}`)); err == nil {
		t.Error("readUpdates() expected error for non-array input")
	}
}

func TestPrintActivities(t *testing.T) {
	scheduledOn, err := models.ParseLocalDateTime("2024-03-04T10:00:00.000")
	if err != nil {
		t.Fatal(err)
	}
	started := time.Date(2024, time.March, 4, 10, 1, 0, 0, time.UTC)
	finished := time.Date(2024, time.March, 4, 10, 5, 0, 0, time.UTC)

	list := []*models.ScheduledActivity{
		{
			GUID:             "tap:2024-03-04T10:00:00.000",
			Activity:         models.Activity{GUID: "tap", Label: "Tap test"},
			LocalScheduledOn: scheduledOn,
			StartedOn:        &started,
			FinishedOn:       &finished,
		},
	}

	var out bytes.Buffer
	if err := printActivities(&out, list, finished.Add(time.Hour), false); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"2024-03-04T10:00:00.000", "finished", "expires never", "Tap test"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := printActivities(&out, nil, finished, true); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Errorf("empty JSON output = %q", out.String())
	}
}

func TestPlanWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	if err := os.WriteFile(path, []byte("appId: a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 4)
	watcher, err := NewPlanWatcher(path, 20*time.Millisecond, func(p string) {
		changed <- p
	})
	if err != nil {
		t.Fatal(err)
	}
	watcher.Start(t.Context())
	defer watcher.Stop()

	// Writes to other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("appId: b\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-changed:
		abs, _ := filepath.Abs(path)
		if got != abs {
			t.Errorf("onChange path = %s, want %s", got, abs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for plan file change")
	}
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "engine.db")
	// Nothing listens here, so survey lookups fall back to the database.
	cfg.Cache.Enabled = true
	cfg.Cache.Addr = "127.0.0.1:1"

	db, err := database.Open(&cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	e, err := newEngine(t.Context(), cfg, db)
	if err != nil {
		t.Fatalf("newEngine() error = %v", err)
	}
	defer e.Close()

	if e.service == nil || e.bus == nil || e.participants == nil || e.events == nil {
		t.Fatalf("newEngine() left collaborators unset: %+v", e)
	}
	if e.redis != nil {
		t.Error("unreachable cache should not be kept")
	}

	if err := e.service.DeleteAllForOwner(t.Context(), "nobody"); err != nil {
		t.Errorf("DeleteAllForOwner() error = %v", err)
	}
}

func TestCLI_ScheduleLifecycle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BRIDGESCHED_DATABASE_PATH", filepath.Join(dir, "cli.db"))

	planPath := filepath.Join(dir, "plans.yaml")
	if err := os.WriteFile(planPath, []byte(cliPlanYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	out := runCLI(t, "plans", "import", planPath)
	if !strings.Contains(out, "Imported 1 schedule plans") {
		t.Errorf("unexpected import output:\n%s", out)
	}

	runCLI(t, "participants", "enroll",
		"--app", "study",
		"--health-code", "hc-cli",
		"--created-on", "2024-03-04T09:00:00Z")

	out = runCLI(t, "activities", "current",
		"--health-code", "hc-cli",
		"--starts-on", "2024-03-04",
		"--days", "2",
		"--now", "2024-03-04T09:30:00Z",
		"--json")

	var current []*models.ScheduledActivity
	if err := json.Unmarshal([]byte(out), &current); err != nil {
		t.Fatalf("decoding current activities: %v\n%s", err, out)
	}
	if len(current) != 2 {
		t.Fatalf("got %d current activities, want 2:\n%s", len(current), out)
	}
	if current[0].GUID != "tap:2024-03-04T10:00:00.000" || current[1].GUID != "tap:2024-03-05T10:00:00.000" {
		t.Errorf("unexpected guids %s, %s", current[0].GUID, current[1].GUID)
	}

	runCLI(t, "activities", "finish",
		"--health-code", "hc-cli",
		"--guid", "tap:2024-03-04T10:00:00.000",
		"--started-on", "2024-03-04T10:01:00Z",
		"--finished-on", "2024-03-04T10:06:00Z")

	out = runCLI(t, "activities", "history",
		"--health-code", "hc-cli",
		"--starts-on", "2024-03-04",
		"--days", "2",
		"--now", "2024-03-04T11:00:00Z",
		"--json")

	var history []*models.ScheduledActivity
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("decoding history: %v\n%s", err, out)
	}
	if len(history) != 2 || history[0].FinishedOn == nil {
		t.Fatalf("expected the first activity finished in history:\n%s", out)
	}

	out = runCLI(t, "participants", "show", "--health-code", "hc-cli")
	for _, want := range []string{models.EventEnrollment, models.ActivityFinishedEventID("tap"), models.EventActivitiesRetrieved} {
		if !strings.Contains(out, want) {
			t.Errorf("participant events missing %q:\n%s", want, out)
		}
	}

	runCLI(t, "activities", "purge", "--health-code", "hc-cli")
	out = runCLI(t, "participants", "show", "--health-code", "hc-cli")
	if strings.Contains(out, models.EventEnrollment) {
		t.Errorf("events should be purged:\n%s", out)
	}

	out = runCLI(t, "migrate", "status")
	if !strings.Contains(out, "No pending migrations.") {
		t.Errorf("unexpected migrate status output:\n%s", out)
	}
}
