package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/authcode"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/db"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/session"
)

// testConfig writes a config backed by a sqlite file in a temp dir.
func testConfig(t *testing.T, extra string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "waybill.yaml")
	body := "store:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "wb.db") + "\n" +
		"media:\n  dir: " + filepath.Join(dir, "uploads") + "\n" +
		"log:\n  level: error\n" + extra
	if err := writeTestFile(path, body); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestDBCmd_Help(t *testing.T) {
	out, err := runCmd(t, "db", "--help")
	if err != nil {
		t.Fatalf("db --help failed: %v", err)
	}
	if !strings.Contains(out, "Database management") {
		t.Errorf("expected help to mention 'Database management', got: %s", out)
	}
	if !strings.Contains(out, "migrate") {
		t.Errorf("expected help to list 'migrate' subcommand, got: %s", out)
	}
}

func TestDBMigrate(t *testing.T) {
	_, cfgPath := testConfig(t, "")
	out, err := runCmd(t, "db", "migrate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Connected to sqlite store") {
		t.Errorf("missing connect line: %s", out)
	}
	if !strings.Contains(out, "Migrated 3 tables") {
		t.Errorf("missing migrate line: %s", out)
	}
}

func TestDBMigrate_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "db", "migrate", "--config", "/nonexistent/waybill.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestDBMigrate_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "waybill.yaml")
	if err := writeTestFile(cfgPath, "store:\n  driver: postgres\n"); err != nil {
		t.Fatal(err)
	}
	_, err := runCmd(t, "db", "migrate", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "store.driver") {
		t.Fatalf("err = %v, want store.driver validation error", err)
	}
}

func TestRecordsImport_JSON(t *testing.T) {
	dir, cfgPath := testConfig(t, "")
	src := filepath.Join(dir, "ledger.json")
	body := `[
		{"Name of Ledger": "Acme Traders", "Under": "Sundry Debtors", "phone_number": 9800000001},
		{"Name of Ledger": "Bhairab Stores", "Under": "Sundry Debtors", "phone_number": "9800000002"}
	]`
	if err := writeTestFile(src, body); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "records", "import", src, "-c", cfgPath)
	if err != nil {
		t.Fatalf("records import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Imported 2 records from ledger.json") {
		t.Errorf("output = %q", out)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	got, err := records.NewStore(gormDB).List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].PhoneNumber != "9800000001" {
		t.Errorf("stored records = %+v", got)
	}
}

func TestRecordsImport_InvalidRowRejectsAll(t *testing.T) {
	dir, cfgPath := testConfig(t, "")
	src := filepath.Join(dir, "ledger.json")
	body := `[{"Name of Ledger": "Acme", "Under": "Debtors", "phone_number": "1"}, {"Name of Ledger": "", "Under": "Debtors"}]`
	if err := writeTestFile(src, body); err != nil {
		t.Fatal(err)
	}
	_, err := runCmd(t, "records", "import", src, "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "row 2") {
		t.Fatalf("err = %v, want row 2 rejection", err)
	}
}

func TestRecordsImport_Unsupported(t *testing.T) {
	dir, cfgPath := testConfig(t, "")
	src := filepath.Join(dir, "ledger.csv")
	if err := writeTestFile(src, "a,b\n"); err != nil {
		t.Fatal(err)
	}
	_, err := runCmd(t, "records", "import", src, "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("err = %v, want unsupported file", err)
	}
}

func TestRecordsImport_RequiresFile(t *testing.T) {
	if _, err := runCmd(t, "records", "import"); err == nil {
		t.Fatal("expected argument error")
	}
}

func TestRemind_DryRun(t *testing.T) {
	dir, cfgPath := testConfig(t, "reminder:\n  currency: USD\n")
	src := filepath.Join(dir, "payments.json")
	body := `[
		{"country_code": "977", "number": "9800000001", "days_late": 12, "outstanding_amount": "1,500"},
		{"countryCode": 977, "number": 9800000002, "daysLate": "3", "outstandingAmount": 20, "sendMessage": "N"}
	]`
	if err := writeTestFile(src, body); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "remind", src, "--dry-run", "-c", cfgPath)
	if err != nil {
		t.Fatalf("remind --dry-run: %v\n%s", err, out)
	}
	for _, want := range []string{
		"--- +977 9800000001",
		"Your payment is 12 days overdue.",
		"USD 1,500",
		"send message: n",
		"2 reminders (dry run, nothing sent)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "wb.db")); !os.IsNotExist(err) {
		t.Errorf("dry run should not open the store, stat err = %v", err)
	}
}

func TestRemind_BadPaymentsFile(t *testing.T) {
	_, cfgPath := testConfig(t, "")
	_, err := runCmd(t, "remind", "/nonexistent/payments.xlsx", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "open") {
		t.Fatalf("err = %v, want open error", err)
	}
}

func TestServeCmd_Help(t *testing.T) {
	out, err := runCmd(t, "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help: %v", err)
	}
	for _, want := range []string{"--config", "--port", "waybill.yaml"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q: %s", want, out)
		}
	}
}

func TestLoadConfig_DefaultPathMissingUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Reminder.Currency != "NPR" {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadConfig_ExplicitPathMissing(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "other.yaml")); err == nil {
		t.Fatal("expected error for explicit missing path")
	}
}

func TestNewApp_WiresStack(t *testing.T) {
	dir, cfgPath := testConfig(t, "reminder:\n  schedule: \"0 9 * * *\"\n  source: payments.json\n")
	cfg, log, gormDB, err := connectFromConfig(cfgPath, new(bytes.Buffer))
	if err != nil {
		t.Fatalf("connectFromConfig: %v", err)
	}

	ff := &session.FakeFactory{Configure: func(f *session.FakeChannel) {
		f.InitFunc = func(ctx context.Context, f *session.FakeChannel) error {
			f.Emit(session.Event{Kind: session.EventReady})
			return nil
		}
	}}
	a, err := newApp(cfg, log, gormDB, ff.Factory())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.engine == nil || a.history == nil || a.records == nil || a.teardown == nil {
		t.Fatalf("app not fully wired: %+v", a)
	}
	if a.media.Dir() != filepath.Join(dir, "uploads") {
		t.Errorf("media dir = %q", a.media.Dir())
	}

	st, err := a.lifecycle.EnsureReady(context.Background())
	if err != nil || st != session.Ready {
		t.Fatalf("EnsureReady = %v, %v", st, err)
	}
	if ff.Count() != 1 {
		t.Errorf("factory calls = %d, want 1", ff.Count())
	}

	sched, err := newReminderSchedule(a)
	if err != nil {
		t.Fatalf("newReminderSchedule: %v", err)
	}
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.Local)
	if next := sched.Next(now); !next.Equal(time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)) {
		t.Errorf("Next = %v", next)
	}
}

func TestPrintCode(t *testing.T) {
	p := session.PendingCode{
		Artifact: authcode.Artifact{ImageURL: "data:image/png;base64,AAAA", Terminal: "▀▄▀"},
		IssuedAt: time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC),
	}

	buf := new(bytes.Buffer)
	printCode(buf, p, true)
	if out := buf.String(); !strings.Contains(out, "▀▄▀") || strings.Contains(out, "data:image") {
		t.Errorf("terminal output = %q", out)
	}

	buf.Reset()
	printCode(buf, p, false)
	if out := buf.String(); !strings.Contains(out, "08:30:00") || !strings.Contains(out, "data:image/png;base64,AAAA") {
		t.Errorf("piped output = %q", out)
	}
}

func TestLogCodeSink_OmitsChallenge(t *testing.T) {
	var buf bytes.Buffer
	sink := logCodeSink(zerolog.New(&buf))
	sink(session.PendingCode{
		Artifact: authcode.Artifact{Payload: "2@secret-challenge", ImageURL: "data:image/png;base64,AAAA"},
		IssuedAt: time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC),
	})
	out := buf.String()
	if strings.Contains(out, "secret-challenge") || strings.Contains(out, "base64") {
		t.Errorf("log line leaks the login challenge: %s", out)
	}
	if !strings.Contains(out, "issued_at") || !strings.Contains(out, "/auth/code") {
		t.Errorf("log line = %s, want issue time and /auth/code hint", out)
	}
}
