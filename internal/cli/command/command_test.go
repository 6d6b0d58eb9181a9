package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/service"
	"github.com/yndnr/farmsync-go/internal/engine"
)

const (
	testMobile = "9876543210"
	testPIN    = "1234"
	testFarmer = "f1"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeRemote struct {
	mu      sync.Mutex
	creds   map[string]*service.RemoteCredential
	pushes  int
	version uint64

	online atomic.Bool
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{creds: make(map[string]*service.RemoteCredential)}
	f.online.Store(true)
	f.creds["A/"+testMobile] = &service.RemoteCredential{
		FarmerID:     testFarmer,
		TenantID:     "A",
		MobileNumber: testMobile,
		PINHash:      domain.NewPINHasher(domain.DefaultPINSalt).Digest(testPIN),
		Profile:      domain.FarmerProfile{FarmerID: testFarmer, Name: "Asha", Village: "Rampur"},
	}
	return f
}

func (f *fakeRemote) LookupCredential(ctx context.Context, tenantID, mobile string) (*service.RemoteCredential, error) {
	if !f.online.Load() {
		return nil, domain.ErrTransportUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rc, ok := f.creds[tenantID+"/"+mobile]
	if !ok {
		return nil, domain.ErrRemoteNotFound
	}
	clone := *rc
	return &clone, nil
}

func (f *fakeRemote) RecordLogin(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeRemote) PushRecord(ctx context.Context, req *service.PushRequest) (*service.PushResult, error) {
	if !f.online.Load() {
		return nil, domain.ErrTransportUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	f.version++
	return &service.PushResult{Version: f.version, UpdatedAt: time.Now()}, nil
}

func (f *fakeRemote) ChangesSince(ctx context.Context, req *service.ChangesRequest) (*service.ChangesPage, error) {
	if !f.online.Load() {
		return nil, domain.ErrTransportUnavailable
	}
	return &service.ChangesPage{}, nil
}

func (f *fakeRemote) IsOnline(context.Context) bool {
	return f.online.Load()
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

// writeConfig writes a configuration file with its own data directory.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "farmsync.yaml")
	content := `tenant:
  id: A
  domain: a.example
storage:
  data_dir: ` + filepath.Join(dir, "data") + `
agent:
  metrics_addr: ""
  probe_interval: 1s
log:
  level: warn
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, remote *fakeRemote, stdin string, args ...string) result {
	t.Helper()
	return runContext(context.Background(), t, remote, stdin, args...)
}

func runContext(ctx context.Context, t *testing.T, remote *fakeRemote, stdin string, args ...string) result {
	t.Helper()
	var out, errw bytes.Buffer
	deps := engine.Deps{Logger: testLogger}
	if remote != nil {
		deps.Remote = remote
	}
	app := App(WithIO(strings.NewReader(stdin), &out, &errw), WithEngineDeps(deps))
	err := app.RunContext(ctx, append([]string{"farmsync"}, args...))
	return result{stdout: out.String(), stderr: errw.String(), err: err}
}

func decode[T any](t *testing.T, r result) T {
	t.Helper()
	if r.err != nil {
		t.Fatalf("command error = %v (stderr %q)", r.err, r.stderr)
	}
	var v T
	if err := json.Unmarshal([]byte(r.stdout), &v); err != nil {
		t.Fatalf("decode %q: %v", r.stdout, err)
	}
	return v
}

func TestApp_Structure(t *testing.T) {
	app := App()
	want := []string{"login", "logout", "whoami", "sync", "status", "records", "backup", "db", "config", "agent", "version"}
	var got []string
	for _, c := range app.Commands {
		got = append(got, c.Name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestVersion(t *testing.T) {
	r := run(t, nil, "", "version")
	if r.err != nil {
		t.Fatalf("version error = %v", r.err)
	}
	if r.stdout == "" {
		t.Error("version printed nothing")
	}
}

func TestLoginSyncLogout(t *testing.T) {
	cfg := writeConfig(t)
	remote := newFakeRemote()

	login := decode[LoginResult](t, run(t, remote, "", "-c", cfg, "-o", "json",
		"login", "--mobile", testMobile, "--pin", testPIN))
	if login.FarmerID != testFarmer || login.Mode != "online" || login.Name != "Asha" {
		t.Errorf("login = %+v", login)
	}
	if login.SessionID == "" || login.Token == "" {
		t.Errorf("login missing session: %+v", login)
	}

	r := run(t, remote, "", "-c", cfg, "login", "--mobile", testMobile, "--pin", testPIN)
	if r.err == nil || !strings.Contains(r.err.Error(), "already logged in") {
		t.Errorf("second login error = %v", r.err)
	}

	id := decode[Identity](t, run(t, remote, "", "-c", cfg, "-o", "json", "whoami"))
	want := Identity{
		FarmerID:  testFarmer,
		TenantID:  "A",
		Mobile:    testMobile,
		Name:      "Asha",
		Village:   "Rampur",
		SessionID: login.SessionID,
	}
	if diff := cmp.Diff(want, id, cmpopts.IgnoreFields(Identity{}, "ExpiresAt")); diff != "" {
		t.Errorf("whoami mismatch (-want +got):\n%s", diff)
	}

	rec := decode[domain.LocalRecord](t, run(t, remote, "", "-c", cfg, "-o", "json",
		"records", "put", "--id", "l1", "-d", `{"name":"North field","area_acres":2}`, "land"))
	if rec.EntityID != "l1" || rec.OwnerFarmerID != testFarmer || !rec.Dirty {
		t.Errorf("put = %+v", rec)
	}

	r = run(t, remote, "", "-c", cfg, "records", "list", "land")
	if r.err != nil {
		t.Fatalf("list error = %v", r.err)
	}
	if !strings.HasPrefix(r.stdout, "ID") || !strings.Contains(r.stdout, "l1") {
		t.Errorf("list output = %q", r.stdout)
	}

	report := decode[service.SyncReport](t, run(t, remote, "", "-c", cfg, "-o", "json", "sync"))
	if report.Status != domain.SyncStatusSuccess {
		t.Errorf("sync status = %s", report.Status)
	}
	if got := report.Entities[domain.EntityLand]; got == nil || got.Pushed != 1 {
		t.Errorf("land report = %+v", got)
	}
	if remote.pushCount() != 1 {
		t.Errorf("pushes = %d, want 1", remote.pushCount())
	}

	r = run(t, remote, "", "-c", cfg, "sync")
	if r.err != nil {
		t.Fatalf("second sync error = %v", r.err)
	}
	if !strings.Contains(r.stderr, "sync skipped") {
		t.Errorf("second sync stderr = %q", r.stderr)
	}

	st := decode[engine.Status](t, run(t, remote, "", "-c", cfg, "-o", "json", "status"))
	if st.FarmerID != testFarmer || st.PendingPush != 0 || st.LastSyncStatus != domain.SyncStatusSuccess {
		t.Errorf("status = %+v", st)
	}
	if !st.Online || st.Session == nil {
		t.Errorf("status session = %+v, online %v", st.Session, st.Online)
	}

	r = run(t, remote, "", "-c", cfg, "logout")
	if r.err != nil {
		t.Fatalf("logout error = %v", r.err)
	}
	if !strings.Contains(r.stderr, "farmer f1 logged out") {
		t.Errorf("logout stderr = %q", r.stderr)
	}

	r = run(t, remote, "", "-c", cfg, "whoami")
	if r.err == nil || r.err.Error() != "not logged in" {
		t.Errorf("whoami after logout error = %v", r.err)
	}
	r = run(t, remote, "", "-c", cfg, "logout")
	if r.err == nil {
		t.Error("logout without a session should fail")
	}
}

func TestLogin(t *testing.T) {
	t.Run("PIN from stdin", func(t *testing.T) {
		cfg := writeConfig(t)
		r := run(t, newFakeRemote(), testPIN+"\n", "-c", cfg, "-o", "json", "login", "--mobile", testMobile)
		res := decode[LoginResult](t, r)
		if res.FarmerID != testFarmer {
			t.Errorf("login = %+v", res)
		}
		if !strings.Contains(r.stderr, "PIN: ") {
			t.Errorf("stderr = %q, want a prompt", r.stderr)
		}
	})

	t.Run("no PIN", func(t *testing.T) {
		cfg := writeConfig(t)
		r := run(t, newFakeRemote(), "", "-c", cfg, "login", "--mobile", testMobile)
		if r.err == nil || !strings.Contains(r.err.Error(), "no input") {
			t.Errorf("error = %v", r.err)
		}
	})

	t.Run("wrong PIN", func(t *testing.T) {
		cfg := writeConfig(t)
		r := run(t, newFakeRemote(), "", "-c", cfg, "login", "--mobile", testMobile, "--pin", "0000")
		if r.err == nil || !strings.HasPrefix(r.err.Error(), "login failed") {
			t.Errorf("error = %v", r.err)
		}
	})

	t.Run("offline after online login", func(t *testing.T) {
		cfg := writeConfig(t)
		remote := newFakeRemote()
		decode[LoginResult](t, run(t, remote, "", "-c", cfg, "-o", "json",
			"login", "--mobile", testMobile, "--pin", testPIN))
		if r := run(t, remote, "", "-c", cfg, "logout"); r.err != nil {
			t.Fatal(r.err)
		}

		// Logout removes the cached credential, so an offline login fails.
		remote.online.Store(false)
		r := run(t, remote, "", "-c", cfg, "login", "--mobile", testMobile, "--pin", testPIN)
		if r.err == nil {
			t.Error("offline login without a cached credential should fail")
		}
	})
}

func TestRecords_Arguments(t *testing.T) {
	cfg := writeConfig(t)
	remote := newFakeRemote()

	tests := []struct {
		name    string
		args    []string
		wantErr string
		is      error
	}{
		{name: "list without type", args: []string{"records", "list"}, wantErr: "entity type required"},
		{name: "unknown type", args: []string{"records", "get", "tractor", "t1"}, is: domain.ErrUnknownEntityType},
		{name: "get without id", args: []string{"records", "get", "land"}, wantErr: "record ID required"},
		{name: "put without payload", args: []string{"records", "put", "land"}, wantErr: "payload required"},
		{name: "put with both payloads", args: []string{"records", "put", "-d", "{}", "-f", "x.json", "land"}, wantErr: "either --data or --file"},
		{name: "not logged in", args: []string{"records", "list", "land"}, is: domain.ErrUserNotSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, remote, "", append([]string{"-c", cfg}, tt.args...)...)
			if r.err == nil {
				t.Fatal("expected an error")
			}
			if tt.is != nil && !errors.Is(r.err, tt.is) {
				t.Errorf("error = %v, want %v", r.err, tt.is)
			}
			if tt.wantErr != "" && !strings.Contains(r.err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", r.err, tt.wantErr)
			}
		})
	}
}

func TestRecords_PutFromStdinAndDelete(t *testing.T) {
	cfg := writeConfig(t)
	remote := newFakeRemote()
	decode[LoginResult](t, run(t, remote, "", "-c", cfg, "-o", "json",
		"login", "--mobile", testMobile, "--pin", testPIN))

	rec := decode[domain.LocalRecord](t, run(t, remote, `{"name":"South field","area_acres":1.5}`,
		"-c", cfg, "-o", "json", "records", "put", "-f", "-", "land"))
	if rec.EntityID == "" {
		t.Fatal("put did not generate an ID")
	}

	got := decode[domain.LocalRecord](t, run(t, remote, "", "-c", cfg, "-o", "json", "records", "get", "land", rec.EntityID))
	if got.EntityID != rec.EntityID || got.LocalVersion != rec.LocalVersion {
		t.Errorf("get = %+v, want %+v", got, rec)
	}

	r := run(t, remote, "", "-c", cfg, "records", "rm", "land", rec.EntityID)
	if r.err != nil {
		t.Fatalf("delete error = %v", r.err)
	}
	if !strings.Contains(r.stderr, "deleted") {
		t.Errorf("delete stderr = %q", r.stderr)
	}

	list := decode[[]*domain.LocalRecord](t, run(t, remote, "", "-c", cfg, "-o", "json", "records", "list", "land"))
	if len(list) != 0 {
		t.Errorf("list after delete = %d records, want 0", len(list))
	}
	list = decode[[]*domain.LocalRecord](t, run(t, remote, "", "-c", cfg, "-o", "json", "records", "list", "--deleted", "land"))
	if len(list) != 1 || !list[0].DeletedTombstone {
		t.Errorf("list --deleted = %+v", list)
	}

	r = run(t, remote, "", "-c", cfg, "records", "delete", "land", "missing")
	if !errors.Is(r.err, domain.ErrRecordNotFound) {
		t.Errorf("delete missing error = %v", r.err)
	}
}

func TestBackupRestore(t *testing.T) {
	src := writeConfig(t)
	remote := newFakeRemote()
	decode[LoginResult](t, run(t, remote, "", "-c", src, "-o", "json",
		"login", "--mobile", testMobile, "--pin", testPIN))
	decode[domain.LocalRecord](t, run(t, remote, "", "-c", src, "-o", "json",
		"records", "put", "--id", "l1", "-d", `{"name":"North field","area_acres":2}`, "land"))

	file := filepath.Join(t.TempDir(), "device.bak")
	res := decode[BackupResult](t, run(t, remote, "", "-c", src, "-o", "json", "backup", "create", file))
	if res.Bytes == 0 || res.Version == 0 {
		t.Errorf("backup = %+v", res)
	}
	info, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != res.Bytes {
		t.Errorf("file size = %d, reported %d", info.Size(), res.Bytes)
	}

	dst := writeConfig(t)
	r := run(t, remote, "n\n", "-c", dst, "backup", "restore", file)
	if r.err == nil || r.err.Error() != "restore cancelled" {
		t.Fatalf("declined restore error = %v", r.err)
	}

	r = run(t, remote, "", "-c", dst, "-o", "json", "backup", "restore", "--force", file)
	if r.err != nil {
		t.Fatalf("restore error = %v", r.err)
	}
	if !strings.Contains(r.stderr, "restored") {
		t.Errorf("restore stderr = %q", r.stderr)
	}

	// The restored device resumes the session and has the record.
	got := decode[domain.LocalRecord](t, run(t, remote, "", "-c", dst, "-o", "json", "records", "get", "land", "l1"))
	if got.OwnerFarmerID != testFarmer || !got.Dirty {
		t.Errorf("restored record = %+v", got)
	}
}

func TestDB(t *testing.T) {
	cfg := writeConfig(t)
	remote := newFakeRemote()

	r := run(t, remote, "", "-c", cfg, "db", "stats")
	if r.err != nil {
		t.Fatalf("db stats error = %v", r.err)
	}
	if r.stdout == "" {
		t.Error("db stats printed nothing")
	}

	r = run(t, remote, "", "-c", cfg, "-o", "json", "db", "gc")
	if r.err != nil {
		t.Fatalf("db gc error = %v", r.err)
	}
}

func TestConfigCommands(t *testing.T) {
	cfg := writeConfig(t)

	r := run(t, nil, "", "-c", cfg, "config", "path")
	if r.err != nil || strings.TrimSpace(r.stdout) != cfg {
		t.Errorf("config path = %q, %v", r.stdout, r.err)
	}

	show := decode[map[string]any](t, run(t, nil, "", "-c", cfg, "-o", "json", "config", "show"))
	tenant, _ := show["tenant"].(map[string]any)
	if tenant["id"] != "A" {
		t.Errorf("config show tenant = %v", show["tenant"])
	}

	r = run(t, nil, "", "-c", cfg, "config", "validate")
	if r.err != nil || !strings.Contains(r.stdout+r.stderr, "configuration is valid") {
		t.Errorf("validate = %q %q, %v", r.stdout, r.stderr, r.err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("storage:\n  in_memory: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r = run(t, nil, "", "-c", cfg, "config", "validate", bad)
	if r.err == nil {
		t.Error("validate of a config without tenant should fail")
	}

	r = run(t, nil, "", "-c", cfg, "--set", "nokey", "config", "show")
	if r.err == nil || !strings.Contains(r.err.Error(), "key=value") {
		t.Errorf("bad --set error = %v", r.err)
	}
}

func TestAgent_StopsOnCancel(t *testing.T) {
	cfg := writeConfig(t)
	remote := newFakeRemote()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan result, 1)
	go func() {
		done <- runContext(ctx, t, remote, "", "-c", cfg, "agent", "--metrics-addr", "127.0.0.1:0")
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		if r.err != nil {
			t.Errorf("agent error = %v", r.err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
}
