package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/tenancy"
	"github.com/yndnr/farmsync-go/internal/storage"
	"github.com/yndnr/farmsync-go/internal/telemetry/metric"
)

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeRemote is an in-memory remote system of record.
type fakeRemote struct {
	mu sync.Mutex

	creds     map[string]*RemoteCredential
	lookupErr error
	loginErr  error
	lookups   int
	logins    int

	serverNow time.Time
	version   uint64
	records   map[string]*domain.RemoteRecord
	seen      map[string]*PushResult
	pushes    []*PushRequest
	pulls     int
	pushErr   map[domain.EntityType]error
	pullErr   map[domain.EntityType]error

	// pushHook runs inside PushRecord before the record is accepted.
	pushHook func(req *PushRequest)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		creds:     make(map[string]*RemoteCredential),
		serverNow: testNow.Add(time.Hour),
		records:   make(map[string]*domain.RemoteRecord),
		seen:      make(map[string]*PushResult),
		pushErr:   make(map[domain.EntityType]error),
		pullErr:   make(map[domain.EntityType]error),
	}
}

var testHasher = domain.NewPINHasher(domain.DefaultPINSalt)

func (f *fakeRemote) addFarmer(tenant, mobile, farmerID, pin string) *RemoteCredential {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc := &RemoteCredential{
		FarmerID:     farmerID,
		TenantID:     tenant,
		MobileNumber: mobile,
		PINHash:      testHasher.Digest(pin),
		Profile:      domain.FarmerProfile{FarmerID: farmerID, Name: "Farmer " + farmerID, Village: "Rampur"},
	}
	f.creds[tenant+"/"+mobile] = rc
	return rc
}

func (f *fakeRemote) LookupCredential(ctx context.Context, tenantID, mobile string) (*RemoteCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	rc, ok := f.creds[tenantID+"/"+mobile]
	if !ok {
		return nil, domain.ErrRemoteNotFound
	}
	clone := *rc
	return &clone, nil
}

func (f *fakeRemote) RecordLogin(ctx context.Context, tenantID, farmerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func remoteKey(tenant, owner string, t domain.EntityType, id string) string {
	return tenant + "/" + owner + "/" + string(t) + "/" + id
}

// putRemote stores a change made by another device.
func (f *fakeRemote) putRemote(r domain.RemoteRecord) *domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	f.serverNow = f.serverNow.Add(time.Second)
	r.Version = f.version
	r.UpdatedAt = f.serverNow
	f.records[remoteKey(r.TenantID, r.OwnerFarmerID, r.EntityType, r.EntityID)] = &r
	clone := r
	return &clone
}

// putRemoteAt stores a remote change with a fixed server timestamp.
func (f *fakeRemote) putRemoteAt(r domain.RemoteRecord, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	r.Version = f.version
	r.UpdatedAt = at
	f.records[remoteKey(r.TenantID, r.OwnerFarmerID, r.EntityType, r.EntityID)] = &r
}

func (f *fakeRemote) PushRecord(ctx context.Context, req *PushRequest) (*PushResult, error) {
	if f.pushHook != nil {
		f.pushHook(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rec := req.Record
	if err := f.pushErr[rec.EntityType]; err != nil {
		return nil, err
	}
	if res, ok := f.seen[req.IdempotencyKey]; ok {
		return res, nil
	}

	f.version++
	f.serverNow = f.serverNow.Add(time.Second)
	f.records[remoteKey(rec.TenantID, rec.OwnerFarmerID, rec.EntityType, rec.EntityID)] = &domain.RemoteRecord{
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		TenantID:      rec.TenantID,
		OwnerFarmerID: rec.OwnerFarmerID,
		Payload:       append(json.RawMessage(nil), rec.Payload...),
		SchemaVersion: rec.SchemaVersion,
		Version:       f.version,
		Deleted:       rec.DeletedTombstone,
		UpdatedAt:     f.serverNow,
	}
	res := &PushResult{Version: f.version, UpdatedAt: f.serverNow}
	f.seen[req.IdempotencyKey] = res
	f.pushes = append(f.pushes, &PushRequest{Record: rec.Clone(), IdempotencyKey: req.IdempotencyKey})
	return res, nil
}

func (f *fakeRemote) ChangesSince(ctx context.Context, req *ChangesRequest) (*ChangesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if err := f.pullErr[req.EntityType]; err != nil {
		return nil, err
	}

	var changed []*domain.RemoteRecord
	for _, r := range f.records {
		if r.TenantID == req.TenantID && r.OwnerFarmerID == req.OwnerFarmerID &&
			r.EntityType == req.EntityType && r.UpdatedAt.After(req.Since) {
			clone := *r
			changed = append(changed, &clone)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].UpdatedAt.Before(changed[j].UpdatedAt) })

	offset := 0
	if req.Cursor != "" {
		offset, _ = strconv.Atoi(req.Cursor)
	}
	end := len(changed)
	if req.Limit > 0 && offset+req.Limit < end {
		end = offset + req.Limit
	}
	page := &ChangesPage{Records: changed[offset:end]}
	if end < len(changed) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeRemote) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeRemote) remoteRecord(tenant, owner string, t domain.EntityType, id string) *domain.RemoteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[remoteKey(tenant, owner, t, id)]
}

// harness wires real tenancy and storage to the fake remote.
type harness struct {
	clock   *testClock
	scope   *tenancy.Context
	kv      *storage.BadgerEngine
	store   *storage.LocalStore
	remote  *fakeRemote
	online  atomic.Bool
	metrics *metric.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kv, err := storage.NewBadgerEngine(storage.InMemoryKVConfig(), testLogger)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		clock:   &testClock{now: testNow},
		kv:      kv,
		remote:  newFakeRemote(),
		metrics: metric.NewRegistry(),
	}
	h.scope = tenancy.New(tenancy.WithClock(h.clock.Now))
	h.store = storage.NewLocalStore(kv, h.scope, storage.WithClock(h.clock.Now), storage.WithLogger(testLogger))
	h.online.Store(true)
	t.Cleanup(func() {
		h.store.Close()
		kv.Close()
	})
	return h
}

func (h *harness) probe() ConnectivityProbe {
	return ProbeFunc(func(context.Context) bool { return h.online.Load() })
}

// bindTenant resolves tenant before login.
func (h *harness) bindTenant(t *testing.T, tenant string) {
	t.Helper()
	h.scope.ClearContext()
	if err := h.scope.SetTenantContext(tenant, tenant+".example"); err != nil {
		t.Fatal(err)
	}
	if err := h.store.InitializeWithTenant(context.Background(), tenant); err != nil {
		t.Fatal(err)
	}
}

// bind resolves tenant and binds farmer without going through login.
func (h *harness) bind(t *testing.T, tenant, farmer string) {
	t.Helper()
	h.bindTenant(t, tenant)
	if err := h.scope.SetUserID(farmer); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) newAuth(config *AuthConfig) *OfflineAuthenticator {
	return NewOfflineAuthenticator(h.store, h.scope, h.remote, h.probe(), config,
		WithAuthLogger(testLogger),
		WithAuthMetrics(h.metrics),
		WithAuthClock(h.clock.Now))
}

func (h *harness) newSync(config *SyncConfig) *SyncEngine {
	return NewSyncEngine(h.store, h.store.Reconciler(), h.scope, h.remote, h.probe(), config,
		WithSyncLogger(testLogger),
		WithSyncMetrics(h.metrics),
		WithSyncClock(h.clock.Now))
}

func landRecord(id, name string) *domain.LocalRecord {
	return &domain.LocalRecord{
		EntityType: domain.EntityLand,
		EntityID:   id,
		Payload:    json.RawMessage(`{"name":"` + name + `","area_acres":2}`),
	}
}

func postRecord(id, body string) *domain.LocalRecord {
	return &domain.LocalRecord{
		EntityType: domain.EntityPost,
		EntityID:   id,
		Payload:    json.RawMessage(`{"body":"` + body + `"}`),
	}
}

func landName(t *testing.T, rec *domain.LocalRecord) string {
	t.Helper()
	entity, err := rec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	return entity.(*domain.LandParcel).Name
}
