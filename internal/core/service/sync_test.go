package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/storage"
)

func TestSyncEngine_RequiresContext(t *testing.T) {
	h := newHarness(t)
	h.bindTenant(t, "A")
	engine := h.newSync(nil)

	report := engine.PerformSync(context.Background(), true)
	if report.Status != domain.SyncStatusFailed || !errors.Is(report.Err, domain.ErrUserNotSet) {
		t.Errorf("report = %+v, want failed with ErrUserNotSet", report)
	}
	if h.remote.pulls != 0 || h.remote.pushCount() != 0 {
		t.Error("remote must not be called without a bound farmer")
	}
}

func TestSyncEngine_Skips(t *testing.T) {
	ctx := context.Background()

	t.Run("offline", func(t *testing.T) {
		h := newHarness(t)
		h.bind(t, "A", "f1")
		h.online.Store(false)

		report := h.newSync(nil).PerformSync(ctx, false)
		if report.Status != domain.SyncStatusSkipped || !errors.Is(report.Err, domain.ErrSyncSkipped) {
			t.Errorf("report = %+v, want skipped", report)
		}
		if h.remote.pulls != 0 {
			t.Error("skipped sync must not call the remote")
		}
	})

	t.Run("min interval", func(t *testing.T) {
		h := newHarness(t)
		h.bind(t, "A", "f1")
		engine := h.newSync(nil)

		if r := engine.PerformSync(ctx, false); r.Status != domain.SyncStatusSuccess {
			t.Fatalf("first run = %s, %v", r.Status, r.Err)
		}
		h.clock.Add(time.Minute)
		if r := engine.PerformSync(ctx, false); r.Status != domain.SyncStatusSkipped {
			t.Errorf("second run = %s, want skipped", r.Status)
		}
		if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
			t.Errorf("forced run = %s, want success", r.Status)
		}
		h.clock.Add(5 * time.Minute)
		if r := engine.PerformSync(ctx, false); r.Status != domain.SyncStatusSuccess {
			t.Errorf("run after interval = %s, want success", r.Status)
		}
	})

	t.Run("min interval across engines", func(t *testing.T) {
		h := newHarness(t)
		h.bind(t, "A", "f1")

		if r := h.newSync(nil).PerformSync(ctx, false); r.Status != domain.SyncStatusSuccess {
			t.Fatalf("first run = %s, %v", r.Status, r.Err)
		}
		pulls := h.remote.pulls

		h.clock.Add(time.Minute)
		if r := h.newSync(nil).PerformSync(ctx, false); r.Status != domain.SyncStatusSkipped {
			t.Errorf("run on a fresh engine = %s, want skipped", r.Status)
		}
		if h.remote.pulls != pulls {
			t.Error("skipped sync must not call the remote")
		}

		h.clock.Add(5 * time.Minute)
		if r := h.newSync(nil).PerformSync(ctx, false); r.Status != domain.SyncStatusSuccess {
			t.Errorf("run after interval = %s, want success", r.Status)
		}
	})
}

// Farmer f1 edits L1 online, edits it again offline, reconnects and syncs.
func TestSyncEngine_OfflineEditsPushOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	if _, err := h.store.Put(ctx, landRecord("L1", "North")); err != nil {
		t.Fatal(err)
	}
	h.online.Store(false)
	if _, err := h.store.Put(ctx, landRecord("L1", "North field")); err != nil {
		t.Fatal(err)
	}
	before, _ := h.store.Get(ctx, domain.EntityLand, "L1", "")
	if !before.Dirty || before.LocalVersion != 2 {
		t.Fatalf("before sync = %+v", before)
	}

	h.online.Store(true)
	report := engine.PerformSync(ctx, true)
	if report.Status != domain.SyncStatusSuccess {
		t.Fatalf("status = %s, err = %v", report.Status, report.Err)
	}

	if n := h.remote.pushCount(); n != 1 {
		t.Fatalf("pushes = %d, want exactly 1", n)
	}
	pushed := h.remote.pushes[0].Record
	if pushed.LocalVersion != 2 || landName(t, pushed) != "North field" {
		t.Errorf("pushed = %+v", pushed)
	}

	after, _ := h.store.Get(ctx, domain.EntityLand, "L1", "")
	if after.Dirty || after.RemoteVersion == 0 {
		t.Errorf("after sync = %+v", after)
	}

	meta, _ := h.store.GetSyncMetadata(ctx)
	if meta.LastSyncTime.IsZero() || meta.LastSyncStatus != domain.SyncStatusSuccess || meta.PendingPushCount != 0 {
		t.Errorf("metadata = %+v", meta)
	}

	if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
		t.Fatal(r.Err)
	}
	if n := h.remote.pushCount(); n != 1 {
		t.Errorf("second sync pushed again: %d pushes", n)
	}
}

func TestSyncEngine_Idempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	for _, id := range []string{"l1", "l2"} {
		if _, err := h.store.Put(ctx, landRecord(id, "Plot "+id)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.store.Put(ctx, postRecord("p1", "rain today")); err != nil {
		t.Fatal(err)
	}
	h.remote.putRemote(domain.RemoteRecord{
		EntityType: domain.EntityLand, EntityID: "l9", TenantID: "A", OwnerFarmerID: "f1",
		Payload: json.RawMessage(`{"name":"From tablet","area_acres":3}`),
	})

	if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
		t.Fatal(r.Err)
	}

	snapshot := func() ([]*domain.LocalRecord, *domain.SyncMetadata) {
		var all []*domain.LocalRecord
		for _, et := range domain.EntityTypes() {
			recs, err := h.store.List(ctx, et, storage.Filter{IncludeDeleted: true}, "")
			if err != nil {
				t.Fatal(err)
			}
			all = append(all, recs...)
		}
		meta, err := h.store.GetSyncMetadata(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return all, meta
	}

	recs1, meta1 := snapshot()
	if len(recs1) != 4 {
		t.Fatalf("records after first sync = %d, want 4", len(recs1))
	}

	h.clock.Add(time.Minute)
	if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
		t.Fatal(r.Err)
	}
	recs2, meta2 := snapshot()

	if diff := cmp.Diff(recs1, recs2); diff != "" {
		t.Errorf("records changed on second sync (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(meta1, meta2); diff != "" {
		t.Errorf("metadata changed on second sync (-first +second):\n%s", diff)
	}
}

func TestSyncEngine_Tombstones(t *testing.T) {
	ctx := context.Background()

	t.Run("never pushed delete is purged locally", func(t *testing.T) {
		h := newHarness(t)
		h.bind(t, "A", "f1")
		if _, err := h.store.Put(ctx, landRecord("l1", "Temp")); err != nil {
			t.Fatal(err)
		}
		if err := h.store.Delete(ctx, domain.EntityLand, "l1"); err != nil {
			t.Fatal(err)
		}

		report := h.newSync(nil).PerformSync(ctx, true)
		if report.Entities[domain.EntityLand].Purged != 1 {
			t.Errorf("land report = %+v", report.Entities[domain.EntityLand])
		}
		if h.remote.pushCount() != 0 {
			t.Error("purge must not call the remote")
		}
		left, _ := h.store.List(ctx, domain.EntityLand, storage.Filter{IncludeDeleted: true}, "")
		if len(left) != 0 {
			t.Errorf("tombstone still stored: %+v", left)
		}
	})

	t.Run("local delete beats remote update", func(t *testing.T) {
		h := newHarness(t)
		h.bind(t, "A", "f1")
		engine := h.newSync(nil)

		if _, err := h.store.Put(ctx, landRecord("l1", "Shared")); err != nil {
			t.Fatal(err)
		}
		if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
			t.Fatal(r.Err)
		}
		if err := h.store.Delete(ctx, domain.EntityLand, "l1"); err != nil {
			t.Fatal(err)
		}

		// Another device updates l1 while this device cannot push.
		h.remote.putRemote(domain.RemoteRecord{
			EntityType: domain.EntityLand, EntityID: "l1", TenantID: "A", OwnerFarmerID: "f1",
			Payload: json.RawMessage(`{"name":"Renamed elsewhere","area_acres":2}`),
		})
		h.remote.pushErr[domain.EntityLand] = domain.ErrTransportUnavailable

		report := engine.PerformSync(ctx, true)
		if report.Status != domain.SyncStatusPartial {
			t.Errorf("status = %s, want partial", report.Status)
		}
		if report.Entities[domain.EntityLand].KeptLocal != 1 {
			t.Errorf("land report = %+v", report.Entities[domain.EntityLand])
		}
		if _, err := h.store.Get(ctx, domain.EntityLand, "l1", ""); !errors.Is(err, domain.ErrRecordNotFound) {
			t.Errorf("Get() error = %v, tombstone must win", err)
		}

		delete(h.remote.pushErr, domain.EntityLand)
		if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
			t.Fatal(r.Err)
		}
		if rr := h.remote.remoteRecord("A", "f1", domain.EntityLand, "l1"); rr == nil || !rr.Deleted {
			t.Errorf("remote record = %+v, want deleted", rr)
		}
		left, _ := h.store.List(ctx, domain.EntityLand, storage.Filter{IncludeDeleted: true}, "")
		if len(left) != 0 {
			t.Errorf("confirmed tombstone still stored: %+v", left)
		}
	})
}

func TestSyncEngine_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	if _, err := h.store.Put(ctx, landRecord("l1", "Mine")); err != nil {
		t.Fatal(err)
	}
	if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
		t.Fatal(r.Err)
	}

	h.remote.putRemote(domain.RemoteRecord{
		EntityType: domain.EntityLand, EntityID: "l1", TenantID: "A", OwnerFarmerID: "f1",
		Payload: json.RawMessage(`{"name":"Theirs","area_acres":2}`),
	})
	report := engine.PerformSync(ctx, true)
	if report.Entities[domain.EntityLand].Updated != 1 {
		t.Errorf("land report = %+v", report.Entities[domain.EntityLand])
	}

	rec, err := h.store.Get(ctx, domain.EntityLand, "l1", "")
	if err != nil {
		t.Fatal(err)
	}
	remote := h.remote.remoteRecord("A", "f1", domain.EntityLand, "l1")
	if landName(t, rec) != "Theirs" || rec.RemoteVersion != remote.Version || rec.Dirty {
		t.Errorf("local = %+v, remote version %d", rec, remote.Version)
	}
}

func TestSyncEngine_PartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	if _, err := h.store.Put(ctx, landRecord("l1", "North")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.Put(ctx, postRecord("p1", "hello")); err != nil {
		t.Fatal(err)
	}
	h.remote.pushErr[domain.EntityPost] = domain.ErrRemoteRejected
	h.remote.pullErr[domain.EntitySchedule] = domain.ErrTransportUnavailable

	report := engine.PerformSync(ctx, true)
	if report.Status != domain.SyncStatusPartial {
		t.Errorf("status = %s, want partial", report.Status)
	}
	if report.Entities[domain.EntityLand].Pushed != 1 {
		t.Errorf("land must still be pushed: %+v", report.Entities[domain.EntityLand])
	}
	if report.PendingPush != 1 {
		t.Errorf("PendingPush = %d, want 1", report.PendingPush)
	}

	meta, _ := h.store.GetSyncMetadata(ctx)
	if meta.LastSyncStatus != domain.SyncStatusPartial || meta.PendingPushCount != 1 || meta.LastError == "" {
		t.Errorf("metadata = %+v", meta)
	}
	if _, ok := meta.EntityErrors[domain.EntityPost]; !ok {
		t.Error("post error not recorded")
	}
	if _, ok := meta.EntityErrors[domain.EntitySchedule]; !ok {
		t.Error("schedule error not recorded")
	}
	if _, ok := meta.EntityErrors[domain.EntityLand]; ok {
		t.Error("land must have no error")
	}

	delete(h.remote.pushErr, domain.EntityPost)
	delete(h.remote.pullErr, domain.EntitySchedule)
	if r := engine.PerformSync(ctx, true); r.Status != domain.SyncStatusSuccess {
		t.Fatal(r.Err)
	}
	meta, _ = h.store.GetSyncMetadata(ctx)
	if len(meta.EntityErrors) != 0 || meta.LastError != "" {
		t.Errorf("errors not cleared on success: %+v", meta)
	}
}

func TestSyncEngine_AllFailed(t *testing.T) {
	h := newHarness(t)
	h.bind(t, "A", "f1")
	for _, et := range domain.EntityTypes() {
		h.remote.pullErr[et] = domain.ErrTransportUnavailable
	}

	report := h.newSync(nil).PerformSync(context.Background(), true)
	if report.Status != domain.SyncStatusFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if !errors.Is(report.Err, domain.ErrTransportUnavailable) {
		t.Errorf("Err = %v, want transport cause", report.Err)
	}
	if got := testutil.ToFloat64(h.metrics.SyncRuns.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs metric = %v", got)
	}
}

func TestSyncEngine_Paging(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(&SyncConfig{PageSize: 2, MaxPages: 2})

	for i := 0; i < 5; i++ {
		h.remote.putRemote(domain.RemoteRecord{
			EntityType: domain.EntityPost, EntityID: "p" + string(rune('a'+i)), TenantID: "A", OwnerFarmerID: "f1",
			Payload: json.RawMessage(`{"body":"post"}`),
		})
	}

	report := engine.PerformSync(ctx, true)
	if got := report.Entities[domain.EntityPost].Inserted; got != 4 {
		t.Errorf("first run inserted %d, want 4", got)
	}

	report = engine.PerformSync(ctx, true)
	if got := report.Entities[domain.EntityPost].Inserted; got != 1 {
		t.Errorf("second run inserted %d, want 1", got)
	}

	posts, _ := h.store.List(ctx, domain.EntityPost, storage.Filter{}, "")
	if len(posts) != 5 {
		t.Errorf("posts = %d, want 5", len(posts))
	}
}

func TestSyncEngine_PagingKeepsRowsSharingBoundaryTimestamp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(&SyncConfig{PageSize: 2, MaxPages: 1})

	t1 := testNow.Add(time.Minute)
	t2 := t1.Add(time.Minute)
	for _, p := range []struct {
		id string
		at time.Time
	}{{"pa", t1}, {"pb", t2}, {"pc", t2}} {
		h.remote.putRemoteAt(domain.RemoteRecord{
			EntityType: domain.EntityPost, EntityID: p.id, TenantID: "A", OwnerFarmerID: "f1",
			Payload: json.RawMessage(`{"body":"post"}`),
		}, p.at)
	}

	report := engine.PerformSync(ctx, true)
	if got := report.Entities[domain.EntityPost].Inserted; got != 2 {
		t.Errorf("first run inserted %d, want 2", got)
	}
	meta, _ := h.store.GetSyncMetadata(ctx)
	if w := meta.Watermarks[domain.EntityPost]; !w.Equal(t1) {
		t.Errorf("watermark after a cut pull = %v, want %v", w, t1)
	}

	report = engine.PerformSync(ctx, true)
	if got := report.Entities[domain.EntityPost].Inserted; got != 1 {
		t.Errorf("second run inserted %d, want 1", got)
	}
	meta, _ = h.store.GetSyncMetadata(ctx)
	if w := meta.Watermarks[domain.EntityPost]; !w.Equal(t2) {
		t.Errorf("watermark after a full pull = %v, want %v", w, t2)
	}

	posts, _ := h.store.List(ctx, domain.EntityPost, storage.Filter{}, "")
	if len(posts) != 3 {
		t.Errorf("posts = %d, want 3", len(posts))
	}
}

func TestSyncEngine_EditDuringPushStaysDirty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	if _, err := h.store.Put(ctx, landRecord("l1", "Before")); err != nil {
		t.Fatal(err)
	}
	var once sync.Once
	h.remote.pushHook = func(*PushRequest) {
		once.Do(func() {
			if _, err := h.store.Put(ctx, landRecord("l1", "Edited during push")); err != nil {
				t.Error(err)
			}
		})
	}

	engine.PerformSync(ctx, true)

	rec, err := h.store.Get(ctx, domain.EntityLand, "l1", "")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Dirty || landName(t, rec) != "Edited during push" || rec.RemoteVersion == 0 {
		t.Errorf("record = %+v", rec)
	}
	meta, _ := h.store.GetSyncMetadata(ctx)
	if meta.PendingPushCount != 1 {
		t.Errorf("PendingPushCount = %d, want 1", meta.PendingPushCount)
	}

	h.remote.pushHook = nil
	engine.PerformSync(ctx, true)
	rec, _ = h.store.Get(ctx, domain.EntityLand, "l1", "")
	if rec.Dirty {
		t.Error("record should be clean after the next sync")
	}
}

func TestSyncEngine_CoalescesOverlappingRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	if _, err := h.store.Put(ctx, landRecord("l1", "North")); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.remote.pushHook = func(*PushRequest) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	first := engine.PerformSyncAsync(ctx, true)
	<-started
	second := engine.PerformSyncAsync(ctx, true)
	time.Sleep(20 * time.Millisecond)
	close(release)

	r1, r2 := <-first, <-second
	if r1.Status != domain.SyncStatusSuccess || r2.Status != domain.SyncStatusSuccess {
		t.Errorf("statuses = %s, %s", r1.Status, r2.Status)
	}
	if n := h.remote.pushCount(); n != 1 {
		t.Errorf("pushes = %d, want 1", n)
	}
}

func TestSyncEngine_CallerCancellationDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	h.bind(t, "A", "f1")
	if _, err := h.store.Put(context.Background(), landRecord("l1", "North")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.remote.pushHook = func(*PushRequest) { cancel() }

	report := h.newSync(nil).PerformSync(ctx, true)
	if report.Status != domain.SyncStatusSuccess {
		t.Errorf("status = %s, err = %v", report.Status, report.Err)
	}
}

func TestSyncEngine_Subscribe(t *testing.T) {
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	events, unsubscribe := engine.Subscribe()
	report := engine.PerformSync(context.Background(), true)

	first := <-events
	if first.Status != domain.SyncStatusSyncing {
		t.Errorf("first event = %s, want syncing", first.Status)
	}
	last := <-events
	if last.Status != domain.SyncStatusSuccess || last.Report != report {
		t.Errorf("last event = %+v", last)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	engine.PerformSync(context.Background(), true)
}

func TestSyncEngine_AsyncDoesNotLeak(t *testing.T) {
	h := newHarness(t)
	h.bind(t, "A", "f1")
	engine := h.newSync(nil)

	// Warm up so the partition writers exist before the leak baseline.
	engine.PerformSync(context.Background(), true)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case r := <-engine.PerformSyncAsync(ctx, true):
		if r.Status != domain.SyncStatusSuccess {
			t.Errorf("status = %s", r.Status)
		}
	case <-ctx.Done():
		t.Fatal("async sync did not finish")
	}
}

func TestIdempotencyKey(t *testing.T) {
	base := &domain.LocalRecord{TenantID: "A", OwnerFarmerID: "f1", EntityType: domain.EntityLand, EntityID: "l1", LocalVersion: 3}

	key := IdempotencyKey(base)
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}
	if IdempotencyKey(base.Clone()) != key {
		t.Error("same record version must produce the same key")
	}

	tests := []struct {
		name   string
		mutate func(r *domain.LocalRecord)
	}{
		{"local version", func(r *domain.LocalRecord) { r.LocalVersion = 4 }},
		{"tenant", func(r *domain.LocalRecord) { r.TenantID = "B" }},
		{"owner", func(r *domain.LocalRecord) { r.OwnerFarmerID = "f2" }},
		{"entity id", func(r *domain.LocalRecord) { r.EntityID = "l2" }},
		{"segment boundary", func(r *domain.LocalRecord) { r.TenantID, r.OwnerFarmerID = "Af", "1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base.Clone()
			tt.mutate(r)
			if IdempotencyKey(r) == key {
				t.Error("key collision")
			}
		})
	}
}
