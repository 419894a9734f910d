package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"retrace/internal/catalog"
	"retrace/internal/logfile"
)

func openStore(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "state", "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEntry(dir string, started time.Time) catalog.Entry {
	return catalog.Entry{
		Dir:           dir,
		SessionID:     "session_1",
		ParticipantID: "participant_1",
		StartedAt:     started,
		EndedAt:       started.Add(10 * time.Second),
		Frames:        600,
		TransformRows: 1200,
		UIRows:        4,
		Keyframes:     2,
	}
}

func TestAddAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	added, err := store.Add(ctx, sampleEntry("/data/Recordings/a", started))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if added.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	if added.Capture != "local" {
		t.Fatalf("expected default capture label, got %q", added.Capture)
	}

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Frames != 600 || !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.Duration() != 10*time.Second {
		t.Fatalf("expected 10s duration, got %s", got.Duration())
	}

	missing, err := store.Get(ctx, added.ID+100)
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing id, got (%v, %v)", missing, err)
	}
}

func TestAddRefreshesExistingFolder(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	first, err := store.Add(ctx, sampleEntry("/data/Recordings/a", started))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	update := sampleEntry("/data/Recordings/a", started)
	update.Frames = 900
	update.Capture = "external"
	second, err := store.Add(ctx, update)
	if err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same id, got %d and %d", first.ID, second.ID)
	}
	if second.Frames != 900 || second.Capture != "external" {
		t.Fatalf("entry not refreshed: %#v", second)
	}

	if _, err := store.Add(ctx, catalog.Entry{}); err == nil {
		t.Fatal("expected error for entry without folder")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, participant := range []string{"p1", "p2", "p1"} {
		e := sampleEntry(filepath.Join("/data", participant, string(rune('a'+i))), base.Add(time.Duration(i)*time.Hour))
		e.ParticipantID = participant
		if _, err := store.Add(ctx, e); err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
	}

	all, err := store.List(ctx, catalog.Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || !all[0].StartedAt.After(all[1].StartedAt) {
		t.Fatalf("expected 3 entries newest first, got %#v", all)
	}

	p1, err := store.List(ctx, catalog.Filter{ParticipantID: "p1"})
	if err != nil {
		t.Fatalf("List p1 failed: %v", err)
	}
	if len(p1) != 2 {
		t.Fatalf("expected 2 entries for p1, got %d", len(p1))
	}

	limited, err := store.List(ctx, catalog.Filter{Limit: 1})
	if err != nil {
		t.Fatalf("List limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != all[0].ID {
		t.Fatalf("expected newest entry only, got %#v", limited)
	}

	removed, err := store.Remove(ctx, all[0].ID)
	if err != nil || !removed {
		t.Fatalf("Remove failed: removed=%v err=%v", removed, err)
	}
	removed, err = store.Remove(ctx, all[0].ID)
	if err != nil || removed {
		t.Fatalf("expected second Remove to report nothing removed: removed=%v err=%v", removed, err)
	}
}

func writeRecording(t *testing.T, root, session string, at time.Time, complete bool) logfile.Recording {
	t.Helper()
	rec, err := logfile.CreateFolder(root, session, "participant_1", at)
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	w, err := logfile.Create(logfile.KindTransform, rec.TransformPath())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	m := logfile.Manifest{
		SchemaVersion:  logfile.SchemaVersion,
		SessionID:      session,
		ParticipantID:  "participant_1",
		FrameRate:      60,
		IFrameInterval: 250,
		Capture:        "local",
		StartedAt:      at,
		Frames:         600,
	}
	if complete {
		ended := at.Add(10 * time.Second)
		m.EndedAt = &ended
	}
	if err := logfile.WriteManifest(rec.ManifestPath(), m); err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	return rec
}

func TestSyncCataloguesCompletedRecordings(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "Recordings")
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)

	done := writeRecording(t, root, "session_1", at, true)
	writeRecording(t, root, "session_2", at.Add(time.Hour), false)

	result, err := store.Sync(ctx, root)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Added != 1 || result.Incomplete != 1 {
		t.Fatalf("unexpected sync result: %#v", result)
	}
	entry, err := store.FindByDir(ctx, done.Dir)
	if err != nil || entry == nil {
		t.Fatalf("expected catalogued recording, got (%v, %v)", entry, err)
	}
	if entry.Keyframes != 2 || entry.Frames != 600 {
		t.Fatalf("unexpected entry: %#v", entry)
	}

	result, err = store.Sync(ctx, root)
	if err != nil || result.Added != 0 {
		t.Fatalf("expected idempotent sync, got %#v, %v", result, err)
	}

	if err := os.RemoveAll(done.Dir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	result, err = store.Sync(ctx, root)
	if err != nil || result.Pruned != 1 {
		t.Fatalf("expected pruned entry, got %#v, %v", result, err)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := catalog.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := catalog.SetSchemaVersionForTest(path, 99); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if _, err := catalog.Open(path); !errors.Is(err, catalog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
