package meetings_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"murmur/internal/crypto"
	"murmur/internal/meetings"
	"murmur/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	meeting, err := store.Create(ctx, "bot-1", "user-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if meeting.ProcessState != meetings.StateInitializing {
		t.Fatalf("new meeting state: %s", meeting.ProcessState)
	}
	if meeting.ActiveVersion != 1 {
		t.Fatalf("active version should default to 1, got %d", meeting.ActiveVersion)
	}

	fetched, err := store.GetByID(ctx, "bot-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.UserID != "user-1" {
		t.Fatalf("unexpected fetched meeting: %#v", fetched)
	}

	missing, err := store.GetByID(ctx, "absent")
	if err != nil {
		t.Fatalf("GetByID for missing meeting: %v", err)
	}
	if missing != nil {
		t.Fatal("missing meeting should return nil")
	}
}

func TestCreateRequiresIdentifiers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.Create(context.Background(), "", "user-1"); err == nil {
		t.Fatal("expected error when meeting id missing")
	}
	if _, err := store.Create(context.Background(), "bot-1", ""); err == nil {
		t.Fatal("expected error when user id missing")
	}
}

func TestListByUserIsScoped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-a", "alice")
	testsupport.NewMeeting(t, store, "bot-b", "alice")
	testsupport.NewMeeting(t, store, "bot-c", "bob")

	mine, err := store.ListByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("alice should see 2 meetings, got %d", len(mine))
	}
	for _, meeting := range mine {
		if meeting.UserID != "alice" {
			t.Fatalf("leaked meeting for %s", meeting.UserID)
		}
	}
}

func TestTransitionStateIsCompareAndSwap(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-1", "user-1")

	ok, err := store.TransitionState(ctx, "bot-1", meetings.StateInitializing, meetings.StateDownloading)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !ok {
		t.Fatal("first transition should win")
	}

	ok, err = store.TransitionState(ctx, "bot-1", meetings.StateInitializing, meetings.StateDownloading)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatal("second transition from a stale state should lose")
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-1", "user-1")

	const attempts = 8
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TransitionState(ctx, "bot-1", meetings.StateInitializing, meetings.StateDownloading)
			if err != nil {
				t.Errorf("transition: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one poller should win the download slot, got %d", winners)
	}
}

func TestConcurrentWritersSerialize(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const writers = 8
	for i := 0; i < writers; i++ {
		testsupport.NewMeeting(t, store, fmt.Sprintf("bot-%d", i), "user-1")
	}

	// Hammer the single WAL writer slot from several goroutines at once.
	// Every write must land; a raw SQLITE_BUSY leaking out is a failure.
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("bot-%d", n)
			for version := 1; version <= 5; version++ {
				if err := store.SetState(ctx, id, meetings.StateTranscribing); err != nil {
					t.Errorf("SetState %s: %v", id, err)
					return
				}
				rev := &meetings.Revision{
					MeetingID:   id,
					Version:     version,
					Kind:        meetings.KindTranscript,
					ContentHash: crypto.ContentHash(fmt.Sprintf("%s v%d", id, version)),
					FilePath:    fmt.Sprintf("data/%s_transcript_v%d.enc", id, version),
				}
				if _, err := store.AddRevision(ctx, rev); err != nil {
					t.Errorf("AddRevision %s v%d: %v", id, version, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("bot-%d", i)
		latest, err := store.LatestVersion(ctx, id, meetings.KindTranscript)
		if err != nil {
			t.Fatalf("LatestVersion %s: %v", id, err)
		}
		if latest != 5 {
			t.Fatalf("%s latest version: got %d want 5", id, latest)
		}
	}
}

func TestKeyRoundTripThroughWrapper(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	wrapper := testsupport.MustKeyWrapper(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-1", "user-1")
	key, iv, err := crypto.GenerateDataKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	if err := store.StoreKey(ctx, wrapper, "bot-1", key, iv); err != nil {
		t.Fatalf("StoreKey: %v", err)
	}

	record, err := store.GetKeyRecord(ctx, "bot-1")
	if err != nil {
		t.Fatalf("GetKeyRecord: %v", err)
	}
	if record == nil || record.Blob == "" || record.Tag == "" {
		t.Fatalf("key record incomplete: %#v", record)
	}

	gotKey, gotIV, err := store.LoadKey(ctx, wrapper, "bot-1")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if !bytes.Equal(gotKey, key) || !bytes.Equal(gotIV, iv) {
		t.Fatal("key round trip mismatch")
	}
}

func TestRevisionHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-1", "user-1")

	for version := 1; version <= 3; version++ {
		for _, kind := range []string{meetings.KindTranscript, meetings.KindSummary} {
			rev := &meetings.Revision{
				MeetingID:   "bot-1",
				Version:     version,
				Kind:        kind,
				ContentHash: crypto.ContentHash(fmt.Sprintf("%s v%d", kind, version)),
				FilePath:    fmt.Sprintf("data/bot-1_%s_v%d.enc", kind, version),
			}
			if _, err := store.AddRevision(ctx, rev); err != nil {
				t.Fatalf("AddRevision %s v%d: %v", kind, version, err)
			}
		}
	}

	latest, err := store.LatestVersion(ctx, "bot-1", meetings.KindTranscript)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if latest != 3 {
		t.Fatalf("latest version: got %d want 3", latest)
	}

	history, err := store.ListRevisions(ctx, "bot-1")
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("history length: got %d want 6", len(history))
	}
	if history[0].Version != 3 {
		t.Fatalf("history should be newest first, got v%d", history[0].Version)
	}

	hash := crypto.ContentHash("transcript v2")
	found, err := store.FindRevisionByHash(ctx, "bot-1", meetings.KindTranscript, hash)
	if err != nil {
		t.Fatalf("FindRevisionByHash: %v", err)
	}
	if found == nil || found.Version != 2 {
		t.Fatalf("hash lookup: %#v", found)
	}

	none, err := store.FindRevisionByHash(ctx, "bot-1", meetings.KindTranscript, crypto.ContentHash("nope"))
	if err != nil {
		t.Fatalf("FindRevisionByHash miss: %v", err)
	}
	if none != nil {
		t.Fatal("unknown hash should return nil")
	}
}

func TestDuplicateVersionRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-1", "user-1")
	rev := &meetings.Revision{
		MeetingID:   "bot-1",
		Version:     1,
		Kind:        meetings.KindTranscript,
		ContentHash: crypto.ContentHash("text"),
		FilePath:    "data/bot-1_transcript_v1.enc",
	}
	if _, err := store.AddRevision(ctx, rev); err != nil {
		t.Fatalf("first revision: %v", err)
	}
	dup := *rev
	dup.ID = 0
	if _, err := store.AddRevision(ctx, &dup); err == nil {
		t.Fatal("duplicate (meeting, kind, version) should be rejected")
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	wrapper := testsupport.MustKeyWrapper(t, cfg)
	ctx := context.Background()

	testsupport.NewMeeting(t, store, "bot-1", "user-1")
	key, iv, err := crypto.GenerateDataKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := store.StoreKey(ctx, wrapper, "bot-1", key, iv); err != nil {
		t.Fatalf("StoreKey: %v", err)
	}
	if _, err := store.AddRevision(ctx, &meetings.Revision{
		MeetingID: "bot-1", Version: 1, Kind: meetings.KindTranscript,
		ContentHash: crypto.ContentHash("text"), FilePath: "data/bot-1_transcript_v1.enc",
	}); err != nil {
		t.Fatalf("AddRevision: %v", err)
	}

	if err := store.Delete(ctx, "bot-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if m, err := store.GetByID(ctx, "bot-1"); err != nil || m != nil {
		t.Fatalf("meeting should be gone: %v %#v", err, m)
	}
	if record, err := store.GetKeyRecord(ctx, "bot-1"); err != nil || record != nil {
		t.Fatalf("key record should be gone: %v %#v", err, record)
	}
	if history, err := store.ListRevisions(ctx, "bot-1"); err != nil || len(history) != 0 {
		t.Fatalf("revisions should be gone: %v %d", err, len(history))
	}

	if err := store.Delete(ctx, "bot-1"); err == nil {
		t.Fatal("deleting a missing meeting should error")
	}
}

func TestStateDisplayName(t *testing.T) {
	if meetings.StateCompleted.DisplayName() != "complete" {
		t.Fatal("completed should display as complete")
	}
	if meetings.StateTranscribing.DisplayName() != "transcribing" {
		t.Fatal("non-terminal states display unchanged")
	}
}

func TestStateWritesBumpTransitionTimestamp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	created := testsupport.NewMeeting(t, store, "bot-1", "user-1")

	time.Sleep(5 * time.Millisecond)
	if err := store.SetState(ctx, "bot-1", meetings.StateTranscribing); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	meeting, err := store.GetByID(ctx, "bot-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !meeting.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updated_at should advance on transition: %v -> %v", created.UpdatedAt, meeting.UpdatedAt)
	}
}
