package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"murmur/internal/config"
	"murmur/internal/crypto"
	"murmur/internal/meetings"
	"murmur/internal/pipeline"
	"murmur/internal/services"
	"murmur/internal/services/recallbot"
	"murmur/internal/services/summarizer"
	"murmur/internal/services/transcriber"
	"murmur/internal/testsupport"
	"murmur/internal/vault"
)

type fakeProvider struct {
	mu        sync.Mutex
	status    recallbot.Status
	audio     []byte
	joins     int
	downloads int
	leaves    int
}

func (p *fakeProvider) Join(ctx context.Context, meetingURL, botName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joins++
	return fmt.Sprintf("bot-%d", p.joins), nil
}

func (p *fakeProvider) GetStatus(ctx context.Context, botID string) (recallbot.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

func (p *fakeProvider) DownloadAudio(ctx context.Context, audioURL string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads++
	return io.NopCloser(bytes.NewReader(p.audio)), nil
}

func (p *fakeProvider) Leave(ctx context.Context, botID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaves++
	return nil
}

func (p *fakeProvider) setStatus(status recallbot.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *fakeProvider) downloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloads
}

type fakeTranscriber struct {
	result transcriber.Result
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (transcriber.Result, error) {
	if f.err != nil {
		return transcriber.Result{}, f.err
	}
	if _, err := os.Stat(audioPath); err != nil {
		return transcriber.Result{}, fmt.Errorf("staged audio missing: %w", err)
	}
	return f.result, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, transcript string) (summarizer.Summary, error) {
	return summarizer.Summary{
		Summary: "sum: " + transcript,
		Actions: []string{"follow up"},
	}, nil
}

type env struct {
	cfg      *config.Config
	store    *meetings.Store
	vault    *vault.Vault
	provider *fakeProvider
	orch     *pipeline.Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	writeMediaStubs(t, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	wrapper := testsupport.MustKeyWrapper(t, cfg)
	v, err := vault.New(cfg.Paths.VaultDir)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	provider := &fakeProvider{audio: bytes.Repeat([]byte("meeting audio "), 256)}
	orch := pipeline.New(pipeline.Deps{
		Config:   cfg,
		Store:    store,
		Vault:    v,
		Wrapper:  wrapper,
		Provider: provider,
		Transcriber: &fakeTranscriber{result: transcriber.Result{
			Text: "Alice: hello. Bob: hi there.",
			Segments: []transcriber.Segment{
				{Start: 0, End: 2.5, Text: "hello", Speaker: "SPEAKER_00"},
				{Start: 2.5, End: 4, Text: "hi there", Speaker: "SPEAKER_01"},
			},
		}},
		Summarizer: fakeSummarizer{},
	})

	return &env{cfg: cfg, store: store, vault: v, provider: provider, orch: orch}
}

// writeMediaStubs replaces ffmpeg with a stdin passthrough and ffprobe with a
// fixed duration report so ingestion runs without real media tools.
func writeMediaStubs(t *testing.T, cfg *config.Config) {
	t.Helper()

	binDir := t.TempDir()
	ffmpeg := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte("#!/bin/sh\nexec cat\n"), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	ffprobe := filepath.Join(binDir, "ffprobe")
	script := "#!/bin/sh\nprintf '%s' '{\"format\":{\"duration\":\"61.4\"}}'\n"
	if err := os.WriteFile(ffprobe, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}
	cfg.Media.FFmpegBinary = ffmpeg
	cfg.Media.FFprobeBinary = ffprobe
}

// complete runs a meeting from join to the completed state.
func (e *env) complete(t *testing.T, userID string) *meetings.Meeting {
	t.Helper()
	ctx := context.Background()

	meeting, err := e.orch.Join(ctx, userID, "https://meet.example/abc", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	e.provider.setStatus(recallbot.Status{RawStatus: "done", AudioReady: true, AudioURL: "https://recordings.example/a.raw"})
	if _, err := e.orch.PollStatus(ctx, userID, meeting.ID); err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	e.orch.Wait()

	final, err := e.store.GetByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final == nil {
		t.Fatal("meeting disappeared during processing")
	}
	if final.ProcessState != meetings.StateCompleted {
		t.Fatalf("state = %s (error: %q), want completed", final.ProcessState, final.ErrorMessage)
	}
	return final
}

func TestLifecycleCompletes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	meeting, err := e.orch.Join(ctx, "user-1", "https://meet.example/abc", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if meeting.ProcessState != meetings.StateInitializing {
		t.Fatalf("initial state = %s", meeting.ProcessState)
	}

	// Audio not ready yet: poll reports processing and changes nothing.
	e.provider.setStatus(recallbot.Status{RawStatus: "in_call_recording"})
	view, err := e.orch.PollStatus(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if view.Status != "processing" || view.AudioReady {
		t.Fatalf("unexpected early view: %+v", view)
	}

	e.provider.setStatus(recallbot.Status{RawStatus: "done", AudioReady: true, AudioURL: "https://recordings.example/a.raw"})
	view, err = e.orch.PollStatus(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if view.ProcessState != meetings.StateDownloading {
		t.Fatalf("poll did not trigger ingestion: %+v", view)
	}
	e.orch.Wait()

	final, err := e.store.GetByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.ProcessState != meetings.StateCompleted {
		t.Fatalf("state = %s (error: %q)", final.ProcessState, final.ErrorMessage)
	}
	if final.DurationSeconds != 61 {
		t.Fatalf("duration = %d, want 61", final.DurationSeconds)
	}
	if final.ActiveVersion != 1 {
		t.Fatalf("active version = %d, want 1", final.ActiveVersion)
	}
	if final.FilePaths.Audio == "" || final.FilePaths.Transcript == "" || final.FilePaths.Summary == "" {
		t.Fatalf("artifact paths incomplete: %+v", final.FilePaths)
	}

	// Stored audio is ciphertext, not the raw bytes the provider served.
	encAudio, err := os.ReadFile(filepath.Join(e.cfg.Paths.VaultDir, final.FilePaths.Audio))
	if err != nil {
		t.Fatalf("read vault audio: %v", err)
	}
	if bytes.Contains(encAudio, []byte("meeting audio")) {
		t.Fatal("vault audio contains plaintext")
	}

	raw, err := e.orch.ReadCombined(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("ReadCombined: %v", err)
	}
	if !strings.Contains(string(raw), "Alice: hello") || !strings.Contains(string(raw), "sum: Alice") {
		t.Fatalf("combined artifact missing content: %s", raw)
	}

	revisions, err := e.store.ListRevisions(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("revision count = %d, want transcript and summary", len(revisions))
	}
}

func TestConcurrentPollsIngestOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	meeting, err := e.orch.Join(ctx, "user-1", "https://meet.example/abc", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	e.provider.setStatus(recallbot.Status{RawStatus: "done", AudioReady: true, AudioURL: "u"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.orch.PollStatus(ctx, "user-1", meeting.ID); err != nil {
				t.Errorf("PollStatus: %v", err)
			}
		}()
	}
	wg.Wait()
	e.orch.Wait()

	if got := e.provider.downloadCount(); got != 1 {
		t.Fatalf("download count = %d, want exactly 1", got)
	}
}

func TestDiscardWhenBotEndsWithoutAudio(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	meeting, err := e.orch.Join(ctx, "user-1", "https://meet.example/abc", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	e.provider.setStatus(recallbot.Status{RawStatus: "fatal"})

	view, err := e.orch.PollStatus(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("PollStatus: %v", err)
	}
	if !view.Discarded || view.Status != "discarded" {
		t.Fatalf("expected discard view, got %+v", view)
	}

	gone, err := e.store.GetByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if gone != nil {
		t.Fatal("discarded meeting still present")
	}
}

func TestEditCreatesMatchedRevisionPair(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	edited := "Alice: hello everyone. Bob: hi there."
	version, hash, err := e.orch.SaveTranscriptRevision(ctx, "user-1", meeting.ID, edited, nil)
	if err != nil {
		t.Fatalf("SaveTranscriptRevision: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}
	if hash != crypto.ContentHash(edited) {
		t.Fatalf("hash mismatch: %s", hash)
	}

	history, err := e.orch.History(ctx, "user-1", meeting.ID, "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4", len(history))
	}
	for _, kind := range []string{meetings.KindTranscript, meetings.KindSummary} {
		latest, err := e.store.LatestVersion(ctx, meeting.ID, kind)
		if err != nil {
			t.Fatalf("LatestVersion(%s): %v", kind, err)
		}
		if latest != 2 {
			t.Fatalf("latest %s version = %d, want 2", kind, latest)
		}
	}

	// Heads now serve the edited content.
	raw, err := e.orch.ReadCombined(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("ReadCombined: %v", err)
	}
	if !strings.Contains(string(raw), "hello everyone") {
		t.Fatalf("head transcript not updated: %s", raw)
	}

	result, err := e.orch.Verify(ctx, "user-1", pipeline.VerifyRequest{Hash: hash})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Verified || result.Version != 2 || result.Type != meetings.KindTranscript {
		t.Fatalf("unexpected verify result: %+v", result)
	}
}

func TestVerifyByContentAndFuzzySummary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	result, err := e.orch.Verify(ctx, "user-1", pipeline.VerifyRequest{Content: "Alice: hello. Bob: hi there."})
	if err != nil {
		t.Fatalf("Verify by content: %v", err)
	}
	if !result.Verified || result.Version != 1 {
		t.Fatalf("content verify failed: %+v", result)
	}

	// A client copying the rendered summary with action items only matches
	// through the fuzzy path, which needs the meeting id.
	rendered := "SUMMARY: sum: Alice: hello. Bob: hi there. ACTION ITEMS: - follow up"
	noMeeting, err := e.orch.Verify(ctx, "user-1", pipeline.VerifyRequest{Content: rendered})
	if err != nil {
		t.Fatalf("Verify rendered without meeting: %v", err)
	}
	if noMeeting.Verified {
		t.Fatal("rendered summary should not match via exact lookup")
	}

	fuzzy, err := e.orch.Verify(ctx, "user-1", pipeline.VerifyRequest{Content: rendered, MeetingID: meeting.ID})
	if err != nil {
		t.Fatalf("Verify rendered with meeting: %v", err)
	}
	if !fuzzy.Verified || fuzzy.Type != meetings.KindSummary {
		t.Fatalf("fuzzy verify failed: %+v", fuzzy)
	}

	miss, err := e.orch.Verify(ctx, "user-1", pipeline.VerifyRequest{Content: "tampered transcript", MeetingID: meeting.ID})
	if err != nil {
		t.Fatalf("Verify tampered: %v", err)
	}
	if miss.Verified {
		t.Fatal("tampered content verified")
	}
}

func TestRevertCreatesNewVersion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	if _, _, err := e.orch.SaveTranscriptRevision(ctx, "user-1", meeting.ID, "edited text", nil); err != nil {
		t.Fatalf("SaveTranscriptRevision: %v", err)
	}

	history, err := e.orch.History(ctx, "user-1", meeting.ID, meetings.KindTranscript)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var v1 *meetings.Revision
	for _, rev := range history {
		if rev.Version == 1 {
			v1 = rev
		}
	}
	if v1 == nil {
		t.Fatal("version 1 transcript missing from history")
	}

	newVersion, err := e.orch.RevertToRevision(ctx, "user-1", meeting.ID, v1.ID)
	if err != nil {
		t.Fatalf("RevertToRevision: %v", err)
	}
	if newVersion != 3 {
		t.Fatalf("revert produced version %d, want 3", newVersion)
	}

	raw, err := e.orch.ReadCombined(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("ReadCombined: %v", err)
	}
	if !strings.Contains(string(raw), "Alice: hello. Bob: hi there.") {
		t.Fatalf("revert did not restore original text: %s", raw)
	}

	// Reverting a summary revision is rejected.
	summaries, err := e.orch.History(ctx, "user-1", meeting.ID, meetings.KindSummary)
	if err != nil {
		t.Fatalf("History summaries: %v", err)
	}
	if _, err := e.orch.RevertToRevision(ctx, "user-1", meeting.ID, summaries[0].ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("summary revert error = %v, want ErrValidation", err)
	}
}

func TestCheckoutRepointsHeadsWithoutNewRevision(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	if _, _, err := e.orch.SaveTranscriptRevision(ctx, "user-1", meeting.ID, "second version", nil); err != nil {
		t.Fatalf("SaveTranscriptRevision: %v", err)
	}
	audioBefore := meeting.FilePaths.Audio

	if err := e.orch.CheckoutVersion(ctx, "user-1", meeting.ID, 1); err != nil {
		t.Fatalf("CheckoutVersion: %v", err)
	}
	after, err := e.store.GetByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if after.ActiveVersion != 1 {
		t.Fatalf("active version = %d, want 1", after.ActiveVersion)
	}
	if !strings.Contains(after.FilePaths.Transcript, "_v1") || !strings.Contains(after.FilePaths.Summary, "_v1") {
		t.Fatalf("heads not repointed to snapshots: %+v", after.FilePaths)
	}
	if after.FilePaths.Audio != audioBefore {
		t.Fatal("checkout touched the audio path")
	}

	revisions, err := e.store.ListRevisions(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	if len(revisions) != 4 {
		t.Fatalf("checkout created revisions: count = %d, want 4", len(revisions))
	}

	// Checkout back to the newest version restores it exactly.
	if err := e.orch.CheckoutVersion(ctx, "user-1", meeting.ID, 2); err != nil {
		t.Fatalf("CheckoutVersion back: %v", err)
	}
	raw, err := e.orch.ReadCombined(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("ReadCombined: %v", err)
	}
	if !strings.Contains(string(raw), "second version") {
		t.Fatalf("checkout 2 content wrong: %s", raw)
	}

	if err := e.orch.CheckoutVersion(ctx, "user-1", meeting.ID, 9); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing version error = %v, want ErrNotFound", err)
	}
}

func TestDeleteShredsEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	revisions, err := e.store.ListRevisions(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}

	if err := e.orch.Delete(ctx, "user-1", meeting.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	gone, err := e.store.GetByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if gone != nil {
		t.Fatal("meeting row survived delete")
	}
	if record, err := e.store.GetKeyRecord(ctx, meeting.ID); err != nil || record != nil {
		t.Fatalf("key record after delete: %v, %v", record, err)
	}
	for _, rel := range []string{meeting.FilePaths.Audio, meeting.FilePaths.Transcript, meeting.FilePaths.Summary} {
		if e.vault.Exists(rel) {
			t.Fatalf("vault file survived delete: %s", rel)
		}
	}
	for _, rev := range revisions {
		if e.vault.Exists(rev.FilePath) {
			t.Fatalf("snapshot survived delete: %s", rev.FilePath)
		}
	}
}

func TestOwnershipEnforcedBeforeExistence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	if _, err := e.orch.PollStatus(ctx, "intruder", meeting.ID); !errors.Is(err, services.ErrOwnership) {
		t.Fatalf("intruder poll error = %v, want ErrOwnership", err)
	}
	if _, err := e.orch.OpenArtifact(ctx, "intruder", meeting.ID, "audio"); !errors.Is(err, services.ErrOwnership) {
		t.Fatalf("intruder artifact error = %v, want ErrOwnership", err)
	}
	if _, err := e.orch.PollStatus(ctx, "user-1", "no-such-meeting"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing meeting error = %v, want ErrNotFound", err)
	}
}

func TestRetryRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	meeting, err := e.orch.Join(ctx, "user-1", "https://meet.example/abc", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := e.orch.Retry(ctx, "user-1", meeting.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("retry before ingest error = %v, want ErrValidation", err)
	}

	completed := e.complete(t, "user-2")
	if err := e.orch.Retry(ctx, "user-2", completed.ID); err != nil {
		t.Fatalf("Retry completed meeting: %v", err)
	}
	e.orch.Wait()

	latest, err := e.store.LatestVersion(ctx, completed.ID, meetings.KindTranscript)
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if latest != 2 {
		t.Fatalf("retry did not append a fresh revision: latest = %d", latest)
	}
}

func TestRevisionContentAndArtifactStreams(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	meeting := e.complete(t, "user-1")

	history, err := e.orch.History(ctx, "user-1", meeting.ID, meetings.KindTranscript)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	raw, err := e.orch.RevisionContent(ctx, "user-1", history[0].ID)
	if err != nil {
		t.Fatalf("RevisionContent: %v", err)
	}
	if !strings.Contains(string(raw), "Alice: hello") {
		t.Fatalf("revision content wrong: %s", raw)
	}
	if _, err := e.orch.RevisionContent(ctx, "intruder", history[0].ID); !errors.Is(err, services.ErrOwnership) {
		t.Fatalf("intruder revision error = %v, want ErrOwnership", err)
	}

	audio, err := e.orch.OpenArtifact(ctx, "user-1", meeting.ID, "audio")
	if err != nil {
		t.Fatalf("OpenArtifact audio: %v", err)
	}
	defer audio.Close()
	plain, err := io.ReadAll(audio)
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if !bytes.Contains(plain, []byte("meeting audio")) {
		t.Fatal("decrypted audio does not match source")
	}

	if _, err := e.orch.OpenArtifact(ctx, "user-1", meeting.ID, "thumbnail"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("unknown kind error = %v, want ErrValidation", err)
	}
}

func TestIngestFailureMarksMeetingFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// A regular file where the audio directory belongs makes the vault's
	// temp-file creation fail before the transcode pipe is drained, so the
	// failure path must reap ffmpeg instead of waiting on it.
	audioDir := filepath.Join(e.cfg.Paths.VaultDir, "audio")
	if err := os.RemoveAll(audioDir); err != nil {
		t.Fatalf("remove audio dir: %v", err)
	}
	if err := os.WriteFile(audioDir, []byte("in the way"), 0o600); err != nil {
		t.Fatalf("occupy audio path: %v", err)
	}
	e.provider.audio = bytes.Repeat([]byte("x"), 1<<20)

	meeting, err := e.orch.Join(ctx, "user-1", "https://meet.example/abc", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	e.provider.setStatus(recallbot.Status{RawStatus: "done", AudioReady: true, AudioURL: "https://recordings.example/a.raw"})
	if _, err := e.orch.PollStatus(ctx, "user-1", meeting.ID); err != nil {
		t.Fatalf("PollStatus: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("ingest goroutine did not finish after encryption failure")
	}

	final, err := e.store.GetByID(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.ProcessState != meetings.StateFailed {
		t.Fatalf("state = %s, want failed", final.ProcessState)
	}
	if final.ErrorMessage == "" {
		t.Fatal("failure reason should be recorded")
	}
}
