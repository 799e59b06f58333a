// Package pipeline coordinates the meeting lifecycle: joining bots, ingesting
// recordings, running the processors, and maintaining the revision history.
// All policy lives here; the API layer only translates requests.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"murmur/internal/config"
	"murmur/internal/crypto"
	"murmur/internal/logging"
	"murmur/internal/meetings"
	"murmur/internal/notifications"
	"murmur/internal/services"
	"murmur/internal/services/recallbot"
	"murmur/internal/services/summarizer"
	"murmur/internal/services/transcriber"
	"murmur/internal/vault"
)

// Provider is the bot-provider surface the orchestrator depends on.
type Provider interface {
	Join(ctx context.Context, meetingURL, botName string) (string, error)
	GetStatus(ctx context.Context, botID string) (recallbot.Status, error)
	DownloadAudio(ctx context.Context, audioURL string) (io.ReadCloser, error)
	Leave(ctx context.Context, botID string) error
}

// Transcriber converts a decrypted audio file into text and segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (transcriber.Result, error)
}

// Summarizer condenses transcript text into a summary and action items.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (summarizer.Summary, error)
}

// Orchestrator owns the per-meeting state machine.
type Orchestrator struct {
	cfg         *config.Config
	store       *meetings.Store
	vault       *vault.Vault
	wrapper     *crypto.KeyWrapper
	provider    Provider
	transcriber Transcriber
	summarizer  Summarizer
	notifier    notifications.Service
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// background tracks ingest and process goroutines for clean shutdown.
	background sync.WaitGroup
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Config      *config.Config
	Store       *meetings.Store
	Vault       *vault.Vault
	Wrapper     *crypto.KeyWrapper
	Provider    Provider
	Transcriber Transcriber
	Summarizer  Summarizer
	Notifier    notifications.Service
	Logger      *slog.Logger
}

// New wires an orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(config.Notifications{})
	}
	return &Orchestrator{
		cfg:         deps.Config,
		store:       deps.Store,
		vault:       deps.Vault,
		wrapper:     deps.Wrapper,
		provider:    deps.Provider,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		locks:       map[string]*sync.Mutex{},
	}
}

// Wait blocks until all background ingest and processing tasks finish.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// lockMeeting serializes revision and processing work for one meeting while
// leaving other meetings untouched.
func (o *Orchestrator) lockMeeting(id string) func() {
	o.mu.Lock()
	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// ownedMeeting loads a meeting and enforces ownership. Policy order matters:
// a meeting the user does not own yields ErrOwnership, never ErrNotFound.
func (o *Orchestrator) ownedMeeting(ctx context.Context, userID, meetingID string) (*meetings.Meeting, error) {
	meeting, err := o.store.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "meeting lookup", meetingID, nil)
	}
	if meeting.UserID != userID {
		return nil, services.Wrap(services.ErrOwnership, "", "meeting lookup", meetingID, nil)
	}
	return meeting, nil
}

// Join dispatches a bot into a meeting and registers the meeting record.
func (o *Orchestrator) Join(ctx context.Context, userID, meetingURL, botName string) (*meetings.Meeting, error) {
	botID, err := o.provider.Join(ctx, meetingURL, botName)
	if err != nil {
		return nil, err
	}
	meeting, err := o.store.Create(ctx, botID, userID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("bot joined meeting",
		logging.String(logging.FieldMeetingID, meeting.ID),
		logging.String(logging.FieldUserID, userID))
	return meeting, nil
}

// Leave asks the provider to pull the bot out of the call.
func (o *Orchestrator) Leave(ctx context.Context, userID, meetingID string) error {
	if _, err := o.ownedMeeting(ctx, userID, meetingID); err != nil {
		return err
	}
	return o.provider.Leave(ctx, meetingID)
}

// ListMeetings returns the user's meetings, newest first.
func (o *Orchestrator) ListMeetings(ctx context.Context, userID string) ([]*meetings.Meeting, error) {
	return o.store.ListByUser(ctx, userID)
}

// Delete crypto-shreds a meeting: the key record goes first, then revisions
// and the meeting row, then best-effort file unlinking. Once the key is gone
// the vault blobs are unrecoverable regardless of unlink success.
func (o *Orchestrator) Delete(ctx context.Context, userID, meetingID string) error {
	meeting, err := o.ownedMeeting(ctx, userID, meetingID)
	if err != nil {
		return err
	}

	unlock := o.lockMeeting(meetingID)
	defer unlock()

	paths := []string{meeting.FilePaths.Audio, meeting.FilePaths.Transcript, meeting.FilePaths.Summary}
	revisions, err := o.store.ListRevisions(ctx, meetingID)
	if err != nil {
		return err
	}
	for _, rev := range revisions {
		paths = append(paths, rev.FilePath)
	}

	if err := o.store.Delete(ctx, meetingID); err != nil {
		return err
	}
	if failed := o.vault.Remove(paths...); len(failed) > 0 {
		o.logger.Warn("some vault files could not be unlinked after shred",
			logging.String(logging.FieldMeetingID, meetingID),
			logging.Int("remaining", len(failed)))
	}
	o.logger.Info("meeting deleted", logging.String(logging.FieldMeetingID, meetingID))
	return nil
}

// Retry re-enters processing for a meeting that already has audio. A meeting
// currently transcribing is left alone so two processors never race.
func (o *Orchestrator) Retry(ctx context.Context, userID, meetingID string) error {
	meeting, err := o.ownedMeeting(ctx, userID, meetingID)
	if err != nil {
		return err
	}
	switch meeting.ProcessState {
	case meetings.StateInitializing, meetings.StateDownloading:
		return services.Wrap(services.ErrValidation, "", "retry", "no audio ingested yet", nil)
	case meetings.StateTranscribing:
		return services.Wrap(services.ErrValidation, "", "retry", "processing already in progress", nil)
	}
	if meeting.FilePaths.Audio == "" {
		return services.Wrap(services.ErrValidation, "", "retry", "meeting has no audio artifact", nil)
	}

	o.spawnProcess(meetingID)
	return nil
}

// Resume restarts processing for meetings interrupted by a daemon stop.
// Meetings stuck mid-download return to initializing so the next status poll
// re-triggers ingestion.
func (o *Orchestrator) Resume(ctx context.Context) error {
	stuck, err := o.store.ListByStates(ctx, meetings.StateDownloading)
	if err != nil {
		return err
	}
	for _, meeting := range stuck {
		if err := o.store.SetState(ctx, meeting.ID, meetings.StateInitializing); err != nil {
			return err
		}
		o.logger.Info("reset interrupted download",
			logging.String(logging.FieldMeetingID, meeting.ID))
	}

	pending, err := o.store.ListByStates(ctx, meetings.StateDownloaded, meetings.StateTranscribing)
	if err != nil {
		return err
	}
	for _, meeting := range pending {
		o.logger.Info("resuming processing",
			logging.String(logging.FieldMeetingID, meeting.ID),
			logging.String("state", string(meeting.ProcessState)))
		o.spawnProcess(meeting.ID)
	}

	// Meetings that failed after ingesting audio get one fresh attempt per
	// daemon start, delayed so a flapping engine is not hammered at boot.
	failed, err := o.store.ListByStates(ctx, meetings.StateFailed)
	if err != nil {
		return err
	}
	retryDelay := time.Duration(o.cfg.Workflow.ErrorRetryInterval) * time.Second
	for _, meeting := range failed {
		if meeting.FilePaths.Audio == "" {
			continue
		}
		o.logger.Info("scheduling retry of failed meeting",
			logging.String(logging.FieldMeetingID, meeting.ID),
			logging.Int("delay_seconds", int(retryDelay/time.Second)))
		o.background.Add(1)
		go func(id string) {
			defer o.background.Done()
			timer := time.NewTimer(retryDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			o.spawnProcess(id)
		}(meeting.ID)
	}
	return nil
}
