package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"murmur/internal/crypto"
	"murmur/internal/logging"
	"murmur/internal/meetings"
	"murmur/internal/services"
	"murmur/internal/services/summarizer"
	"murmur/internal/services/transcriber"
)

// writeRevisionPair persists a transcript and its regenerated summary at the
// same version number: head blobs, immutable snapshots, and revision rows.
// Callers must hold the meeting lock.
func (o *Orchestrator) writeRevisionPair(ctx context.Context, meetingID string, key, iv []byte, doc TranscriptDoc, summary summarizer.Summary) (version int, hash string, err error) {
	latest, err := o.store.LatestVersion(ctx, meetingID, meetings.KindTranscript)
	if err != nil {
		return 0, "", err
	}
	version = latest + 1
	hash = crypto.ContentHash(doc.Text)

	transcriptRaw, err := encodeTranscript(doc)
	if err != nil {
		return 0, "", err
	}
	summaryRaw, err := encodeSummary(summary)
	if err != nil {
		return 0, "", err
	}

	type blob struct {
		kind string
		raw  []byte
		hash string
	}
	blobs := []blob{
		{kind: meetings.KindTranscript, raw: transcriptRaw, hash: hash},
		{kind: meetings.KindSummary, raw: summaryRaw, hash: crypto.ContentHash(summary.Summary)},
	}

	for _, b := range blobs {
		snapshot := o.vault.SnapshotPath(meetingID, b.kind, version)
		if err := o.vault.EncryptBufferToFile(snapshot, b.raw, key, iv); err != nil {
			return 0, "", err
		}
		if err := o.vault.EncryptBufferToFile(o.vault.HeadPath(meetingID, b.kind), b.raw, key, iv); err != nil {
			return 0, "", err
		}
		if _, err := o.store.AddRevision(ctx, &meetings.Revision{
			MeetingID:   meetingID,
			Version:     version,
			Kind:        b.kind,
			ContentHash: b.hash,
			FilePath:    snapshot,
		}); err != nil {
			return 0, "", err
		}
	}
	return version, hash, nil
}

// SaveTranscriptRevision stores edited transcript content as a new version
// and regenerates the summary so both kinds stay version-matched.
func (o *Orchestrator) SaveTranscriptRevision(ctx context.Context, userID, meetingID, text string, segments []transcriber.Segment) (version int, hash string, err error) {
	if _, err := o.ownedMeeting(ctx, userID, meetingID); err != nil {
		return 0, "", err
	}
	if text == "" {
		return 0, "", services.Wrap(services.ErrValidation, "", "save revision", "text required", nil)
	}

	unlock := o.lockMeeting(meetingID)
	defer unlock()

	key, iv, err := o.store.LoadKey(ctx, o.wrapper, meetingID)
	if err != nil {
		return 0, "", err
	}

	summary, err := o.summarizer.Summarize(ctx, text)
	if err != nil {
		return 0, "", err
	}

	version, hash, err = o.writeRevisionPair(ctx, meetingID, key, iv,
		TranscriptDoc{Text: text, Segments: segments}, summary)
	if err != nil {
		return 0, "", err
	}

	meeting, err := o.store.GetByID(ctx, meetingID)
	if err != nil {
		return 0, "", err
	}
	meeting.ActiveVersion = version
	meeting.FilePaths.Transcript = o.vault.HeadPath(meetingID, meetings.KindTranscript)
	meeting.FilePaths.Summary = o.vault.HeadPath(meetingID, meetings.KindSummary)
	if err := o.store.Update(ctx, meeting); err != nil {
		return 0, "", err
	}

	logging.WithContext(ctx, o.logger).Info("transcript revision saved",
		logging.String(logging.FieldMeetingID, meetingID),
		logging.Int("version", version))
	return version, hash, nil
}

// RevertToRevision restores an earlier transcript as a new version. History
// is append-only; the snapshot being reverted to is never modified.
func (o *Orchestrator) RevertToRevision(ctx context.Context, userID, meetingID string, revisionID int64) (int, error) {
	if _, err := o.ownedMeeting(ctx, userID, meetingID); err != nil {
		return 0, err
	}

	rev, err := o.store.GetRevision(ctx, revisionID)
	if err != nil {
		return 0, err
	}
	if rev == nil || rev.MeetingID != meetingID {
		return 0, services.Wrap(services.ErrNotFound, "", "revert", fmt.Sprintf("revision %d", revisionID), nil)
	}
	if rev.Kind != meetings.KindTranscript {
		return 0, services.Wrap(services.ErrValidation, "", "revert", "only transcript revisions can be reverted", nil)
	}

	key, iv, err := o.store.LoadKey(ctx, o.wrapper, meetingID)
	if err != nil {
		return 0, err
	}
	raw, err := o.vault.ReadDecrypted(rev.FilePath, key, iv)
	if err != nil {
		return 0, err
	}
	doc, err := decodeTranscript(raw)
	if err != nil {
		return 0, err
	}

	version, _, err := o.SaveTranscriptRevision(ctx, userID, meetingID, doc.Text, doc.Segments)
	return version, err
}

// CheckoutVersion repoints the meeting's head artifacts at an existing
// version's snapshots without creating a new revision. Audio is untouched.
func (o *Orchestrator) CheckoutVersion(ctx context.Context, userID, meetingID string, version int) error {
	meeting, err := o.ownedMeeting(ctx, userID, meetingID)
	if err != nil {
		return err
	}

	unlock := o.lockMeeting(meetingID)
	defer unlock()

	transcript, err := o.store.GetVersion(ctx, meetingID, meetings.KindTranscript, version)
	if err != nil {
		return err
	}
	if transcript == nil {
		return services.Wrap(services.ErrNotFound, "", "checkout", fmt.Sprintf("version %d", version), nil)
	}
	summary, err := o.store.GetVersion(ctx, meetingID, meetings.KindSummary, version)
	if err != nil {
		return err
	}

	meeting.FilePaths.Transcript = transcript.FilePath
	if summary != nil {
		meeting.FilePaths.Summary = summary.FilePath
	}
	meeting.ActiveVersion = version
	return o.store.Update(ctx, meeting)
}

// History lists a meeting's revisions, optionally filtered by kind.
func (o *Orchestrator) History(ctx context.Context, userID, meetingID, kind string) ([]*meetings.Revision, error) {
	if _, err := o.ownedMeeting(ctx, userID, meetingID); err != nil {
		return nil, err
	}
	revisions, err := o.store.ListRevisions(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return revisions, nil
	}
	filtered := revisions[:0]
	for _, rev := range revisions {
		if rev.Kind == kind {
			filtered = append(filtered, rev)
		}
	}
	return filtered, nil
}

// RevisionContent decrypts one snapshot and returns its plaintext JSON.
func (o *Orchestrator) RevisionContent(ctx context.Context, userID string, revisionID int64) ([]byte, error) {
	rev, err := o.store.GetRevision(ctx, revisionID)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "revision content", fmt.Sprintf("revision %d", revisionID), nil)
	}
	if _, err := o.ownedMeeting(ctx, userID, rev.MeetingID); err != nil {
		return nil, err
	}

	key, iv, err := o.store.LoadKey(ctx, o.wrapper, rev.MeetingID)
	if err != nil {
		return nil, err
	}
	return o.vault.ReadDecrypted(rev.FilePath, key, iv)
}

// OpenArtifact opens the head artifact of a kind as a plaintext stream.
// The API layer re-encrypts it under the per-request session envelope.
func (o *Orchestrator) OpenArtifact(ctx context.Context, userID, meetingID, kind string) (io.ReadCloser, error) {
	meeting, err := o.ownedMeeting(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}

	var path string
	switch kind {
	case "audio":
		path = meeting.FilePaths.Audio
	case meetings.KindTranscript:
		path = meeting.FilePaths.Transcript
	case meetings.KindSummary:
		path = meeting.FilePaths.Summary
	default:
		return nil, services.Wrap(services.ErrValidation, "", "open artifact", "unknown kind "+kind, nil)
	}
	if path == "" {
		return nil, services.Wrap(services.ErrNotFound, "", "open artifact", kind+" not available", nil)
	}

	key, iv, err := o.store.LoadKey(ctx, o.wrapper, meetingID)
	if err != nil {
		return nil, err
	}
	return o.vault.OpenDecrypted(path, key, iv)
}

// CombinedDoc is the merged artifact served by the combined data endpoint.
type CombinedDoc struct {
	Transcript string                `json:"transcript"`
	Segments   []transcriber.Segment `json:"segments"`
	Summary    SummaryDoc            `json:"summary"`
}

// ReadCombined merges the transcript and summary heads into one document.
func (o *Orchestrator) ReadCombined(ctx context.Context, userID, meetingID string) ([]byte, error) {
	meeting, err := o.ownedMeeting(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.FilePaths.Transcript == "" || meeting.FilePaths.Summary == "" {
		return nil, services.Wrap(services.ErrNotFound, "", "combined artifact", "artifacts not available", nil)
	}

	key, iv, err := o.store.LoadKey(ctx, o.wrapper, meetingID)
	if err != nil {
		return nil, err
	}
	transcriptRaw, err := o.vault.ReadDecrypted(meeting.FilePaths.Transcript, key, iv)
	if err != nil {
		return nil, err
	}
	summaryRaw, err := o.vault.ReadDecrypted(meeting.FilePaths.Summary, key, iv)
	if err != nil {
		return nil, err
	}

	transcript, err := decodeTranscript(transcriptRaw)
	if err != nil {
		return nil, err
	}
	summary, err := decodeSummary(summaryRaw)
	if err != nil {
		return nil, err
	}

	combined := CombinedDoc{
		Transcript: transcript.Text,
		Segments:   transcript.Segments,
		Summary:    summary,
	}
	if combined.Segments == nil {
		combined.Segments = []transcriber.Segment{}
	}
	raw, err := json.Marshal(combined)
	if err != nil {
		return nil, fmt.Errorf("encode combined artifact: %w", err)
	}
	return raw, nil
}
