package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"murmur/internal/crypto"
	"murmur/internal/logging"
	"murmur/internal/media/ffmpeg"
	"murmur/internal/media/ffprobe"
	"murmur/internal/meetings"
	"murmur/internal/services"
)

// spawnIngest runs ingestion in the background. The meeting is already in
// the downloading state when this is called.
func (o *Orchestrator) spawnIngest(meetingID, audioURL string) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx := services.WithMeetingID(context.Background(), meetingID)
		ctx = services.WithStage(ctx, "downloading")
		if err := o.ingestRecording(ctx, meetingID, audioURL); err != nil {
			o.failMeeting(ctx, meetingID, err)
		}
	}()
}

// ingestRecording pulls provider audio through ffmpeg and into the vault as
// ciphertext. No plaintext audio ever touches disk on this path.
func (o *Orchestrator) ingestRecording(ctx context.Context, meetingID, audioURL string) error {
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("ingesting recording")

	body, err := o.provider.DownloadAudio(ctx, audioURL)
	if err != nil {
		return err
	}
	defer body.Close()

	key, iv, err := crypto.GenerateDataKey()
	if err != nil {
		return services.Wrap(services.ErrIngest, "downloading", "generate key", "", err)
	}

	stream, err := ffmpeg.StreamToMP3(ctx, o.cfg.FFmpegBinary(), body)
	if err != nil {
		return err
	}

	audioPath := o.vault.AudioPath(meetingID)
	written, encErr := o.vault.EncryptStreamToFile(audioPath, stream.Output, key, iv)
	if encErr != nil {
		// The transcode pipe may not be drained; Wait would block on
		// ffmpeg's full stdout buffer. Kill reaps the process instead.
		stream.Kill()
		return services.Wrap(services.ErrIngest, "downloading", "encrypt stream", "", encErr)
	}
	if err := stream.Wait(); err != nil {
		return err
	}
	logger.Info("audio encrypted at rest", logging.Int64("plaintext_bytes", written))

	if err := o.store.StoreKey(ctx, o.wrapper, meetingID, key, iv); err != nil {
		return services.Wrap(services.ErrIngest, "downloading", "persist wrapped key", "", err)
	}

	meeting, err := o.store.GetByID(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting == nil {
		return services.Wrap(services.ErrNotFound, "downloading", "meeting lookup", meetingID, nil)
	}
	meeting.FilePaths.Audio = audioPath
	meeting.ProcessState = meetings.StateDownloaded
	if err := o.store.Update(ctx, meeting); err != nil {
		return err
	}

	o.spawnProcess(meetingID)
	return nil
}

// spawnProcess runs the transcribe/summarize chain in the background.
func (o *Orchestrator) spawnProcess(meetingID string) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx := services.WithMeetingID(context.Background(), meetingID)
		ctx = services.WithStage(ctx, "transcribing")
		if err := o.processMeeting(ctx, meetingID); err != nil {
			o.failMeeting(ctx, meetingID, err)
		}
	}()
}

// processMeeting is the linear task behind the downloaded -> completed
// transition. Every run appends a fresh revision pair, so a resumed run after
// a partial failure produces version latest+1 rather than corrupting history.
func (o *Orchestrator) processMeeting(ctx context.Context, meetingID string) error {
	unlock := o.lockMeeting(meetingID)
	defer unlock()

	logger := logging.WithContext(ctx, o.logger)

	meeting, err := o.store.GetByID(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting == nil {
		return services.Wrap(services.ErrNotFound, "transcribing", "meeting lookup", meetingID, nil)
	}
	if err := o.store.SetState(ctx, meetingID, meetings.StateTranscribing); err != nil {
		return err
	}

	key, iv, err := o.store.LoadKey(ctx, o.wrapper, meetingID)
	if err != nil {
		return err
	}

	tempAudio, err := o.stageDecryptedAudio(meeting, key, iv)
	if err != nil {
		return err
	}
	defer os.Remove(tempAudio)

	duration := 0
	if probed, err := ffprobe.Inspect(ctx, o.cfg.FFprobeBinary(), tempAudio); err != nil {
		logger.Warn("duration probe failed", logging.Error(err))
	} else {
		duration = probed.RoundedDuration()
	}

	logger.Info("transcribing audio")
	result, err := o.transcriber.Transcribe(ctx, tempAudio)
	if err != nil {
		return err
	}
	os.Remove(tempAudio)

	logger.Info("summarizing transcript")
	summary, err := o.summarizer.Summarize(ctx, result.Text)
	if err != nil {
		return err
	}

	version, _, err := o.writeRevisionPair(ctx, meetingID, key, iv,
		TranscriptDoc{Text: result.Text, Segments: result.Segments}, summary)
	if err != nil {
		return err
	}

	meeting, err = o.store.GetByID(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting == nil {
		return services.Wrap(services.ErrNotFound, "transcribing", "meeting lookup", meetingID, nil)
	}
	meeting.ProcessState = meetings.StateCompleted
	meeting.DurationSeconds = duration
	meeting.ErrorMessage = ""
	meeting.ActiveVersion = version
	meeting.FilePaths.Transcript = o.vault.HeadPath(meetingID, meetings.KindTranscript)
	meeting.FilePaths.Summary = o.vault.HeadPath(meetingID, meetings.KindSummary)
	if err := o.store.Update(ctx, meeting); err != nil {
		return err
	}

	logger.Info("meeting processing complete",
		logging.Int("duration_seconds", duration),
		logging.Int("version", version))
	if err := o.notifier.NotifyMeetingCompleted(ctx, meetingID, duration); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
	return nil
}

// stageDecryptedAudio streams the vault ciphertext into a temp file for the
// transcription engine. The caller removes the file.
func (o *Orchestrator) stageDecryptedAudio(meeting *meetings.Meeting, key, iv []byte) (string, error) {
	if meeting.FilePaths.Audio == "" {
		return "", services.Wrap(services.ErrNotFound, "transcribing", "stage audio", "meeting has no audio artifact", nil)
	}
	reader, err := o.vault.OpenDecrypted(meeting.FilePaths.Audio, key, iv)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("murmur_%s.mp3", meeting.ID))
	temp, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	if _, err := io.Copy(temp, reader); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("stage audio: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("stage audio: %w", err)
	}
	return tempPath, nil
}

// failMeeting records a processing failure and notifies.
func (o *Orchestrator) failMeeting(ctx context.Context, meetingID string, cause error) {
	logger := logging.WithContext(ctx, o.logger)
	logger.Error("meeting processing failed", logging.Error(cause))
	if err := o.store.SetFailure(ctx, meetingID, cause.Error()); err != nil {
		logger.Error("could not record failure", logging.Error(err))
	}
	if err := o.notifier.NotifyMeetingFailed(ctx, meetingID, cause.Error()); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
}
