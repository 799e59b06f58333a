package pipeline

import (
	"context"

	"murmur/internal/logging"
	"murmur/internal/meetings"
	"murmur/internal/services"
)

// StatusView is the poll result handed to the API layer.
type StatusView struct {
	// Status is the client-facing badge: processing, complete, failed, or
	// discarded.
	Status    string
	RawStatus string
	// Timestamp is the meeting's last state transition in epoch ms.
	Timestamp    int64
	ProcessState meetings.State
	AudioReady   bool
	Artifacts    meetings.FilePaths
	Discarded    bool
	Message      string
}

// PollStatus drives the state machine from a client status poll. Besides
// reporting progress it is the trigger for ingestion and for auto-discard.
func (o *Orchestrator) PollStatus(ctx context.Context, userID, meetingID string) (StatusView, error) {
	meeting, err := o.ownedMeeting(ctx, userID, meetingID)
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{
		Status:       badgeFor(meeting.ProcessState),
		ProcessState: meeting.ProcessState,
		Timestamp:    meeting.UpdatedAt.UnixMilli(),
		Artifacts:    meeting.FilePaths,
	}

	// Terminal local states need no provider round trip.
	if meeting.ProcessState.Terminal() {
		return view, nil
	}

	status, err := o.provider.GetStatus(ctx, meetingID)
	if err != nil {
		return StatusView{}, err
	}
	view.RawStatus = status.RawStatus
	view.AudioReady = status.AudioReady

	if status.Terminal() && !status.AudioReady && meeting.ProcessState == meetings.StateInitializing {
		return o.discard(ctx, meeting)
	}

	if status.AudioReady && meeting.ProcessState == meetings.StateInitializing {
		// The state write must land before the download task is dispatched;
		// concurrent polls race here and exactly one may win.
		won, err := o.store.TransitionState(ctx, meetingID, meetings.StateInitializing, meetings.StateDownloading)
		if err != nil {
			return StatusView{}, err
		}
		if won {
			o.spawnIngest(meetingID, status.AudioURL)
			view.ProcessState = meetings.StateDownloading
		}
	}

	return view, nil
}

// discard removes a meeting whose bot finished without producing audio.
func (o *Orchestrator) discard(ctx context.Context, meeting *meetings.Meeting) (StatusView, error) {
	o.logger.Info("discarding meeting, bot finished without audio",
		logging.String(logging.FieldMeetingID, meeting.ID))
	if err := o.Delete(ctx, meeting.UserID, meeting.ID); err != nil {
		return StatusView{}, services.Wrap(services.ErrDiscarded, "", "discard", "delete failed", err)
	}
	if err := o.notifier.NotifyMeetingDiscarded(ctx, meeting.ID); err != nil {
		o.logger.Warn("discard notification failed", logging.Error(err))
	}
	return StatusView{
		Status:    "discarded",
		Discarded: true,
		Message:   "Meeting ended without producing audio and was discarded",
	}, nil
}

func badgeFor(state meetings.State) string {
	switch state {
	case meetings.StateCompleted:
		return "complete"
	case meetings.StateFailed:
		return "failed"
	default:
		return "processing"
	}
}
