package meetings

import "time"

// State represents the processing lifecycle of a meeting recording.
type State string

const (
	StateInitializing State = "initializing"
	StateDownloading  State = "downloading"
	StateDownloaded   State = "downloaded"
	StateTranscribing State = "transcribing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

var allStates = []State{
	StateInitializing,
	StateDownloading,
	StateDownloaded,
	StateTranscribing,
	StateCompleted,
	StateFailed,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// Valid reports whether the state is one of the known lifecycle states.
func (s State) Valid() bool {
	_, ok := stateSet[s]
	return ok
}

// Terminal reports whether processing has finished for this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DisplayName maps the stored state to the name the status endpoint reports.
// Listing endpoints return the stored value unchanged.
func (s State) DisplayName() string {
	if s == StateCompleted {
		return "complete"
	}
	return string(s)
}

// Artifact kinds stored in the revision history.
const (
	KindTranscript = "transcript"
	KindSummary    = "summary"
)

// FilePaths records the vault-relative head artifact locations for a meeting.
type FilePaths struct {
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// Meeting is a recording bot session persisted in SQLite. The meeting ID is
// the provider's bot identifier.
type Meeting struct {
	ID              string
	UserID          string
	ProcessState    State
	DurationSeconds int
	FilePaths       FilePaths
	ActiveVersion   int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// KeyRecord holds a meeting's wrapped data key as stored at rest. All fields
// are hex except Blob, which is "<nonce_hex>:<ciphertext_hex>".
type KeyRecord struct {
	MeetingID string
	FileIV    string
	Blob      string
	Tag       string
}

// Revision is one immutable entry in a meeting's artifact history. Transcript
// and summary revisions share the version counter per meeting.
type Revision struct {
	ID          int64
	MeetingID   string
	Version     int
	Kind        string
	ContentHash string
	FilePath    string
	CreatedAt   time.Time
}
