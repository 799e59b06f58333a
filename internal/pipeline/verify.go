package pipeline

import (
	"context"
	"strings"
	"time"

	"murmur/internal/crypto"
	"murmur/internal/meetings"
	"murmur/internal/services"
)

// VerifyRequest carries the hashes or content a caller wants matched against
// stored revisions. Exactly one of Hash, Hashes, or Content must be set.
type VerifyRequest struct {
	Hash      string   `json:"hash,omitempty"`
	Hashes    []string `json:"hashes,omitempty"`
	Content   string   `json:"content,omitempty"`
	MeetingID string   `json:"meeting_id,omitempty"`
}

// VerifyResult reports whether a candidate matched a stored revision.
type VerifyResult struct {
	Verified       bool   `json:"verified"`
	Version        int    `json:"version,omitempty"`
	Type           string `json:"type,omitempty"`
	Date           string `json:"date,omitempty"`
	CalculatedHash string `json:"calculated_hash,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Verify checks candidate hashes against the revision history. Without a
// meeting id only exact hash lookups across the user's meetings are possible;
// with one, stored artifacts are decrypted and rendered into the textual
// variants a client may have hashed.
func (o *Orchestrator) Verify(ctx context.Context, userID string, req VerifyRequest) (VerifyResult, error) {
	candidates := req.Hashes
	if req.Hash != "" {
		candidates = append(candidates, req.Hash)
	}
	if req.Content != "" {
		candidates = append(candidates, crypto.ContentHash(req.Content))
	}
	if len(candidates) == 0 {
		return VerifyResult{}, services.Wrap(services.ErrValidation, "", "verify", "hash, hashes, or content required", nil)
	}

	for _, hash := range candidates {
		rev, err := o.store.FindRevisionByHashForUser(ctx, userID, hash)
		if err != nil {
			return VerifyResult{}, err
		}
		if rev != nil {
			return matchedResult(rev, hash), nil
		}
	}

	if req.MeetingID == "" {
		return VerifyResult{
			Verified:       false,
			CalculatedHash: candidates[0],
			Message:        "No matching revision found",
		}, nil
	}
	return o.fuzzyVerify(ctx, userID, req.MeetingID, candidates)
}

// fuzzyVerify decrypts each of the meeting's revisions and hashes the textual
// renderings a client plausibly copied, including whitespace-collapsed forms.
func (o *Orchestrator) fuzzyVerify(ctx context.Context, userID, meetingID string, candidates []string) (VerifyResult, error) {
	if _, err := o.ownedMeeting(ctx, userID, meetingID); err != nil {
		return VerifyResult{}, err
	}
	key, iv, err := o.store.LoadKey(ctx, o.wrapper, meetingID)
	if err != nil {
		return VerifyResult{}, err
	}
	revisions, err := o.store.ListRevisions(ctx, meetingID)
	if err != nil {
		return VerifyResult{}, err
	}

	wanted := make(map[string]struct{}, len(candidates))
	for _, hash := range candidates {
		wanted[strings.ToLower(hash)] = struct{}{}
	}

	for _, rev := range revisions {
		raw, err := o.vault.ReadDecrypted(rev.FilePath, key, iv)
		if err != nil {
			return VerifyResult{}, err
		}
		for _, variant := range renderVariants(rev.Kind, raw) {
			hash := crypto.ContentHash(variant)
			if _, ok := wanted[hash]; ok {
				return matchedResult(rev, hash), nil
			}
		}
	}

	return VerifyResult{
		Verified:       false,
		CalculatedHash: candidates[0],
		Message:        "No matching revision found",
	}, nil
}

// renderVariants produces the plaintext forms a client might have hashed
// from a stored artifact.
func renderVariants(kind string, raw []byte) []string {
	switch kind {
	case meetings.KindTranscript:
		doc, err := decodeTranscript(raw)
		if err != nil {
			return nil
		}
		return withCollapsed(doc.Text)
	case meetings.KindSummary:
		doc, err := decodeSummary(raw)
		if err != nil {
			return nil
		}
		variants := withCollapsed(doc.Summary)
		variants = append(variants, withCollapsed(renderSummaryText(doc))...)
		return variants
	}
	return nil
}

// renderSummaryText reproduces the display form of a summary with its action
// items, which is what clients typically copy out of the UI.
func renderSummaryText(doc SummaryDoc) string {
	var b strings.Builder
	b.WriteString("SUMMARY: ")
	b.WriteString(doc.Summary)
	if len(doc.Actions) > 0 {
		b.WriteString(" ACTION ITEMS:")
		for _, action := range doc.Actions {
			b.WriteString(" - ")
			b.WriteString(action)
		}
	}
	return b.String()
}

func withCollapsed(text string) []string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == text {
		return []string{text}
	}
	return []string{text, collapsed}
}

func matchedResult(rev *meetings.Revision, hash string) VerifyResult {
	return VerifyResult{
		Verified:       true,
		Version:        rev.Version,
		Type:           rev.Kind,
		Date:           rev.CreatedAt.UTC().Format(time.RFC3339),
		CalculatedHash: hash,
	}
}
