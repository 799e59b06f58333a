package api

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"murmur/internal/crypto"
	"murmur/internal/logging"
	"murmur/internal/services"
)

const publicKeyHeader = "X-Public-Key"

// streamEnveloped serves a plaintext source under the per-request session
// envelope: fresh AES key and IV wrapped with the client's RSA key into the
// X-Encrypted-Key header, body re-encrypted with AES-256-CBC. Headers must be
// complete before the first body byte; after that, failures only close the
// connection.
func (s *Server) streamEnveloped(w http.ResponseWriter, r *http.Request, contentType string, open func(ctx context.Context) (io.ReadCloser, error)) {
	clientKey := r.Header.Get(publicKeyHeader)
	if clientKey == "" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "stream artifact", publicKeyHeader+" header required", nil))
		return
	}
	envelope, err := crypto.NewSessionEnvelope(clientKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	source, err := open(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer source.Close()

	w.Header().Set("X-Encrypted-Key", envelope.EncryptedKey)
	w.Header().Set("Content-Type", contentType)

	enc, err := envelope.Encrypter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := io.Copy(enc, contextReader{ctx: r.Context(), r: source}); err != nil {
		// The client is gone or the read path failed mid-body. Stop reading
		// plaintext and close the connection.
		logging.WithContext(r.Context(), s.logger).Info("artifact stream aborted", logging.Error(err))
		return
	}
	if err := enc.Close(); err != nil {
		logging.WithContext(r.Context(), s.logger).Info("artifact stream aborted", logging.Error(err))
	}
}

// contextReader stops a long decrypt-and-stream read when the request is
// cancelled, even if the underlying file read would still succeed.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "id")
	s.streamEnveloped(w, r, "audio/mpeg", func(ctx context.Context) (io.ReadCloser, error) {
		return s.orch.OpenArtifact(ctx, userID(r), meetingID, "audio")
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "id")
	s.streamEnveloped(w, r, "application/json", func(ctx context.Context) (io.ReadCloser, error) {
		return s.orch.OpenArtifact(ctx, userID(r), meetingID, "transcript")
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "id")
	s.streamEnveloped(w, r, "application/json", func(ctx context.Context) (io.ReadCloser, error) {
		return s.orch.OpenArtifact(ctx, userID(r), meetingID, "summary")
	})
}

func (s *Server) handleCombined(w http.ResponseWriter, r *http.Request) {
	meetingID := chi.URLParam(r, "id")
	s.streamEnveloped(w, r, "application/json", func(ctx context.Context) (io.ReadCloser, error) {
		raw, err := s.orch.ReadCombined(ctx, userID(r), meetingID)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(raw)), nil
	})
}
