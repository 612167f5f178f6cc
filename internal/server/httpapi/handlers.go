package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/services"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/signedurl"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.PingResponse{Status: "OK"})
}

func (s *Server) uploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		s.writeError(w, r, common.NewValidationError(common.ErrInvalidChunkNumber, "chunk number %q is not an integer", r.PathValue("number")))
		return
	}

	userID, err := s.authenticateChunk(r, sessionID, number)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.opts.MaxChunkSize+1)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = common.NewValidationError(common.ErrChunkTooLarge, "chunk %d exceeds %d bytes", number, s.opts.MaxChunkSize)
		}
		s.writeError(w, r, err)
		return
	}

	// the "checksum" query parameter is accepted as well
	checksum := r.Header.Get(common.ChunkChecksumHeader)
	if checksum == "" {
		checksum = r.URL.Query().Get("checksum")
	}

	res, err := s.uploads.IngestChunk(r.Context(), services.IngestRequest{
		SessionID:   sessionID,
		ChunkNumber: number,
		UserID:      userID,
		Data:        data,
		Checksum:    checksum,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := api.ChunkResponse{
		Chunk: api.Chunk{
			ID:          res.Chunk.ID,
			ChunkNumber: res.Chunk.ChunkNumber,
			Size:        res.Chunk.Size,
			Checksum:    res.Chunk.Checksum,
			Status:      res.Chunk.Status,
		},
		Session: api.SessionProgress{
			ID:                res.Session.ID,
			Status:            res.Session.Status,
			Progress:          res.Progress,
			AssembledChecksum: res.Session.AssembledChecksum,
		},
		Security: res.Security,
	}
	writeJSON(w, http.StatusOK, resp)
}

// authenticateChunk accepts a signed URL, or a bearer token when signatures
// are not mandatory.
func (s *Server) authenticateChunk(r *http.Request, sessionID string, number int) (string, error) {
	q := r.URL.Query()
	signed := q.Has(signedurl.ParamSignature) || q.Has(signedurl.ParamExpires) || q.Has(signedurl.ParamUserID)
	if signed {
		return s.signer.VerifyQuery(sessionID, number, q)
	}
	if s.opts.RequireSignedURLs {
		return "", common.ErrMissingSignatureParameters
	}
	return s.bearerUser(r)
}

func (s *Server) bearerUser(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", common.ErrInvalidToken
	}
	return auth.GetUserIDFromToken(token, []byte(s.opts.JWTSecret))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	userID, err := s.bearerUser(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.uploads.GetStatus(r.Context(), r.PathValue("session"), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromUploadStatus(st))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
