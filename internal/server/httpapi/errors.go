package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/chunkkeeper/internal/api"
	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/security"
)

// classify maps err to an HTTP status and a stable machine-readable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, common.ErrSecurityBlocked):
		return http.StatusUnprocessableEntity, "security_blocked"
	case errors.Is(err, common.ErrSessionNotAcceptingChunks):
		return http.StatusConflict, "session_not_accepting_chunks"
	case errors.Is(err, common.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, common.ErrNotReadyForAssembly):
		return http.StatusConflict, "not_ready_for_assembly"
	case errors.Is(err, common.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge, "chunk_too_large"
	case errors.Is(err, common.ErrChecksumMismatch):
		return http.StatusBadRequest, "checksum_mismatch"
	case errors.Is(err, common.ErrInvalidChunkNumber):
		return http.StatusBadRequest, "invalid_chunk_number"
	case errors.Is(err, common.ErrEmptyChunk):
		return http.StatusBadRequest, "empty_chunk"
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, common.ErrMissingSignatureParameters):
		return http.StatusUnauthorized, "missing_signature_parameters"
	case errors.Is(err, common.ErrSignatureExpired):
		return http.StatusUnauthorized, "signature_expired"
	case errors.Is(err, common.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, common.ErrAssemblyInProgress):
		return http.StatusServiceUnavailable, "assembly_in_progress"
	case errors.Is(err, common.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, common.ErrIntegrity):
		return http.StatusInternalServerError, "assembly_integrity"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := classify(err)
	body := api.ErrorResponse{Error: err.Error(), Code: kind}

	switch {
	case code == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		body.Error = "storage temporarily unavailable, retry the same chunk"
		if kind == "assembly_in_progress" {
			body.Error = "assembly in progress, retry the same chunk"
		}
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	case code >= 500 && kind == "internal":
		body.Error = "internal error"
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	case code >= 500:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	case common.IsClientError(err):
		s.logger.Debug(r.Context(), "request rejected", "path", r.URL.Path, "code", kind, "error", err)
	default:
		s.logger.Info(r.Context(), "request refused", "path", r.URL.Path, "code", kind, "error", err)
	}

	var blocked *security.BlockedError
	if errors.As(err, &blocked) {
		body.Security = blocked.Report
	}
	writeJSON(w, code, body)
}
