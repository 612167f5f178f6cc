package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC codes. Server-side failures get a
// generic message so that storage details never reach the client.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrSecurityBlocked), errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrSessionNotAcceptingChunks),
		errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrNotReadyForAssembly):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrMissingSignatureParameters),
		errors.Is(err, common.ErrSignatureExpired),
		errors.Is(err, common.ErrInvalidSignature),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrAssemblyInProgress):
		return status.Error(codes.Unavailable, "assembly in progress, retry")
	case errors.Is(err, common.ErrStorage):
		return status.Error(codes.Unavailable, "storage temporarily unavailable, retry")
	case errors.Is(err, common.ErrIntegrity):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}
