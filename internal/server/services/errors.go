package services

import (
	"fmt"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
)

// NotReadyError is returned when assembly is attempted while chunks are
// still missing.
type NotReadyError struct {
	Missing []int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("not ready for assembly: %d chunk(s) missing", len(e.Missing))
}

func (e *NotReadyError) Is(target error) bool {
	return target == common.ErrNotReadyForAssembly || target == common.ErrValidation
}

// IntegrityError means the assembled file does not have the declared size.
// The session is failed when it is returned.
type IntegrityError struct {
	Expected int64
	Actual   int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("assembled size %d does not match declared total size %d", e.Actual, e.Expected)
}

func (e *IntegrityError) Is(target error) bool { return target == common.ErrIntegrity }

// errSessionNotFound hides whether a session exists from users that may not
// see it.
func errSessionNotFound(id string) error {
	return fmt.Errorf("upload session %s: %w", id, common.ErrorNotFound)
}
