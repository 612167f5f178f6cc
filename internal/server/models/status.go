package models

import (
	"fmt"

	"github.com/dmitrijs2005/chunkkeeper/internal/common"
)

// Status is the lifecycle state of an upload session.
type Status string

const (
	StatusPending       Status = "pending"
	StatusUploading     Status = "uploading"
	StatusAssembling    Status = "assembling"
	StatusVirusScanning Status = "virus_scanning"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusAssembling, StatusVirusScanning,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Event triggers a status transition.
type Event string

const (
	EventStartUpload   Event = "start_upload"
	EventStartAssembly Event = "start_assembly"
	EventComplete      Event = "complete"
	EventScanClean     Event = "scan_clean"
	EventScanDirty     Event = "scan_dirty"
	EventFail          Event = "fail"
	EventCancel        Event = "cancel"
)

// InvalidTransitionError is returned when ev is not allowed from From.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from status %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == common.ErrInvalidTransition || target == common.ErrValidation
}

// Lifecycle computes transitions. ScanEnabled decides where "complete"
// leads: virus_scanning when a scanner is configured, completed otherwise.
type Lifecycle struct {
	ScanEnabled bool
}

// Next returns the status reached by applying ev to from, or an
// *InvalidTransitionError.
func (l Lifecycle) Next(from Status, ev Event) (Status, error) {
	if from.Terminal() || !from.Valid() {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}

	switch ev {
	case EventFail:
		return StatusFailed, nil
	case EventCancel:
		return StatusCancelled, nil
	}

	switch {
	case from == StatusPending && ev == EventStartUpload:
		return StatusUploading, nil
	case from == StatusUploading && ev == EventStartAssembly:
		return StatusAssembling, nil
	case from == StatusAssembling && ev == EventComplete:
		if l.ScanEnabled {
			return StatusVirusScanning, nil
		}
		return StatusCompleted, nil
	case from == StatusVirusScanning && ev == EventScanClean:
		return StatusCompleted, nil
	case from == StatusVirusScanning && ev == EventScanDirty:
		return StatusFailed, nil
	}

	return from, &InvalidTransitionError{From: from, Event: ev}
}

// Sources lists every status from which ev is allowed. Repositories use it
// to build compare-and-swap guards.
func (l Lifecycle) Sources(ev Event) []Status {
	all := []Status{StatusPending, StatusUploading, StatusAssembling, StatusVirusScanning}
	var out []Status
	for _, s := range all {
		if _, err := l.Next(s, ev); err == nil {
			out = append(out, s)
		}
	}
	return out
}
