package model

// DeriveStatus folds a multiset of part statuses into a single download
// status, by a fixed priority order. The order must be preserved exactly;
// tests pin it directly.
//
// fallback is returned by rule 10 and should be the Download's explicit
// status (see SPEC_FULL.md §4.3's note on the two-call-site ambiguity in the
// original source: this pins to the explicit-status branch, not Created).
func DeriveStatus(parts []Status, fallback Status) Status {
	if len(parts) == 0 {
		return StatusCreated
	}

	all := func(want Status) bool {
		for _, s := range parts {
			if s != want {
				return false
			}
		}
		return true
	}
	any := func(want Status) bool {
		for _, s := range parts {
			if s == want {
				return true
			}
		}
		return false
	}
	everyNonCompleteIs := func(want Status) bool {
		sawOther := false
		for _, s := range parts {
			if s == StatusComplete {
				continue
			}
			if s != want {
				return false
			}
			sawOther = true
		}
		return sawOther
	}

	switch {
	case all(StatusComplete):
		return StatusComplete
	case all(StatusQueued):
		return StatusQueued
	case all(StatusCancelled):
		return StatusCancelled
	case any(StatusDownloading):
		return StatusDownloading
	case everyNonCompleteIs(StatusConnecting):
		return StatusConnecting
	case everyNonCompleteIs(StatusRetrying):
		return StatusRetrying
	case everyNonCompleteIs(StatusFailed):
		return StatusFailed
	case all(StatusPaused):
		return StatusPaused
	default:
		return fallback
	}
}
