package app

import (
	"log/slog"

	"classmind/internal/util"
	"classmind/pkg/domain"
)

func newID() string {
	return util.NewID()
}

// logOrphan records a remote resource we could neither delete nor register
// for sweeping. This is the operator-of-last-resort signal.
func logOrphan(kind domain.ResourceKind, remoteID, entityID string, cause, appendErr error) {
	slog.Error("orphaned remote resource, reconciliation log unavailable",
		"kind", string(kind),
		"remote_id", remoteID,
		"entity_id", entityID,
		"cause", errString(cause),
		"append_error", errString(appendErr),
	)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
