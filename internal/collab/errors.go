package collab

import (
	"errors"
	"fmt"
)

// ErrUnknownSession reports an edit or leave against a document nobody has
// open. The client raced a join or teardown; re-joining recovers.
var ErrUnknownSession = errors.New("unknown session")

// VersionConflictError rejects a submission whose base version is stale.
// This is part of normal operation under concurrency: the submitter must
// re-sync to the expected version and resend, not retry blindly.
type VersionConflictError struct {
	FileID   string
	Expected int64
	Got      int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected base %d, got %d", e.FileID, e.Expected, e.Got)
}

// IsVersionConflict reports whether err is a stale-base rejection.
func IsVersionConflict(err error) bool {
	var conflict *VersionConflictError
	return errors.As(err, &conflict)
}
