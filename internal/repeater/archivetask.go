package repeater

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/notify"
	"github.com/cryptoladder/engine/internal/stepstore"
)

// ArchiveTaskClass is the stable class name a repeater row carries when
// it represents a pending S3 archive upload for a terminally-failed
// step, the dead-letter path backed by internal/notify.Archive.
const ArchiveTaskClass = "Repeater.ArchiveFailedStep"

// ArchiveFailedStep retries internal/notify.Archive.Put for one step id,
// the idempotent-side-effect shape the Repeater API exists for: it is
// the only caller of Archive.Put, and retrying through the repeater keeps
// a transient S3 error from losing the forensic copy.
type ArchiveFailedStep struct {
	store   stepstore.Store
	archive *notify.Archive
}

func NewArchiveFailedStep(store stepstore.Store, archive *notify.Archive) *ArchiveFailedStep {
	return &ArchiveFailedStep{store: store, archive: archive}
}

func (t *ArchiveFailedStep) Run(params map[string]interface{}) (bool, error) {
	id, ok := params["step_id"].(float64)
	if !ok {
		if u, ok2 := params["step_id"].(uint64); ok2 {
			id = float64(u)
		} else {
			return false, fmt.Errorf("repeater: archive task missing step_id")
		}
	}
	step, err := t.store.Get(context.Background(), uint64(id))
	if err != nil {
		return false, err
	}
	if err := t.archive.Put(context.Background(), step); err != nil {
		return false, err
	}
	return true, nil
}

func (t *ArchiveFailedStep) Passed(params map[string]interface{}) {}

func (t *ArchiveFailedStep) Failed(params map[string]interface{}, attempt int) {
	logger.Warn("archive task failed, will retry", zap.Int("attempt", attempt))
}

func (t *ArchiveFailedStep) MaxAttemptsReached(params map[string]interface{}) {
	logger.Error("archive task exhausted attempts, step will not be archived")
}

func (t *ArchiveFailedStep) NextBackoff(attempt int) int {
	backoff := 5
	for i := 0; i < attempt && backoff < 300; i++ {
		backoff *= 2
	}
	if backoff > 300 {
		backoff = 300
	}
	return backoff
}
