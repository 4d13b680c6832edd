package supervisor

import (
	"context"
	"fmt"

	"github.com/forensicdev/warden/pkg/schema"
)

// runCleanup executes the type-specific finalization routine for a
// stopping worker, appending each action to the record log. A canceled
// context aborts the routine.
func (s *Supervisor) runCleanup(ctx context.Context, rec *processRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cleanup aborted: %w", err)
	}
	for _, line := range cleanupActions(rec.ptype) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cleanup aborted: %w", err)
		}
		rec.appendLog(line)
	}
	s.logger.DebugContext(ctx, "cleanup finished",
		"process_id", rec.id, "type", string(rec.ptype))
	return nil
}

// cleanupActions lists the finalization steps a stopping worker runs.
func cleanupActions(pt schema.ProcessType) []string {
	switch pt {
	case schema.ProcessDiskImaging:
		return []string{
			"cleanup: flushing image buffers",
			"cleanup: verifying segment hashes",
			"cleanup: sealing image manifest",
		}
	case schema.ProcessMemoryDump:
		return []string{
			"cleanup: compressing memory snapshot",
			"cleanup: indexing extracted artifacts",
		}
	case schema.ProcessNetworkCapture:
		return []string{
			"cleanup: closing capture interfaces",
			"cleanup: writing flow summary",
		}
	case schema.ProcessLogAnalysis:
		return []string{
			"cleanup: materializing session timeline",
			"cleanup: flushing anomaly index",
		}
	case schema.ProcessMalwareScan:
		return []string{
			"cleanup: tallying scan verdicts",
			"cleanup: syncing quarantine ledger",
		}
	default:
		return nil
	}
}
