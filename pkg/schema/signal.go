package schema

// SignalKind enumerates the control signals the supervisor can send a worker.
type SignalKind string

const (
	// SignalTerminate asks the worker to stop. Best-effort: the worker may
	// take time to honor it or ignore it entirely.
	SignalTerminate SignalKind = "terminate"
	// SignalPause cooperatively suspends a pausable worker.
	SignalPause SignalKind = "pause"
	// SignalResume continues a paused worker.
	SignalResume SignalKind = "resume"
)
