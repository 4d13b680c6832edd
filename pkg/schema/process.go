package schema

// ProcessType identifies the kind of forensic worker a process runs.
type ProcessType string

const (
	ProcessDiskImaging    ProcessType = "disk-imaging"
	ProcessMemoryDump     ProcessType = "memory-dump"
	ProcessNetworkCapture ProcessType = "network-capture"
	ProcessLogAnalysis    ProcessType = "log-analysis"
	ProcessMalwareScan    ProcessType = "malware-scan"
)

// KnownProcessTypes lists every supported worker type.
var KnownProcessTypes = []ProcessType{
	ProcessDiskImaging,
	ProcessMemoryDump,
	ProcessNetworkCapture,
	ProcessLogAnalysis,
	ProcessMalwareScan,
}

// ValidProcessType reports whether t names a supported worker type.
func ValidProcessType(t ProcessType) bool {
	for _, k := range KnownProcessTypes {
		if k == t {
			return true
		}
	}
	return false
}

// pausableTypes is the subset of worker types that honor a cooperative
// suspend/continue signal. Memory dumps and malware scans must run to
// completion once started.
var pausableTypes = map[ProcessType]bool{
	ProcessDiskImaging:    true,
	ProcessNetworkCapture: true,
	ProcessLogAnalysis:    true,
}

// Pausable reports whether the type supports pause and resume.
func (t ProcessType) Pausable() bool {
	return pausableTypes[t]
}

// ProcessState represents the lifecycle state of a supervised worker instance.
type ProcessState string

const (
	ProcessInitializing ProcessState = "initializing"
	ProcessRunning      ProcessState = "running"
	ProcessPaused       ProcessState = "paused"
	ProcessStopping     ProcessState = "stopping"
	ProcessCompleted    ProcessState = "completed"
	ProcessError        ProcessState = "error"
)

// Terminal reports whether no further transitions are possible from s.
func (s ProcessState) Terminal() bool {
	return s == ProcessCompleted || s == ProcessError
}

// ValidProcessTransitions maps each process state to the states it may
// move to. Terminal states map to an empty slice.
var ValidProcessTransitions = map[ProcessState][]ProcessState{
	ProcessInitializing: {ProcessRunning, ProcessError},
	ProcessRunning:      {ProcessPaused, ProcessStopping, ProcessCompleted, ProcessError},
	ProcessPaused:       {ProcessRunning, ProcessStopping, ProcessError},
	ProcessStopping:     {ProcessCompleted, ProcessError},
	ProcessCompleted:    {},
	ProcessError:        {},
}

// ValidProcessTransition reports whether a worker may move from one
// state to another.
func ValidProcessTransition(from, to ProcessState) bool {
	for _, s := range ValidProcessTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
