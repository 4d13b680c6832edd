package synth

import (
	"sort"
	"time"
)

// DefaultTimelineWindow is the allowable drift when matching a file
// record to a session log entry.
const DefaultTimelineWindow = 30 * time.Second

// ReconstructTimeline joins each encrypted-file record to the closest
// session log for the same file within the window. Files with no log
// inside the window are omitted. Events come back in metadata-time order.
func ReconstructTimeline(files []EncryptedFile, logs []SessionLog, window time.Duration) []TimelineEvent {
	if window <= 0 {
		window = DefaultTimelineWindow
	}

	logsByFile := map[string][]SessionLog{}
	for _, l := range logs {
		if l.FileID == "" {
			continue
		}
		logsByFile[l.FileID] = append(logsByFile[l.FileID], l)
	}

	events := make([]TimelineEvent, 0, len(files))
	for _, f := range files {
		candidates := logsByFile[f.FileID]
		if len(candidates) == 0 {
			continue
		}
		best := -1
		var bestDiff time.Duration
		for i, c := range candidates {
			diff := absDuration(c.Timestamp.Sub(f.Timestamp))
			if diff > window {
				continue
			}
			if best == -1 || diff < bestDiff {
				best = i
				bestDiff = diff
			}
		}
		if best == -1 {
			continue
		}
		match := candidates[best]
		events = append(events, TimelineEvent{
			FileID:       f.FileID,
			MetadataTime: f.Timestamp,
			LogTime:      match.Timestamp,
			Action:       match.Action,
			SizeBytes:    f.SizeBytes,
			SessionID:    match.SessionID,
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].MetadataTime.Before(events[j].MetadataTime) })
	return events
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
