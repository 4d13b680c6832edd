package synth

import (
	"time"

	"github.com/forensicdev/warden/pkg/schema"
	"github.com/google/uuid"
)

// ResultFor fabricates the result payload a worker of the given type
// would report. Wired as the simulated launcher's Results hook and used
// by cleanup when a worker exits without a result line.
func ResultFor(g *Generator, t schema.ProcessType, params map[string]any) any {
	now := time.Now().UTC()
	switch t {
	case schema.ProcessDiskImaging:
		files := g.EncryptedFiles(12, now)
		var total int64
		algos := map[string]int{}
		for _, f := range files {
			total += f.SizeBytes
			algos[f.EncryptionAlgorithm]++
		}
		return map[string]any{
			"image_id":        uuid.NewString(),
			"files":           files,
			"bytes_imaged":    total,
			"algorithm_count": algos,
		}

	case schema.ProcessMemoryDump:
		arts := g.MemoryArtifacts(9, now)
		byType := map[string]int{}
		for _, a := range arts {
			byType[a.ArtifactType]++
		}
		return map[string]any{
			"snapshot_id":    uuid.NewString(),
			"artifacts":      arts,
			"artifact_count": len(arts),
			"by_type":        byType,
		}

	case schema.ProcessNetworkCapture:
		flows := 40 + g.rng.Intn(200)
		return map[string]any{
			"capture_id":       uuid.NewString(),
			"flows":            flows,
			"bytes_captured":   int64(flows) * int64(1500+g.rng.Intn(30000)),
			"suspicious_flows": g.rng.Intn(flows / 10),
		}

	case schema.ProcessLogAnalysis:
		files := g.EncryptedFiles(10, now)
		logs := g.SessionLogs(60, now, files)
		profiles := Profiles(logs)
		timeline := ReconstructTimeline(files, logs, DefaultTimelineWindow)
		flaggedSessions := 0
		for _, l := range logs {
			if l.AnomalyFlag {
				flaggedSessions++
			}
		}
		return map[string]any{
			"sessions":         logs,
			"profiles":         profiles,
			"timeline":         timeline,
			"session_count":    len(logs),
			"flagged_sessions": flaggedSessions,
		}

	case schema.ProcessMalwareScan:
		scanned := 200 + g.rng.Intn(800)
		infected := g.rng.Intn(5)
		suspicious := g.rng.Intn(12)
		return map[string]any{
			"scan_id":       uuid.NewString(),
			"files_scanned": scanned,
			"verdicts": map[string]int{
				"clean":      scanned - infected - suspicious,
				"suspicious": suspicious,
				"infected":   infected,
			},
		}

	default:
		return map[string]any{"process_type": string(t)}
	}
}
