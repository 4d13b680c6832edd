package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Off-hour window for behavior profiling: midnight to 06:00.
const (
	offHourStart = 0
	offHourEnd   = 6
)

var (
	algorithms = []string{AlgoAES256XTS, AlgoChaCha20Poly1305, AlgoAES128CBC}
	actions    = []string{ActionMountVolume, ActionUploadFile, ActionDownloadFile, ActionDeleteFile, ActionModifyFile}
	artifacts  = []string{ArtifactKeyExtraction, ArtifactMFTHeader, ArtifactPlaintextDoc}
)

const anomalyProb = 0.15

// Generator produces synthetic forensic records. A fixed seed yields a
// reproducible dataset.
type Generator struct {
	rng *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// userID returns one of ten stable user identities, user_A through user_J.
func (g *Generator) userID() string {
	return fmt.Sprintf("user_%c", 'A'+rune(g.rng.Intn(10)))
}

// timestampBetween picks a uniform instant in [start, end).
func (g *Generator) timestampBetween(start, end time.Time) time.Time {
	span := end.Sub(start)
	return start.Add(time.Duration(g.rng.Int63n(int64(span)))).UTC()
}

func (g *Generator) fileHash() string {
	a := uuid.New()
	b := uuid.New()
	sum := sha256.Sum256(append(a[:], b[:]...))
	return hex.EncodeToString(sum[:])
}

func (g *Generator) memoryRef() string {
	const lo, hi = 0x7ffe00000000, 0x7fffffffefff
	return fmt.Sprintf("0x%x", lo+g.rng.Int63n(hi-lo))
}

// EncryptedFiles fabricates n encrypted-file records timestamped within
// the day before now.
func (g *Generator) EncryptedFiles(n int, now time.Time) []EncryptedFile {
	dayAgo := now.Add(-24 * time.Hour)
	files := make([]EncryptedFile, 0, n)
	for i := 1; i <= n; i++ {
		files = append(files, EncryptedFile{
			FileID:              fmt.Sprintf("file_%03d", i),
			UserID:              g.userID(),
			Timestamp:           g.timestampBetween(dayAgo, now),
			FileHash:            g.fileHash(),
			EncryptionAlgorithm: algorithms[g.rng.Intn(len(algorithms))],
			SizeBytes:           int64(100_000 + g.rng.Intn(4_900_000)),
		})
	}
	return files
}

// SessionLogs fabricates n chronologically ordered session entries.
// When files is non-empty each entry references a random file from it.
func (g *Generator) SessionLogs(n int, now time.Time, files []EncryptedFile) []SessionLog {
	dayAgo := now.Add(-24 * time.Hour)
	logs := make([]SessionLog, 0, n)
	for i := 0; i < n; i++ {
		entry := SessionLog{
			SessionID:   uuid.NewString(),
			UserID:      g.userID(),
			Action:      actions[g.rng.Intn(len(actions))],
			Timestamp:   g.timestampBetween(dayAgo, now),
			MemoryRef:   g.memoryRef(),
			AnomalyFlag: g.rng.Float64() < anomalyProb,
		}
		if len(files) > 0 {
			entry.FileID = files[g.rng.Intn(len(files))].FileID
		}
		logs = append(logs, entry)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Timestamp.Before(logs[j].Timestamp) })
	return logs
}

// MemoryArtifacts fabricates n artifact matches across a handful of
// snapshots, stamped at now.
func (g *Generator) MemoryArtifacts(n int, now time.Time) []MemoryArtifact {
	out := make([]MemoryArtifact, 0, n)
	for i := 0; i < n; i++ {
		match := make([]byte, 16)
		g.rng.Read(match)
		out = append(out, MemoryArtifact{
			SnapshotID:   fmt.Sprintf("snap_%03d", 1+g.rng.Intn(8)),
			ProcessID:    fmt.Sprintf("%d", 1000+g.rng.Intn(9000)),
			ArtifactType: artifacts[g.rng.Intn(len(artifacts))],
			Match:        hex.EncodeToString(match),
			Offset:       g.rng.Intn(1 << 20),
			Timestamp:    now.UTC(),
		})
	}
	return out
}

// Profiles aggregates session logs into per-user behavior profiles and
// flags the most suspicious tenth with the -1 sentinel. At least one
// profile is flagged when any exist.
func Profiles(logs []SessionLog) []UserProfile {
	type acc struct {
		sessions map[string]bool
		actions  int
		offHours int
	}
	byUser := map[string]*acc{}
	for _, l := range logs {
		a := byUser[l.UserID]
		if a == nil {
			a = &acc{sessions: map[string]bool{}}
			byUser[l.UserID] = a
		}
		a.sessions[l.SessionID] = true
		a.actions++
		h := l.Timestamp.UTC().Hour()
		if h >= offHourStart && h < offHourEnd {
			a.offHours++
		}
	}

	profiles := make([]UserProfile, 0, len(byUser))
	for user, a := range byUser {
		p := UserProfile{
			UserID:       user,
			SessionCount: len(a.sessions),
			AnomalyScore: ScoreNormal,
		}
		if p.SessionCount > 0 {
			p.AvgActions = float64(a.actions) / float64(p.SessionCount)
		}
		if a.actions > 0 {
			p.OffHourPct = float64(a.offHours) / float64(a.actions)
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return suspicion(profiles[i]) > suspicion(profiles[j])
	})

	flagged := len(profiles) / 10
	if flagged == 0 && len(profiles) > 0 {
		flagged = 1
	}
	for i := 0; i < flagged; i++ {
		profiles[i].AnomalyScore = ScoreFlagged
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].UserID < profiles[j].UserID })
	return profiles
}

// suspicion ranks profiles for flagging. Heavy off-hour activity weighs
// more than raw action volume.
func suspicion(p UserProfile) float64 {
	return p.OffHourPct*2 + p.AvgActions/10
}
