package supervisor

// defaultLogCapacity bounds the in-memory log buffer kept per worker.
const defaultLogCapacity = 1000

// logRing is a fixed-capacity FIFO of log lines. Once full, each append
// evicts the oldest line. Not safe for concurrent use; the owning
// record's mutex guards it.
type logRing struct {
	entries []string
	head    int
	size    int
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &logRing{entries: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when the ring is full.
func (r *logRing) Append(line string) {
	tail := (r.head + r.size) % len(r.entries)
	r.entries[tail] = line
	if r.size == len(r.entries) {
		r.head = (r.head + 1) % len(r.entries)
	} else {
		r.size++
	}
}

// Snapshot returns the buffered lines, oldest first.
func (r *logRing) Snapshot() []string {
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%len(r.entries)]
	}
	return out
}

func (r *logRing) Len() int { return r.size }
