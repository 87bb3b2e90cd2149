package demux

import "sync"

// Stats are counters for one Started period. They reset on every Start.
type Stats struct {
	// BytesReceived counts payload bytes as they arrived, before any
	// decompression.
	BytesReceived    uint64
	MessagesReceived uint64
	StreamsCreated   uint64
	Errors           uint64
}

// stats has its own lock so readers never wait on Start or Stop.
type stats struct {
	mu sync.Mutex
	s  Stats
}

func (st *stats) snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

func (st *stats) reset() {
	st.mu.Lock()
	st.s = Stats{}
	st.mu.Unlock()
}

func (st *stats) message(n int) {
	st.mu.Lock()
	st.s.MessagesReceived++
	st.s.BytesReceived += uint64(n)
	st.mu.Unlock()
}

func (st *stats) streamCreated() {
	st.mu.Lock()
	st.s.StreamsCreated++
	st.mu.Unlock()
}

func (st *stats) failed() {
	st.mu.Lock()
	st.s.Errors++
	st.mu.Unlock()
}
