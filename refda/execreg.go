package refda

import "sync"

// ExecRegistry tracks in-flight execution sequences by process-id, the
// refda analogue of the teacher's xaction/xreg registry of running
// xactions: xreg.RegisterGlobalXact registers a job under a kind,
// xreg.AbortAll drains every running job on shutdown. No xreg.go source
// survives in the teacher's tree to adapt directly (only its test
// remains), so this registry is built from the pattern the test
// exercises — Reset/Register/AbortAll over a process-wide map — rather
// than copied source.
type ExecRegistry struct {
	mu  sync.Mutex
	seq map[string]*ExecSeq
}

// NewExecRegistry builds an empty registry.
func NewExecRegistry() *ExecRegistry {
	return &ExecRegistry{seq: map[string]*ExecSeq{}}
}

// Register adds seq under its process-id.
func (r *ExecRegistry) Register(seq *ExecSeq) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[seq.ProcessID] = seq
}

// Unregister removes a sequence once it reaches COMPLETE, the
// registry-side half of spec §5's "the sum over items of (COMPLETE +
// FAILED) equals the initial item count at sequence termination".
func (r *ExecRegistry) Unregister(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seq, processID)
}

// Lookup finds a registered sequence by process-id, used to route an
// external resume event to the waiting item that owns it.
func (r *ExecRegistry) Lookup(processID string) (*ExecSeq, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seq[processID]
	return s, ok
}

// AbortAll marks every still-running sequence FAILED and drains it,
// mirroring xreg.AbortAll's cancellation sweep (spec §5 "execution
// drains its state list").
func (r *ExecRegistry) AbortAll() {
	r.mu.Lock()
	seqs := make([]*ExecSeq, 0, len(r.seq))
	for _, s := range r.seq {
		seqs = append(seqs, s)
	}
	r.seq = map[string]*ExecSeq{}
	r.mu.Unlock()
	for _, s := range seqs {
		s.abort()
	}
}

// Reset clears the registry, used between test runs the way
// xreg.Reset() resets the teacher's global registry.
func (r *ExecRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = map[string]*ExecSeq{}
}

// Len reports the number of currently-registered sequences.
func (r *ExecRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seq)
}
