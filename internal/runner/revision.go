package runner

// Revisions is the revision bookkeeping of one runner. The global revision
// starts at 1; 0 is reserved for "never run" so that a fresh check is older
// than every stamped object.
type Revisions struct {
	global  uint32
	objects map[string]uint32
}

func NewRevisions() *Revisions {
	return &Revisions{
		global:  1,
		objects: make(map[string]uint32),
	}
}

// Global returns the revision of the cycle currently being evaluated.
func (r *Revisions) Global() uint32 { return r.global }

// Stamp records that the named object changed in the current cycle.
func (r *Revisions) Stamp(name string) {
	r.objects[name] = r.global
}

// Of returns the revision name was last stamped at, 0 if never.
func (r *Revisions) Of(name string) uint32 { return r.objects[name] }

// Map exposes the stamps for readiness policies. Callers must not modify it.
func (r *Revisions) Map() map[string]uint32 { return r.objects }

// Advance moves to the next cycle. On wraparound the counter restarts at 1
// and every stamp is rebased to 1; the caller must then reset every check to
// revision 0 so that each check runs once and gating resumes from there.
func (r *Revisions) Advance() (wrapped bool) {
	r.global++
	if r.global != 0 {
		return false
	}

	r.global = 1
	for name := range r.objects {
		r.objects[name] = 1
	}
	return true
}
