package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger implements Ledger in process memory. It is used for dry
// runs and tests; nothing survives Close.
type MemoryLedger struct {
	mu       sync.Mutex
	seq      uint64
	records  map[Key]*Record
	samples  map[Key][]storedSample
	schemas  map[Key][]byte
	services map[string]*Service
	runs     map[string]map[string]*Run
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		records:  make(map[Key]*Record),
		samples:  make(map[Key][]storedSample),
		schemas:  make(map[Key][]byte),
		services: make(map[string]*Service),
		runs:     make(map[string]map[string]*Run),
	}
}

func clone[T any](v *T) *T {
	c := *v
	return &c
}

// Reserve inserts a pending record unless the key is already present.
func (m *MemoryLedger) Reserve(service string, e Entry) (ReserveResult, error) {
	key := NewKey(service, e.Path, e.Method)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; ok {
		return AlreadyPresent, nil
	}
	m.seq++
	m.records[key] = newRecord(key, e, m.seq, time.Now())
	return Accepted, nil
}

// Record transitions a reserved record to a terminal status.
func (m *MemoryLedger) Record(key Key, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return unreserved(key)
	}
	next := clone(rec)
	changed, err := applyOutcome(next, o)
	if err != nil || !changed {
		return err
	}
	m.records[key] = next
	return nil
}

// Get returns a copy of the record for key, or nil.
func (m *MemoryLedger) Get(key Key) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok {
		return clone(rec), nil
	}
	return nil, nil
}

func (m *MemoryLedger) scan(service string, keep func(*Record) bool) []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for k, rec := range m.records {
		if k.Service != service {
			continue
		}
		if keep == nil || keep(rec) {
			out = append(out, clone(rec))
		}
	}
	sortBySeq(out)
	return out
}

// Records returns all records of a service in reservation order.
func (m *MemoryLedger) Records(service string) ([]*Record, error) {
	return m.scan(service, nil), nil
}

// ListPending returns pending records in reservation order.
func (m *MemoryLedger) ListPending(service string) ([]*Record, error) {
	return m.scan(service, func(r *Record) bool { return r.Status == StatusPending }), nil
}

// HasPath reports whether any method of the normalized path is recorded.
func (m *MemoryLedger) HasPath(service, path string) (bool, error) {
	norm := NormalizePath(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.records {
		if k.Service == service && k.Path == norm {
			return true, nil
		}
	}
	return false, nil
}

// RequeueFailed moves every failed record of a service, plus those in any
// of the also statuses, back to pending.
func (m *MemoryLedger) RequeueFailed(service string, also ...Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, rec := range m.records {
		if k.Service == service && requeue(rec, also) {
			n++
		}
	}
	return n, nil
}

// AppendSample stores body under key unless capped or a duplicate.
func (m *MemoryLedger) AppendSample(key Key, fingerprint string, body, schema []byte, max int) (SampleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return SampleCapped, unreserved(key)
	}
	if max > 0 && rec.Samples >= max {
		return SampleCapped, nil
	}
	for _, s := range m.samples[key] {
		if s.Fingerprint == fingerprint {
			return SampleDuplicate, nil
		}
	}

	m.samples[key] = append(m.samples[key], storedSample{
		Fingerprint: fingerprint,
		Body:        append(json.RawMessage{}, body...),
		StoredAt:    time.Now(),
	})
	if schema != nil {
		m.schemas[key] = append([]byte{}, schema...)
	}
	rec.Samples++
	return SampleStored, nil
}

// Schema returns the stored schema for key, or nil.
func (m *MemoryLedger) Schema(key Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.schemas[key]; ok {
		return append([]byte{}, s...), nil
	}
	return nil, nil
}

// Samples returns the stored bodies for key in storage order.
func (m *MemoryLedger) Samples(key Key) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]json.RawMessage, 0, len(m.samples[key]))
	for _, s := range m.samples[key] {
		out = append(out, s.Body)
	}
	return out, nil
}

// PutService creates or replaces a service.
func (m *MemoryLedger) PutService(svc *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services[svc.ID] = clone(svc)
	return nil
}

// Service loads a service by ID.
func (m *MemoryLedger) Service(id string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	return clone(svc), nil
}

// Services lists all services ordered by ID.
func (m *MemoryLedger) Services() ([]*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Service, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, clone(svc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutRun creates or updates a run row.
func (m *MemoryLedger) PutRun(run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runs[run.Service] == nil {
		m.runs[run.Service] = make(map[string]*Run)
	}
	m.runs[run.Service][run.ID] = clone(run)
	return nil
}

// Runs returns the runs of a service, oldest first.
func (m *MemoryLedger) Runs(service string) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Run, 0, len(m.runs[service]))
	for _, run := range m.runs[service] {
		out = append(out, clone(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Close is a no-op.
func (m *MemoryLedger) Close() error {
	return nil
}

var (
	_ Ledger = (*BoltLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
