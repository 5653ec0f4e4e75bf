// Package ledger is the durable record of every path and method scheduled
// or probed for a service. It is the single source of truth for "has this
// already been done" and doubles as the resume checkpoint: there is no
// separate progress log.
package ledger

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/PentesterFlow/apiprober/internal/errors"
)

// ErrServiceNotFound is returned by Service for an unknown ID.
var ErrServiceNotFound = fmt.Errorf("service not found")

// Ledger is the EndpointLedger contract. Reserve and Record are atomic
// with respect to concurrent callers.
type Ledger interface {
	// Reserve inserts a pending record unless the normalized key exists.
	Reserve(service string, e Entry) (ReserveResult, error)
	// Record moves a reserved record to a terminal status.
	Record(key Key, o Outcome) error
	// Get returns the record for key, or nil if it was never reserved.
	Get(key Key) (*Record, error)
	// Records returns every record of a service in reservation order.
	Records(service string) ([]*Record, error)
	// ListPending returns records left pending, in reservation order.
	ListPending(service string) ([]*Record, error)
	// HasPath reports whether a normalized path is known under any method.
	HasPath(service, path string) (bool, error)
	// RequeueFailed moves failed records, and records in any of the extra
	// statuses, back to pending.
	RequeueFailed(service string, also ...Status) (int, error)

	// AppendSample stores a response body and the schema folded with it.
	AppendSample(key Key, fingerprint string, body, schema []byte, max int) (SampleResult, error)
	Schema(key Key) ([]byte, error)
	Samples(key Key) ([]json.RawMessage, error)

	PutService(svc *Service) error
	Service(id string) (*Service, error)
	Services() ([]*Service, error)

	PutRun(run *Run) error
	Runs(service string) ([]*Run, error)

	Close() error
}

func newRecord(key Key, e Entry, seq uint64, now time.Time) *Record {
	return &Record{
		Service:      key.Service,
		Path:         key.Path,
		ProbePath:    ConcretePath(e.Path),
		Method:       key.Method,
		Status:       StatusPending,
		DiscoveredBy: e.DiscoveredBy,
		Priority:     e.Priority,
		Depth:        e.Depth,
		Seq:          seq,
		ReservedAt:   now,
		Parameters:   mergeParameters(nil, e.Parameters),
	}
}

// applyOutcome writes o onto rec. It reports false when the outcome is a
// repeat of what is already recorded.
func applyOutcome(rec *Record, o Outcome) (bool, error) {
	key := rec.Key().String()
	if !o.Status.Terminal() {
		return false, errors.NewLedgerConflictError(key, fmt.Sprintf("outcome status %q is not terminal", o.Status))
	}
	if rec.Status.Terminal() {
		if rec.Status == o.Status && rec.StatusCode == o.StatusCode {
			return false, nil
		}
		return false, errors.NewLedgerConflictError(key,
			fmt.Sprintf("already %s (%d), refusing %s (%d)", rec.Status, rec.StatusCode, o.Status, o.StatusCode))
	}

	probedAt := o.ProbedAt
	if probedAt.IsZero() {
		probedAt = time.Now()
	}

	rec.Status = o.Status
	rec.StatusCode = o.StatusCode
	rec.ContentType = o.ContentType
	rec.Error = o.Error
	rec.AuthRequired = o.AuthRequired
	rec.AuthHint = o.AuthHint
	rec.Allow = o.Allow
	rec.LastProbedAt = probedAt
	rec.Parameters = mergeParameters(rec.Parameters, o.Parameters)
	return true, nil
}

func requeue(rec *Record, also []Status) bool {
	if rec.Status != StatusFailed && !slices.Contains(also, rec.Status) {
		return false
	}
	rec.Status = StatusPending
	rec.StatusCode = 0
	rec.Error = ""
	return true
}

func mergeParameters(existing, add []Parameter) []Parameter {
	if len(add) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]Parameter, 0, len(existing)+len(add))
	for _, p := range append(append([]Parameter{}, existing...), add...) {
		k := p.In + ":" + p.Name
		if p.Name == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}

func sortBySeq(records []*Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
}

func unreserved(key Key) error {
	return errors.NewLedgerConflictError(key.String(), "key was never reserved")
}
