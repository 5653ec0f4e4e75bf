package ledger

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an EndpointRecord.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProbed        Status = "probed"
	StatusFailed        Status = "failed"
	StatusSkippedRobots Status = "skipped_robots"
	// StatusSkippedMethod marks a mutating record left over from a session
	// that allowed mutating probes, resumed by one that does not.
	StatusSkippedMethod Status = "skipped_method"
)

// Terminal reports whether the status ends a record's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusProbed, StatusFailed, StatusSkippedRobots, StatusSkippedMethod:
		return true
	}
	return false
}

// Key identifies an EndpointRecord. Path is always normalized.
type Key struct {
	Service string
	Path    string
	Method  string
}

// NewKey builds a key, normalizing path and method.
func NewKey(service, path, method string) Key {
	return Key{
		Service: service,
		Path:    NormalizePath(path),
		Method:  NormalizeMethod(method),
	}
}

// String renders the key as "METHOD /path".
func (k Key) String() string {
	return k.Method + " " + k.Path
}

// Parameter is a request parameter learned from a spec or an error body.
type Parameter struct {
	Name     string `json:"name"`
	In       string `json:"in"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required"`
	Source   string `json:"source,omitempty"`
}

// Entry is what a caller asks the ledger to reserve.
type Entry struct {
	Path         string
	Method       string
	DiscoveredBy string
	Priority     int
	Depth        int
	Parameters   []Parameter
}

// Record is the persisted EndpointRecord.
type Record struct {
	Service      string      `json:"service"`
	Path         string      `json:"path"`
	ProbePath    string      `json:"probe_path"`
	Method       string      `json:"method"`
	Status       Status      `json:"status"`
	StatusCode   int         `json:"status_code,omitempty"`
	ContentType  string      `json:"content_type,omitempty"`
	DiscoveredBy string      `json:"discovered_by"`
	Priority     int         `json:"priority"`
	Depth        int         `json:"depth"`
	Seq          uint64      `json:"seq"`
	ReservedAt   time.Time   `json:"reserved_at"`
	LastProbedAt time.Time   `json:"last_probed_at,omitempty"`
	Error        string      `json:"error,omitempty"`
	AuthRequired bool        `json:"auth_required,omitempty"`
	AuthHint     string      `json:"auth_hint,omitempty"`
	Allow        []string    `json:"allow,omitempty"`
	Parameters   []Parameter `json:"parameters,omitempty"`
	Samples      int         `json:"samples,omitempty"`
}

// Key returns the record's dedup key.
func (r *Record) Key() Key {
	return Key{Service: r.Service, Path: r.Path, Method: r.Method}
}

// Exists reports whether the probe confirmed a live endpoint.
func (r *Record) Exists() bool {
	if r.Status != StatusProbed {
		return false
	}
	switch r.StatusCode {
	case 0, 404, 405, 410, 501:
		return false
	}
	return true
}

// Outcome is the terminal result written by Record.
type Outcome struct {
	Status       Status
	StatusCode   int
	ContentType  string
	Error        string
	AuthRequired bool
	AuthHint     string
	Allow        []string
	Parameters   []Parameter
	ProbedAt     time.Time
}

// ReserveResult is the answer to a reservation attempt.
type ReserveResult int

const (
	Accepted ReserveResult = iota
	AlreadyPresent
)

func (r ReserveResult) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "already_present"
}

// SampleResult is the answer to AppendSample.
type SampleResult int

const (
	SampleStored SampleResult = iota
	SampleDuplicate
	SampleCapped
)

func (r SampleResult) String() string {
	switch r {
	case SampleStored:
		return "stored"
	case SampleDuplicate:
		return "duplicate"
	default:
		return "capped"
	}
}

// ServiceStatus is the lifecycle state of a Service.
type ServiceStatus string

const (
	ServiceActive   ServiceStatus = "active"
	ServiceArchived ServiceStatus = "archived"
)

// SpecInfo records an OpenAPI document found on the service.
type SpecInfo struct {
	URL         string          `json:"url"`
	Title       string          `json:"title,omitempty"`
	Version     string          `json:"version,omitempty"`
	Description string          `json:"description,omitempty"`
	Document    json.RawMessage `json:"document,omitempty"`
}

// Service is one probing target.
type Service struct {
	ID              string        `json:"id"`
	BaseURL         string        `json:"base_url"`
	AuthMode        string        `json:"auth_mode"`
	RobotsTxt       string        `json:"robots_txt,omitempty"`
	RobotsFetchedAt time.Time     `json:"robots_fetched_at,omitempty"`
	CrawlDelayMS    int           `json:"crawl_delay_ms,omitempty"`
	Depth           int           `json:"depth"`
	Status          ServiceStatus `json:"status"`
	Server          string        `json:"server,omitempty"`
	Technologies    []string      `json:"technologies,omitempty"`
	Spec            *SpecInfo     `json:"spec,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Run is the history row of one orchestration session.
type Run struct {
	ID         string    `json:"id"`
	Service    string    `json:"service"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Probes     int       `json:"probes"`
}

type storedSample struct {
	Fingerprint string          `json:"fingerprint"`
	Body        json.RawMessage `json:"body"`
	StoredAt    time.Time       `json:"stored_at"`
}
