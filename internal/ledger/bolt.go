package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/apiprober/internal/errors"
)

var (
	bucketServices  = []byte("services")
	bucketEndpoints = []byte("endpoints")
	bucketSamples   = []byte("samples")
	bucketSchemas   = []byte("schemas")
	bucketRuns      = []byte("runs")
)

// BoltLedger implements Ledger on a single bbolt file. bbolt serializes
// read-write transactions, which makes Reserve's check-then-put atomic,
// and its file lock keeps a second process out.
type BoltLedger struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens or creates the ledger database at path.
func OpenBolt(path string) (*BoltLedger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewStorageError("open", fmt.Errorf("failed to create directory: %w", err))
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.NewStorageError("open", fmt.Errorf("failed to open database: %w", err))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketServices, bucketEndpoints, bucketSamples, bucketSchemas, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.NewStorageError("open", fmt.Errorf("failed to create buckets: %w", err))
	}

	return &BoltLedger{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *BoltLedger) Path() string {
	return l.path
}

// Close closes the database.
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

func (l *BoltLedger) update(op string, fn func(tx *bolt.Tx) error) error {
	return storageErr(op, l.db.Update(fn))
}

func (l *BoltLedger) view(op string, fn func(tx *bolt.Tx) error) error {
	return storageErr(op, l.db.View(fn))
}

// storageErr wraps I/O failures, passing categorized errors through.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.GetErrorType(err) != errors.Unknown {
		return err
	}
	return errors.NewStorageError(op, err)
}

// serviceBucket returns the nested per-service bucket under parent,
// creating it inside writable transactions.
func serviceBucket(tx *bolt.Tx, parent []byte, service string) (*bolt.Bucket, error) {
	root := tx.Bucket(parent)
	if root == nil {
		return nil, fmt.Errorf("bucket %s not found", parent)
	}
	if tx.Writable() {
		return root.CreateBucketIfNotExists([]byte(service))
	}
	return root.Bucket([]byte(service)), nil
}

func recordKey(key Key) []byte {
	return []byte(key.String())
}

func getRecord(b *bolt.Bucket, key Key) (*Record, error) {
	if b == nil {
		return nil, nil
	}
	data := b.Get(recordKey(key))
	if data == nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", key, err)
	}
	return &rec, nil
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

// Reserve inserts a pending record unless the key is already present.
func (l *BoltLedger) Reserve(service string, e Entry) (ReserveResult, error) {
	key := NewKey(service, e.Path, e.Method)
	result := AlreadyPresent

	err := l.update("reserve", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketEndpoints, service)
		if err != nil {
			return err
		}
		if b.Get(recordKey(key)) != nil {
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		result = Accepted
		return putJSON(b, recordKey(key), newRecord(key, e, seq, time.Now()))
	})
	if err != nil {
		return AlreadyPresent, err
	}
	return result, nil
}

// Record transitions a reserved record to a terminal status.
func (l *BoltLedger) Record(key Key, o Outcome) error {
	return l.update("record", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketEndpoints, key.Service)
		if err != nil {
			return err
		}
		rec, err := getRecord(b, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return unreserved(key)
		}
		changed, err := applyOutcome(rec, o)
		if err != nil || !changed {
			return err
		}
		return putJSON(b, recordKey(key), rec)
	})
}

// Get returns the record for key, or nil.
func (l *BoltLedger) Get(key Key) (*Record, error) {
	var rec *Record
	err := l.view("get", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketEndpoints, key.Service)
		if err != nil {
			return err
		}
		rec, err = getRecord(b, key)
		return err
	})
	return rec, err
}

func (l *BoltLedger) scan(op, service string, keep func(*Record) bool) ([]*Record, error) {
	var out []*Record
	err := l.view(op, func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketEndpoints, service)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			if keep == nil || keep(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortBySeq(out)
	return out, nil
}

// Records returns all records of a service in reservation order.
func (l *BoltLedger) Records(service string) ([]*Record, error) {
	return l.scan("records", service, nil)
}

// ListPending returns pending records in reservation order.
func (l *BoltLedger) ListPending(service string) ([]*Record, error) {
	return l.scan("list_pending", service, func(r *Record) bool {
		return r.Status == StatusPending
	})
}

// HasPath reports whether any method of the normalized path is recorded.
func (l *BoltLedger) HasPath(service, path string) (bool, error) {
	suffix := []byte(" " + NormalizePath(path))
	found := false
	err := l.view("has_path", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketEndpoints, service)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, _ []byte) error {
			if bytes.HasSuffix(k, suffix) && bytes.IndexByte(k[:len(k)-len(suffix)], ' ') < 0 {
				found = true
			}
			return nil
		})
	})
	return found, err
}

// RequeueFailed moves every failed record of a service, plus those in any
// of the also statuses, back to pending.
func (l *BoltLedger) RequeueFailed(service string, also ...Status) (int, error) {
	n := 0
	err := l.update("requeue_failed", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketEndpoints, service)
		if err != nil {
			return err
		}
		type change struct {
			k   []byte
			rec *Record
		}
		var changes []change
		err = b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", k, err)
			}
			if requeue(&rec, also) {
				changes = append(changes, change{append([]byte{}, k...), &rec})
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Puts are deferred until iteration ends.
		for _, c := range changes {
			if err := putJSON(b, c.k, c.rec); err != nil {
				return err
			}
		}
		n = len(changes)
		return nil
	})
	return n, err
}

func samplePrefix(key Key) []byte {
	return append(recordKey(key), 0)
}

// AppendSample stores body under key unless the cap is reached or a sample
// with the same fingerprint exists. The body, the schema and the record's
// sample count are written in one transaction.
func (l *BoltLedger) AppendSample(key Key, fingerprint string, body, schema []byte, max int) (SampleResult, error) {
	result := SampleCapped
	err := l.update("append_sample", func(tx *bolt.Tx) error {
		eb, err := serviceBucket(tx, bucketEndpoints, key.Service)
		if err != nil {
			return err
		}
		rec, err := getRecord(eb, key)
		if err != nil {
			return err
		}
		if rec == nil {
			return unreserved(key)
		}
		if max > 0 && rec.Samples >= max {
			return nil
		}

		sb, err := serviceBucket(tx, bucketSamples, key.Service)
		if err != nil {
			return err
		}
		prefix := samplePrefix(key)
		c := sb.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var s storedSample
			if err := json.Unmarshal(v, &s); err == nil && s.Fingerprint == fingerprint {
				result = SampleDuplicate
				return nil
			}
		}

		seq, err := sb.NextSequence()
		if err != nil {
			return err
		}
		sampleKey := append(prefix, []byte(fmt.Sprintf("%020d", seq))...)
		if err := putJSON(sb, sampleKey, storedSample{
			Fingerprint: fingerprint,
			Body:        json.RawMessage(body),
			StoredAt:    time.Now(),
		}); err != nil {
			return err
		}

		if schema != nil {
			scb, err := serviceBucket(tx, bucketSchemas, key.Service)
			if err != nil {
				return err
			}
			if err := scb.Put(recordKey(key), schema); err != nil {
				return err
			}
		}

		rec.Samples++
		result = SampleStored
		return putJSON(eb, recordKey(key), rec)
	})
	if err != nil {
		return SampleCapped, err
	}
	return result, nil
}

// Schema returns the stored schema for key, or nil.
func (l *BoltLedger) Schema(key Key) ([]byte, error) {
	var out []byte
	err := l.view("schema", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketSchemas, key.Service)
		if err != nil || b == nil {
			return err
		}
		if v := b.Get(recordKey(key)); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	return out, err
}

// Samples returns the stored bodies for key in storage order.
func (l *BoltLedger) Samples(key Key) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := l.view("samples", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketSamples, key.Service)
		if err != nil || b == nil {
			return err
		}
		prefix := samplePrefix(key)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var s storedSample
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("failed to unmarshal sample: %w", err)
			}
			out = append(out, s.Body)
		}
		return nil
	})
	return out, err
}

// PutService creates or replaces a service.
func (l *BoltLedger) PutService(svc *Service) error {
	return l.update("put_service", func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketServices), []byte(svc.ID), svc)
	})
}

// Service loads a service by ID.
func (l *BoltLedger) Service(id string) (*Service, error) {
	var svc *Service
	err := l.view("service", func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketServices).Get([]byte(id))
		if data == nil {
			return nil
		}
		svc = &Service{}
		return json.Unmarshal(data, svc)
	})
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	return svc, nil
}

// Services lists all services ordered by ID.
func (l *BoltLedger) Services() ([]*Service, error) {
	var out []*Service
	err := l.view("services", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var svc Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return fmt.Errorf("failed to unmarshal service %s: %w", k, err)
			}
			out = append(out, &svc)
			return nil
		})
	})
	return out, err
}

// PutRun creates or updates a run row.
func (l *BoltLedger) PutRun(run *Run) error {
	return l.update("put_run", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketRuns, run.Service)
		if err != nil {
			return err
		}
		return putJSON(b, []byte(run.ID), run)
	})
}

// Runs returns the runs of a service, oldest first.
func (l *BoltLedger) Runs(service string) ([]*Run, error) {
	var out []*Run
	err := l.view("runs", func(tx *bolt.Tx) error {
		b, err := serviceBucket(tx, bucketRuns, service)
		if err != nil || b == nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("failed to unmarshal run %s: %w", k, err)
			}
			out = append(out, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
