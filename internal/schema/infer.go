package schema

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/PentesterFlow/apiprober/internal/errors"
	"github.com/PentesterFlow/apiprober/internal/ledger"
)

// Store is the part of the ledger the inferencer writes to.
type Store interface {
	Schema(key ledger.Key) ([]byte, error)
	AppendSample(key ledger.Key, fingerprint string, body, schema []byte, max int) (ledger.SampleResult, error)
}

// Options tunes an Inferencer.
type Options struct {
	MaxSamples     int
	CacheSize      int
	ExpectedShapes int
}

// DefaultOptions returns the defaults used by the orchestrator.
func DefaultOptions() Options {
	return Options{
		MaxSamples:     5,
		CacheSize:      512,
		ExpectedShapes: 10000,
	}
}

// Inferencer folds probe bodies into the per-endpoint schema kept in the
// ledger. It is safe for concurrent use across services; calls for one
// key must not overlap.
type Inferencer struct {
	store  Store
	opts   Options
	cache  *lru.Cache[ledger.Key, *Node]
	filter *ShapeFilter
}

// NewInferencer creates an inferencer writing to store.
func NewInferencer(store Store, opts Options) (*Inferencer, error) {
	def := DefaultOptions()
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	if opts.ExpectedShapes <= 0 {
		opts.ExpectedShapes = def.ExpectedShapes
	}

	cache, err := lru.New[ledger.Key, *Node](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}

	return &Inferencer{
		store:  store,
		opts:   opts,
		cache:  cache,
		filter: NewShapeFilter(opts.ExpectedShapes),
	}, nil
}

// Observe folds one response body into the schema for key. Bodies that
// are not JSON return a Parse error and change nothing.
func (inf *Inferencer) Observe(key ledger.Key, body []byte) (ledger.SampleResult, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return ledger.SampleDuplicate, errors.NewParseError(key.String(), "infer_schema", err)
	}

	fp := Fingerprint(v)
	seenKey := key.Service + "\x00" + key.String() + "\x00" + fp
	if inf.filter.Seen(seenKey) {
		return ledger.SampleDuplicate, nil
	}

	node, err := inf.Node(key)
	if err != nil {
		return ledger.SampleCapped, err
	}
	if node != nil && inf.opts.MaxSamples > 0 && node.Seen >= inf.opts.MaxSamples {
		return ledger.SampleCapped, nil
	}

	merged := Fold(node.Clone(), v)
	data, err := Encode(merged)
	if err != nil {
		return ledger.SampleCapped, fmt.Errorf("failed to encode schema: %w", err)
	}

	res, err := inf.store.AppendSample(key, fp, body, data, inf.opts.MaxSamples)
	if err != nil {
		return res, err
	}

	switch res {
	case ledger.SampleStored:
		inf.cache.Add(key, merged)
		inf.filter.Add(seenKey)
	case ledger.SampleDuplicate:
		inf.filter.Add(seenKey)
	}
	return res, nil
}

// Node returns the current schema for key, or nil if none was stored.
func (inf *Inferencer) Node(key ledger.Key) (*Node, error) {
	if n, ok := inf.cache.Get(key); ok {
		return n, nil
	}
	data, err := inf.store.Schema(key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	n, err := Decode(data)
	if err != nil {
		return nil, errors.NewParseError(key.String(), "load_schema", err)
	}
	inf.cache.Add(key, n)
	return n, nil
}

// Stats reports cache and filter sizes.
func (inf *Inferencer) Stats() map[string]int {
	return map[string]int{
		"cached_schemas": inf.cache.Len(),
		"known_shapes":   inf.filter.Count(),
	}
}
