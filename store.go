package pathdb

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultMandatoryField = "email"

type Options struct {
	// MandatoryField must hold a non-empty value in every stored document.
	// Defaults to DefaultMandatoryField.
	MandatoryField string

	Logger  *zap.Logger
	Verbose bool

	// SerializeWrites makes concurrent Puts on the same lookup key run one
	// at a time. Puts reaching one document through different keys can still
	// interleave.
	SerializeWrites bool

	NewID   func() string
	Now     func() time.Time
	Metrics *Metrics
}

// Store is the document store: lookups by any path, and merge-writes that
// keep the index and the history in step with the documents.
//
// Put is a read-modify-write without compare-and-swap. Two concurrent Puts
// can lose one another's changes or, racing on a key that matches nothing
// yet, create two documents.
type Store struct {
	backend   Backend
	mandatory string
	logger    *zap.Logger
	verbose   bool
	newID     func() string
	now       func() time.Time
	metrics   *Metrics
	locks     *keyLocks
}

func New(backend Backend, opt Options) *Store {
	s := &Store{
		backend:   backend,
		mandatory: opt.MandatoryField,
		logger:    opt.Logger,
		verbose:   opt.Verbose,
		newID:     opt.NewID,
		now:       opt.Now,
		metrics:   opt.Metrics,
	}
	if s.mandatory == "" {
		s.mandatory = DefaultMandatoryField
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opt.SerializeWrites {
		s.locks = &keyLocks{}
	}
	return s
}

func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) MandatoryField() string {
	return s.mandatory
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// ListAll returns every document.
func (s *Store) ListAll(ctx context.Context) (docs []*Document, err error) {
	defer func(start time.Time) { s.metrics.observe("list", start, err) }(time.Now())
	docs, err = s.backend.ScanAll(ctx)
	return docs, wrapBackendErr("scan", err)
}

// Exists returns every document having any value at path.
func (s *Store) Exists(ctx context.Context, path string) (docs []*Document, err error) {
	defer func(start time.Time) { s.metrics.observe("exists", start, err) }(time.Now())
	if err := validateLookupPath(path); err != nil {
		return nil, err
	}
	docs, err = s.backend.QueryByPath(ctx, path)
	return docs, wrapBackendErr("query", err)
}

// FindByValue returns every document whose value at path equals value after
// numeric normalization.
func (s *Store) FindByValue(ctx context.Context, path string, value Value) (docs []*Document, err error) {
	defer func(start time.Time) { s.metrics.observe("find", start, err) }(time.Now())
	value = Normalize(value)
	if err := validateLookup(path, value); err != nil {
		return nil, err
	}
	return s.findByValue(ctx, path, value)
}

func (s *Store) findByValue(ctx context.Context, path string, value Value) ([]*Document, error) {
	docs, err := s.backend.QueryByPathValue(ctx, path, value)
	return docs, wrapBackendErr("query", err)
}

// FindOne returns the single document whose value at path equals value, or
// nil if there is none. Several matches fail with *MultipleMatchesError.
func (s *Store) FindOne(ctx context.Context, path string, value Value) (doc *Document, err error) {
	defer func(start time.Time) { s.metrics.observe("find_one", start, err) }(time.Now())
	value = Normalize(value)
	if err := validateLookup(path, value); err != nil {
		return nil, err
	}
	return s.findOne(ctx, path, value)
}

func (s *Store) findOne(ctx context.Context, path string, value Value) (*Document, error) {
	docs, err := s.findByValue(ctx, path, value)
	if err != nil {
		return nil, err
	}
	switch len(docs) {
	case 0:
		return nil, nil
	case 1:
		return docs[0], nil
	default:
		return nil, &MultipleMatchesError{Path: path, Value: value, Count: len(docs)}
	}
}

// History returns the change log of the document found by FindOne, grouped
// by path, newest first. A non-empty subpath keeps only that path and the
// paths nested under it. Returns nil if no document matches.
func (s *Store) History(ctx context.Context, path string, value Value, subpath string) (hist History, err error) {
	defer func(start time.Time) { s.metrics.observe("history", start, err) }(time.Now())
	value = Normalize(value)
	if err := validateLookup(path, value); err != nil {
		return nil, err
	}
	if subpath != "" {
		if err := validateLookupPath(subpath); err != nil {
			return nil, err
		}
	}

	doc, err := s.findOne(ctx, path, value)
	if err != nil || doc == nil {
		return nil, err
	}
	records, err := s.backend.QueryHistory(ctx, doc.ID, subpath)
	if err != nil {
		return nil, wrapBackendErr("history", err)
	}
	return GroupHistory(records), nil
}

// Put merges partial into the document found by path=value (creating one if
// none matches), forces path to value, drops null and empty-string fields,
// validates the result and persists it with one history record per changed
// path.
func (s *Store) Put(ctx context.Context, author string, path string, value Value, partial Map) (doc *Document, err error) {
	defer func(start time.Time) { s.metrics.observe("put", start, err) }(time.Now())
	value = Normalize(value)
	if err := validateLookup(path, value); err != nil {
		return nil, err
	}
	if err := validateLookupValueForWrite(value); err != nil {
		return nil, err
	}

	if s.locks != nil {
		defer s.locks.lock(path, value)()
	}

	prev, err := s.findOne(ctx, path, value)
	if err != nil {
		return nil, err
	}
	var id string
	var prevFields Map
	if prev != nil {
		id, prevFields = prev.ID, prev.Fields
	} else {
		id = s.newID()
	}

	merged := Merge(prevFields, partial)
	merged.SetPath(SplitPath(path), value)
	cur := Sanitize(merged)
	if err := s.validate(cur); err != nil {
		return nil, err
	}

	diffs := Diff(author, prevFields, cur)
	doc = &Document{ID: id, Fields: cur}
	if prev != nil && Equal(prevFields, cur) {
		if s.verbose {
			s.logger.Debug("store: PUT.NOOP", zap.String("id", id), zap.String("path", path), zap.String("value", loggableValue(value)))
		}
		return doc, nil
	}

	doc, err = s.backend.Persist(ctx, doc, diffs, s.now())
	if err != nil {
		return nil, wrapBackendErr("persist", err)
	}
	s.metrics.countChanges(diffs)
	if s.verbose {
		s.logger.Debug("store: PUT", zap.String("id", id), zap.String("author", author), zap.Bool("created", prev == nil), zap.Strings("changed", diffs.Paths()))
	}
	return doc, nil
}

// PutAt is Put with the body placed at the nested position at, so that
// PutAt(..., ["a", "b"], 1) writes {a: {b: 1}}. With an empty at, body
// must be an object.
func (s *Store) PutAt(ctx context.Context, author string, path string, value Value, at []string, body Value) (*Document, error) {
	var partial Map
	if len(at) == 0 {
		m, ok := body.(Map)
		if !ok {
			return nil, validationErrf("", "body must be an object, got %v", kindOf(body))
		}
		partial = m
	} else {
		for _, seg := range at {
			if seg == "" {
				return nil, validationErrf(JoinPath(at...), "empty field name")
			}
		}
		partial = Map{}
		partial.SetPath(at, body)
	}
	return s.Put(ctx, author, path, value, partial)
}

// Lookup returns the value of doc at the nested position at.
func Lookup(doc *Document, at []string) (Value, bool) {
	if doc == nil {
		return nil, false
	}
	return doc.Fields.Lookup(at)
}

func (s *Store) validate(fields Map) error {
	mv, found := fields[s.mandatory]
	if !found || IsEmptyMap(mv) {
		return validationErrf(s.mandatory, "required")
	}

	type node struct {
		path string
		m    Map
	}
	nodes := []node{{"", fields}}
	for len(nodes) > 0 {
		n := nodes[len(nodes)-1]
		nodes = nodes[:len(nodes)-1]
		for key, v := range n.m {
			path := key
			if n.path != "" {
				path = n.path + PathSeparator + key
			}
			if key == "" {
				return validationErrf(path, "empty field name")
			}
			if strings.Contains(key, PathSeparator) {
				return validationErrf(path, "field names cannot contain %q", PathSeparator)
			}
			if strings.IndexByte(key, KeySeparator) >= 0 {
				return validationErrf(path, "field names cannot contain NUL")
			}
			switch v := v.(type) {
			case String:
				if strings.IndexByte(string(v), KeySeparator) >= 0 {
					return validationErrf(path, "strings cannot contain NUL")
				}
			case Map:
				nodes = append(nodes, node{path, v})
			}
		}
	}
	return nil
}

func validateLookupPath(path string) error {
	if !isValidPath(path) {
		return validationErrf(path, "invalid path")
	}
	if strings.IndexByte(path, KeySeparator) >= 0 {
		return validationErrf(path, "paths cannot contain NUL")
	}
	return nil
}

func validateLookup(path string, value Value) error {
	if err := validateLookupPath(path); err != nil {
		return err
	}
	if s, ok := value.(String); ok && strings.IndexByte(string(s), KeySeparator) >= 0 {
		return validationErrf(path, "lookup value cannot contain NUL")
	}
	return nil
}

// validateLookupValueForWrite rejects values that could not be found again
// under the key being written.
func validateLookupValueForWrite(value Value) error {
	switch value := value.(type) {
	case String:
		if value == "" {
			return validationErrf("", "empty lookup value")
		}
		return nil
	case Number, Bool:
		return nil
	default:
		return validationErrf("", "lookup value must be a string, number or boolean, got %v", kindOf(value))
	}
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}
