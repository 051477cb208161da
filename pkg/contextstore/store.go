// Package contextstore keeps the live rendering contexts produced by
// successful renders, addressed by a numeric token until a terminal action
// clears them.
package contextstore

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
	"github.com/goliatone/go-taskforms/pkg/model"
)

const (
	// ParamServerTemplateID names the server template param of a context.
	ParamServerTemplateID = "SERVER_TEMPLATE_ID"

	// AttributeRenderingSettings names the attribute holding the settings a
	// context was rendered from.
	AttributeRenderingSettings = "_rendering_settings"
)

// Registration describes a context to register.
type Registration struct {
	RootForm         *model.FormDefinition
	NestedForms      []*model.FormDefinition
	Data             map[string]any
	ProcessVariables map[string]any
	Marshaller       model.MarshallerContext
	Params           map[string]string
	Metadata         map[string]any
	Attributes       map[string]any
}

// Option customises a Store.
type Option func(*Store)

// WithTokenSeed sets the value tokens are allocated after. The default seed is
// the store creation time in milliseconds.
func WithTokenSeed(seed uint64) Option {
	return func(s *Store) {
		s.next.Store(seed)
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is a concurrency-safe token → context registry. Operations on distinct
// tokens never contend beyond the brief map lookup; updates to one token are
// serialised by that entry's own lock.
type Store struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
	next    atomic.Uint64
	logger  *zap.Logger
}

type entry struct {
	mu    sync.Mutex
	state RenderingContext
}

// New creates an empty store.
func New(options ...Option) *Store {
	s := &Store{
		entries: make(map[uint64]*entry),
		logger:  zap.NewNop(),
	}
	s.next.Store(uint64(time.Now().UnixMilli()))
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Register stores a new context and returns its token. Tokens are strictly
// increasing and never reused within the process.
func (s *Store) Register(reg Registration) (uint64, error) {
	if reg.RootForm == nil {
		return 0, formerrors.Configuration("contextstore: root form is required", nil)
	}
	marshaller := reg.Marshaller
	if marshaller == nil {
		marshaller = model.DefaultMarshaller{}
	}

	token := s.next.Add(1)
	state := RenderingContext{
		token:            token,
		rootForm:         reg.RootForm,
		nestedForms:      append([]*model.FormDefinition(nil), reg.NestedForms...),
		data:             cloneOrEmpty(reg.Data),
		processVariables: cloneOrEmpty(reg.ProcessVariables),
		marshaller:       marshaller,
		params:           cloneOrEmpty(reg.Params),
		metadata:         cloneOrEmpty(reg.Metadata),
		attributes:       cloneOrEmpty(reg.Attributes),
	}

	s.mu.Lock()
	s.entries[token] = &entry{state: state}
	s.mu.Unlock()

	s.logger.Debug("contextstore: registered context",
		zap.Uint64("token", token),
		zap.String("form", reg.RootForm.Name))
	return token, nil
}

// Get returns a snapshot of the context addressed by token.
func (s *Store) Get(token uint64) (*RenderingContext, error) {
	e, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot(), nil
}

// Update merges values into the context data and returns the updated
// snapshot.
func (s *Store) Update(token uint64, values map[string]any) (*RenderingContext, error) {
	e, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, value := range values {
		e.state.data[key] = value
	}
	return e.state.snapshot(), nil
}

// MergeMetadata merges rendering metadata into the context. The caller's map
// is copied, never retained.
func (s *Store) MergeMetadata(token uint64, metadata map[string]any) (*RenderingContext, error) {
	e, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, value := range metadata {
		e.state.metadata[key] = value
	}
	return e.state.snapshot(), nil
}

// Clear removes the context. Unknown or already-cleared tokens are ignored.
func (s *Store) Clear(token uint64) {
	s.mu.Lock()
	_, existed := s.entries[token]
	delete(s.entries, token)
	s.mu.Unlock()
	if existed {
		s.logger.Debug("contextstore: cleared context", zap.Uint64("token", token))
	}
}

// Len reports the number of live contexts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(token uint64) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok {
		return nil, formerrors.NotFound(fmt.Sprintf("contextstore: no context for token %d", token), nil)
	}
	return e, nil
}

func cloneOrEmpty[M ~map[K]V, K comparable, V any](m M) M {
	if m == nil {
		return make(M)
	}
	return maps.Clone(m)
}
