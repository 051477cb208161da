// Package natscheck answers remote existence checks over NATS request/reply.
//
// Each check publishes a JSON request on the configured subject and waits for
// a single JSON reply:
//
//	request: {"tableMapping": "...", "keyMapping": "Customer#code", "value": "C1"}
//	reply:   {"exists": true} or {"error": "..."}
package natscheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	formerrors "github.com/goliatone/go-taskforms/pkg/errors"
)

const (
	// DefaultSubject is used when no subject is configured.
	DefaultSubject = "taskforms.exists"

	// DefaultTimeout bounds a request when the context carries no deadline.
	DefaultTimeout = 5 * time.Second
)

// Requester is the subset of *nats.Conn the checker depends on.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Request is the payload published for each check.
type Request struct {
	ID           string `json:"id"`
	TableMapping string `json:"tableMapping"`
	KeyMapping   string `json:"keyMapping"`
	Value        any    `json:"value"`
}

// Reply is the expected response payload.
type Reply struct {
	Exists bool   `json:"exists"`
	Error  string `json:"error,omitempty"`
}

// Option customises a Checker.
type Option func(*Checker)

// WithSubject overrides DefaultSubject.
func WithSubject(subject string) Option {
	return func(c *Checker) {
		if s := strings.TrimSpace(subject); s != "" {
			c.subject = s
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the checker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Checker implements asyncvalidation.ExistenceChecker.
type Checker struct {
	conn    Requester
	subject string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a checker over an established connection.
func New(conn Requester, opts ...Option) (*Checker, error) {
	if conn == nil {
		return nil, formerrors.Configuration("natscheck: connection cannot be nil", nil)
	}
	c := &Checker{
		conn:    conn,
		subject: DefaultSubject,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Connect dials url and returns a checker bound to the new connection along
// with the connection so the caller can drain it on shutdown.
func Connect(url string, opts ...Option) (*Checker, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("taskforms-existence"))
	if err != nil {
		return nil, nil, formerrors.TransientLookup(fmt.Sprintf("natscheck: connect %s", url), err)
	}
	checker, err := New(nc, opts...)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return checker, nc, nil
}

// Exists publishes the check and decodes the reply.
func (c *Checker) Exists(ctx context.Context, tableMapping, keyMapping string, value any) (bool, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := Request{
		ID:           uuid.NewString(),
		TableMapping: tableMapping,
		KeyMapping:   keyMapping,
		Value:        value,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return false, formerrors.Configuration("natscheck: encode request", err)
	}

	msg, err := c.conn.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			c.logger.Warn("natscheck: no responders", zap.String("subject", c.subject))
		}
		return false, formerrors.TransientLookup(fmt.Sprintf("natscheck: request %s", c.subject), err)
	}
	if msg == nil {
		return false, formerrors.TransientLookup("natscheck: empty reply", nil)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return false, formerrors.TransientLookup("natscheck: decode reply", err)
	}
	if reply.Error != "" {
		return false, formerrors.TransientLookup("natscheck: remote error: "+reply.Error, nil)
	}

	c.logger.Debug("natscheck: check answered",
		zap.String("id", req.ID),
		zap.String("keyMapping", keyMapping),
		zap.Bool("exists", reply.Exists))
	return reply.Exists, nil
}
