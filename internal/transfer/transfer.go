// Package transfer moves records loaded from one platform into another
// through the backend.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/majorcontext/portage/internal/audit"
	"github.com/majorcontext/portage/internal/backend"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
)

// DefaultSource is the platform data is read from when a request names none.
const DefaultSource = platform.HubSpot

var (
	// ErrNoCredentials is returned when the destination has no stored
	// credential. No request is sent.
	ErrNoCredentials = errors.New("no credentials found")
	// ErrUnexpectedStatus is returned for a non-error answer that is not 200.
	ErrUnexpectedStatus = errors.New("something went wrong")
)

// Backend is the transport used by the Coordinator. *backend.Client
// satisfies it.
type Backend interface {
	Transfer(ctx context.Context, params backend.TransferParams) (*backend.TransferResponse, error)
}

// Recorder journals outcomes. *audit.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Event, error)
}

// Request describes one transfer.
type Request struct {
	Source           platform.Platform
	SourceCredential credential.Credential
	Destination      platform.Platform
	Identity         backend.Identity
}

// Result is a successful transfer.
type Result struct {
	Message string
	Body    []byte
}

// Error is a failed transfer request. Message is what the operator sees.
type Error struct {
	Destination platform.Platform
	Status      int
	Message     string
	Err         error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Coordinator runs transfers against credentials held in a Store.
type Coordinator struct {
	backend  Backend
	store    *credential.Store
	recorder Recorder
}

// NewCoordinator creates a Coordinator. recorder may be nil.
func NewCoordinator(b Backend, store *credential.Store, recorder Recorder) *Coordinator {
	return &Coordinator{backend: b, store: store, recorder: recorder}
}

// Transfer copies the source platform's data into req.Destination.
func (c *Coordinator) Transfer(ctx context.Context, req Request) (Result, error) {
	if req.Source == "" {
		req.Source = DefaultSource
	}
	if !req.Source.Valid() {
		return Result{}, fmt.Errorf("%w: %q", platform.ErrUnsupported, string(req.Source))
	}

	target, ok := c.lookup(req.Destination)
	if !ok {
		return Result{}, missingCredential(req.Destination)
	}

	logger := log.With("source", req.Source, "destination", req.Destination)
	logger.Debug("starting transfer")

	resp, err := c.backend.Transfer(ctx, backend.TransferParams{
		Source:           req.Source,
		Destination:      req.Destination,
		Identity:         req.Identity,
		Target:           target,
		SourceCredential: req.SourceCredential,
	})
	if err != nil {
		terr := &Error{
			Destination: req.Destination,
			Status:      backend.StatusCode(err),
			Message:     failureMessage(err),
			Err:         err,
		}
		var body []byte
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			body = apiErr.Body
		}
		logger.Error("transfer failed", "status", terr.Status, "message", terr.Message, "error", err)
		c.journal(req, terr.Status, terr.Message, body, false)
		return Result{}, terr
	}

	if resp.StatusCode != http.StatusOK {
		logger.Error("transfer returned unexpected status", "status", resp.StatusCode, "body", string(resp.Body))
		c.journal(req, resp.StatusCode, ErrUnexpectedStatus.Error(), resp.Body, false)
		return Result{}, &Error{
			Destination: req.Destination,
			Status:      resp.StatusCode,
			Message:     ErrUnexpectedStatus.Error(),
			Err:         ErrUnexpectedStatus,
		}
	}

	logger.Info("transfer complete")
	c.journal(req, resp.StatusCode, "Success", resp.Body, true)
	return Result{Message: "Success", Body: resp.Body}, nil
}

// CheckDestination returns ErrNoCredentials unless a usable credential for
// dest is stored.
func (c *Coordinator) CheckDestination(dest platform.Platform) error {
	if _, ok := c.lookup(dest); !ok {
		return missingCredential(dest)
	}
	return nil
}

func missingCredential(dest platform.Platform) error {
	return fmt.Errorf("%w for %s", ErrNoCredentials, string(dest))
}

func (c *Coordinator) lookup(dest platform.Platform) (credential.Credential, bool) {
	if !dest.Valid() {
		return nil, false
	}
	cred, ok := c.store.Get(dest)
	if !ok || cred.Empty() {
		return nil, false
	}
	return cred, true
}

func (c *Coordinator) journal(req Request, status int, msg string, body []byte, ok bool) {
	if c.recorder == nil {
		return
	}
	ev := audit.Event{
		Kind:     audit.KindTransfer,
		Platform: string(req.Source),
		Target:   string(req.Destination),
		Outcome:  audit.OutcomeOK,
		Status:   status,
		Message:  msg,
		Payload:  body,
	}
	if !ok {
		ev.Outcome = audit.OutcomeFailed
	}
	if _, err := c.recorder.Record(context.Background(), ev); err != nil {
		log.Debug("journal write failed", "error", err)
	}
}

// failureMessage prefers the backend's detail, then its error field, then
// the raw failure.
func failureMessage(err error) string {
	if msg := backend.Detail(err); msg != "" {
		return msg
	}
	if msg := backend.ErrorMessage(err); msg != "" {
		return msg
	}
	return fmt.Sprintf("Failed to transfer data: %v", err)
}
