package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/kapbl/chatgate/apperr"
	"github.com/kapbl/chatgate/models"
	"github.com/rs/zerolog"
)

const bearerPrefix = "Bearer "

const (
	ReasonMissingCredential = "missing_or_malformed_credential"
	ReasonInvalidCredential = "invalid_credential"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// RejectRecorder observes gate rejections, typically a metrics counter.
type RejectRecorder interface {
	GateRejected(reason string)
}

// Reject is returned when a connection cannot be authenticated.
type Reject struct {
	Reason string
	Err    error
}

func (r *Reject) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Reason, r.Err)
	}
	return r.Reason
}

func (r *Reject) Unwrap() []error {
	kind := apperr.ErrInvalidCredential
	if r.Reason == ReasonMissingCredential {
		kind = apperr.ErrMissingCredential
	}
	if r.Err == nil {
		return []error{kind}
	}
	return []error{kind, r.Err}
}

// Gate authenticates the establishment frame of a long-lived connection.
// It performs no I/O itself; identity resolution is left to the Verifier.
type Gate struct {
	verifier Verifier
	recorder RejectRecorder
	log      zerolog.Logger
}

func NewGate(verifier Verifier, recorder RejectRecorder, log zerolog.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		recorder: recorder,
		log:      log.With().Str("component", "gate").Logger(),
	}
}

// Authenticate validates the Authorization header value of a connect frame.
// Failures are returned as *Reject.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (models.Identity, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return models.Identity{}, g.reject(ReasonMissingCredential, nil)
	}
	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return models.Identity{}, g.reject(ReasonInvalidCredential, err)
	}
	return identity, nil
}

// Bind authenticates and binds the result to binding in one step.
func (g *Gate) Bind(ctx context.Context, binding *Binding, authorization string) (models.Identity, error) {
	identity, err := g.Authenticate(ctx, authorization)
	if err != nil {
		return models.Identity{}, err
	}
	if err := binding.Bind(identity); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

func (g *Gate) reject(reason string, err error) *Reject {
	g.log.Warn().Str("reason", reason).AnErr("cause", err).Msg("connection rejected")
	if g.recorder != nil {
		g.recorder.GateRejected(reason)
	}
	return &Reject{Reason: reason, Err: err}
}

// BearerToken strips the required "Bearer " prefix. An absent prefix or an
// empty token is malformed.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
