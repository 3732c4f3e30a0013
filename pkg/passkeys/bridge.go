// Package passkeys runs WebAuthn ceremonies on behalf of the SDK: the
// blocking registration and login flows against the identity provider, and
// the message bridge used by the embedded web surface.
//
// One ceremony is outstanding at a time. Starting a new one cancels the
// previous platform request.
package passkeys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/idx"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-webauthn/webauthn/protocol"
)

// Login retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// State of the bridge.
type State int

const (
	StateIdle State = iota
	StateAwaitingPlatformResult
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPlatformResult:
		return "awaiting_platform_result"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// API is the part of the identity provider the bridge talks to.
type API interface {
	WebAuthnPrelogin(ctx context.Context) (*protocol.CredentialAssertion, error)
	WebAuthnPostlogin(ctx context.Context, assertion json.RawMessage) (*authsdk.TokenResponse, error)
	WebAuthnRegisterDevice(ctx context.Context, accessToken string) (*protocol.CredentialCreation, error)
	WebAuthnVerifyDevice(ctx context.Context, accessToken string, attestation json.RawMessage) (json.RawMessage, error)
}

type ceremony struct {
	id     idx.ID
	cancel context.CancelCauseFunc
}

type Bridge struct {
	api      API
	platform Platform
	logger   *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
	onAttempt   func(attempt int, err error)

	mu      sync.Mutex
	state   State
	pending *ceremony

	// Message bridge reply slot, owned by the ceremony with replyID.
	reply   func(Reply)
	replyID idx.ID
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option { return func(b *Bridge) { b.logger = l } }

// WithRetry overrides the login retry policy.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(b *Bridge) {
		if maxAttempts > 0 {
			b.maxAttempts = maxAttempts
		}
		b.retryDelay = delay
	}
}

// WithAttemptHook is called after every login attempt with its error, nil
// on success.
func WithAttemptHook(fn func(attempt int, err error)) Option {
	return func(b *Bridge) { b.onAttempt = fn }
}

func NewBridge(api API, platform Platform, opts ...Option) *Bridge {
	b := &Bridge{
		api:         api,
		platform:    platform,
		logger:      slogx.Discard(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current ceremony state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// begin supersedes any pending ceremony and returns the context the new one
// runs under. The reply slot moves to the new ceremony, nil for blocking
// calls.
func (b *Bridge) begin(ctx context.Context, reply func(Reply)) (context.Context, *ceremony) {
	cctx, cancel := context.WithCancelCause(ctx)
	c := &ceremony{id: idx.NewCeremonyID(), cancel: cancel}

	b.mu.Lock()
	prev := b.pending
	b.pending = c
	b.state = StateAwaitingPlatformResult
	b.reply = reply
	b.replyID = c.id
	b.mu.Unlock()

	if prev != nil {
		b.logger.DebugContext(ctx, "passkey ceremony superseded", "ceremony_id", prev.id, "by", c.id)
		prev.cancel(ErrCeremonySuperseded)
	}
	return cctx, c
}

// finish releases c if it is still the pending ceremony.
func (b *Bridge) finish(cctx context.Context, c *ceremony, err error) error {
	if cause := context.Cause(cctx); errors.Is(cause, ErrCeremonySuperseded) {
		err = ErrCeremonySuperseded
	}
	c.cancel(nil)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != c {
		return err
	}
	b.pending = nil
	if err != nil {
		b.state = StateFailure
	} else {
		b.state = StateSuccess
	}
	return err
}

// Register creates a passkey for the signed in user and returns the
// verification payload of the server, nil when it sent none.
func (b *Bridge) Register(ctx context.Context, accessToken string) (json.RawMessage, error) {
	cctx, c := b.begin(ctx, nil)
	payload, err := b.register(cctx, accessToken)
	return payload, b.finish(cctx, c, err)
}

func (b *Bridge) register(ctx context.Context, accessToken string) (json.RawMessage, error) {
	creation, err := b.api.WebAuthnRegisterDevice(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(creation.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	challenge, err := ParseCreationOptions(raw)
	if err != nil {
		return nil, err
	}

	result, err := b.platform.Create(ctx, challenge)
	if err != nil {
		return nil, err
	}

	att, err := DecodeAttestation(result.AttestationObject)
	if err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "passkey created",
		"format", att.Format,
		"credential_id", Encode(att.CredentialID),
	)

	body, err := result.JSON()
	if err != nil {
		return nil, err
	}
	return b.api.WebAuthnVerifyDevice(ctx, accessToken, body)
}

// Login runs prelogin, the platform assertion and postlogin. Prelogin and
// the assertion are repeated when the platform has no credential or the
// user dismissed the prompt, up to the configured number of attempts.
func (b *Bridge) Login(ctx context.Context) (*authsdk.TokenResponse, error) {
	cctx, c := b.begin(ctx, nil)
	tokens, err := b.login(cctx)
	return tokens, b.finish(cctx, c, err)
}

func (b *Bridge) login(ctx context.Context) (*authsdk.TokenResponse, error) {
	var (
		attempt   int
		assertion *AssertionResult
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.retryDelay), uint64(b.maxAttempts-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		attempt++
		res, err := b.assertOnce(ctx)
		if b.onAttempt != nil {
			b.onAttempt(attempt, err)
		}
		if err != nil {
			if retryable(err) && ctx.Err() == nil {
				b.logger.DebugContext(ctx, "passkey attempt failed", "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		assertion = res
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}

	body, err := assertion.JSON()
	if err != nil {
		return nil, err
	}
	return b.api.WebAuthnPostlogin(ctx, body)
}

func (b *Bridge) assertOnce(ctx context.Context) (*AssertionResult, error) {
	options, err := b.api.WebAuthnPrelogin(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(options.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	challenge, err := ParseRequestOptions(raw)
	if err != nil {
		return nil, err
	}

	return b.platform.Get(ctx, challenge)
}
