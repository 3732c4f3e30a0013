package passkeys

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message-bridge actions.
const (
	ActionGetPasskey    = "getPasskey"
	ActionCreatePasskey = "createPasskey"
)

// Message is a ceremony request from an embedded web surface.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Reply carries the raw platform result back to the web surface. Result is
// WebAuthn PublicKeyCredential JSON. Verification is left to the receiver.
type Reply struct {
	Action string          `json:"action"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    error           `json:"-"`
}

// Result is a platform ceremony outcome that can be handed to a web surface.
type Result interface {
	JSON() (json.RawMessage, error)
}

// Dispatch starts the ceremony named by msg and returns once the payload has
// been decoded. The outcome is delivered to reply from another goroutine.
//
// Only the latest dispatch owns the reply slot. A dispatch that is replaced
// before it finishes is cancelled and its reply is never called.
func (b *Bridge) Dispatch(ctx context.Context, msg Message, reply func(Reply)) error {
	run, err := b.decodeMessage(msg)
	if err != nil {
		return err
	}

	cctx, c := b.begin(ctx, reply)

	b.logger.DebugContext(ctx, "passkey message dispatched", "action", msg.Action, "ceremony_id", c.id)

	go func() {
		out := Reply{Action: msg.Action}

		res, err := run(cctx)
		if err == nil {
			out.Result, err = res.JSON()
		}
		out.Err = b.finish(cctx, c, err)

		b.mu.Lock()
		fn := b.reply
		owned := b.replyID == c.id
		if owned {
			b.reply = nil
			b.replyID = ""
		}
		b.mu.Unlock()

		if !owned || fn == nil {
			b.logger.DebugContext(cctx, "passkey reply dropped", "ceremony_id", c.id)
			return
		}
		fn(out)
	}()

	return nil
}

func (b *Bridge) decodeMessage(msg Message) (func(context.Context) (Result, error), error) {
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	switch msg.Action {
	case ActionGetPasskey:
		challenge, err := ParseRequestOptions(msg.Payload)
		if err != nil {
			return nil, err
		}
		if challenge.RPID == "" {
			return nil, fmt.Errorf("%w: missing rpId", ErrMalformedPayload)
		}
		return func(ctx context.Context) (Result, error) {
			return b.platform.Get(ctx, challenge)
		}, nil

	case ActionCreatePasskey:
		challenge, err := ParseCreationOptions(msg.Payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (Result, error) {
			return b.platform.Create(ctx, challenge)
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
}
