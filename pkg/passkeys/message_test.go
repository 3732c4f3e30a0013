package passkeys_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/passkeys"
	"github.com/stretchr/testify/require"
)

func TestDispatchGetPasskey(t *testing.T) {
	t.Parallel()

	platform := newRegisteredPlatform(t)
	b := passkeys.NewBridge(&stubAPI{}, platform)

	replies := make(chan passkeys.Reply, 1)
	err := b.Dispatch(context.Background(), passkeys.Message{
		Action:  passkeys.ActionGetPasskey,
		Payload: json.RawMessage(assertionOptions),
	}, func(r passkeys.Reply) { replies <- r })
	require.NoError(t, err)

	r := <-replies
	require.NoError(t, r.Err)
	require.Equal(t, passkeys.ActionGetPasskey, r.Action)

	var cred struct {
		ID       string `json:"id"`
		Response struct {
			Signature  string `json:"signature"`
			UserHandle string `json:"userHandle"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &cred))
	require.Equal(t, passkeys.Encode(platform.Credentials("example.com")[0]), cred.ID)
	require.NotEmpty(t, cred.Response.Signature)
}

func TestDispatchCreatePasskey(t *testing.T) {
	t.Parallel()

	platform := passkeys.NewVirtualPlatform("https://example.com")
	b := passkeys.NewBridge(&stubAPI{}, platform)

	replies := make(chan passkeys.Reply, 1)
	err := b.Dispatch(context.Background(), passkeys.Message{
		Action:  passkeys.ActionCreatePasskey,
		Payload: json.RawMessage(creationOptions),
	}, func(r passkeys.Reply) { replies <- r })
	require.NoError(t, err)

	r := <-replies
	require.NoError(t, r.Err)

	var cred struct {
		Response struct {
			AttestationObject string `json:"attestationObject"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &cred))

	raw, err := passkeys.Decode(cred.Response.AttestationObject)
	require.NoError(t, err)
	att, err := passkeys.DecodeAttestation(raw)
	require.NoError(t, err)
	require.Equal(t, platform.Credentials("example.com")[0], att.CredentialID)
}

func TestDispatchReportsPlatformErrors(t *testing.T) {
	t.Parallel()

	b := passkeys.NewBridge(&stubAPI{}, passkeys.NewVirtualPlatform("https://example.com"))

	replies := make(chan passkeys.Reply, 1)
	err := b.Dispatch(context.Background(), passkeys.Message{
		Action:  passkeys.ActionGetPasskey,
		Payload: json.RawMessage(assertionOptions),
	}, func(r passkeys.Reply) { replies <- r })
	require.NoError(t, err)

	r := <-replies
	require.ErrorIs(t, r.Err, passkeys.ErrNoCredentials)
	require.Empty(t, r.Result)
}

func TestDispatchRejectsBadMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  passkeys.Message
		want error
	}{
		{"unknown action", passkeys.Message{Action: "deletePasskey", Payload: json.RawMessage(`{}`)}, passkeys.ErrUnknownAction},
		{"empty payload", passkeys.Message{Action: passkeys.ActionGetPasskey}, passkeys.ErrMalformedPayload},
		{"missing challenge", passkeys.Message{Action: passkeys.ActionGetPasskey, Payload: json.RawMessage(`{"publicKey":{"rpId":"example.com"}}`)}, passkeys.ErrMalformedPayload},
		{"missing rp id", passkeys.Message{Action: passkeys.ActionGetPasskey, Payload: json.RawMessage(`{"publicKey":{"challenge":"AQ"}}`)}, passkeys.ErrMalformedPayload},
		{"creation missing user", passkeys.Message{Action: passkeys.ActionCreatePasskey, Payload: json.RawMessage(`{"publicKey":{"challenge":"AQ","rp":{"id":"example.com"}}}`)}, passkeys.ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := passkeys.NewBridge(&stubAPI{}, passkeys.NewVirtualPlatform("https://example.com"))
			called := false
			err := b.Dispatch(context.Background(), tt.msg, func(passkeys.Reply) { called = true })
			require.ErrorIs(t, err, tt.want)
			require.False(t, called)
			require.Equal(t, passkeys.StateIdle, b.State())
		})
	}
}

// A second dispatch takes over the reply slot. The first callback is never
// invoked, even though its ceremony ends.
func TestDispatchOverwritesPendingReply(t *testing.T) {
	t.Parallel()

	platform := &scriptedPlatform{
		Platform: newRegisteredPlatform(t),
		block:    true,
		inside:   make(chan struct{}, 1),
	}
	b := passkeys.NewBridge(&stubAPI{}, platform)

	msg := passkeys.Message{Action: passkeys.ActionGetPasskey, Payload: json.RawMessage(assertionOptions)}

	var firstCalled atomic.Bool
	require.NoError(t, b.Dispatch(context.Background(), msg, func(passkeys.Reply) { firstCalled.Store(true) }))
	<-platform.inside

	replies := make(chan passkeys.Reply, 1)
	require.NoError(t, b.Dispatch(context.Background(), msg, func(r passkeys.Reply) { replies <- r }))

	r := <-replies
	require.NoError(t, r.Err)
	require.NotEmpty(t, r.Result)

	require.Never(t, firstCalled.Load, 100*time.Millisecond, 5*time.Millisecond)
	require.EqualValues(t, 2, platform.gets.Load())
}
