// Package auth is the session orchestrator of the SDK.
//
// A Manager owns one session. It drives hosted and social logins through
// authurl, passkey ceremonies through passkeys, talks to the identity
// provider through authsdk, persists tokens in a storage.Store and publishes
// the result on a session.Store for the host UI to observe.
//
// Durable state is always written before the session is published, so an
// observer never sees a token that is not yet stored and never sees a
// logged out flag while credentials are still on disk.
//
// Basic usage:
//
//	m, err := auth.New(auth.Options{
//		Config:    cfg,
//		Storage:   store,
//		Presenter: loopback.New(loopback.Options{}),
//	})
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	if err := m.Start(ctx); err != nil {
//		return err
//	}
//	user, err := m.Login(ctx)
package auth
