// Package session holds the observable authentication state of the SDK.
//
// The Store is written by the auth Manager and read by the host UI. Every
// setter compares the new value with the current one and queues a Change
// only when they differ. Changes are delivered to subscribers through a
// Dispatcher, strictly in mutation order.
package session

import (
	"reflect"
	"sync"

	"github.com/aussiebroadwan/loginkit/pkg/config"
)

// Field names one observable property of the session.
type Field int

const (
	FieldAccessToken Field = iota
	FieldRefreshToken
	FieldUser
	FieldIsAuthenticated
	FieldStepUpAuthorization
	FieldLoading
	FieldInitializing
	FieldSelectedRegion
	FieldRefreshingToken
)

func (f Field) String() string {
	switch f {
	case FieldAccessToken:
		return "accessToken"
	case FieldRefreshToken:
		return "refreshToken"
	case FieldUser:
		return "user"
	case FieldIsAuthenticated:
		return "isAuthenticated"
	case FieldStepUpAuthorization:
		return "isStepUpAuthorization"
	case FieldLoading:
		return "isLoading"
	case FieldInitializing:
		return "initializing"
	case FieldSelectedRegion:
		return "selectedRegion"
	case FieldRefreshingToken:
		return "refreshingToken"
	default:
		return "unknown"
	}
}

// Change describes one field transition.
type Change struct {
	Field Field
	Old   any
	New   any
}

// Snapshot is a consistent copy of every session field.
type Snapshot struct {
	AccessToken           string
	RefreshToken          string
	User                  *Identity
	IsAuthenticated       bool
	IsStepUpAuthorization bool
	IsLoading             bool
	Initializing          bool
	SelectedRegion        *config.Region
	RefreshingToken       bool
}

type subscriber struct {
	id uint64
	fn func(Change)
}

type Store struct {
	mu     sync.Mutex
	state  Snapshot
	outbox []Change

	// flushMu keeps batches in outbox order on their way to the dispatcher.
	flushMu sync.Mutex

	subMu  sync.Mutex
	subs   []subscriber
	nextID uint64

	dispatcher Dispatcher
	ownsQueue  *MainQueue
}

// NewStore creates an empty session. A nil dispatcher starts a private
// MainQueue that Close stops.
func NewStore(d Dispatcher) *Store {
	s := &Store{dispatcher: d}
	if d == nil {
		q := NewMainQueue()
		s.dispatcher = q
		s.ownsQueue = q
	}
	s.state.Initializing = true
	return s
}

// Close stops the private dispatcher, if any, after delivering pending
// changes.
func (s *Store) Close() {
	if s.ownsQueue != nil {
		s.ownsQueue.Close()
	}
}

// Subscribe registers fn for every future change. The returned func removes
// it.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Sync blocks until every change queued before the call has been delivered.
func (s *Store) Sync() {
	done := make(chan struct{})

	s.flushMu.Lock()
	s.dispatcher.Dispatch(func() { close(done) })
	s.flushMu.Unlock()

	<-done
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.state
	out.User = s.state.User.Clone()
	out.SelectedRegion = cloneRegion(s.state.SelectedRegion)
	return out
}

func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AccessToken
}

func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RefreshToken
}

func (s *Store) User() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User.Clone()
}

func (s *Store) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsAuthenticated
}

func (s *Store) SetAccessToken(v string) {
	s.update(func(st *Snapshot) { s.setString(FieldAccessToken, &st.AccessToken, v) })
}

func (s *Store) SetRefreshToken(v string) {
	s.update(func(st *Snapshot) { s.setString(FieldRefreshToken, &st.RefreshToken, v) })
}

func (s *Store) SetUser(u *Identity) {
	s.update(func(st *Snapshot) { s.setUser(st, u) })
}

// SetCredentials swaps tokens and user in one transition.
func (s *Store) SetCredentials(access, refresh string, u *Identity) {
	s.update(func(st *Snapshot) {
		s.setString(FieldAccessToken, &st.AccessToken, access)
		s.setString(FieldRefreshToken, &st.RefreshToken, refresh)
		s.setUser(st, u)
	})
}

// ClearCredentials drops tokens, user and the step-up flag.
func (s *Store) ClearCredentials() {
	s.update(func(st *Snapshot) {
		s.setString(FieldAccessToken, &st.AccessToken, "")
		s.setString(FieldRefreshToken, &st.RefreshToken, "")
		s.setUser(st, nil)
		s.setBool(FieldStepUpAuthorization, &st.IsStepUpAuthorization, false)
	})
}

func (s *Store) SetStepUpAuthorization(v bool) {
	s.update(func(st *Snapshot) { s.setBool(FieldStepUpAuthorization, &st.IsStepUpAuthorization, v) })
}

func (s *Store) SetLoading(v bool) {
	s.update(func(st *Snapshot) { s.setBool(FieldLoading, &st.IsLoading, v) })
}

func (s *Store) SetInitializing(v bool) {
	s.update(func(st *Snapshot) { s.setBool(FieldInitializing, &st.Initializing, v) })
}

func (s *Store) SetRefreshingToken(v bool) {
	s.update(func(st *Snapshot) { s.setBool(FieldRefreshingToken, &st.RefreshingToken, v) })
}

func (s *Store) SetSelectedRegion(r *config.Region) {
	s.update(func(st *Snapshot) {
		if reflect.DeepEqual(st.SelectedRegion, r) {
			return
		}
		old := st.SelectedRegion
		st.SelectedRegion = cloneRegion(r)
		s.queue(FieldSelectedRegion, old, cloneRegion(r))
	})
}

// update applies mutate under the state lock, re-derives the authenticated
// flag and hands queued changes to the dispatcher.
func (s *Store) update(mutate func(st *Snapshot)) {
	s.mu.Lock()
	mutate(&s.state)
	authed := s.state.AccessToken != "" && s.state.User != nil
	s.setBool(FieldIsAuthenticated, &s.state.IsAuthenticated, authed)
	s.mu.Unlock()

	s.flush()
}

func (s *Store) setString(f Field, dst *string, v string) {
	if *dst == v {
		return
	}
	old := *dst
	*dst = v
	s.queue(f, old, v)
}

func (s *Store) setBool(f Field, dst *bool, v bool) {
	if *dst == v {
		return
	}
	*dst = v
	s.queue(f, !v, v)
}

func (s *Store) setUser(st *Snapshot, u *Identity) {
	if reflect.DeepEqual(st.User, u) {
		return
	}
	old := st.User
	st.User = u.Clone()
	s.queue(FieldUser, old, u.Clone())
}

// queue must be called with mu held.
func (s *Store) queue(f Field, old, v any) {
	s.outbox = append(s.outbox, Change{Field: f, Old: old, New: v})
}

func (s *Store) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	s.dispatcher.Dispatch(func() { s.deliver(batch) })
}

func (s *Store) deliver(batch []Change) {
	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, c := range batch {
		for _, sub := range subs {
			sub.fn(c)
		}
	}
}

func cloneRegion(r *config.Region) *config.Region {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
