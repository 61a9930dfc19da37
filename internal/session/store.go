package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	// ErrPersistence wraps every failure to read or write the durable record.
	ErrPersistence     = errors.New("session persistence failure")
	ErrEmptyCredential = errors.New("empty credential")
)

// Listener is notified after every state transition, outside the store lock.
type Listener func(prev, next State)

// Store is the source of truth for the authentication state of one browser context.
// Only Login and Logout mutate the durable record.
type Store struct {
	backend Backend

	mutex      sync.Mutex
	state      State
	credential string
	profile    Profile
	listeners  []Listener
}

func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		state:   Unknown,
	}
}

// Initialize reads the persisted record and settles the state. Only the first call has an effect.
// A read failure leaves the store unauthenticated.
func (s *Store) Initialize(ctx context.Context) error {
	s.mutex.Lock()
	if s.state != Unknown {
		s.mutex.Unlock()
		return nil
	}

	credential, found, err := s.backend.Get(ctx, KeyCredential)
	if err != nil {
		prev := s.setStateLocked(Unauthenticated, "", nil)
		s.mutex.Unlock()
		s.notify(prev, Unauthenticated)
		return fmt.Errorf("%w: read credential: %s", ErrPersistence, err)
	}

	if !found || credential == "" {
		prev := s.setStateLocked(Unauthenticated, "", nil)
		s.mutex.Unlock()
		s.notify(prev, Unauthenticated)
		return nil
	}

	// the profile is advisory, failing to read it does not change the outcome
	var profile Profile
	if rawProfile, found, err := s.backend.Get(ctx, KeyProfile); err != nil {
		log.Warnf("session: read profile: %s", err)
	} else if found {
		profile = Profile(rawProfile)
	}

	prev := s.setStateLocked(Authenticated, credential, profile)
	s.mutex.Unlock()
	s.notify(prev, Authenticated)
	return nil
}

// Login durably records the credential and profile together. If either write fails,
// both entries are removed and the store ends up unauthenticated.
func (s *Store) Login(ctx context.Context, credential string, profile Profile) error {
	if credential == "" {
		return ErrEmptyCredential
	}

	s.mutex.Lock()
	writeErr := s.backend.Set(ctx, KeyCredential, credential)
	if writeErr == nil {
		writeErr = s.backend.Set(ctx, KeyProfile, string(profile))
	}

	if writeErr != nil {
		if rollbackErr := s.backend.Delete(ctx, KeyCredential, KeyProfile); rollbackErr != nil {
			writeErr = multierr.Append(writeErr, fmt.Errorf("rollback: %w", rollbackErr))
		}
		prev := s.setStateLocked(Unauthenticated, "", nil)
		s.mutex.Unlock()
		s.notify(prev, Unauthenticated)
		return fmt.Errorf("%w: login: %s", ErrPersistence, writeErr)
	}

	prev := s.setStateLocked(Authenticated, credential, profile)
	s.mutex.Unlock()
	s.notify(prev, Authenticated)
	return nil
}

// Logout removes the durable record. The store is unauthenticated afterwards even if the
// removal fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mutex.Lock()
	deleteErr := s.backend.Delete(ctx, KeyCredential, KeyProfile)
	prev := s.setStateLocked(Unauthenticated, "", nil)
	s.mutex.Unlock()

	s.notify(prev, Unauthenticated)

	if deleteErr != nil {
		log.Errorf("session: logout, delete record: %s", deleteErr)
		return fmt.Errorf("%w: logout: %s", ErrPersistence, deleteErr)
	}
	return nil
}

func (s *Store) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Store) Authenticated() bool {
	return s.State() == Authenticated
}

func (s *Store) Credential() (string, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.credential, s.state == Authenticated
}

func (s *Store) Profile() Profile {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.profile
}

// Subscribe registers l for all future state transitions.
func (s *Store) Subscribe(l Listener) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) setStateLocked(next State, credential string, profile Profile) (prev State) {
	prev = s.state
	s.state = next
	s.credential = credential
	s.profile = profile
	return prev
}

func (s *Store) notify(prev, next State) {
	if prev == next {
		return
	}

	s.mutex.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mutex.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
}
