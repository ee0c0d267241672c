package base

import (
	"github.com/ValentinKolb/dNet/rpc/transport"
	"sync"
)

type observerEntry struct {
	id       uint64
	observer transport.IConnectionObserver
}

// observerSubject is the list of observers of an engine.
// The list is copied on every change, notifications iterate a snapshot without holding the lock.
type observerSubject struct {
	mu        sync.Mutex
	nextID    uint64
	observers []observerEntry
}

// subscribe adds an observer and returns the function removing it
func (s *observerSubject) subscribe(observer transport.IConnectionObserver) func() {
	if observer == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	next := make([]observerEntry, len(s.observers), len(s.observers)+1)
	copy(next, s.observers)
	s.observers = append(next, observerEntry{id: id, observer: observer})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(id) })
	}
}

func (s *observerSubject) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]observerEntry, 0, len(s.observers))
	for _, e := range s.observers {
		if e.id != id {
			next = append(next, e)
		}
	}
	s.observers = next
}

func (s *observerSubject) snapshot() []observerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers
}

func (s *observerSubject) len() int {
	return len(s.snapshot())
}

// notifyConnected reports a new connection, or a failed attempt when conn is nil
func (s *observerSubject) notifyConnected(conn transport.IConnection, err error) {
	for _, e := range s.snapshot() {
		func() {
			defer recoverObserver("OnConnected")
			e.observer.OnConnected(conn, err)
		}()
	}
}

func (s *observerSubject) notifyDisconnected(conn transport.IConnection) {
	for _, e := range s.snapshot() {
		func() {
			defer recoverObserver("OnDisconnected")
			e.observer.OnDisconnected(conn)
		}()
	}
}

func recoverObserver(callback string) {
	if r := recover(); r != nil {
		Logger.Errorf("recovered panic in observer %s: %v", callback, r)
	}
}
