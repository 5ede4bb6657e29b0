package main

import "sort"

// SessionRegistry tracks which usernames are admitted and which are
// still waiting for operator approval. It holds plain state only; all
// access is serialized by the server's registry mutex so that
// multi-step operations (accept + announce, kick + team cascade) are
// atomic with respect to concurrent connection goroutines.
//
// Invariant: a username appears in at most one of connected/waitlist.
type SessionRegistry struct {
	connected map[string]Conn
	waitlist  map[string]Conn
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		connected: make(map[string]Conn),
		waitlist:  make(map[string]Conn),
	}
}

// RequestAuth records an auth request. It returns false when the
// username is already admitted: a reconnect attempt under a connected
// name is ignored outright, re-authentication is not supported. A
// repeat request from the waitlist replaces the stored connection.
func (r *SessionRegistry) RequestAuth(username string, conn Conn) bool {
	if _, ok := r.connected[username]; ok {
		return false
	}
	r.waitlist[username] = conn
	return true
}

// Accept moves a waitlisted user into the connected table and returns
// their connection. The second return is false when the user was not
// waiting.
func (r *SessionRegistry) Accept(username string) (Conn, bool) {
	conn, ok := r.waitlist[username]
	if !ok {
		return nil, false
	}
	r.connected[username] = conn
	delete(r.waitlist, username)
	return conn, true
}

// Reject removes a waitlisted user and returns their connection so the
// caller can notify and close it.
func (r *SessionRegistry) Reject(username string) (Conn, bool) {
	conn, ok := r.waitlist[username]
	if !ok {
		return nil, false
	}
	delete(r.waitlist, username)
	return conn, true
}

// Remove drops an admitted user and returns their connection.
func (r *SessionRegistry) Remove(username string) (Conn, bool) {
	conn, ok := r.connected[username]
	if !ok {
		return nil, false
	}
	delete(r.connected, username)
	return conn, true
}

// Get returns the connection of an admitted user.
func (r *SessionRegistry) Get(username string) (Conn, bool) {
	conn, ok := r.connected[username]
	return conn, ok
}

// UserFor resolves a connection back to its admitted username.
func (r *SessionRegistry) UserFor(conn Conn) (string, bool) {
	for username, c := range r.connected {
		if c == conn {
			return username, true
		}
	}
	return "", false
}

// RemoveConn is the single teardown lookup: it scans both tables for
// the connection and removes it from whichever holds it. O(n) over the
// user count, which is fine at chat scale. Idempotent; a connection
// already cleaned up by a kick or disqualification matches nothing.
func (r *SessionRegistry) RemoveConn(conn Conn) (username string, wasConnected bool, found bool) {
	for u, c := range r.connected {
		if c == conn {
			delete(r.connected, u)
			return u, true, true
		}
	}
	for u, c := range r.waitlist {
		if c == conn {
			delete(r.waitlist, u)
			return u, false, true
		}
	}
	return "", false, false
}

// ConnectedUsers returns the admitted usernames, sorted.
func (r *SessionRegistry) ConnectedUsers() []string {
	users := make([]string, 0, len(r.connected))
	for u := range r.connected {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// WaitlistUsers returns the waiting usernames, sorted.
func (r *SessionRegistry) WaitlistUsers() []string {
	users := make([]string, 0, len(r.waitlist))
	for u := range r.waitlist {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
