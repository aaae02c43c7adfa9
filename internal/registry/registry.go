// Package registry tracks which connections are logged in as which user
// and routes push frames across a user's concurrently connected devices.
package registry

import (
	"context"
	"sync"

	"github.com/comcore-chat/comcore/internal/logger"
	"github.com/comcore-chat/comcore/internal/store"
)

// Conn is the registry's view of a live connection. Push enqueues one
// outbound frame; ForceLogout transitions the connection back to
// LoggedOut and pushes a logout frame.
type Conn interface {
	Push(kind string, data any)
	ForceLogout()
}

// Registry is the process-wide userID -> connections map. Membership is
// mutated by LoginConnection / LogoutConnection, called by the dispatcher
// on entering and leaving the LoggedIn state, and by ForceLogout, which
// removes the sessions it logs out.
type Registry struct {
	st  store.Store
	log *logger.Logger

	mu       sync.Mutex
	sessions map[string]map[Conn]struct{}
}

// New constructs a Registry. The Store is consulted for group member
// lists when fanning a push out to a whole group.
func New(st store.Store) *Registry {
	return &Registry{
		st:       st,
		log:      logger.Global().WithPrefix("registry"),
		sessions: make(map[string]map[Conn]struct{}),
	}
}

// LoginConnection registers c as a session of userID.
func (r *Registry) LoginConnection(userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.sessions[userID] = set
	}
	set[c] = struct{}{}
	r.log.Debug("user %s logged in (%d sessions)", userID, len(set))
}

// LogoutConnection removes c from userID's sessions. Empty sets are
// deleted so the map tracks only online users.
func (r *Registry) LogoutConnection(userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
	r.log.Debug("user %s logged out (%d sessions)", userID, len(set))
}

// Forward sends a frame to every session of userID except exceptFor.
func (r *Registry) Forward(userID, kind string, data any, exceptFor Conn) {
	for _, c := range r.connsOf(userID, exceptFor) {
		c.Push(kind, data)
	}
}

// ForwardGroup sends a frame to every session of every member of groupID
// except exceptFor. The originating connection is typically excluded; it
// reconciles from its direct reply instead.
func (r *Registry) ForwardGroup(ctx context.Context, groupID, kind string, data any, exceptFor Conn) error {
	members, err := r.st.GetUsers(ctx, groupID)
	if err != nil {
		return err
	}
	for _, member := range members {
		r.Forward(member.UserID, kind, data, exceptFor)
	}
	return nil
}

// ForceLogout terminates the LoggedIn state on every session of userID
// other than exceptFor. The connections are removed from the map here;
// each then resets its own state and pushes the logout frame.
func (r *Registry) ForceLogout(userID string, exceptFor Conn) {
	r.mu.Lock()
	set := r.sessions[userID]
	victims := make([]Conn, 0, len(set))
	for c := range set {
		if c == exceptFor {
			continue
		}
		victims = append(victims, c)
		delete(set, c)
	}
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.ForceLogout()
	}
	if len(victims) > 0 {
		r.log.Info("forced logout of %d other sessions of user %s", len(victims), userID)
	}
}

// SessionCount returns the number of live sessions of userID.
func (r *Registry) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}

// OnlineUsers returns the number of users with at least one session.
func (r *Registry) OnlineUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// connsOf snapshots userID's sessions minus exceptFor so pushes happen
// outside the lock.
func (r *Registry) connsOf(userID string, exceptFor Conn) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[userID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		if c == exceptFor {
			continue
		}
		conns = append(conns, c)
	}
	return conns
}
