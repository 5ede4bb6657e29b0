package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tinapay/shared"
)

// UserEntry is a row in the connected-users view.
type UserEntry struct {
	Username string
	Team     string
}

// Server coordinates every piece of session state. Both registries are
// plain maps owned by this struct and reached only under mu, so a
// multi-step operation (look up team, mutate members, notify) appears
// atomic to concurrent joins, kicks, and disconnects.
type Server struct {
	mu       sync.Mutex
	sessions *SessionRegistry
	teams    *TeamRegistry

	// Flag persistence
	db *Database

	// Listener management
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	debug    bool
	stopping bool
}

func NewServer(db *Database, debug bool) *Server {
	return &Server{
		sessions: NewSessionRegistry(),
		teams:    NewTeamRegistry(),
		db:       db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The operator gate is the auth waitlist, not the HTTP origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		debug: debug,
	}
}

// Listen binds the websocket endpoint and serves until Stop. With a
// cert and key the listener speaks TLS (wss), otherwise plain ws.
func (s *Server) Listen(addr, certFile, keyFile string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Unlock()

	if certFile != "" && keyFile != "" {
		logrus.Infof("Listening on wss://%s", addr)
		err = s.httpSrv.ServeTLS(ln, certFile, keyFile)
	} else {
		logrus.Infof("Listening on ws://%s (no TLS)", addr)
		err = s.httpSrv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("Websocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	logrus.Debugf("New connection from %s", ws.RemoteAddr())
	s.supervise(newWSConn(ws))
}

// Stop notifies every connected and waitlisted client, closes each
// connection, then closes the listener. New connection attempts during
// shutdown are turned away by handleUpgrade.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopping = true
	shutdown := &shared.Envelope{
		Type:      shared.KindAnnounce,
		Content:   "Server is shutting down",
		Timestamp: shared.Timestamp(),
	}
	for _, username := range s.sessions.ConnectedUsers() {
		if conn, ok := s.sessions.Get(username); ok {
			_ = conn.Send(shutdown)
			_ = conn.Close()
		}
	}
	for _, username := range s.sessions.WaitlistUsers() {
		if conn, ok := s.sessions.Reject(username); ok {
			_ = conn.Send(shutdown)
			_ = conn.Close()
		}
	}
	httpSrv := s.httpSrv
	s.mu.Unlock()

	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	logrus.Info("Server stopped")
}

// handleDisconnect is the single teardown path for every way a
// connection can end: natural close, kick, or disqualification. The
// latter two clean state proactively, so a second pass here finds
// nothing and no-ops.
func (s *Server) handleDisconnect(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, wasConnected, found := s.sessions.RemoveConn(conn)
	if !found {
		return
	}

	if wasConnected {
		logrus.Infof("Received disconnect from user `%s`", username)
		s.announceLocked(fmt.Sprintf("User `%s` has disconnected", username))
		s.removeFromTeamLocked(username, fmt.Sprintf("User `%s` has left the team", username))
	} else {
		logrus.Infof("Received disconnect from waitlist user `%s`", username)
		s.announceLocked(fmt.Sprintf("Waitlist user `%s` has disconnected", username))
	}
}

// removeFromTeamLocked runs the team cascade shared by kicks,
// disqualifications, and disconnects: take the user off their team,
// delete the team if it emptied, otherwise post the notice to the
// remaining members.
func (s *Server) removeFromTeamLocked(username, notice string) {
	teamname, deleted, ok := s.teams.RemoveMember(username)
	if ok && !deleted {
		s.teamMessageLocked(teamname, notice)
	}
}

// --- Fan-out helpers. Callers hold s.mu. ---

// broadcastLocked delivers env to every connected user except the
// sender; server-originated messages are echoed to everyone. A failed
// send never aborts delivery to the rest.
func (s *Server) broadcastLocked(env *shared.Envelope) {
	env.Timestamp = shared.Timestamp()
	for _, username := range s.sessions.ConnectedUsers() {
		if username == env.From && env.From != shared.ServerName {
			continue
		}
		conn, ok := s.sessions.Get(username)
		if !ok {
			continue
		}
		if err := conn.Send(env); err != nil {
			logrus.Warnf("Couldn't reach %s", username)
		}
	}
}

// announceLocked sends a server announcement to all connected users.
func (s *Server) announceLocked(message string) {
	env := &shared.Envelope{
		Type:      shared.KindAnnounce,
		Content:   message,
		Timestamp: shared.Timestamp(),
	}
	for _, username := range s.sessions.ConnectedUsers() {
		conn, ok := s.sessions.Get(username)
		if !ok {
			continue
		}
		if err := conn.Send(env); err != nil {
			logrus.Warnf("Couldn't reach %s", username)
		}
	}
}

// teamMessageLocked fans a server message out to the team's currently
// connected members, tagged with the breakroom name.
func (s *Server) teamMessageLocked(teamname, message string) {
	team, ok := s.teams.Get(teamname)
	if !ok {
		return
	}
	env := &shared.Envelope{
		Type:      shared.KindMsg,
		From:      shared.ServerName,
		Content:   fmt.Sprintf("[Breakroom %s] %s", teamname, message),
		Breakroom: true,
		Timestamp: shared.Timestamp(),
	}
	for _, member := range team.Members {
		conn, ok := s.sessions.Get(member)
		if !ok {
			continue
		}
		if err := conn.Send(env); err != nil {
			logrus.Warnf("Couldn't reach %s", member)
		}
	}
}

// --- Operator-level operations. The console invokes these; they are
// the same internal operations a network message would reach. ---

// AcceptUser admits a waitlisted user.
func (s *Server) AcceptUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.sessions.Accept(username)
	if !ok {
		return fmt.Errorf("Client `%s` not in wait list", username)
	}
	logrus.Infof("Accepting connection from %s", username)
	if err := conn.Send(&shared.Envelope{
		Type:   shared.KindAuth,
		Status: shared.StatusAccepted,
		From:   username,
	}); err != nil {
		logrus.Warnf("Couldn't reach %s", username)
	}
	s.announceLocked(fmt.Sprintf("User `%s` has joined", username))
	return nil
}

// RejectUser turns a waitlisted user away and closes the connection.
func (s *Server) RejectUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.sessions.Reject(username)
	if !ok {
		return fmt.Errorf("Client `%s` not in wait list", username)
	}
	_ = conn.Send(&shared.Envelope{
		Type:   shared.KindAuth,
		Status: shared.StatusRejected,
		From:   username,
	})
	_ = conn.Close()
	return nil
}

// KickUser removes a connected user: announcement, team cascade, then
// the socket is closed. The read loop's teardown finds the state
// already gone.
func (s *Server) KickUser(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.sessions.Get(username)
	if !ok {
		return fmt.Errorf("User `%s` not found", username)
	}
	logrus.Infof("Kicking user: `%s`", username)
	s.announceLocked(fmt.Sprintf("User `%s` has been kicked", username))
	s.removeFromTeamLocked(username, fmt.Sprintf("User `%s` has been kicked", username))
	s.sessions.Remove(username)
	_ = conn.Close()
	return nil
}

// ApproveTeam promotes a pending team. The leader must still be
// connected to receive the result; otherwise the proposal is discarded
// rather than left to dangle under an unreachable leader.
func (s *Server) ApproveTeam(teamname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.teams.Pending(teamname)
	if !ok {
		return fmt.Errorf("Team `%s` not in pending list", teamname)
	}
	leaderConn, ok := s.sessions.Get(p.Leader)
	if !ok {
		s.teams.Discard(teamname)
		return fmt.Errorf("Team leader `%s` is no longer connected, proposal discarded", p.Leader)
	}

	if _, err := s.teams.Approve(teamname); err != nil {
		return err
	}
	logrus.Infof("Accepting team `%s`", teamname)
	if err := leaderConn.Send(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		Status:   shared.StatusAccepted,
		TeamName: teamname,
	}); err != nil {
		logrus.Warnf("Couldn't reach %s", p.Leader)
	}
	s.announceLocked(fmt.Sprintf("Team `%s` has been authenticated", teamname))
	return nil
}

// Disqualify removes a whole team or a single member. This is the one
// path that force-closes connections: every affected user is notified,
// then their socket is severed.
func (s *Server) Disqualify(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if members, ok := s.teams.DisqualifyTeam(target); ok {
		logrus.Infof("Disqualifying team `%s`", target)
		for _, member := range members {
			conn, connected := s.sessions.Get(member)
			if !connected {
				continue
			}
			_ = conn.Send(&shared.Envelope{
				Type:     shared.KindTeam,
				Action:   shared.ActionDQ,
				TeamName: target,
				Content:  fmt.Sprintf("Team `%s` has been disqualified", target),
			})
			_ = conn.Close()
			s.sessions.Remove(member)
		}
		s.announceLocked(fmt.Sprintf("Team `%s` has been disqualified", target))
		return nil
	}

	if _, ok := s.teams.TeamOf(target); ok {
		teamname, deleted, _ := s.teams.RemoveMember(target)
		logrus.Infof("Disqualifying user `%s` from team `%s`", target, teamname)
		if !deleted {
			s.teamMessageLocked(teamname, fmt.Sprintf("User `%s` has been disqualified", target))
		}
		if conn, connected := s.sessions.Get(target); connected {
			_ = conn.Send(&shared.Envelope{
				Type:     shared.KindTeam,
				Action:   shared.ActionDQ,
				TeamName: teamname,
				Content:  fmt.Sprintf("You have been disqualified from team `%s`", teamname),
			})
			_ = conn.Close()
			s.sessions.Remove(target)
		}
		return nil
	}

	return fmt.Errorf("Team or user `%s` not found", target)
}

// ServerPM sends a private message from the operator to one user.
func (s *Server) ServerPM(target, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.sessions.Get(target)
	if !ok {
		return fmt.Errorf("User `%s` not found", target)
	}
	if err := conn.Send(&shared.Envelope{
		Type:    shared.KindPM,
		From:    shared.ServerName,
		To:      target,
		Content: message,
	}); err != nil {
		logrus.Warnf("Couldn't reach %s", target)
	}
	return nil
}

// ServerBroadcast sends an operator chat message to every connected user.
func (s *Server) ServerBroadcast(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.Infof("Message from `server`: %s", message)
	s.broadcastLocked(&shared.Envelope{
		Type:    shared.KindMsg,
		From:    shared.ServerName,
		Content: message,
	})
}

// Announce sends a server announcement to every connected user.
func (s *Server) Announce(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announceLocked(message)
}

// --- Snapshot views for the console tables. ---

func (s *Server) WaitlistUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.WaitlistUsers()
}

func (s *Server) ConnectedUsers() []UserEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.sessions.ConnectedUsers()
	entries := make([]UserEntry, 0, len(users))
	for _, u := range users {
		team, _ := s.teams.TeamOf(u)
		entries = append(entries, UserEntry{Username: u, Team: team})
	}
	return entries
}

func (s *Server) Teams() []shared.TeamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teamInfosLocked()
}

func (s *Server) PendingTeams() []*PendingTeam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teams.PendingList()
}
