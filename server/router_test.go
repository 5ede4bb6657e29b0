package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinapay/shared"
)

// fakeConn records everything sent to it, so a test can assert on the
// exact frames a scenario produces.
type fakeConn struct {
	name     string
	sent     []*shared.Envelope
	failSend bool
	closed   bool
}

func (c *fakeConn) Send(env *shared.Envelope) error {
	if c.failSend {
		return errors.New("send failed")
	}
	cp := *env
	c.sent = append(c.sent, &cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) Remote() string {
	return c.name
}

func (c *fakeConn) reset() {
	c.sent = nil
}

// last returns the most recent frame sent to the connection.
func (c *fakeConn) last(t *testing.T) *shared.Envelope {
	t.Helper()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

// ofKind returns every recorded frame of the given type.
func (c *fakeConn) ofKind(kind string) []*shared.Envelope {
	var out []*shared.Envelope
	for _, env := range c.sent {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewServer(db, false)
}

// admit runs the full handshake for a user: auth request plus operator
// acceptance, with the resulting frames discarded.
func admit(t *testing.T, s *Server, username string) *fakeConn {
	t.Helper()
	conn := &fakeConn{name: username}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth, From: username}, conn)
	require.NoError(t, s.AcceptUser(username))
	conn.reset()
	return conn
}

// buildTeam proposes and approves a team, then joins the extra members.
func buildTeam(t *testing.T, s *Server, name, password string, leader *fakeConn, members ...*fakeConn) {
	t.Helper()
	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		TeamName: name,
		Password: password,
	}, leader)
	require.NoError(t, s.ApproveTeam(name))
	for _, m := range members {
		s.dispatch(&shared.Envelope{
			Type:     shared.KindTeam,
			Action:   shared.ActionJoin,
			TeamName: name,
			Password: password,
		}, m)
	}
	leader.reset()
	for _, m := range members {
		m.reset()
	}
}

func TestAuthHandshake(t *testing.T) {
	s := newTestServer(t)

	conn := &fakeConn{name: "alice"}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth, From: "alice"}, conn)

	pending := conn.last(t)
	assert.Equal(t, shared.KindAuth, pending.Type)
	assert.Equal(t, shared.StatusPending, pending.Status)
	assert.Equal(t, "alice", pending.From)

	require.NoError(t, s.AcceptUser("alice"))
	accepted := conn.last(t)
	assert.Equal(t, shared.KindAuth, accepted.Type)
	assert.Equal(t, shared.StatusAccepted, accepted.Status)
}

func TestAuthEmptyUsernameRejected(t *testing.T) {
	s := newTestServer(t)

	conn := &fakeConn{name: "anon"}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth}, conn)

	rejected := conn.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Username cannot be empty", rejected.Content)
	assert.Empty(t, s.WaitlistUsers())
}

func TestAuthConnectedNameIgnored(t *testing.T) {
	s := newTestServer(t)
	admit(t, s, "alice")

	imposter := &fakeConn{name: "imposter"}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth, From: "alice"}, imposter)

	assert.Empty(t, imposter.sent)
	assert.Empty(t, s.WaitlistUsers())
}

func TestAcceptAnnouncesToConnectedUsers(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	bob := &fakeConn{name: "bob"}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth, From: "bob"}, bob)
	require.NoError(t, s.AcceptUser("bob"))

	announces := alice.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "User `bob` has joined", announces[0].Content)
}

func TestAcceptUnknownUser(t *testing.T) {
	s := newTestServer(t)
	err := s.AcceptUser("ghost")
	require.EqualError(t, err, "Client `ghost` not in wait list")
}

func TestRejectClosesConnection(t *testing.T) {
	s := newTestServer(t)

	conn := &fakeConn{name: "alice"}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth, From: "alice"}, conn)
	require.NoError(t, s.RejectUser("alice"))

	assert.True(t, conn.closed)
	rejected := conn.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Empty(t, s.WaitlistUsers())
}

func TestUnauthenticatedMessagesDropped(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	stranger := &fakeConn{name: "stranger"}
	s.dispatch(&shared.Envelope{Type: shared.KindMsg, From: "stranger", Content: "hi"}, stranger)
	s.dispatch(&shared.Envelope{Type: shared.KindPM, From: "stranger", To: "alice", Content: "hi"}, stranger)
	s.dispatch(&shared.Envelope{Type: shared.KindFlag, From: "stranger"}, stranger)

	assert.Empty(t, stranger.sent)
	assert.Empty(t, alice.sent)
}

func TestBroadcastSkipsSenderAndSurvivesFailure(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	carol := admit(t, s, "carol")
	bob.failSend = true

	s.dispatch(&shared.Envelope{Type: shared.KindMsg, Content: "hello all"}, alice)

	// A failed delivery to one user must not stop the rest.
	assert.Empty(t, alice.sent)
	msgs := carol.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].From)
	assert.Equal(t, "hello all", msgs[0].Content)
}

func TestBroadcastOverridesClaimedSender(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")

	// The claimed identity is replaced with the admitted one.
	s.dispatch(&shared.Envelope{Type: shared.KindMsg, From: "server", Content: "spoof"}, alice)

	msgs := bob.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].From)
}

func TestBreakroomMessageStaysInTeam(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	eve := admit(t, s, "eve")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.dispatch(&shared.Envelope{Type: shared.KindMsg, Content: "plan", Breakroom: true}, alice)

	bobMsgs := bob.ofKind(shared.KindMsg)
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, shared.ServerName, bobMsgs[0].From)
	assert.True(t, bobMsgs[0].Breakroom)
	assert.Equal(t, "[Breakroom red] [alice] plan", bobMsgs[0].Content)

	// The sender gets the echo too; outsiders get nothing.
	require.Len(t, alice.ofKind(shared.KindMsg), 1)
	assert.Empty(t, eve.sent)
}

func TestBreakroomMessageWithoutTeamRejected(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")

	s.dispatch(&shared.Envelope{Type: shared.KindMsg, Content: "plan", Breakroom: true}, alice)

	rejected := alice.last(t)
	assert.Equal(t, shared.KindMsg, rejected.Type)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "You must be in a team to send breakroom messages", rejected.Content)
	assert.Empty(t, bob.sent)
}

func TestPrivateMessage(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")

	s.dispatch(&shared.Envelope{Type: shared.KindPM, To: "bob", Content: "psst"}, alice)

	pm := bob.last(t)
	assert.Equal(t, shared.KindPM, pm.Type)
	assert.Equal(t, "alice", pm.From)
	assert.Equal(t, "psst", pm.Content)
	assert.NotZero(t, pm.Timestamp)
}

func TestPrivateMessageValidation(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	s.dispatch(&shared.Envelope{Type: shared.KindPM, To: "bob"}, alice)
	rejected := alice.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Missing recipient or message", rejected.Content)

	s.dispatch(&shared.Envelope{Type: shared.KindPM, To: "ghost", Content: "hi"}, alice)
	notice := alice.last(t)
	assert.Equal(t, shared.ServerName, notice.From)
	assert.Equal(t, "User `ghost` is not connected", notice.Content)
}

func TestBreakroomPMRequiresSameTeam(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	eve := admit(t, s, "eve")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.dispatch(&shared.Envelope{Type: shared.KindPM, To: "eve", Content: "psst", Breakroom: true}, alice)
	notice := alice.last(t)
	assert.Equal(t, "User `eve` is not in your team", notice.Content)
	assert.Empty(t, eve.sent)

	s.dispatch(&shared.Envelope{Type: shared.KindPM, To: "bob", Content: "psst", Breakroom: true}, alice)
	pm := bob.last(t)
	assert.Equal(t, "psst", pm.Content)
	assert.True(t, pm.Breakroom)
}

func TestTeamCreateBeforeAdmission(t *testing.T) {
	s := newTestServer(t)

	conn := &fakeConn{name: "alice"}
	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		From:     "alice",
		TeamName: "red",
		Password: "hunter2",
	}, conn)

	pending := conn.last(t)
	assert.Equal(t, shared.KindTeam, pending.Type)
	assert.Equal(t, shared.StatusPending, pending.Status)
	assert.Equal(t, "red", pending.TeamName)

	// Other team actions stay closed until admission.
	conn.reset()
	s.dispatch(&shared.Envelope{Type: shared.KindTeam, Action: shared.ActionList, From: "alice"}, conn)
	assert.Empty(t, conn.sent)
}

func TestTeamCreateDuplicateRejected(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice)

	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		TeamName: "red",
		Password: "other",
	}, bob)

	rejected := bob.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Team `red` already exists", rejected.Content)
}

func TestApproveTeamNotifiesLeader(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")

	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		TeamName: "red",
		Password: "hunter2",
	}, alice)
	alice.reset()

	require.NoError(t, s.ApproveTeam("red"))

	accepted := alice.ofKind(shared.KindTeam)
	require.Len(t, accepted, 1)
	assert.Equal(t, shared.ActionCreate, accepted[0].Action)
	assert.Equal(t, shared.StatusAccepted, accepted[0].Status)
	assert.Equal(t, "red", accepted[0].TeamName)

	announces := bob.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "Team `red` has been authenticated", announces[0].Content)
}

func TestApproveTeamLeaderGone(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		TeamName: "red",
		Password: "hunter2",
	}, alice)
	require.NoError(t, s.KickUser("alice"))

	err := s.ApproveTeam("red")
	require.EqualError(t, err, "Team leader `alice` is no longer connected, proposal discarded")

	// The proposal is gone: a second approval finds nothing.
	err = s.ApproveTeam("red")
	require.EqualError(t, err, "Team `red` not in pending list")
}

func TestTeamJoinWrongPassword(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice)

	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionJoin,
		TeamName: "red",
		Password: "wrong",
	}, bob)

	rejected := bob.last(t)
	assert.Equal(t, shared.ActionJoin, rejected.Action)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Incorrect password", rejected.Content)
}

func TestTeamJoinNotifiesTeam(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice)

	s.dispatch(&shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionJoin,
		TeamName: "red",
		Password: "hunter2",
	}, bob)

	accepted := bob.ofKind(shared.KindTeam)
	require.Len(t, accepted, 1)
	assert.Equal(t, shared.StatusAccepted, accepted[0].Status)
	assert.Equal(t, "red", accepted[0].TeamName)

	msgs := alice.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[Breakroom red] User `bob` has joined the team", msgs[0].Content)
}

func TestTeamKickLeavesConnectionOpen(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.dispatch(&shared.Envelope{
		Type:       shared.KindTeam,
		Action:     shared.ActionKick,
		TeamName:   "red",
		TargetUser: "bob",
	}, alice)

	notice := bob.last(t)
	assert.Equal(t, shared.ActionKick, notice.Action)
	assert.Equal(t, shared.StatusAccepted, notice.Status)
	assert.Equal(t, "You have been kicked from team `red`", notice.Content)
	assert.False(t, bob.closed)

	// Kick ends membership only; bob is still an admitted user.
	users := s.ConnectedUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].Username)
	assert.Empty(t, users[1].Team)
}

func TestTeamKickByNonLeaderRejected(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.dispatch(&shared.Envelope{
		Type:       shared.KindTeam,
		Action:     shared.ActionKick,
		TeamName:   "red",
		TargetUser: "alice",
	}, bob)

	rejected := bob.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Only team leader can kick members", rejected.Content)
}

func TestTeamListRequests(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.dispatch(&shared.Envelope{Type: shared.KindTeam, Action: shared.ActionList}, alice)
	list := alice.last(t)
	infos, ok := list.Content.([]shared.TeamInfo)
	require.True(t, ok)
	require.Len(t, infos, 1)
	assert.Equal(t, "red", infos[0].TeamName)
	assert.Equal(t, "alice", infos[0].Leader)
	assert.Equal(t, []string{"alice", "bob"}, infos[0].Members)

	s.dispatch(&shared.Envelope{Type: shared.KindTeam, Action: shared.ActionListTeams}, alice)
	names := alice.last(t)
	assert.Equal(t, []string{"red"}, names.Content)
}

func TestDisqualifyTeam(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	eve := admit(t, s, "eve")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	require.NoError(t, s.Disqualify("red"))

	for _, conn := range []*fakeConn{alice, bob} {
		dq := conn.ofKind(shared.KindTeam)
		require.Len(t, dq, 1)
		assert.Equal(t, shared.ActionDQ, dq[0].Action)
		assert.Equal(t, "Team `red` has been disqualified", dq[0].Content)
		assert.True(t, conn.closed)
	}

	announces := eve.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "Team `red` has been disqualified", announces[0].Content)

	users := s.ConnectedUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "eve", users[0].Username)
}

func TestDisqualifyUser(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	require.NoError(t, s.Disqualify("bob"))

	assert.True(t, bob.closed)
	dq := bob.ofKind(shared.KindTeam)
	require.Len(t, dq, 1)
	assert.Equal(t, shared.ActionDQ, dq[0].Action)
	assert.Equal(t, "You have been disqualified from team `red`", dq[0].Content)

	msgs := alice.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[Breakroom red] User `bob` has been disqualified", msgs[0].Content)

	// The team survives with the remaining member.
	assert.False(t, alice.closed)
	teams := s.Teams()
	require.Len(t, teams, 1)
	assert.Equal(t, []string{"alice"}, teams[0].Members)
}

func TestDisqualifyUnknownTarget(t *testing.T) {
	s := newTestServer(t)
	err := s.Disqualify("ghost")
	require.EqualError(t, err, "Team or user `ghost` not found")
}

func TestFlagSubmitRequiresTeam(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	s.dispatch(&shared.Envelope{
		Type: shared.KindFlag,
		Content: shared.FlagContent{
			Action:        shared.ActionSubmit,
			ChallengeName: "web100",
			FlagValue:     "flag{x}",
			FlagPoints:    100,
		},
	}, alice)

	rejected := alice.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "You must be in a team to submit flags", rejected.Content)
}

func TestFlagSubmitInvalidPoints(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	buildTeam(t, s, "red", "hunter2", alice)

	s.dispatch(&shared.Envelope{
		Type: shared.KindFlag,
		Content: shared.FlagContent{
			Action:        shared.ActionSubmit,
			ChallengeName: "web100",
			FlagValue:     "flag{x}",
			FlagPoints:    "abc",
		},
	}, alice)

	rejected := alice.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Points must be a valid integer", rejected.Content)

	// Nothing was persisted.
	rows, err := s.db.AllFlags()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFlagSubmitAndAnnounce(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	eve := admit(t, s, "eve")
	buildTeam(t, s, "red", "hunter2", alice)

	s.dispatch(&shared.Envelope{
		Type: shared.KindFlag,
		Content: shared.FlagContent{
			Action:        shared.ActionSubmit,
			ChallengeName: "web100",
			FlagValue:     "flag{x}",
			FlagPoints:    100,
		},
	}, alice)

	accepted := alice.ofKind(shared.KindFlag)
	require.Len(t, accepted, 1)
	assert.Equal(t, shared.StatusAccepted, accepted[0].Status)
	assert.Equal(t, "Flag submitted: web100 - flag{x} - 100 points", accepted[0].Content)

	// Open submissions are announced to everyone.
	announces := eve.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "Flag submitted: web100 - flag{x} - 100 points", announces[0].Content)

	rows, err := s.db.AllFlags()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "web100", rows[0].ChallengeName)
	assert.Equal(t, 100, rows[0].Points)
	assert.Equal(t, "red", rows[0].TeamName)
}

func TestFlagSubmitBreakroomStaysInTeam(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	eve := admit(t, s, "eve")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.dispatch(&shared.Envelope{
		Type:      shared.KindFlag,
		Breakroom: true,
		Content: shared.FlagContent{
			Action:        shared.ActionSubmit,
			ChallengeName: "pwn200",
			FlagValue:     "flag{y}",
			FlagPoints:    200,
		},
	}, alice)

	msgs := bob.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[Breakroom red] Flag submitted: pwn200 - flag{y} - 200 points", msgs[0].Content)
	assert.Empty(t, eve.ofKind(shared.KindAnnounce))
}

func TestFlagShow(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice)
	buildTeam(t, s, "blue", "pw", bob)

	require.NoError(t, s.db.InsertFlag("web100", "flag{x}", 100, "red"))
	require.NoError(t, s.db.InsertFlag("pwn200", "flag{y}", 200, "blue"))

	s.dispatch(&shared.Envelope{
		Type:    shared.KindFlag,
		Content: shared.FlagContent{Action: shared.ActionShow},
	}, alice)
	all := alice.last(t)
	assert.Equal(t, shared.KindFlags, all.Type)
	rows, ok := all.Content.([]shared.FlagRow)
	require.True(t, ok)
	assert.Len(t, rows, 2)

	// Breakroom show narrows to the sender's team.
	s.dispatch(&shared.Envelope{
		Type:      shared.KindFlag,
		Breakroom: true,
		Content:   shared.FlagContent{Action: shared.ActionShow},
	}, alice)
	mine := alice.last(t)
	rows, ok = mine.Content.([]shared.FlagRow)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "red", rows[0].TeamName)
}

func TestFlagMalformedRequest(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	buildTeam(t, s, "red", "hunter2", alice)

	s.dispatch(&shared.Envelope{
		Type:    shared.KindFlag,
		Content: shared.FlagContent{Action: "steal"},
	}, alice)

	rejected := alice.last(t)
	assert.Equal(t, shared.StatusRejected, rejected.Status)
	assert.Equal(t, "Unknown flag action: steal", rejected.Content)
}

func TestKickUserCascadesTeamRemoval(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	require.NoError(t, s.KickUser("bob"))

	assert.True(t, bob.closed)
	msgs := alice.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[Breakroom red] User `bob` has been kicked", msgs[0].Content)

	announces := alice.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "User `bob` has been kicked", announces[0].Content)
}

func TestDisconnectCleanup(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")
	buildTeam(t, s, "red", "hunter2", alice, bob)

	s.handleDisconnect(bob)

	users := s.ConnectedUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)

	announces := alice.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "User `bob` has disconnected", announces[0].Content)

	msgs := alice.ofKind(shared.KindMsg)
	require.Len(t, msgs, 1)
	assert.Equal(t, "[Breakroom red] User `bob` has left the team", msgs[0].Content)

	// A second teardown for the same connection is a no-op.
	s.handleDisconnect(bob)
	assert.Len(t, alice.ofKind(shared.KindAnnounce), 1)
}

func TestWaitlistDisconnect(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	bob := &fakeConn{name: "bob"}
	s.dispatch(&shared.Envelope{Type: shared.KindAuth, From: "bob"}, bob)
	s.handleDisconnect(bob)

	assert.Empty(t, s.WaitlistUsers())
	announces := alice.ofKind(shared.KindAnnounce)
	require.Len(t, announces, 1)
	assert.Equal(t, "Waitlist user `bob` has disconnected", announces[0].Content)
}

func TestServerPM(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	require.NoError(t, s.ServerPM("alice", "behave"))
	pm := alice.last(t)
	assert.Equal(t, shared.KindPM, pm.Type)
	assert.Equal(t, shared.ServerName, pm.From)
	assert.Equal(t, "behave", pm.Content)

	err := s.ServerPM("ghost", "hello")
	require.EqualError(t, err, "User `ghost` not found")
}

func TestServerBroadcastReachesEveryone(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")
	bob := admit(t, s, "bob")

	s.ServerBroadcast("game on")

	for _, conn := range []*fakeConn{alice, bob} {
		msgs := conn.ofKind(shared.KindMsg)
		require.Len(t, msgs, 1)
		assert.Equal(t, shared.ServerName, msgs[0].From)
		assert.Equal(t, "game on", msgs[0].Content)
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	s := newTestServer(t)
	alice := admit(t, s, "alice")

	s.dispatch(&shared.Envelope{Type: "telemetry"}, alice)
	assert.Empty(t, alice.sent)
}
