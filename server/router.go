package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"tinapay/shared"
)

// dispatch routes one decoded inbound frame. The sender identity is
// whatever username the connection was admitted under; the claimed
// "from" field is only honored for the pre-admission cases (auth
// handshake and team proposals). Everything runs under the registry
// mutex so handlers see a consistent view.
func (s *Server) dispatch(env *shared.Envelope, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, admitted := s.sessions.UserFor(conn)

	switch env.Type {
	case shared.KindAuth:
		s.handleAuthLocked(env, conn)

	case shared.KindTeam:
		if !admitted {
			// A team proposal may precede admission; the proposer is
			// identified by the claimed name until an operator acts.
			if env.Action == shared.ActionCreate && env.From != "" {
				s.handleTeamCreateLocked(env.From, env, conn)
				return
			}
			logrus.Errorf("Unauthenticated client: %s", env.From)
			return
		}
		s.handleTeamLocked(sender, env, conn)

	case shared.KindMsg:
		if !admitted {
			logrus.Errorf("Unauthenticated client: %s", env.From)
			return
		}
		s.handleMsgLocked(sender, env, conn)

	case shared.KindPM:
		if !admitted {
			logrus.Errorf("Unauthenticated client: %s", env.From)
			return
		}
		s.handlePMLocked(sender, env, conn)

	case shared.KindFlag:
		if !admitted {
			logrus.Errorf("Unauthenticated client: %s", env.From)
			return
		}
		s.handleFlagLocked(sender, env, conn)

	default:
		logrus.Errorf("Unknown message type: %s", env.Type)
	}
}

// reply is a best-effort send back to the requesting connection.
func reply(conn Conn, env *shared.Envelope) {
	if err := conn.Send(env); err != nil {
		logrus.Warnf("Couldn't deliver reply: %v", err)
	}
}

func (s *Server) handleAuthLocked(env *shared.Envelope, conn Conn) {
	username := env.From
	if username == "" {
		logrus.Errorf("Auth request with empty username from %s", conn.Remote())
		reply(conn, &shared.Envelope{
			Type:    shared.KindAuth,
			Status:  shared.StatusRejected,
			Content: "Username cannot be empty",
		})
		return
	}

	if !s.sessions.RequestAuth(username, conn) {
		// Already connected under this name; re-authentication is not
		// supported, the request is dropped without a reply.
		logrus.Warnf("Ignoring auth request for connected user `%s`", username)
		return
	}

	logrus.Infof("Auth request from `%s`", username)
	reply(conn, &shared.Envelope{
		Type:   shared.KindAuth,
		Status: shared.StatusPending,
		From:   username,
	})
}

func (s *Server) handleMsgLocked(sender string, env *shared.Envelope, conn Conn) {
	content, _ := env.ContentString()

	if env.Breakroom {
		teamname, ok := s.teams.TeamOf(sender)
		if !ok {
			reply(conn, &shared.Envelope{
				Type:    shared.KindMsg,
				Status:  shared.StatusRejected,
				Content: "You must be in a team to send breakroom messages",
			})
			return
		}
		logrus.Infof("Breakroom message from `%s` in `%s`: %s", sender, teamname, content)
		s.teamMessageLocked(teamname, fmt.Sprintf("[%s] %s", sender, content))
		return
	}

	logrus.Infof("Message from `%s`: %s", sender, content)
	env.From = sender
	s.broadcastLocked(env)
}

func (s *Server) handlePMLocked(sender string, env *shared.Envelope, conn Conn) {
	target := env.To
	content, _ := env.ContentString()

	if target == "" || content == "" {
		logrus.Errorf("Invalid private message format from %s", sender)
		reply(conn, &shared.Envelope{
			Type:    shared.KindPM,
			Status:  shared.StatusRejected,
			Content: "Missing recipient or message",
		})
		return
	}

	targetConn, connected := s.sessions.Get(target)
	if !connected {
		logrus.Errorf("Target user `%s` not found", target)
		reply(conn, &shared.Envelope{
			Type:    shared.KindPM,
			From:    shared.ServerName,
			To:      sender,
			Content: fmt.Sprintf("User `%s` is not connected", target),
		})
		return
	}

	if env.Breakroom {
		senderTeam, _ := s.teams.TeamOf(sender)
		targetTeam, _ := s.teams.TeamOf(target)
		if senderTeam == "" || senderTeam != targetTeam {
			logrus.Errorf("Target user `%s` not in team `%s`", target, senderTeam)
			reply(conn, &shared.Envelope{
				Type:    shared.KindPM,
				From:    shared.ServerName,
				To:      sender,
				Content: fmt.Sprintf("User `%s` is not in your team", target),
			})
			return
		}
	}

	err := targetConn.Send(&shared.Envelope{
		Type:      shared.KindPM,
		From:      sender,
		To:        target,
		Content:   content,
		Breakroom: env.Breakroom,
		Timestamp: shared.Timestamp(),
	})
	if err != nil {
		logrus.Warnf("Couldn't reach %s", target)
		reply(conn, &shared.Envelope{
			Type:    shared.KindPM,
			From:    shared.ServerName,
			To:      sender,
			Content: fmt.Sprintf("User `%s` is disconnected", target),
		})
		return
	}
	logrus.Infof("Private message sent from `%s` to `%s`", sender, target)
}

func (s *Server) handleFlagLocked(sender string, env *shared.Envelope, conn Conn) {
	fc, err := shared.DecodeFlagContent(env.Content)
	if err != nil {
		logrus.Errorf("Malformed flag request from `%s`: %v", sender, err)
		reply(conn, &shared.Envelope{
			Type:    shared.KindFlag,
			Status:  shared.StatusRejected,
			Content: "Malformed flag request",
		})
		return
	}

	teamname, hasTeam := s.teams.TeamOf(sender)

	switch fc.Action {
	case shared.ActionSubmit:
		if !hasTeam {
			logrus.Errorf("User `%s` not in a team", sender)
			reply(conn, &shared.Envelope{
				Type:    shared.KindFlag,
				Status:  shared.StatusRejected,
				Content: "You must be in a team to submit flags",
			})
			return
		}
		if fc.ChallengeName == "" || fc.FlagValue == "" || fc.FlagPoints == nil {
			logrus.Errorf("Missing required flag fields from `%s`", sender)
			reply(conn, &shared.Envelope{
				Type:    shared.KindFlag,
				Status:  shared.StatusRejected,
				Content: "Missing required flag fields",
			})
			return
		}
		points, err := fc.Points()
		if err != nil {
			logrus.Errorf("Invalid flag points value from `%s`: %v", sender, fc.FlagPoints)
			reply(conn, &shared.Envelope{
				Type:    shared.KindFlag,
				Status:  shared.StatusRejected,
				Content: "Points must be a valid integer",
			})
			return
		}

		if err := s.db.InsertFlag(fc.ChallengeName, fc.FlagValue, points, teamname); err != nil {
			logrus.Errorf("Database error during flag submission: %v", err)
			reply(conn, &shared.Envelope{
				Type:    shared.KindFlag,
				Status:  shared.StatusRejected,
				Content: fmt.Sprintf("Database error: %v", err),
			})
			return
		}

		logrus.Infof("Flag submitted by `%s`: %s - %s - %d points", sender, fc.ChallengeName, fc.FlagValue, points)
		message := fmt.Sprintf("Flag submitted: %s - %s - %d points", fc.ChallengeName, fc.FlagValue, points)
		reply(conn, &shared.Envelope{
			Type:    shared.KindFlag,
			Status:  shared.StatusAccepted,
			Content: message,
		})
		if env.Breakroom {
			s.teamMessageLocked(teamname, message)
		} else {
			s.announceLocked(message)
		}

	case shared.ActionShow:
		var rows []shared.FlagRow
		if env.Breakroom && hasTeam {
			rows, err = s.db.FlagsByTeam(teamname)
		} else {
			rows, err = s.db.AllFlags()
		}
		if err != nil {
			logrus.Errorf("Database error during flag retrieval: %v", err)
			reply(conn, &shared.Envelope{
				Type:    shared.KindFlag,
				Status:  shared.StatusRejected,
				Content: fmt.Sprintf("Database error: %v", err),
			})
			return
		}
		reply(conn, &shared.Envelope{
			Type:    shared.KindFlags,
			From:    shared.ServerName,
			Content: rows,
		})

	default:
		logrus.Errorf("Unknown flag action from `%s`: %s", sender, fc.Action)
		reply(conn, &shared.Envelope{
			Type:    shared.KindFlag,
			Status:  shared.StatusRejected,
			Content: fmt.Sprintf("Unknown flag action: %s", fc.Action),
		})
	}
}

func (s *Server) handleTeamLocked(sender string, env *shared.Envelope, conn Conn) {
	switch env.Action {
	case shared.ActionCreate:
		s.handleTeamCreateLocked(sender, env, conn)

	case shared.ActionJoin:
		team, err := s.teams.Join(env.TeamName, env.Password, sender)
		if err != nil {
			logrus.Errorf("Join for team `%s` by `%s` failed: %v", env.TeamName, sender, err)
			reply(conn, &shared.Envelope{
				Type:    shared.KindTeam,
				Action:  shared.ActionJoin,
				Status:  shared.StatusRejected,
				Content: err.Error(),
			})
			return
		}
		logrus.Infof("User `%s` joined team `%s`", sender, team.Name)
		reply(conn, &shared.Envelope{
			Type:     shared.KindTeam,
			Action:   shared.ActionJoin,
			Status:   shared.StatusAccepted,
			TeamName: team.Name,
		})
		s.teamMessageLocked(team.Name, fmt.Sprintf("User `%s` has joined the team", sender))

	case shared.ActionKick:
		target := env.TargetUser
		deleted, err := s.teams.Kick(env.TeamName, sender, target)
		if err != nil {
			logrus.Errorf("Kick of `%s` from `%s` rejected: %v", target, env.TeamName, err)
			reply(conn, &shared.Envelope{
				Type:    shared.KindTeam,
				Action:  shared.ActionKick,
				Status:  shared.StatusRejected,
				Content: err.Error(),
			})
			return
		}
		logrus.Infof("User `%s` kicked from team `%s`", target, env.TeamName)
		if !deleted {
			s.teamMessageLocked(env.TeamName, fmt.Sprintf("User `%s` has been kicked", target))
		}
		// A team kick only ends the membership; the target stays
		// connected. Only a disqualification severs the socket.
		if targetConn, ok := s.sessions.Get(target); ok {
			_ = targetConn.Send(&shared.Envelope{
				Type:    shared.KindTeam,
				Action:  shared.ActionKick,
				Status:  shared.StatusAccepted,
				Content: fmt.Sprintf("You have been kicked from team `%s`", env.TeamName),
			})
		}

	case shared.ActionList:
		reply(conn, &shared.Envelope{
			Type:    shared.KindTeam,
			Action:  shared.ActionList,
			Content: s.teamInfosLocked(),
		})

	case shared.ActionListTeams:
		reply(conn, &shared.Envelope{
			Type:    shared.KindTeam,
			Action:  shared.ActionListTeams,
			Content: s.teams.ListNames(),
		})

	default:
		logrus.Errorf("Unknown team action from `%s`: %s", sender, env.Action)
	}
}

func (s *Server) handleTeamCreateLocked(sender string, env *shared.Envelope, conn Conn) {
	if err := s.teams.Propose(env.TeamName, env.Password, sender); err != nil {
		logrus.Errorf("Team proposal `%s` by `%s` rejected: %v", env.TeamName, sender, err)
		reply(conn, &shared.Envelope{
			Type:    shared.KindTeam,
			Action:  shared.ActionCreate,
			Status:  shared.StatusRejected,
			Content: err.Error(),
		})
		return
	}
	logrus.Infof("Team creation request for `%s` by `%s`", env.TeamName, sender)
	reply(conn, &shared.Envelope{
		Type:     shared.KindTeam,
		Action:   shared.ActionCreate,
		Status:   shared.StatusPending,
		TeamName: env.TeamName,
	})
}

func (s *Server) teamInfosLocked() []shared.TeamInfo {
	teams := s.teams.List()
	infos := make([]shared.TeamInfo, 0, len(teams))
	for _, t := range teams {
		infos = append(infos, shared.TeamInfo{
			TeamName: t.Name,
			Leader:   t.Leader,
			Members:  append([]string(nil), t.Members...),
		})
	}
	return infos
}
