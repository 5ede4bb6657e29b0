package main

import (
	"fmt"
	"sort"
)

// Team is an operator-approved team. Leader is always a member; a team
// whose member list empties is deleted in the same operation.
type Team struct {
	Name     string
	Password string
	Leader   string
	Members  []string
}

// PendingTeam is a proposed team awaiting operator approval. There is
// no expiry: an abandoned proposal occupies its name until an operator
// acts or the process stops.
type PendingTeam struct {
	Name     string
	Password string
	Leader   string
}

// TeamRegistry owns the team state machine (absent -> pending ->
// authenticated -> absent) and the user-to-team mapping. Like
// SessionRegistry it is plain state guarded by the server mutex.
type TeamRegistry struct {
	teams    map[string]*Team
	pending  map[string]*PendingTeam
	memberOf map[string]string
}

func NewTeamRegistry() *TeamRegistry {
	return &TeamRegistry{
		teams:    make(map[string]*Team),
		pending:  make(map[string]*PendingTeam),
		memberOf: make(map[string]string),
	}
}

// Propose registers a team creation request from leader.
func (r *TeamRegistry) Propose(name, password, leader string) error {
	if name == "" || password == "" {
		return fmt.Errorf("Missing teamname or password")
	}
	if _, ok := r.teams[name]; ok {
		return fmt.Errorf("Team `%s` already exists", name)
	}
	if _, ok := r.pending[name]; ok {
		return fmt.Errorf("Team `%s` already exists", name)
	}
	r.pending[name] = &PendingTeam{Name: name, Password: password, Leader: leader}
	return nil
}

// Approve promotes a pending team: the leader becomes its sole member.
func (r *TeamRegistry) Approve(name string) (*Team, error) {
	p, ok := r.pending[name]
	if !ok {
		return nil, fmt.Errorf("Team `%s` not in pending list", name)
	}
	team := &Team{
		Name:     p.Name,
		Password: p.Password,
		Leader:   p.Leader,
		Members:  []string{p.Leader},
	}
	r.teams[name] = team
	r.memberOf[p.Leader] = name
	delete(r.pending, name)
	return team, nil
}

// Pending returns a pending proposal by name.
func (r *TeamRegistry) Pending(name string) (*PendingTeam, bool) {
	p, ok := r.pending[name]
	return p, ok
}

// Discard drops a pending team proposal without promoting it.
func (r *TeamRegistry) Discard(name string) {
	delete(r.pending, name)
}

// Join appends user to an authenticated team after checking the
// password. A user already on a team may not join another.
func (r *TeamRegistry) Join(name, password, user string) (*Team, error) {
	team, ok := r.teams[name]
	if !ok {
		return nil, fmt.Errorf("Team `%s` not found", name)
	}
	if team.Password != password {
		return nil, fmt.Errorf("Incorrect password")
	}
	if existing, ok := r.memberOf[user]; ok {
		return nil, fmt.Errorf("You are already in team `%s`", existing)
	}
	team.Members = append(team.Members, user)
	r.memberOf[user] = name
	return team, nil
}

// Kick removes target from the team. Only the team leader may kick.
// The target's network connection is left alone; only a full
// disqualification severs it.
func (r *TeamRegistry) Kick(name, actor, target string) (deleted bool, err error) {
	team, ok := r.teams[name]
	if !ok || team.Leader != actor {
		return false, fmt.Errorf("Only team leader can kick members")
	}
	if !team.hasMember(target) {
		return false, fmt.Errorf("User `%s` not in team", target)
	}
	return r.removeMember(team, target), nil
}

// RemoveMember takes user out of whatever team they belong to. It is
// the shared leave path for disconnects and single-user
// disqualifications. Returns the team name and whether the team was
// deleted because it emptied.
func (r *TeamRegistry) RemoveMember(user string) (teamname string, deleted bool, ok bool) {
	teamname, ok = r.memberOf[user]
	if !ok {
		return "", false, false
	}
	team, exists := r.teams[teamname]
	if !exists {
		// memberOf pointing at a missing team would be a bug; clear it.
		delete(r.memberOf, user)
		return teamname, false, false
	}
	return teamname, r.removeMember(team, user), true
}

// DisqualifyTeam deletes the team outright and clears every member's
// mapping. The returned member list lets the caller notify and close
// each connection.
func (r *TeamRegistry) DisqualifyTeam(name string) ([]string, bool) {
	team, ok := r.teams[name]
	if !ok {
		return nil, false
	}
	members := append([]string(nil), team.Members...)
	for _, m := range members {
		delete(r.memberOf, m)
	}
	delete(r.teams, name)
	return members, true
}

// TeamOf reports which authenticated team a user belongs to.
func (r *TeamRegistry) TeamOf(user string) (string, bool) {
	name, ok := r.memberOf[user]
	return name, ok
}

// Get returns an authenticated team by name.
func (r *TeamRegistry) Get(name string) (*Team, bool) {
	team, ok := r.teams[name]
	return team, ok
}

// List returns all authenticated teams, sorted by name.
func (r *TeamRegistry) List() []*Team {
	teams := make([]*Team, 0, len(r.teams))
	for _, t := range r.teams {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams
}

// ListNames returns the authenticated team names, sorted.
func (r *TeamRegistry) ListNames() []string {
	names := make([]string, 0, len(r.teams))
	for name := range r.teams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PendingList returns the pending proposals, sorted by name.
func (r *TeamRegistry) PendingList() []*PendingTeam {
	pending := make([]*PendingTeam, 0, len(r.pending))
	for _, p := range r.pending {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Name < pending[j].Name })
	return pending
}

func (t *Team) hasMember(user string) bool {
	for _, m := range t.Members {
		if m == user {
			return true
		}
	}
	return false
}

// removeMember drops user from team, clears the mapping, and deletes
// the team when its member list empties.
func (r *TeamRegistry) removeMember(team *Team, user string) (deleted bool) {
	members := team.Members[:0]
	for _, m := range team.Members {
		if m != user {
			members = append(members, m)
		}
	}
	team.Members = members
	delete(r.memberOf, user)
	if len(team.Members) == 0 {
		delete(r.teams, team.Name)
		return true
	}
	return false
}
