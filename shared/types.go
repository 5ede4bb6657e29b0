package shared

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Message kinds carried in the envelope "type" field. The server routes
// on these with an exhaustive switch; anything else is a protocol error.
const (
	KindAuth     = "auth"
	KindMsg      = "msg"
	KindPM       = "pm"
	KindFlag     = "flag"
	KindTeam     = "team"
	KindAnnounce = "announce"
	KindFlags    = "flags"
)

// Reply statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Team and flag actions.
const (
	ActionCreate    = "create"
	ActionJoin      = "join"
	ActionKick      = "kick"
	ActionList      = "list"
	ActionListTeams = "listteams"
	ActionDQ        = "dq"
	ActionSubmit    = "submit"
	ActionShow      = "show"
)

// ServerName is the reserved sender identity for server-originated traffic.
const ServerName = "server"

// Envelope is the wire frame: exactly one JSON object per websocket
// message. Field presence depends on Type; unknown fields are ignored
// by the decoder.
type Envelope struct {
	Type       string  `json:"type"`
	From       string  `json:"from,omitempty"`
	To         string  `json:"to,omitempty"`
	Content    any     `json:"content,omitempty"`
	Timestamp  float64 `json:"timestamp,omitempty"`
	Breakroom  bool    `json:"breakroom,omitempty"`
	Status     string  `json:"status,omitempty"`
	Action     string  `json:"action,omitempty"`
	TeamName   string  `json:"teamname,omitempty"`
	Password   string  `json:"password,omitempty"`
	TargetUser string  `json:"target_user,omitempty"`
}

// ContentString returns the envelope content as a string, if it is one.
func (e *Envelope) ContentString() (string, bool) {
	s, ok := e.Content.(string)
	return s, ok
}

// FlagContent is the content object of a flag request envelope.
type FlagContent struct {
	Action        string `json:"action"`
	ChallengeName string `json:"challenge_name,omitempty"`
	FlagValue     string `json:"flag_value,omitempty"`
	FlagPoints    any    `json:"flag_points,omitempty"`
}

// Points coerces the flag_points field to an integer. Clients send it
// as a JSON number but it also arrives as a quoted string; anything
// else is rejected.
func (c *FlagContent) Points() (int, error) {
	switch v := c.FlagPoints.(type) {
	case float64:
		n := int(v)
		if float64(n) != v {
			return 0, fmt.Errorf("points must be a valid integer")
		}
		return n, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("points must be a valid integer")
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("points must be a valid integer")
		}
		return n, nil
	default:
		return 0, fmt.Errorf("points must be a valid integer")
	}
}

// DecodeFlagContent extracts a FlagContent from the polymorphic
// envelope content by a JSON round trip.
func DecodeFlagContent(content any) (*FlagContent, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	var fc FlagContent
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// TeamInfo is one entry in a team list reply.
type TeamInfo struct {
	TeamName string   `json:"teamname"`
	Leader   string   `json:"leader"`
	Members  []string `json:"members"`
}

// FlagRow is one persisted flag submission. On the wire it travels as
// a positional array (id, challenge_name, flag_value, points,
// teamname-or-null, timestamp) so the flags reply is the raw row list.
type FlagRow struct {
	ID            int64
	ChallengeName string
	FlagValue     string
	Points        int
	TeamName      string // empty means no team
	Timestamp     string
}

func (r FlagRow) MarshalJSON() ([]byte, error) {
	var team any
	if r.TeamName != "" {
		team = r.TeamName
	}
	return json.Marshal([]any{r.ID, r.ChallengeName, r.FlagValue, r.Points, team, r.Timestamp})
}

func (r *FlagRow) UnmarshalJSON(data []byte) error {
	var fields []any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) < 6 {
		return fmt.Errorf("flag row has %d fields, want 6", len(fields))
	}
	if id, ok := fields[0].(float64); ok {
		r.ID = int64(id)
	}
	r.ChallengeName, _ = fields[1].(string)
	r.FlagValue, _ = fields[2].(string)
	if pts, ok := fields[3].(float64); ok {
		r.Points = int(pts)
	}
	r.TeamName, _ = fields[4].(string)
	r.Timestamp, _ = fields[5].(string)
	return nil
}

// DecodeFlagRows converts a flags reply content back into rows.
func DecodeFlagRows(content any) ([]FlagRow, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	var rows []FlagRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
