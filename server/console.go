package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	linerpkg "github.com/peterh/liner"
	"github.com/sirupsen/logrus"
	"github.com/stevedomin/termtable"
	"golang.org/x/term"

	"tinapay/shared"
)

const (
	consolePrompt   = "(server)> "
	multilinePrompt = ":(multiline)::> "
)

// --- Simple ANSI color helpers ---
const (
	colorReset  = "\033[0m"
	colorRed    = "31"
	colorGreen  = "32"
	colorYellow = "33"
	colorCyan   = "36"
)

func colorize(text, color string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return text
	}
	return fmt.Sprintf("\033[%sm%s%s", color, text, colorReset)
}

// Console is the operator's interactive loop running inside the server
// process. Every command maps onto the same internal operations a
// network message would reach; plain input is broadcast as a server
// chat message.
type Console struct {
	srv  *Server
	line *linerpkg.State

	// Multiline mode state
	multiline bool
	buffer    []string
}

func NewConsole(srv *Server) *Console {
	line := linerpkg.NewLiner()
	line.SetCtrlCAborts(true)
	return &Console{srv: srv, line: line}
}

// Run blocks reading operator commands until /stop or EOF.
func (c *Console) Run() {
	defer c.line.Close()

	for {
		prompt := consolePrompt
		if c.multiline {
			prompt = multilinePrompt
		}

		input, err := c.line.Prompt(prompt)
		if err == linerpkg.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			c.stop()
			return
		}
		if err != nil {
			logrus.Errorf("Console read error: %v", err)
			return
		}

		if c.multiline {
			if strings.ToUpper(strings.TrimSpace(input)) == "END" {
				message := strings.Join(c.buffer, "\n")
				if message != "" {
					c.srv.ServerBroadcast(message)
				}
				c.multiline = false
				c.buffer = nil
				fmt.Println(colorize("Multiline mode off", colorYellow))
			} else {
				c.buffer = append(c.buffer, input)
			}
			continue
		}

		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		c.line.AppendHistory(input)

		if strings.HasPrefix(trimmed, "/") {
			if c.runCommand(strings.TrimPrefix(trimmed, "/")) {
				return
			}
			continue
		}
		c.srv.ServerBroadcast(trimmed)
	}
}

// runCommand executes one slash command; it returns true when the
// server should exit.
func (c *Console) runCommand(input string) (stop bool) {
	// shellquote keeps quoted arguments (messages, team names) intact.
	tokens, err := shellquote.Split(input)
	if err != nil {
		// Fallback to simple split if shell parsing fails
		tokens = strings.Fields(input)
	}
	if len(tokens) == 0 {
		return false
	}

	switch tokens[0] {
	case "stop":
		c.stop()
		return true
	case "auth":
		c.cmdAuth(tokens)
	case "users":
		c.cmdUsers(tokens)
	case "flag":
		c.cmdFlag(tokens)
	case "team":
		c.cmdTeam(tokens)
	case "pm":
		c.cmdPM(tokens)
	case "multiline":
		if c.multiline {
			fmt.Println(colorize("Already in multiline mode. Type 'END' to send.", colorYellow))
		} else {
			c.multiline = true
			c.buffer = nil
			fmt.Println(colorize("Multiline mode on. Type 'END' to send the message.", colorYellow))
		}
	case "clear":
		fmt.Print("\033[2J\033[H")
	case "help":
		c.cmdHelp()
	default:
		logrus.Errorf("Unknown command: %s", tokens[0])
	}
	return false
}

func (c *Console) stop() {
	c.srv.Stop()
	if c.srv.db != nil {
		_ = c.srv.db.Close()
	}
	c.line.Close()
	os.Exit(0)
}

func (c *Console) cmdAuth(tokens []string) {
	if len(tokens) < 2 {
		logrus.Error("Invalid auth command format")
		fmt.Println("Usage: /auth [accept|reject|list] <username>")
		return
	}

	switch tokens[1] {
	case "list":
		t := newTable()
		t.SetHeader([]string{colorize("Username", colorCyan), colorize("Status", colorYellow)})
		users := c.srv.WaitlistUsers()
		if len(users) == 0 {
			t.AddRow([]string{"No users", "Empty waitlist"})
		} else {
			for _, u := range users {
				t.AddRow([]string{u, "Pending"})
			}
		}
		fmt.Println(t.Render())
	case "accept":
		if len(tokens) < 3 {
			logrus.Error("Missing username")
			return
		}
		if err := c.srv.AcceptUser(tokens[2]); err != nil {
			logrus.Error(err)
		}
	case "reject":
		if len(tokens) < 3 {
			logrus.Error("Missing username")
			return
		}
		if err := c.srv.RejectUser(tokens[2]); err != nil {
			logrus.Error(err)
		}
	default:
		logrus.Errorf("Unknown auth action: %s", tokens[1])
	}
}

func (c *Console) cmdUsers(tokens []string) {
	if len(tokens) < 2 {
		logrus.Error("Invalid users command format")
		fmt.Println("Usage: /users [list|kick] <username>")
		return
	}

	switch tokens[1] {
	case "list":
		t := newTable()
		t.SetHeader([]string{
			colorize("Username", colorCyan),
			colorize("Team", colorYellow),
			colorize("Status", colorGreen),
		})
		entries := c.srv.ConnectedUsers()
		if len(entries) == 0 {
			t.AddRow([]string{"No users", "N/A", "No connections"})
		} else {
			for _, e := range entries {
				team := e.Team
				if team == "" {
					team = "None"
				}
				t.AddRow([]string{e.Username, team, "Connected"})
			}
		}
		fmt.Println(t.Render())
	case "kick":
		if len(tokens) < 3 {
			logrus.Error("Missing username")
			return
		}
		if err := c.srv.KickUser(tokens[2]); err != nil {
			logrus.Error(err)
		}
	default:
		logrus.Errorf("Unknown users action: %s", tokens[1])
	}
}

func (c *Console) cmdFlag(tokens []string) {
	if len(tokens) < 2 {
		logrus.Error("Invalid flag command format")
		fmt.Println("Usage: /flag [submit|show] <challenge_name> <flag_value> <points>")
		return
	}

	switch tokens[1] {
	case "submit":
		if len(tokens) < 5 {
			logrus.Error("Invalid flag submission format")
			fmt.Println("Usage: /flag submit <challenge_name> <flag_value> <points>")
			return
		}
		points, err := strconv.Atoi(tokens[4])
		if err != nil {
			logrus.Error("Points must be a valid integer")
			return
		}
		// Operator submissions carry no team.
		if err := c.srv.db.InsertFlag(tokens[2], tokens[3], points, ""); err != nil {
			logrus.Errorf("Database error during flag submission: %v", err)
			return
		}
		message := fmt.Sprintf("Flag submitted: %s - %s - %d points", tokens[2], tokens[3], points)
		logrus.Info(message)
		c.srv.Announce(message)
	case "show":
		rows, err := c.srv.db.AllFlags()
		if err != nil {
			logrus.Errorf("Database error during flag retrieval: %v", err)
			return
		}
		printFlagTable(rows)
	default:
		logrus.Errorf("Unknown flag action: %s", tokens[1])
	}
}

func (c *Console) cmdTeam(tokens []string) {
	if len(tokens) < 2 {
		logrus.Error("Invalid team command format")
		fmt.Println("Usage: /team [auth|dq|pending|list|flags] <teamname>")
		return
	}

	switch tokens[1] {
	case "auth":
		if len(tokens) < 3 {
			logrus.Error("Missing teamname")
			return
		}
		if err := c.srv.ApproveTeam(tokens[2]); err != nil {
			logrus.Error(err)
		}
	case "dq":
		if len(tokens) < 3 {
			logrus.Error("Missing teamname or username")
			return
		}
		if err := c.srv.Disqualify(tokens[2]); err != nil {
			logrus.Error(err)
		}
	case "pending":
		t := newTable()
		t.SetHeader([]string{colorize("Team Name", colorCyan), colorize("Leader", colorYellow)})
		pending := c.srv.PendingTeams()
		if len(pending) == 0 {
			t.AddRow([]string{"No teams", "Empty"})
		} else {
			for _, p := range pending {
				t.AddRow([]string{p.Name, p.Leader})
			}
		}
		fmt.Println(t.Render())
	case "list":
		t := newTable()
		t.SetHeader([]string{
			colorize("Team Name", colorCyan),
			colorize("Leader", colorYellow),
			colorize("Members", colorGreen),
		})
		teams := c.srv.Teams()
		if len(teams) == 0 {
			t.AddRow([]string{"No teams", "N/A", "Empty"})
		} else {
			for _, info := range teams {
				t.AddRow([]string{info.TeamName, info.Leader, strings.Join(info.Members, ", ")})
			}
		}
		fmt.Println(t.Render())
	case "flags":
		rows, err := c.srv.db.TeamFlags()
		if err != nil {
			logrus.Errorf("Database error during flag retrieval: %v", err)
			return
		}
		printFlagTable(rows)
	default:
		logrus.Errorf("Unknown team action: %s", tokens[1])
	}
}

func (c *Console) cmdPM(tokens []string) {
	if len(tokens) < 3 {
		logrus.Error("Invalid private message format")
		fmt.Println("Usage: /pm <username> <message>")
		return
	}
	target := tokens[1]
	message := strings.Join(tokens[2:], " ")
	if err := c.srv.ServerPM(target, message); err != nil {
		logrus.Error(err)
		return
	}
	logrus.Infof("Private message sent to `%s`: %s", target, message)
}

func (c *Console) cmdHelp() {
	t := newTable()
	t.SetHeader([]string{colorize("Command", colorCyan), colorize("Usage", colorGreen)})

	commands := [][2]string{
		{"/auth", "/auth [accept|reject|list] <username> - Manage client authentication"},
		{"/users", "/users [list|kick] <username> - Manage connected users"},
		{"/flag", "/flag [submit|show] <challenge_name> <flag_value> <points> - Submit or display flags"},
		{"/team", "/team [auth|dq|pending|list|flags] <teamname> - Manage teams"},
		{"/pm", "/pm <username> <message> - Send a private message to a user"},
		{"/multiline", "/multiline - Enter multiline mode (type 'END' to send)"},
		{"/clear", "/clear - Clear the terminal screen"},
		{"/help", "/help - Display this help message"},
		{"/stop", "/stop - Shut down the server"},
	}
	for _, cmd := range commands {
		t.AddRow([]string{cmd[0], cmd[1]})
	}
	fmt.Println(t.Render())
}

// printFlagTable renders flag rows the same way for /flag show and
// /team flags.
func printFlagTable(rows []shared.FlagRow) {
	t := newTable()
	t.SetHeader([]string{
		colorize("ID", colorCyan),
		colorize("Challenge", colorYellow),
		colorize("Flag", colorGreen),
		colorize("Points", colorRed),
		colorize("Team", colorCyan),
		colorize("Submitted", colorYellow),
	})
	if len(rows) == 0 {
		t.AddRow([]string{"-", "No flags", "N/A", "0", "N/A", "N/A"})
	} else {
		for _, row := range rows {
			team := row.TeamName
			if team == "" {
				team = "None"
			}
			t.AddRow([]string{
				strconv.FormatInt(row.ID, 10),
				row.ChallengeName,
				row.FlagValue,
				strconv.Itoa(row.Points),
				team,
				row.Timestamp,
			})
		}
	}
	fmt.Println(t.Render())
}

func newTable() *termtable.Table {
	return termtable.NewTable(nil, &termtable.TableOptions{
		Padding:      2,
		UseSeparator: false,
	})
}
