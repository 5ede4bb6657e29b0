package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	linerpkg "github.com/peterh/liner"
	"github.com/stevedomin/termtable"
	"golang.org/x/term"

	"tinapay/shared"
)

const (
	chatPrompt      = ":(you)::> "
	multilinePrompt = ":(multiline)::> "
	passwordPrompt  = "Enter team password: "
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
	return fmt.Sprintf("\033[1m\033[%sm%s%s", color, text, colorReset)
}

func errorMsg(format string, args ...any) {
	fmt.Printf("%s %s\n", colorize("ERROR:", colorRed), fmt.Sprintf(format, args...))
}

// Client is the interactive session client: one websocket, a receive
// goroutine rendering server traffic, and a prompt loop feeding the
// send side. Team membership is tracked locally from team replies so
// breakroom shortcuts can be validated before a round trip.
type Client struct {
	addr     string
	username string
	useTLS   bool
	insecure bool

	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	teamname string

	multiline bool
	buffer    []string

	done chan struct{}
}

func NewClient(addr, username string, useTLS, insecure bool) *Client {
	return &Client{
		addr:     addr,
		username: username,
		useTLS:   useTLS,
		insecure: insecure,
		done:     make(chan struct{}),
	}
}

// Run connects, waits for operator admission, then drives the prompt
// loop until /quit or the server closes the connection.
func (c *Client) Run() error {
	if c.username == "" {
		return fmt.Errorf("username is required")
	}
	if err := c.connect(); err != nil {
		return err
	}
	if err := c.waitAdmission(); err != nil {
		return err
	}
	banner()

	go c.recvLoop()
	c.promptLoop()
	return nil
}

func (c *Client) connect() error {
	scheme := "ws"
	if c.useTLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.addr, Path: "/"}

	dialer := websocket.Dialer{
		HandshakeTimeout: 60 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.insecure},
	}

	fmt.Println(colorize("Connecting to Radioactive Tinapay server...", colorYellow))
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	c.ws = ws

	return c.send(&shared.Envelope{
		Type: shared.KindAuth,
		From: c.username,
	})
}

// waitAdmission blocks until the operator accepts or rejects us. Other
// frames arriving early (the pending echo, announcements) are dropped.
func (c *Client) waitAdmission() error {
	fmt.Println(colorize("Waiting for server response...", colorYellow))
	for {
		var env shared.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return fmt.Errorf("connection lost during authentication: %w", err)
		}
		if env.Type != shared.KindAuth {
			continue
		}
		switch env.Status {
		case shared.StatusAccepted:
			fmt.Println(colorize("Connection accepted!", colorGreen))
			if env.From != "" {
				c.username = env.From
			}
			return nil
		case shared.StatusRejected:
			c.ws.Close()
			return fmt.Errorf("connection rejected by server")
		}
	}
}

func banner() {
	fmt.Println("██████╗  █████╗ ██████╗        ████████╗██╗███╗   ██╗")
	fmt.Println("██╔══██╗██╔══██╗██╔══██╗       ╚══██╔══╝██║████╗  ██║")
	fmt.Println("██████╔╝███████║██║  ██║          ██║   ██║██╔██╗ ██║")
	fmt.Println("██╔══██╗██╔══██║██║  ██║          ██║   ██║██║╚██╗██║")
	fmt.Println("██║  ██║██║  ██║██████╔╝██╗       ██║   ██║██║ ╚████║██╗")
	fmt.Println("╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚═╝       ╚═╝   ╚═╝╚═╝  ╚═══╝╚═╝")
	fmt.Println("Radio-active!")
	fmt.Println()
}

func (c *Client) send(env *shared.Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = shared.Timestamp()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) team() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teamname
}

func (c *Client) setTeam(name string) {
	c.mu.Lock()
	c.teamname = name
	c.mu.Unlock()
}

func (c *Client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.ws != nil {
		c.ws.Close()
	}
}

// recvLoop renders every server frame. It runs until the socket
// closes; a disconnect (kick, disqualification, shutdown) ends the
// process since the prompt loop cannot be usefully continued.
func (c *Client) recvLoop() {
	for {
		var env shared.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			fmt.Println()
			fmt.Println(colorize("Disconnected from server", colorRed))
			os.Exit(0)
		}
		c.render(&env)
	}
}

func (c *Client) render(env *shared.Envelope) {
	switch env.Type {
	case shared.KindMsg:
		content, _ := env.ContentString()
		prefix := ""
		if env.Breakroom && c.team() != "" {
			prefix = fmt.Sprintf("[Breakroom %s] ", c.team())
		}
		fmt.Printf("\r\033[K%s<%s> %s\n", prefix, colorize(env.From, colorCyan), content)
	case shared.KindPM:
		content, _ := env.ContentString()
		prefix := ""
		if env.Breakroom && c.team() != "" {
			prefix = fmt.Sprintf("[Breakroom %s] ", c.team())
		}
		fmt.Printf("\r\033[K%s%s <%s>: %s\n", prefix, colorize("PM from", colorCyan), colorize(env.From, colorCyan), content)
	case shared.KindAnnounce:
		content, _ := env.ContentString()
		fmt.Printf("\r\033[K%s %s\n", colorize("SERVER:", colorYellow), content)
	case shared.KindAuth:
		switch env.Status {
		case shared.StatusRejected:
			fmt.Printf("\r\033[K%s\n", colorize("Connection rejected by server", colorRed))
			c.close()
			os.Exit(0)
		case shared.StatusAccepted:
			fmt.Printf("\r\033[K%s\n", colorize("Connection accepted by server", colorGreen))
		}
	case shared.KindTeam:
		c.renderTeam(env)
	case shared.KindFlag:
		content, _ := env.ContentString()
		switch env.Status {
		case shared.StatusAccepted:
			fmt.Printf("\r\033[K%s\n", colorize(content, colorGreen))
		case shared.StatusRejected:
			fmt.Printf("\r\033[K%s %s\n", colorize("Flag submission failed:", colorRed), content)
		}
	case shared.KindFlags:
		rows, err := shared.DecodeFlagRows(env.Content)
		if err != nil {
			errorMsg("Malformed flag list: %v", err)
			return
		}
		c.renderFlags(rows)
	}
}

func (c *Client) renderTeam(env *shared.Envelope) {
	content, _ := env.ContentString()
	switch env.Action {
	case shared.ActionCreate:
		switch env.Status {
		case shared.StatusPending:
			fmt.Printf("\r\033[K%s\n", colorize(fmt.Sprintf("Team creation request for %s pending server approval", env.TeamName), colorYellow))
		case shared.StatusAccepted:
			c.setTeam(env.TeamName)
			fmt.Printf("\r\033[K%s\n", colorize(fmt.Sprintf("Team %s created and authenticated", env.TeamName), colorGreen))
		case shared.StatusRejected:
			c.setTeam("")
			fmt.Printf("\r\033[K%s %s\n", colorize("Team creation failed:", colorRed), content)
		}
	case shared.ActionJoin:
		switch env.Status {
		case shared.StatusAccepted:
			c.setTeam(env.TeamName)
			fmt.Printf("\r\033[K%s\n", colorize(fmt.Sprintf("Successfully joined team %s", env.TeamName), colorGreen))
		case shared.StatusRejected:
			fmt.Printf("\r\033[K%s %s\n", colorize("Failed to join team:", colorRed), content)
		}
	case shared.ActionKick:
		switch env.Status {
		case shared.StatusAccepted:
			c.setTeam("")
			fmt.Printf("\r\033[K%s\n", colorize(content, colorRed))
		case shared.StatusRejected:
			fmt.Printf("\r\033[K%s %s\n", colorize("Kick failed:", colorRed), content)
		}
	case shared.ActionDQ:
		c.setTeam("")
		fmt.Printf("\r\033[K%s\n", colorize(content, colorRed))
		c.close()
		os.Exit(0)
	case shared.ActionList:
		var teams []shared.TeamInfo
		raw, err := json.Marshal(env.Content)
		if err == nil {
			err = json.Unmarshal(raw, &teams)
		}
		if err != nil {
			errorMsg("Malformed team list: %v", err)
			return
		}
		t := newTable()
		t.SetHeader([]string{
			colorize("Team Name", colorCyan),
			colorize("Leader", colorYellow),
			colorize("Members", colorGreen),
		})
		for _, team := range teams {
			t.AddRow([]string{team.TeamName, team.Leader, strings.Join(team.Members, ", ")})
		}
		fmt.Printf("\r\033[K%s\n", t.Render())
	case shared.ActionListTeams:
		var names []string
		raw, err := json.Marshal(env.Content)
		if err == nil {
			err = json.Unmarshal(raw, &names)
		}
		if err != nil {
			errorMsg("Malformed team name list: %v", err)
			return
		}
		t := newTable()
		t.SetHeader([]string{colorize("Team Name", colorCyan)})
		for _, name := range names {
			t.AddRow([]string{name})
		}
		fmt.Printf("\r\033[K%s\n", t.Render())
	}
}

func (c *Client) renderFlags(rows []shared.FlagRow) {
	t := newTable()
	t.SetHeader([]string{
		colorize("Challenge Name", colorCyan),
		colorize("Flag Value", colorGreen),
		colorize("Points", colorRed),
		colorize("Team", colorYellow),
	})
	for _, row := range rows {
		team := row.TeamName
		if team == "" {
			team = "None"
		}
		t.AddRow([]string{row.ChallengeName, row.FlagValue, strconv.Itoa(row.Points), team})
	}
	fmt.Printf("\r\033[K%s\n", t.Render())
}

// promptLoop is the interactive send side. Plain text is chat; a
// trailing --breakroom token scopes it to the team; slash commands map
// onto the protocol.
func (c *Client) promptLoop() {
	line := linerpkg.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	for {
		prompt := chatPrompt
		if c.multiline {
			prompt = multilinePrompt
		}

		input, err := line.Prompt(prompt)
		if err == linerpkg.ErrPromptAborted {
			continue
		}
		if err == io.EOF {
			fmt.Println()
			c.close()
			return
		}
		if err != nil {
			errorMsg("%v", err)
			return
		}

		if c.multiline {
			if strings.ToUpper(strings.TrimSpace(input)) == "END" {
				c.flushMultiline()
			} else {
				c.buffer = append(c.buffer, input)
			}
			continue
		}

		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(trimmed, "/") {
			if c.runCommand(line, strings.TrimPrefix(trimmed, "/")) {
				return
			}
			continue
		}
		c.sendChat(trimmed)
	}
}

func (c *Client) flushMultiline() {
	message := strings.Join(c.buffer, "\n")
	c.multiline = false
	c.buffer = nil
	if message != "" {
		c.sendChat(message)
		fmt.Printf("%s %s\n", colorize("Sent multiline message:", colorGreen), message)
	}
	fmt.Println(colorize("Multiline mode off", colorYellow))
}

// sendChat broadcasts message, routing it to the breakroom when the
// --breakroom token is present.
func (c *Client) sendChat(message string) {
	breakroom := strings.Contains(message, "--breakroom")
	if breakroom {
		message = strings.TrimSpace(strings.ReplaceAll(message, "--breakroom", ""))
		if c.team() == "" {
			errorMsg("You must be in a team to send breakroom messages")
			return
		}
	}
	if message == "" {
		return
	}
	if err := c.send(&shared.Envelope{
		Type:      shared.KindMsg,
		From:      c.username,
		Content:   message,
		Breakroom: breakroom,
	}); err != nil {
		errorMsg("Failed to send message: %v", err)
	}
}

// runCommand executes one slash command; it returns true on /quit.
func (c *Client) runCommand(line *linerpkg.State, input string) (quit bool) {
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		return false
	}

	switch tokens[0] {
	case "quit":
		c.close()
		return true
	case "flag":
		c.cmdFlag(tokens)
	case "pm":
		c.cmdPM(tokens)
	case "team":
		c.cmdTeam(line, tokens)
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
		fmt.Printf("%s Terminal cleared\n", colorize("INFO:", colorGreen))
	case "help":
		c.cmdHelp()
	default:
		errorMsg("Unknown command: %s", tokens[0])
	}
	return false
}

// stripBreakroom removes the --breakroom token and reports whether it
// was present.
func stripBreakroom(tokens []string) ([]string, bool) {
	out := tokens[:0:0]
	breakroom := false
	for _, t := range tokens {
		if t == "--breakroom" {
			breakroom = true
			continue
		}
		out = append(out, t)
	}
	return out, breakroom
}

func (c *Client) cmdFlag(tokens []string) {
	if len(tokens) < 2 {
		errorMsg("Invalid flag command format")
		fmt.Println("Usage: /flag [submit|show] <challenge_name> <flag> <points> [--breakroom]")
		return
	}

	tokens, breakroom := stripBreakroom(tokens)
	if breakroom && c.team() == "" {
		errorMsg("You must be in a team to use breakroom flags")
		return
	}

	switch tokens[1] {
	case "submit":
		if len(tokens) < 5 {
			errorMsg("Invalid flag submission format")
			fmt.Println("Usage: /flag submit <challenge_name> <flag> <points> [--breakroom]")
			return
		}
		points, err := strconv.Atoi(tokens[4])
		if err != nil {
			errorMsg("Points must be a valid integer")
			return
		}
		err = c.send(&shared.Envelope{
			Type: shared.KindFlag,
			From: c.username,
			Content: shared.FlagContent{
				Action:        shared.ActionSubmit,
				ChallengeName: tokens[2],
				FlagValue:     tokens[3],
				FlagPoints:    points,
			},
			Breakroom: breakroom,
		})
		if err != nil {
			errorMsg("Failed to submit flag: %v", err)
		}
	case "show":
		err := c.send(&shared.Envelope{
			Type:      shared.KindFlag,
			From:      c.username,
			Content:   shared.FlagContent{Action: shared.ActionShow},
			Breakroom: breakroom,
		})
		if err != nil {
			errorMsg("Failed to request flags: %v", err)
		}
	default:
		errorMsg("Invalid flag action")
		fmt.Println("Usage: /flag [submit|show] <challenge_name> <flag> <points> [--breakroom]")
	}
}

func (c *Client) cmdPM(tokens []string) {
	if len(tokens) < 3 {
		errorMsg("Invalid private message format")
		fmt.Println("Usage: /pm <username> <message> [--breakroom]")
		return
	}

	tokens, breakroom := stripBreakroom(tokens)
	if breakroom && c.team() == "" {
		errorMsg("You must be in a team to send breakroom private messages")
		return
	}
	if len(tokens) < 3 {
		errorMsg("Message cannot be empty")
		return
	}

	target := tokens[1]
	message := strings.Join(tokens[2:], " ")
	if target == c.username {
		errorMsg("Cannot send private message to yourself")
		return
	}

	err := c.send(&shared.Envelope{
		Type:      shared.KindPM,
		From:      c.username,
		To:        target,
		Content:   message,
		Breakroom: breakroom,
	})
	if err != nil {
		errorMsg("Failed to send private message: %v", err)
		return
	}
	fmt.Printf("%s %s\n", colorize(fmt.Sprintf("PM to %s:", target), colorCyan), message)
}

func (c *Client) cmdTeam(line *linerpkg.State, tokens []string) {
	if len(tokens) < 2 {
		errorMsg("Invalid team command format")
		fmt.Println("Usage: /team [create|join|list|listteams|kick] <teamname>")
		return
	}

	switch tokens[1] {
	case "create", "join":
		if len(tokens) < 3 {
			errorMsg("Missing teamname")
			fmt.Printf("Usage: /team %s <teamname>\n", tokens[1])
			return
		}
		teamname := tokens[2]
		password, err := line.PasswordPrompt(passwordPrompt)
		if err != nil {
			errorMsg("Password entry aborted")
			return
		}
		if password == "" {
			errorMsg("Password cannot be empty")
			return
		}
		err = c.send(&shared.Envelope{
			Type:     shared.KindTeam,
			Action:   tokens[1],
			From:     c.username,
			TeamName: teamname,
			Password: password,
		})
		if err != nil {
			errorMsg("Failed to send team request: %v", err)
		}
	case "list", "listteams":
		err := c.send(&shared.Envelope{
			Type:   shared.KindTeam,
			Action: tokens[1],
			From:   c.username,
		})
		if err != nil {
			errorMsg("Failed to send team request: %v", err)
		}
	case "kick":
		if len(tokens) < 3 {
			errorMsg("Missing username")
			fmt.Println("Usage: /team kick <username>")
			return
		}
		team := c.team()
		if team == "" {
			errorMsg("You must be in a team to kick members")
			return
		}
		err := c.send(&shared.Envelope{
			Type:       shared.KindTeam,
			Action:     shared.ActionKick,
			From:       c.username,
			TeamName:   team,
			TargetUser: tokens[2],
		})
		if err != nil {
			errorMsg("Failed to send kick request: %v", err)
		}
	default:
		errorMsg("Invalid team action")
		fmt.Println("Usage: /team [create|join|list|listteams|kick] ...")
	}
}

func (c *Client) cmdHelp() {
	t := newTable()
	t.SetHeader([]string{colorize("Command", colorCyan), colorize("Usage", colorGreen)})

	commands := [][2]string{
		{"/flag", "/flag [submit|show] <challenge_name> <flag> <points> [--breakroom] - Submit or display flags"},
		{"/team", "/team [create|join|list|listteams|kick] ... - Manage teams"},
		{"/multiline", "/multiline - Enter multiline mode (type 'END' to send)"},
		{"/clear", "/clear - Clear the terminal screen"},
		{"/help", "/help - Display this help message"},
		{"/quit", "/quit - Disconnect from the server"},
		{"/pm", "/pm <username> <message> [--breakroom] - Send a private message to a user"},
	}
	for _, cmd := range commands {
		t.AddRow([]string{cmd[0], cmd[1]})
	}
	fmt.Println(t.Render())
}

func newTable() *termtable.Table {
	return termtable.NewTable(nil, &termtable.TableOptions{
		Padding:      2,
		UseSeparator: false,
	})
}
