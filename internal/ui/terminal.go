package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatcord/internal/api"
	"chatcord/internal/auth"
	"chatcord/internal/directory"
	"chatcord/internal/models"
	"chatcord/internal/session"
	"chatcord/internal/transport"
	"chatcord/pkg/logger"
)

// Terminal is the presentation layer: a line-oriented prompt loop
// over the coordinator and directory, with slash commands standing in
// for the sidebar and modals.
type Terminal struct {
	in  *bufio.Scanner
	out io.Writer

	coord *session.Coordinator
	dir   *directory.Directory
	api   *api.Client
	auth  *auth.Service

	mu      sync.Mutex
	printed int
}

func NewTerminal(in io.Reader, out io.Writer, apiClient *api.Client, authService *auth.Service, dir *directory.Directory) *Terminal {
	return &Terminal{
		in:   bufio.NewScanner(in),
		out:  out,
		api:  apiClient,
		auth: authService,
		dir:  dir,
	}
}

// Bind attaches the coordinator once it exists. The terminal is the
// coordinator's Notifier, so construction is two-phase.
func (t *Terminal) Bind(coord *session.Coordinator) {
	t.coord = coord
	coord.OnUpdate(t.render)
}

// Toast shows a transient notice.
func (t *Terminal) Toast(title string) {
	t.printf("  • %s\n", title)
}

// Alert shows a blocking notice. Events arrive on transport
// goroutines that do not own stdin, so acknowledgement is implicit.
func (t *Terminal) Alert(title, text string) {
	t.printf("\n  [!] %s - %s\n", title, text)
}

// ConfirmReload surfaces the reload offer without touching stdin.
// The prompt loop is the only reader of the input stream; callers on
// transport goroutines get a hint to run /reconnect instead of a
// question, and the send path asks on its own goroutine in Run.
func (t *Terminal) ConfirmReload(title, text string) bool {
	t.printf("\n  [!] %s - %s (type /reconnect to retry)\n", title, text)
	return false
}

// RunLogin restores a stored session or walks the user through
// login/register. Returns the active session.
func (t *Terminal) RunLogin(ctx context.Context) (*models.Session, error) {
	if s := t.auth.Restore(); s != nil {
		t.printf("Welcome back, %s\n", s.Username)
		return s, nil
	}

	for {
		t.printf("(l)ogin or (r)egister? ")
		choice, ok := t.readLine()
		if !ok {
			return nil, fmt.Errorf("input closed")
		}

		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "l", "login":
			email := t.prompt("email: ")
			password := t.prompt("password: ")
			s, err := t.auth.Login(ctx, email, password)
			if err != nil {
				t.printf("login failed: %v\n", errText(err))
				continue
			}
			t.printf("Logged in as %s\n", s.Username)
			return s, nil

		case "r", "register":
			username := t.prompt("username: ")
			email := t.prompt("email: ")
			password := t.prompt("password: ")
			s, err := t.auth.Register(ctx, username, email, password)
			if err != nil {
				t.printf("registration failed: %v\n", errText(err))
				continue
			}
			t.printf("Registered as %s\n", s.Username)
			return s, nil
		}
	}
}

// Run is the main prompt loop. Blocks until /quit or input closes.
func (t *Terminal) Run(ctx context.Context) {
	if err := t.dir.Fetch(ctx); err != nil {
		t.Alert("Error", "Failed to fetch rooms")
		logger.Error("Initial room fetch failed: %v", err)
	}
	t.printRooms()
	t.printf("Type /help for commands.\n")

	for {
		t.printf("> ")
		line, ok := t.readLine()
		if !ok {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if t.runCommand(ctx, line) {
				return
			}
		} else if err := t.coord.Send(line); err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				if t.confirmReconnect() {
					t.coord.Reconnect()
				}
			} else {
				t.printf("  (not sent: %s)\n", errText(err))
			}
		}
	}
}

func (t *Terminal) runCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		t.printHelp()

	case "/rooms":
		if err := t.dir.Fetch(ctx); err != nil {
			t.Alert("Error", "Failed to fetch rooms")
			break
		}
		t.printRooms()

	case "/join":
		id, ok := t.roomIDArg(args)
		if !ok {
			break
		}
		if err := t.dir.Join(ctx, id); err != nil {
			t.Alert("Error", errText(err))
			break
		}
		if room, ok := t.dir.Get(id); ok {
			t.coord.SelectRoom(room)
		}

	case "/select":
		id, ok := t.roomIDArg(args)
		if !ok {
			break
		}
		room, ok := t.dir.Get(id)
		if !ok {
			t.printf("  no such room: %d\n", id)
			break
		}
		t.coord.SelectRoom(room)

	case "/leave":
		room := t.coord.Selected()
		if room == nil {
			t.printf("  no room selected\n")
			break
		}
		t.coord.ClearRoom()
		if err := t.dir.Leave(ctx, room.ID); err != nil {
			t.Alert("Error", errText(err))
		}

	case "/create":
		if len(args) == 0 {
			t.printf("  usage: /create <name>\n")
			break
		}
		room, err := t.dir.Create(ctx, strings.Join(args, " "))
		if err != nil {
			t.Alert("Error", errText(err))
			break
		}
		t.printf("  created room %q (%d)\n", room.Name, room.ID)
		t.coord.SelectRoom(*room)

	case "/delete":
		id, ok := t.roomIDArg(args)
		if !ok {
			break
		}
		// Creator-only; the server enforces it, we only hide the hint.
		if room, found := t.dir.Get(id); found {
			if me := t.auth.Current(); me != nil && room.CreatedBy != 0 && room.CreatedBy != me.ID {
				t.printf("  only the room's creator can delete it\n")
				break
			}
		}
		if err := t.dir.Delete(ctx, id); err != nil {
			t.Alert("Error", errText(err))
		}

	case "/who":
		t.printUsers(t.coord.Users())

	case "/users":
		users, err := t.api.ListUsers(ctx)
		if err != nil {
			t.Alert("Error", errText(err))
			break
		}
		t.printUsers(users)

	case "/summary":
		room := t.coord.Selected()
		if room == nil {
			t.printf("  no room selected\n")
			break
		}
		t.printf("  generating summary...\n")
		summary, err := t.api.RoomSummary(ctx, room.ID)
		if err != nil {
			t.Alert("Error", "Failed to generate AI summary. Please try again.")
			break
		}
		t.printf("  %s\n", CleanSummary(summary))

	case "/upload":
		if len(args) != 1 {
			t.printf("  usage: /upload <path>\n")
			break
		}
		t.upload(ctx, args[0])

	case "/status":
		if len(args) != 1 || !models.ValidStatus(args[0]) {
			t.printf("  usage: /status online|idle|dnd|offline\n")
			break
		}
		if err := t.auth.SetStatus(args[0]); err != nil {
			t.Alert("Error", errText(err))
		}

	case "/reconnect":
		t.coord.Reconnect()

	case "/logout":
		t.coord.Stop()
		if err := t.auth.Logout(); err != nil {
			logger.Error("Logout cleanup failed: %v", err)
		}
		t.printf("Logged out.\n")
		return true

	default:
		t.printf("  unknown command %s, try /help\n", cmd)
	}
	return false
}

func (t *Terminal) upload(ctx context.Context, path string) {
	room := t.coord.Selected()
	if room == nil {
		t.printf("  no room selected\n")
		return
	}

	file, err := os.Open(path)
	if err != nil {
		t.Alert("Error", fmt.Sprintf("cannot open %s", path))
		return
	}
	defer file.Close()

	attachment, err := t.api.UploadImage(ctx, room.ID, filepath.Base(path), file)
	if err != nil {
		t.Alert("Error", errText(err))
		return
	}
	t.printf("  uploaded %s\n", attachment.URL)
}

// render prints any messages appended since the last paint. A shorter
// log means the server's history replaced the cache; repaint it all.
func (t *Terminal) render() {
	messages := t.coord.Messages()

	t.mu.Lock()
	from := t.printed
	if len(messages) < t.printed {
		from = 0
	}
	t.printed = len(messages)
	t.mu.Unlock()

	if from == 0 && len(messages) > 0 {
		if room := t.coord.Selected(); room != nil {
			t.printf("\n--- %s ---\n", room.Name)
		}
	}
	for _, msg := range messages[from:] {
		t.printMessage(msg)
	}
}

func (t *Terminal) printMessage(msg models.Message) {
	t.printf("[%s] (%s) %s: %s\n",
		msg.Timestamp.Format(time.Kitchen), msg.Avatar(), msg.Username, msg.Content)
	for _, att := range msg.Attachments {
		t.printf("    attachment: %s\n", att.URL)
	}
}

func (t *Terminal) printRooms() {
	rooms := t.dir.Rooms()
	if len(rooms) == 0 {
		t.printf("No rooms. Create one with /create <name>.\n")
		return
	}
	t.printf("Rooms:\n")
	for _, room := range rooms {
		marker := " "
		if room.IsJoined {
			marker = "*"
		}
		t.printf("  %s %3d  %s\n", marker, room.ID, room.Name)
	}
}

func (t *Terminal) printUsers(users []models.OnlineUser) {
	if len(users) == 0 {
		t.printf("  nobody here\n")
		return
	}
	for _, u := range users {
		t.printf("  (%s) %s - %s\n", u.Avatar(), u.Username, u.Status)
	}
}

func (t *Terminal) printHelp() {
	t.printf(`Commands:
  /rooms              refresh and list rooms
  /join <id>          join a room and switch to it
  /select <id>        switch to a joined room
  /leave              leave the current room
  /create <name>      create a room
  /delete <id>        delete a room you created
  /who                online users in the room
  /users              all users
  /summary            AI summary of the room
  /upload <path>      send an image
  /status <s>         set status (online|idle|dnd|offline)
  /reconnect          re-establish the connection
  /logout             log out and quit
  /quit               quit
`)
}

// confirmReconnect asks the reconnect question on the prompt loop's
// own goroutine, the only one allowed to read stdin.
func (t *Terminal) confirmReconnect() bool {
	t.printf("  Reconnect now? [y/N] ")
	answer, ok := t.readLine()
	if !ok {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (t *Terminal) roomIDArg(args []string) (int, bool) {
	if len(args) != 1 {
		t.printf("  expected a room id\n")
		return 0, false
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		t.printf("  invalid room id %q\n", args[0])
		return 0, false
	}
	return id, true
}

func (t *Terminal) prompt(label string) string {
	t.printf("%s", label)
	line, _ := t.readLine()
	return strings.TrimSpace(line)
}

func (t *Terminal) readLine() (string, bool) {
	if !t.in.Scan() {
		return "", false
	}
	return t.in.Text(), true
}

func (t *Terminal) printf(format string, v ...interface{}) {
	fmt.Fprintf(t.out, format, v...)
}

func errText(err error) string {
	var statusErr *api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Message
	}
	return err.Error()
}
