// Command mechat is a line-oriented terminal client for a mechat server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"mechat/internal/client"
	"mechat/internal/config"
	"mechat/internal/models"
)

const help = `Commands:
  /register <name> <email> <password>
  /login <email> <password>
  /search <query>          find users
  /dm <user id>            open a direct chat
  /group <name> <id,id,..> create a group
  /chats                   list chats
  /open <n>                open chat n from /chats
  /close                   close the open chat
  /logout
  /quit
Anything else is sent to the open chat.`

type terminal struct {
	out     io.Writer
	session *client.Session

	mu      sync.Mutex
	printed map[string]struct{}
	chats   []models.Chat
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) sender(m models.Message) string {
	if m.Sender != nil {
		return m.Sender.Name
	}
	return m.SenderID
}

func chatTitle(c models.Chat, selfID string) string {
	if c.IsGroupChat {
		return c.ChatName
	}
	for _, u := range c.Users {
		if u.ID != selfID {
			return u.Name
		}
	}
	return c.ID
}

// refresh prints thread messages that have not been shown yet.
func (t *terminal) refresh() {
	store := t.session.Store()
	if store == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range store.Thread() {
		if _, ok := t.printed[m.ID]; ok {
			continue
		}
		t.printed[m.ID] = struct{}{}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), t.sender(m), m.Content)
	}
	for _, m := range store.Notifications() {
		if _, ok := t.printed[m.ID]; ok {
			continue
		}
		t.printed[m.ID] = struct{}{}
		fmt.Fprintf(t.out, "* new message from %s (%d unread in that chat)\n", t.sender(m), store.UnreadCount(m.ChatID))
	}
}

func (t *terminal) typing(_ string, peers []string) {
	if len(peers) == 0 {
		return
	}
	t.printf("* %d typing...\n", len(peers))
}

func (t *terminal) exec(ctx context.Context, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return false, nil
		}
		t.session.Keystroke(line)
		_, err := t.session.Submit(ctx)
		return false, err
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit":
		return true, nil
	case "/help":
		t.printf("%s\n", help)
	case "/register":
		if len(args) != 3 {
			return false, errors.New("usage: /register <name> <email> <password>")
		}
		u, err := t.session.Register(ctx, args[0], args[1], args[2])
		if err != nil {
			return false, err
		}
		t.printf("Registered as %s (%s)\n", u.Name, u.ID)
	case "/login":
		if len(args) != 2 {
			return false, errors.New("usage: /login <email> <password>")
		}
		u, err := t.session.Login(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		t.printf("Logged in as %s (%s)\n", u.Name, u.ID)
		return false, t.listChats(ctx)
	case "/logout":
		return false, t.session.Logout(ctx)
	case "/search":
		users, err := t.session.API().SearchUsers(ctx, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		for _, u := range users {
			t.printf("%s  %s <%s>\n", u.ID, u.Name, u.Email)
		}
	case "/dm":
		if len(args) != 1 {
			return false, errors.New("usage: /dm <user id>")
		}
		c, err := t.session.StartChat(ctx, args[0])
		if err != nil {
			return false, err
		}
		return false, t.open(ctx, c)
	case "/group":
		if len(args) != 2 {
			return false, errors.New("usage: /group <name> <id,id,...>")
		}
		c, err := t.session.CreateGroup(ctx, args[0], strings.Split(args[1], ","))
		if err != nil {
			return false, err
		}
		return false, t.open(ctx, c)
	case "/chats":
		return false, t.listChats(ctx)
	case "/open":
		if len(args) != 1 {
			return false, errors.New("usage: /open <n>")
		}
		n, err := strconv.Atoi(args[0])
		t.mu.Lock()
		chats := t.chats
		t.mu.Unlock()
		if err != nil || n < 1 || n > len(chats) {
			return false, fmt.Errorf("no chat %q, run /chats first", args[0])
		}
		return false, t.open(ctx, chats[n-1])
	case "/close":
		return false, t.session.CloseChat(ctx)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func (t *terminal) listChats(ctx context.Context) error {
	chats, err := t.session.LoadChats(ctx)
	if err != nil {
		return err
	}
	self := t.session.Self().ID
	store := t.session.Store()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.chats = chats
	for i, c := range chats {
		marker := " "
		if store.Unread(c.ID) {
			marker = "*"
		}
		latest := ""
		if c.LatestMessage != nil {
			latest = c.LatestMessage.Content
		}
		fmt.Fprintf(t.out, "%s%2d. %-20s %s\n", marker, i+1, chatTitle(c, self), latest)
	}
	return nil
}

func (t *terminal) open(ctx context.Context, c models.Chat) error {
	t.mu.Lock()
	clear(t.printed)
	t.mu.Unlock()

	if err := t.session.OpenChat(ctx, c.ID); err != nil {
		return err
	}
	t.printf("--- %s ---\n", chatTitle(c, t.session.Self().ID))
	t.refresh()
	return nil
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("mechat", flag.ContinueOnError)
	server := fs.String("server", "", "Server base URL, defaults to API_URL")
	verbose := fs.Bool("v", false, "Log realtime diagnostics to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(true)
	if err != nil {
		return err
	}
	if *server == "" {
		*server = cfg.APIURL
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	t := &terminal{out: out, printed: make(map[string]struct{})}
	t.session = client.NewSession(client.Config{
		ServerURL: *server,
		OnWarning: func(msg string) { t.printf("! %s\n", msg) },
		OnChange:  t.refresh,
		OnTyping:  t.typing,
	})
	defer func() {
		if t.session.Store() != nil {
			_ = t.session.Logout(context.WithoutCancel(ctx))
		}
	}()

	t.printf("Connected to %s. Type /help for commands.\n", *server)
	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := t.exec(ctx, line)
			if err != nil {
				t.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatalf("mechat: %v", err)
	}
}
