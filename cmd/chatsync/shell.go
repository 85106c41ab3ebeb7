package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"chat-sync/internal/lifecycle"
	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/readstate"
	"chat-sync/internal/repositories"
	"chat-sync/internal/session"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("enter"),
	readline.PcItem("leave"),
	readline.PcItem("send"),
	readline.PcItem("messages"),
	readline.PcItem("unread"),
	readline.PcItem("state"),
	readline.PcItem("refresh"),
	readline.PcItem("lifecycle",
		readline.PcItem(string(models.LifecycleActive)),
		readline.PcItem(string(models.LifecycleBackground)),
		readline.PcItem(string(models.LifecycleInactive)),
	),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

const usage = `commands:
  enter <room>          open a room session
  leave                 close the room session
  send <text>           post a message to the open room
  messages              print the open room's messages
  unread [room]         count unread messages
  state                 print session state
  refresh               reload notification settings
  lifecycle <state>     set active, background or inactive
  quit`

type lineReader interface {
	Readline() (string, error)
}

type shell struct {
	ctrl      *session.Controller
	lifecycle *lifecycle.Observer
	tracker   *readstate.Tracker
	messages  repositories.MessageRepository
	publisher rabbitmq.Publisher
	userID    string
	out       io.Writer
}

func (s *shell) loop(ctx context.Context, r lineReader) {
	for {
		line, err := r.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if quit := s.exec(ctx, line); quit {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, usage)
	case "enter":
		if arg == "" {
			fmt.Fprintln(s.out, "usage: enter <room>")
			return false
		}
		s.report(s.ctrl.EnterRoom(arg))
	case "leave":
		s.report(s.ctrl.LeaveRoom())
	case "state":
		fmt.Fprintf(s.out, "state=%s room=%s status=%s lifecycle=%s\n", s.ctrl.State(), s.ctrl.RoomID(), s.ctrl.Status(), s.lifecycle.Current())
	case "messages":
		for _, m := range s.ctrl.Messages() {
			mark := " "
			if m.IsRead || m.SenderID == s.userID {
				mark = "✓"
			}
			fmt.Fprintf(s.out, "%s %s [%s] %s: %s\n", mark, m.CreatedAt.Format("15:04:05"), m.ID, senderLabel(m), m.Content)
		}
	case "unread":
		room := arg
		if room == "" {
			room = s.ctrl.RoomID()
		}
		if room == "" {
			fmt.Fprintln(s.out, "usage: unread <room>")
			return false
		}
		n, err := s.tracker.UnreadCount(ctx, room, s.userID)
		if err != nil {
			s.report(err)
			return false
		}
		fmt.Fprintf(s.out, "%s: %d unread\n", room, n)
	case "refresh":
		pref := s.ctrl.RefreshPreferences(ctx)
		fmt.Fprintf(s.out, "push notifications enabled: %t\n", pref.PushNotificationsEnabled)
	case "lifecycle":
		state, ok := models.ParseLifecycleState(arg)
		if !ok {
			fmt.Fprintln(s.out, "usage: lifecycle active|background|inactive")
			return false
		}
		s.lifecycle.Set(state)
	case "send":
		s.send(ctx, arg)
	default:
		fmt.Fprintf(s.out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func (s *shell) send(ctx context.Context, text string) {
	room := s.ctrl.RoomID()
	if room == "" {
		fmt.Fprintln(s.out, "enter a room first")
		return
	}
	if text == "" {
		fmt.Fprintln(s.out, "usage: send <text>")
		return
	}
	msg, err := s.messages.CreateMessage(ctx, models.Message{RoomID: room, SenderID: s.userID, Content: text})
	if err != nil {
		s.report(err)
		return
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoomRoutingKey(room), msg, nil); err != nil {
		s.report(err)
	}
}

func (s *shell) report(err error) {
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func senderLabel(m models.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}
