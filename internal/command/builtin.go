package command

import (
	"context"
	"fmt"
	"strings"
)

// Ping replies "pong" to a ping. Mostly useful to verify a link end to end.
type Ping struct{}

func (Ping) Name() string  { return "ping" }
func (Ping) Usage() string { return "ping - check that the link is alive" }

func (Ping) Match(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "ping")
}

func (Ping) Execute(ctx context.Context, inv *Invocation) error {
	return inv.Reply(ctx, "pong")
}

// Whoami replies with the ids binding the conversation.
type Whoami struct{}

func (Whoami) Name() string  { return "whoami" }
func (Whoami) Usage() string { return "whoami - show your chat and session ids" }

func (Whoami) Match(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "whoami")
}

func (Whoami) Execute(ctx context.Context, inv *Invocation) error {
	return inv.Reply(ctx, fmt.Sprintf("chat: %s\nsession: %s", inv.ChatID, inv.SessionID))
}

// Help lists the usage lines of every command on its dispatcher.
type Help struct {
	Dispatcher *Dispatcher
}

func (Help) Name() string  { return "help" }
func (Help) Usage() string { return "help - list available commands" }

func (Help) Match(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "help")
}

func (h Help) Execute(ctx context.Context, inv *Invocation) error {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range h.Dispatcher.Commands() {
		b.WriteString("  " + cmd.Usage() + "\n")
	}
	return inv.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}
