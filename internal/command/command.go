// Package command implements the inbound message dispatch pipeline: a fixed,
// registration-ordered list of commands, each invoked with an isolated
// failure domain.
package command

import (
	"context"
	"log/slog"
)

// Invocation is the per-message context handed to every command. Reply is
// bound to the originating chat; multiple commands may reply to the same
// inbound event.
type Invocation struct {
	SessionID string
	ChatID    string
	Text      string
	Reply     func(ctx context.Context, text string) error
}

// Command is one logical command. Match decides on the decoded text alone;
// Execute runs only when Match returned true.
type Command interface {
	Name() string
	Usage() string
	Match(text string) bool
	Execute(ctx context.Context, inv *Invocation) error
}

// Dispatcher invokes every registered command for each inbound event, in
// registration order. A command's error or panic is logged and never stops
// the remaining commands or the enclosing event loop.
type Dispatcher struct {
	commands []Command
}

// NewDispatcher creates a dispatcher with the given commands, in order.
func NewDispatcher(commands ...Command) *Dispatcher {
	return &Dispatcher{commands: commands}
}

// Register appends a command. Order of registration is dispatch order.
func (d *Dispatcher) Register(cmd Command) {
	d.commands = append(d.commands, cmd)
}

// Commands returns the registered commands in dispatch order.
func (d *Dispatcher) Commands() []Command {
	return d.commands
}

// Dispatch runs the full command list against one inbound event.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) {
	for _, cmd := range d.commands {
		d.invoke(ctx, cmd, inv)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, cmd Command, inv *Invocation) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Command panicked",
				"command", cmd.Name(),
				"session_id", inv.SessionID,
				"chat_id", inv.ChatID,
				"panic", rec)
		}
	}()

	if !cmd.Match(inv.Text) {
		return
	}

	if err := cmd.Execute(ctx, inv); err != nil {
		slog.Error("Command failed",
			"command", cmd.Name(),
			"session_id", inv.SessionID,
			"chat_id", inv.ChatID,
			"error", err)
	}
}
