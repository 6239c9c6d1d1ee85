// Package media forwards externally uploaded attachments as outbound
// messages on a live session.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/walink/internal/domain"
)

// Sender delivers an outbound message on a named session. Implemented by the
// session registry.
type Sender interface {
	Send(ctx context.Context, sessionID, chatID string, msg domain.OutboundMessage) error
}

// Attachment is one uploaded file staged in temporary storage.
type Attachment struct {
	Path     string
	FileName string
	MimeType string
}

// Result reports per-attachment delivery outcomes by index.
type Result struct {
	Sent          int
	FailedIndices []int
}

// AllSent reports whether every attachment was delivered.
func (r Result) AllSent() bool {
	return len(r.FailedIndices) == 0
}

// Bridge sends attachments and releases their temporary storage.
type Bridge struct {
	sender Sender
}

// NewBridge creates a bridge over the given sender.
func NewBridge(sender Sender) *Bridge {
	return &Bridge{sender: sender}
}

// Deliver sends each attachment to the chat in the order received, as an
// image or document depending on MIME type. Every attachment's temporary
// file is removed whether or not its send succeeded, and a failure on one
// attachment does not stop the others.
func (b *Bridge) Deliver(ctx context.Context, sessionID, chatID, caption string, attachments []Attachment) Result {
	var res Result
	for i, att := range attachments {
		if err := b.deliverOne(ctx, sessionID, chatID, caption, att); err != nil {
			slog.Error("Attachment delivery failed",
				"session_id", sessionID,
				"chat_id", chatID,
				"index", i,
				"file", att.FileName,
				"error", err)
			res.FailedIndices = append(res.FailedIndices, i)
			continue
		}
		res.Sent++
	}
	return res
}

func (b *Bridge) deliverOne(ctx context.Context, sessionID, chatID, caption string, att Attachment) error {
	defer func() {
		if err := os.Remove(att.Path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to release temporary upload", "path", att.Path, "error", err)
		}
	}()

	data, err := os.ReadFile(att.Path)
	if err != nil {
		return fmt.Errorf("read upload %s: %w", att.Path, err)
	}

	var msg domain.OutboundMessage
	if strings.HasPrefix(att.MimeType, "image/") {
		msg = domain.ImageMessage(data, caption)
	} else {
		msg = domain.DocumentMessage(data, caption, att.FileName, att.MimeType)
	}

	if err := b.sender.Send(ctx, sessionID, chatID, msg); err != nil {
		return fmt.Errorf("send attachment %s: %w", att.FileName, err)
	}
	return nil
}
