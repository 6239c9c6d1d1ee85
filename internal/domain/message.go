package domain

// MessageKind selects the outbound message variant.
type MessageKind string

const (
	MessageText     MessageKind = "text"
	MessageImage    MessageKind = "image"
	MessageDocument MessageKind = "document"
	MessageButtons  MessageKind = "buttons"
)

// OutboundMessage is a tagged variant accepted by a connection. The wire
// encoding belongs to the transport layer.
type OutboundMessage struct {
	Kind     MessageKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Media    []byte      `json:"media,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	FileName string      `json:"file_name,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	Footer   string      `json:"footer,omitempty"`
	Buttons  []Button    `json:"buttons,omitempty"`
}

// Button is a single tappable choice on a buttons message.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// TextMessage builds a plain text message.
func TextMessage(text string) OutboundMessage {
	return OutboundMessage{Kind: MessageText, Text: text}
}

// ImageMessage builds an image message with a caption.
func ImageMessage(media []byte, caption string) OutboundMessage {
	return OutboundMessage{Kind: MessageImage, Media: media, Caption: caption}
}

// DocumentMessage builds a document message with a caption and file name.
func DocumentMessage(media []byte, caption, fileName, mimeType string) OutboundMessage {
	return OutboundMessage{
		Kind:     MessageDocument,
		Media:    media,
		Caption:  caption,
		FileName: fileName,
		MimeType: mimeType,
	}
}

// ButtonsMessage builds a message presenting tappable choices with an
// optional footer line.
func ButtonsMessage(text, footer string, buttons []Button) OutboundMessage {
	return OutboundMessage{Kind: MessageButtons, Text: text, Footer: footer, Buttons: buttons}
}

// InboundEvent is one decoded message received on a connection.
type InboundEvent struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}
