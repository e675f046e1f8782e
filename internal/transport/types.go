// Package transport defines the contract between the reminder core and a
// chat protocol.
package transport

import (
	"context"
	"time"
)

// Update is one inbound event from the chat protocol.
type Update struct {
	Message *Message
}

// Message is an inbound chat message.
type Message struct {
	ID         int
	Room       string // see FormatRoom
	SenderID   string
	SenderName string // username when available, otherwise a display name
	Text       string
	IsGroup    bool
	At         time.Time
}

// Messenger delivers plain text to a room. Implementations do not retry;
// the scheduler owns retry policy.
type Messenger interface {
	SendText(ctx context.Context, room, text string) error
}

// Adapter is a full chat transport: inbound updates plus a Messenger.
type Adapter interface {
	Messenger
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to publish the command list in the client UI (Telegram "/" menu).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
