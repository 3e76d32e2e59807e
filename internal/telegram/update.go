package telegram

import (
	"strconv"
	"strings"
)

// Update is the inbound webhook payload from the Bot API. Only the two
// shapes the bridge cares about are modeled: a text message and a callback
// query.
type Update struct {
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an inbound chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
	From      *User  `json:"from"`
}

// CallbackQuery is the payload produced when a user presses an inline button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message"`
	From    User     `json:"from"`
}

// Chat identifies the conversation an update belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the Telegram-side identity attached to an update.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// TelegramID renders the user id as a string. Telegram ids can exceed the
// safe integer range of JSON consumers downstream, so they are carried as
// strings everywhere past this point.
func (u User) TelegramID() string {
	return strconv.FormatInt(u.ID, 10)
}

// FullName joins the first and last name the way the chat client displays it.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}
