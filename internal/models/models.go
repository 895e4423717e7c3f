package models

import "time"

type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeMedia MessageType = "media"
)

type Message struct {
	ID         string      `json:"id"`
	FromUserID string      `json:"fromUserId"`
	ToUserID   string      `json:"toUserId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// OutboundDraft is the client-to-server shape of a message. The server
// assigns the id and timestamp; the draft carries neither.
type OutboundDraft struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Text       string `json:"text"`
}

// ThreadKey identifies a one-to-one conversation as an unordered pair of
// user ids. Construct it with NewThreadKey so equality works regardless of
// which participant comes first.
type ThreadKey struct {
	A string
	B string
}

func NewThreadKey(a, b string) ThreadKey {
	if b < a {
		a, b = b, a
	}
	return ThreadKey{A: a, B: b}
}

// KeyOf returns the ThreadKey a message belongs to.
func KeyOf(m Message) ThreadKey {
	return NewThreadKey(m.FromUserID, m.ToUserID)
}

// Matches reports whether the message belongs to this thread.
func (k ThreadKey) Matches(m Message) bool {
	return KeyOf(m) == k
}
