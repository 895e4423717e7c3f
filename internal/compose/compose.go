// Package compose validates and emits outbound messages.
package compose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pliu/courier/internal/models"
)

// ErrInvalidInput is returned for an empty draft or a send with no peer
// selected.
var ErrInvalidInput = errors.New("invalid input")

// Sender is the outbound half of the connection.
type Sender interface {
	SendOutbound(draft models.OutboundDraft) error
}

// Selection exposes the current peer selection.
type Selection interface {
	SelectedPeer() *models.Identity
}

type Pipeline struct {
	localID   string
	sender    Sender
	selection Selection
}

func NewPipeline(localID string, sender Sender, selection Selection) *Pipeline {
	return &Pipeline{localID: localID, sender: sender, selection: selection}
}

// Send validates text and hands it to the transport. There is deliberately
// no local append: the message becomes visible only when the server echoes
// it back with its assigned id and timestamp, and the thread's dedup rule
// makes that round trip idempotent.
func (p *Pipeline) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty message: %w", ErrInvalidInput)
	}

	peer := p.selection.SelectedPeer()
	if peer == nil {
		return fmt.Errorf("no peer selected: %w", ErrInvalidInput)
	}

	return p.sender.SendOutbound(models.OutboundDraft{
		FromUserID: p.localID,
		ToUserID:   peer.ID,
		Text:       text,
	})
}
