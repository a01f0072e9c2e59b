package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/ondepub/autopost/internal/core_domain"
)

// ActionKind is the operator intent carried by a chat button or reply.
type ActionKind string

const (
	ActionApprove  ActionKind = "approve"
	ActionReject   ActionKind = "reject"
	ActionPreview  ActionKind = "preview"
	ActionFeedback ActionKind = "feedback"
)

// Action is one operator interaction received by a chat channel.
type Action struct {
	Kind   ActionKind
	PostID string
	// Note is the feedback text for ActionFeedback.
	Note string
	// Ref is the channel's reference of the message the action came from, if any.
	Ref string
	// Respond answers the operator privately (callback toast, ephemeral reply).
	Respond func(ctx context.Context, text string) error
}

// ActionHandler processes one operator action. Channels call it on their own goroutines.
type ActionHandler func(ctx context.Context, action Action)

// ChatChannel is a chat client the relay talks to.
type ChatChannel interface {
	Name() string
	// SendApproval posts an approval request with approve/reject/preview controls and
	// returns a reference to the sent message.
	SendApproval(ctx context.Context, post *core_domain.PostRecord) (string, error)
	// UpdateDecision rewrites the approval message identified by ref to show the
	// post's final status and removes its controls.
	UpdateDecision(ctx context.Context, ref string, post *core_domain.PostRecord) error
	Notify(ctx context.Context, text string) error
	// Listen delivers operator actions to handler until ctx is done.
	Listen(ctx context.Context, handler ActionHandler) error
}

// CallbackData encodes an action for a button payload.
func CallbackData(kind ActionKind, postID string) string {
	return string(kind) + ":" + postID
}

// ParseCallbackData decodes a button payload produced by CallbackData.
func ParseCallbackData(data string) (ActionKind, string, error) {
	kind, id, ok := strings.Cut(data, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return "", "", fmt.Errorf("malformed callback data %q", data)
	}
	switch ActionKind(kind) {
	case ActionApprove, ActionReject, ActionPreview, ActionFeedback:
		return ActionKind(kind), id, nil
	default:
		return "", "", fmt.Errorf("unknown action %q", kind)
	}
}
