package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/notification_service/relay"
)

const (
	maxMessageLength = 2000
	noteInputID      = "note"
)

// restAPI is the subset of *discordgo.Session used outside the gateway connection.
type restAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Channel posts approval requests to one Discord text channel and receives button
// and modal interactions over the gateway.
type Channel struct {
	session   *discordgo.Session
	api       restAPI
	channelID string
	logger    *slog.Logger
}

func New(token string, channelID string, logger *slog.Logger) (*Channel, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord channel requires a bot token and channel id")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return &Channel{session: s, api: s, channelID: channelID, logger: logger.With("chat", "discord")}, nil
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) SendApproval(ctx context.Context, post *core_domain.PostRecord) (string, error) {
	msg, err := c.api.ChannelMessageSendComplex(c.channelID, &discordgo.MessageSend{
		Content:    truncate(relay.FormatApproval(post)),
		Components: approvalComponents(post.ID),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord send approval: %w", err)
	}
	return msg.ID, nil
}

func (c *Channel) UpdateDecision(ctx context.Context, ref string, post *core_domain.PostRecord) error {
	content := truncate(relay.FormatDecision(post))
	_, err := c.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    c.channelID,
		ID:         ref,
		Content:    &content,
		Components: &[]discordgo.MessageComponent{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord edit approval %s: %w", ref, err)
	}
	return nil
}

func (c *Channel) Notify(ctx context.Context, text string) error {
	if _, err := c.api.ChannelMessageSend(c.channelID, truncate(text), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Listen opens the gateway and forwards interactions until ctx is done.
// discordgo runs each event handler on its own goroutine.
func (c *Channel) Listen(ctx context.Context, handler relay.ActionHandler) error {
	remove := c.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		c.handleInteraction(ctx, i, handler)
	})
	defer remove()

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	c.logger.InfoContext(ctx, "Discord gateway connected", "channel_id", c.channelID)
	<-ctx.Done()
	return c.session.Close()
}

func (c *Channel) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate, handler relay.ActionHandler) {
	if i.ChannelID != c.channelID {
		return
	}
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		kind, postID, err := relay.ParseCallbackData(i.MessageComponentData().CustomID)
		if err != nil {
			c.logger.WarnContext(ctx, "Ignoring component interaction", "error", err)
			return
		}
		if kind == relay.ActionFeedback {
			if err := c.api.InteractionRespond(i.Interaction, feedbackModal(postID)); err != nil {
				c.logger.ErrorContext(ctx, "Error responding with modal", "post_id", postID, "error", err)
			}
			return
		}
		if !c.deferReply(ctx, i.Interaction) {
			return
		}
		ref := ""
		if i.Message != nil {
			ref = i.Message.ID
		}
		handler(ctx, relay.Action{Kind: kind, PostID: postID, Ref: ref, Respond: c.editReply(i.Interaction)})

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		kind, postID, err := relay.ParseCallbackData(data.CustomID)
		if err != nil || kind != relay.ActionFeedback {
			c.logger.WarnContext(ctx, "Ignoring modal submission", "custom_id", data.CustomID)
			return
		}
		if !c.deferReply(ctx, i.Interaction) {
			return
		}
		handler(ctx, relay.Action{Kind: relay.ActionFeedback, PostID: postID, Note: modalValue(data, noteInputID), Respond: c.editReply(i.Interaction)})
	}
}

// deferReply acknowledges within Discord's three second window; approvals may take longer.
func (c *Channel) deferReply(ctx context.Context, interaction *discordgo.Interaction) bool {
	err := c.api.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "Error sending deferred response", "error", err)
		return false
	}
	return true
}

func (c *Channel) editReply(interaction *discordgo.Interaction) func(context.Context, string) error {
	return func(ctx context.Context, text string) error {
		text = truncate(text)
		_, err := c.api.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{Content: &text}, discordgo.WithContext(ctx))
		return err
	}
}

func approvalComponents(postID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Approve", Style: discordgo.SuccessButton, CustomID: relay.CallbackData(relay.ActionApprove, postID)},
				discordgo.Button{Label: "Reject", Style: discordgo.DangerButton, CustomID: relay.CallbackData(relay.ActionReject, postID)},
				discordgo.Button{Label: "Feedback", Style: discordgo.PrimaryButton, CustomID: relay.CallbackData(relay.ActionFeedback, postID)},
				discordgo.Button{Label: "Preview", Style: discordgo.SecondaryButton, CustomID: relay.CallbackData(relay.ActionPreview, postID)},
			},
		},
	}
}

func feedbackModal(postID string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: relay.CallbackData(relay.ActionFeedback, postID),
			Title:    "Feedback",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    noteInputID,
							Label:       "What should change?",
							Style:       discordgo.TextInputParagraph,
							Placeholder: "Notes for the next draft...",
							Required:    true,
							MaxLength:   1000,
						},
					},
				},
			},
		},
	}
}

func modalValue(data discordgo.ModalSubmitInteractionData, inputID string) string {
	for _, comp := range data.Components {
		row, ok := comp.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok && input.CustomID == inputID {
				return input.Value
			}
		}
	}
	return ""
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return text
	}
	return string(runes[:maxMessageLength-3]) + "..."
}
