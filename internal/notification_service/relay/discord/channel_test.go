package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/logger"
	"github.com/ondepub/autopost/internal/notification_service/relay"
)

type MockRestAPI struct {
	mock.Mock
}

func (m *MockRestAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func (m *MockRestAPI) ChannelMessageEditComplex(edit *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(edit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func (m *MockRestAPI) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(channelID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func (m *MockRestAPI) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return m.Called(interaction, resp).Error(0)
}

func (m *MockRestAPI) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	args := m.Called(interaction, newresp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func newTestChannel(api restAPI) *Channel {
	return &Channel{api: api, channelID: "chan-1", logger: logger.Discard()}
}

func TestChannel_SendApprovalAndDecision(t *testing.T) {
	api := new(MockRestAPI)
	ch := newTestChannel(api)
	post := &core_domain.PostRecord{ID: "p1", Status: core_domain.StatusPending, Content: core_domain.PostContent{Text: "hello"}, Platforms: []string{"x"}}

	api.On("ChannelMessageSendComplex", "chan-1", mock.MatchedBy(func(m *discordgo.MessageSend) bool {
		row := m.Components[0].(discordgo.ActionsRow)
		return len(row.Components) == 4 && row.Components[0].(discordgo.Button).CustomID == "approve:p1"
	})).Return(&discordgo.Message{ID: "m1"}, nil).Once()

	ref, err := ch.SendApproval(context.Background(), post)
	require.NoError(t, err)
	assert.Equal(t, "m1", ref)

	post.Status = core_domain.StatusApproved
	api.On("ChannelMessageEditComplex", mock.MatchedBy(func(e *discordgo.MessageEdit) bool {
		return e.ID == "m1" && e.Channel == "chan-1" && e.Components != nil && len(*e.Components) == 0 &&
			e.Content != nil && *e.Content != ""
	})).Return(&discordgo.Message{ID: "m1"}, nil).Once()
	require.NoError(t, ch.UpdateDecision(context.Background(), "m1", post))

	api.AssertExpectations(t)
}

func TestChannel_ButtonDefersThenAnswers(t *testing.T) {
	api := new(MockRestAPI)
	ch := newTestChannel(api)

	interaction := &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "chan-1",
		Data:      discordgo.MessageComponentInteractionData{CustomID: "reject:p1"},
		Message:   &discordgo.Message{ID: "m1"},
	}
	api.On("InteractionRespond", interaction, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Type == discordgo.InteractionResponseDeferredChannelMessageWithSource
	})).Return(nil).Once()
	api.On("InteractionResponseEdit", interaction, mock.MatchedBy(func(w *discordgo.WebhookEdit) bool {
		return *w.Content == "Post rejected"
	})).Return(&discordgo.Message{}, nil).Once()

	var got relay.Action
	ch.handleInteraction(context.Background(), &discordgo.InteractionCreate{Interaction: interaction}, func(ctx context.Context, a relay.Action) {
		got = a
		require.NoError(t, a.Respond(ctx, "Post rejected"))
	})

	assert.Equal(t, relay.ActionReject, got.Kind)
	assert.Equal(t, "p1", got.PostID)
	assert.Equal(t, "m1", got.Ref)
	api.AssertExpectations(t)
}

func TestChannel_FeedbackModalRoundTrip(t *testing.T) {
	api := new(MockRestAPI)
	ch := newTestChannel(api)
	called := false
	handler := func(ctx context.Context, a relay.Action) {
		called = true
		assert.Equal(t, relay.ActionFeedback, a.Kind)
		assert.Equal(t, "p1", a.PostID)
		assert.Equal(t, "mention the launch date", a.Note)
	}

	button := &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "chan-1",
		Data:      discordgo.MessageComponentInteractionData{CustomID: "feedback:p1"},
	}
	api.On("InteractionRespond", button, mock.MatchedBy(func(r *discordgo.InteractionResponse) bool {
		return r.Type == discordgo.InteractionResponseModal && r.Data.CustomID == "feedback:p1"
	})).Return(nil).Once()
	ch.handleInteraction(context.Background(), &discordgo.InteractionCreate{Interaction: button}, handler)
	assert.False(t, called, "opening the modal is not an action")

	submit := &discordgo.Interaction{
		Type:      discordgo.InteractionModalSubmit,
		ChannelID: "chan-1",
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: "feedback:p1",
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: noteInputID, Value: "mention the launch date"},
				}},
			},
		},
	}
	api.On("InteractionRespond", submit, mock.Anything).Return(nil).Once()
	ch.handleInteraction(context.Background(), &discordgo.InteractionCreate{Interaction: submit}, handler)
	assert.True(t, called)
	api.AssertExpectations(t)
}

func TestChannel_IgnoresOtherChannels(t *testing.T) {
	api := new(MockRestAPI)
	ch := newTestChannel(api)
	interaction := &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "elsewhere",
		Data:      discordgo.MessageComponentInteractionData{CustomID: "approve:p1"},
	}
	ch.handleInteraction(context.Background(), &discordgo.InteractionCreate{Interaction: interaction}, func(context.Context, relay.Action) {
		t.Fatal("handler must not run")
	})
	api.AssertNotCalled(t, "InteractionRespond", mock.Anything, mock.Anything)
}
