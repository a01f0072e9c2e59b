package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/queue_service/app"
)

var relayActionsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "autopost",
		Subsystem: "relay",
		Name:      "actions_total",
		Help:      "Operator actions received from chat channels.",
	},
	[]string{"channel", "action", "result"},
)

// ApprovalGateway is the workflow the relay drives. It is the same service HTTP uses.
type ApprovalGateway interface {
	Approve(ctx context.Context, id string) (*app.ActionResult, error)
	Reject(ctx context.Context, id string) (*app.ActionResult, error)
	Feedback(ctx context.Context, id string, note string) (*app.ActionResult, error)
	Get(ctx context.Context, id string) (*core_domain.PostRecord, error)
	Pending(ctx context.Context) ([]*core_domain.PostRecord, error)
}

// NotificationRecorder stores the chat message reference on a post.
type NotificationRecorder interface {
	AttachNotification(ctx context.Context, id string, ref string) error
}

// Relay connects a chat channel to the approval workflow. It sends one approval request
// per pending post and turns operator actions into gateway calls.
type Relay struct {
	channel ChatChannel
	gateway ApprovalGateway
	refs    NotificationRecorder
	logger  *slog.Logger
	grace   time.Duration
	now     func() time.Time

	mu       sync.Mutex
	notified map[string]struct{}
}

// Option customises a Relay.
type Option func(*Relay)

// WithPendingGrace makes SyncPending leave posts younger than d alone. The process that
// created such a post may still be sending its approval request.
func WithPendingGrace(d time.Duration) Option {
	return func(r *Relay) { r.grace = d }
}

// WithClock overrides the time source used for the grace period.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func NewRelay(channel ChatChannel, gateway ApprovalGateway, refs NotificationRecorder, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		channel:  channel,
		gateway:  gateway,
		refs:     refs,
		logger:   logger.With("component", "relay", "channel", channel.Name()),
		now:      time.Now,
		notified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run listens for operator actions until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Relay listening for operator actions")
	return r.channel.Listen(ctx, r.HandleAction)
}

// NotifyPending sends the approval request for post unless one was already sent,
// either by this process or recorded on the post.
func (r *Relay) NotifyPending(ctx context.Context, post *core_domain.PostRecord) error {
	if post.Status != core_domain.StatusPending || post.NotificationRef != "" {
		return nil
	}
	if !r.claim(post.ID) {
		return nil
	}

	ref, err := r.channel.SendApproval(ctx, post)
	if err != nil {
		r.release(post.ID)
		return fmt.Errorf("send approval request for %s: %w", post.ID, err)
	}
	r.logger.InfoContext(ctx, "Approval request sent", "post_id", post.ID, "ref", ref)

	if r.refs != nil && ref != "" {
		if err := r.refs.AttachNotification(ctx, post.ID, ref); err != nil {
			r.logger.WarnContext(ctx, "Failed to store notification reference", "post_id", post.ID, "error", err)
		}
	}
	return nil
}

// NotifyDispatched posts the per-platform summary of a finished dispatch.
func (r *Relay) NotifyDispatched(ctx context.Context, post *core_domain.PostRecord, summary *app.DispatchSummary) error {
	if summary == nil {
		return nil
	}
	return r.channel.Notify(ctx, FormatSummary(post, summary))
}

// SyncPending sends approval requests for every pending post that has none yet and is
// older than the pending grace. It returns how many requests were sent.
func (r *Relay) SyncPending(ctx context.Context) (int, error) {
	pending, err := r.gateway.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending posts: %w", err)
	}
	cutoff := r.now().Add(-r.grace)
	sent := 0
	var errs []error
	for _, post := range pending {
		if post.NotificationRef != "" || r.seen(post.ID) {
			continue
		}
		if r.grace > 0 && post.CreatedAt.After(cutoff) {
			r.logger.DebugContext(ctx, "Pending post still within grace, leaving it to its creator", "post_id", post.ID)
			continue
		}
		if err := r.NotifyPending(ctx, post); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// HandleAction executes one operator action and answers the operator.
func (r *Relay) HandleAction(ctx context.Context, action Action) {
	log := r.logger.With("action", string(action.Kind), "post_id", action.PostID)
	log.InfoContext(ctx, "Operator action received")

	var err error
	switch action.Kind {
	case ActionApprove:
		err = r.decide(ctx, action, r.gateway.Approve)
	case ActionReject:
		err = r.decide(ctx, action, r.gateway.Reject)
	case ActionPreview:
		var post *core_domain.PostRecord
		if post, err = r.gateway.Get(ctx, action.PostID); err == nil {
			r.respond(ctx, action, FormatPreview(post))
		}
	case ActionFeedback:
		if strings.TrimSpace(action.Note) == "" {
			r.respond(ctx, action, FeedbackPrompt(action.PostID))
			break
		}
		var res *app.ActionResult
		if res, err = r.gateway.Feedback(ctx, action.PostID, action.Note); err == nil {
			r.respond(ctx, action, fmt.Sprintf("%s for post %s", res.Message, action.PostID))
		}
	default:
		err = &core_domain.ValidationError{Field: "action", Reason: fmt.Sprintf("%q is not supported", action.Kind)}
	}

	if err != nil {
		relayActionsCounter.WithLabelValues(r.channel.Name(), string(action.Kind), "error").Inc()
		log.WarnContext(ctx, "Operator action failed", "error", err)
		r.respond(ctx, action, r.describeFailure(ctx, action, err))
		return
	}
	relayActionsCounter.WithLabelValues(r.channel.Name(), string(action.Kind), "ok").Inc()
}

func (r *Relay) decide(ctx context.Context, action Action, fn func(context.Context, string) (*app.ActionResult, error)) error {
	res, err := fn(ctx, action.PostID)
	if err != nil {
		return err
	}
	r.respond(ctx, action, res.Message)
	r.updateDecision(ctx, action.Ref, res.Post)
	return nil
}

// describeFailure turns workflow errors into operator text. A stale approval message
// still showing buttons is brought up to date.
func (r *Relay) describeFailure(ctx context.Context, action Action, err error) string {
	switch {
	case errors.Is(err, core_domain.ErrInvalidTransition):
		if post, getErr := r.gateway.Get(ctx, action.PostID); getErr == nil && post.Status.IsDecided() {
			r.updateDecision(ctx, action.Ref, post)
		}
		return fmt.Sprintf("Post %s already processed", action.PostID)
	case errors.Is(err, core_domain.ErrNotFound):
		return fmt.Sprintf("Post %s not found", action.PostID)
	case core_domain.IsValidation(err):
		return err.Error()
	default:
		return fmt.Sprintf("Action failed for post %s: %v", action.PostID, err)
	}
}

func (r *Relay) updateDecision(ctx context.Context, ref string, post *core_domain.PostRecord) {
	if post == nil {
		return
	}
	if ref == "" {
		ref = post.NotificationRef
	}
	if ref == "" {
		return
	}
	if err := r.channel.UpdateDecision(ctx, ref, post); err != nil {
		r.logger.WarnContext(ctx, "Failed to update approval message", "post_id", post.ID, "ref", ref, "error", err)
	}
}

func (r *Relay) respond(ctx context.Context, action Action, text string) {
	if action.Respond == nil {
		return
	}
	if err := action.Respond(ctx, text); err != nil {
		r.logger.WarnContext(ctx, "Failed to answer operator", "post_id", action.PostID, "error", err)
	}
}

func (r *Relay) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.notified[id]; ok {
		return false
	}
	r.notified[id] = struct{}{}
	return true
}

func (r *Relay) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notified, id)
}

func (r *Relay) seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.notified[id]
	return ok
}
