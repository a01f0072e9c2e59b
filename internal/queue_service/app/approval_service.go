package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ondepub/autopost/internal/core_domain"
)

const triggerSweep = "sweep"

// Notifier is the operator-facing side of the workflow, implemented by the notification relay.
type Notifier interface {
	NotifyPending(ctx context.Context, post *core_domain.PostRecord) error
	NotifyDispatched(ctx context.Context, post *core_domain.PostRecord, summary *DispatchSummary) error
}

// SubmitRequest describes new content for the queue.
type SubmitRequest struct {
	ID        string                 `json:"id,omitempty"`
	Text      string                 `json:"text"`
	Media     []core_domain.MediaRef `json:"media,omitempty"`
	Platforms []string               `json:"platforms"`
	Account   string                 `json:"account,omitempty"`
	Source    string                 `json:"source,omitempty"`
}

// ActionResult is the outcome of an operator action.
type ActionResult struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Post    *core_domain.PostRecord `json:"post,omitempty"`
	Summary *DispatchSummary        `json:"results,omitempty"`
}

// ApprovalService owns the pending -> approved|rejected workflow. HTTP, chat and CLI all go through it.
type ApprovalService struct {
	repo           core_domain.PostRepository
	dispatcher     *Dispatcher
	history        *CompletionHistory
	events         *EventPublisher
	logger         *slog.Logger
	defaultAccount string

	notifierMu sync.RWMutex
	notifier   Notifier

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewApprovalService(repo core_domain.PostRepository, dispatcher *Dispatcher, history *CompletionHistory, events *EventPublisher, defaultAccount string, logger *slog.Logger) *ApprovalService {
	return &ApprovalService{
		repo:           repo,
		dispatcher:     dispatcher,
		history:        history,
		events:         events,
		logger:         logger.With("service", "approval"),
		defaultAccount: defaultAccount,
		inflight:       make(map[string]struct{}),
	}
}

// SetNotifier attaches the relay once it has been built around this service.
func (s *ApprovalService) SetNotifier(n Notifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifier = n
}

func (s *ApprovalService) getNotifier() Notifier {
	s.notifierMu.RLock()
	defer s.notifierMu.RUnlock()
	return s.notifier
}

func (s *ApprovalService) Submit(ctx context.Context, req SubmitRequest) (*core_domain.PostRecord, error) {
	account := req.Account
	if account == "" {
		account = s.defaultAccount
	}
	post, err := s.repo.Enqueue(ctx, &core_domain.PostRecord{
		ID:        req.ID,
		Content:   core_domain.PostContent{Text: req.Text, Media: req.Media},
		Platforms: req.Platforms,
		Account:   account,
		Source:    req.Source,
	})
	if err != nil {
		approvalActionsCounter.WithLabelValues("submit", resultLabel(err)).Inc()
		return nil, err
	}
	approvalActionsCounter.WithLabelValues("submit", "ok").Inc()
	s.logger.InfoContext(ctx, "Post submitted", "post_id", post.ID, "platforms", post.Platforms, "source", post.Source)

	s.events.Publish(ctx, SubjectPostEnqueued, PostEvent{PostID: post.ID, Status: post.Status, Platforms: post.Platforms, Text: post.Content.Text})
	if n := s.getNotifier(); n != nil {
		if err := n.NotifyPending(ctx, post); err != nil {
			s.logger.WarnContext(ctx, "Failed to notify operator about new post", "post_id", post.ID, "error", err)
		}
	}
	return post, nil
}

// Approve transitions the post to approved and dispatches it before returning.
// The dispatch runs detached from ctx cancellation so a dropped client cannot abort it.
func (s *ApprovalService) Approve(ctx context.Context, id string) (*ActionResult, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	post, err := s.repo.UpdateStatus(ctx, id, core_domain.StatusApproved)
	if err != nil {
		approvalActionsCounter.WithLabelValues("approve", resultLabel(err)).Inc()
		return nil, err
	}
	approvalActionsCounter.WithLabelValues("approve", "ok").Inc()
	s.logger.InfoContext(ctx, "Post approved", "post_id", id)
	s.events.Publish(ctx, SubjectPostApproved, PostEvent{PostID: id, Status: post.Status, Platforms: post.Platforms})

	summary, final := s.dispatch(context.WithoutCancel(ctx), post, nil, "approve")
	if summary == nil {
		return &ActionResult{Success: true, Message: "Post approved; dispatch already in progress", Post: post}, nil
	}
	return &ActionResult{
		Success: true,
		Message: fmt.Sprintf("Post approved and dispatched: %s", describeSummary(summary)),
		Post:    final,
		Summary: summary,
	}, nil
}

func (s *ApprovalService) Reject(ctx context.Context, id string) (*ActionResult, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	post, err := s.repo.UpdateStatus(ctx, id, core_domain.StatusRejected)
	if err != nil {
		approvalActionsCounter.WithLabelValues("reject", resultLabel(err)).Inc()
		return nil, err
	}
	approvalActionsCounter.WithLabelValues("reject", "ok").Inc()
	s.logger.InfoContext(ctx, "Post rejected", "post_id", id)
	s.events.Publish(ctx, SubjectPostRejected, PostEvent{PostID: id, Status: post.Status})
	return &ActionResult{Success: true, Message: "Post rejected", Post: post}, nil
}

// Feedback records an operator note; the posts.feedback event asks the content generator for a new draft.
func (s *ApprovalService) Feedback(ctx context.Context, id string, note string) (*ActionResult, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	post, err := s.repo.AppendFeedback(ctx, id, note)
	if err != nil {
		approvalActionsCounter.WithLabelValues("feedback", resultLabel(err)).Inc()
		return nil, err
	}
	approvalActionsCounter.WithLabelValues("feedback", "ok").Inc()
	s.logger.InfoContext(ctx, "Feedback recorded", "post_id", id, "feedback_count", len(post.Feedback))
	s.events.Publish(ctx, SubjectPostFeedback, PostEvent{PostID: id, Status: post.Status, Feedback: post.Feedback[len(post.Feedback)-1], Text: post.Content.Text})
	return &ActionResult{Success: true, Message: "Feedback recorded", Post: post}, nil
}

func (s *ApprovalService) Pending(ctx context.Context) ([]*core_domain.PostRecord, error) {
	return s.repo.List(ctx, core_domain.StatusPending)
}

func (s *ApprovalService) List(ctx context.Context, status core_domain.PostStatus) ([]*core_domain.PostRecord, error) {
	return s.repo.List(ctx, status)
}

func (s *ApprovalService) Get(ctx context.Context, id string) (*core_domain.PostRecord, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Redispatch is the explicit retry path. Without platforms it retries every platform whose
// last outcome failed or that was never attempted.
func (s *ApprovalService) Redispatch(ctx context.Context, id string, platforms []string) (*ActionResult, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		approvalActionsCounter.WithLabelValues("redispatch", resultLabel(err)).Inc()
		return nil, err
	}
	if post.Status != core_domain.StatusApproved {
		approvalActionsCounter.WithLabelValues("redispatch", "invalid_transition").Inc()
		return nil, fmt.Errorf("%w: post %s is %s, only approved posts can be redispatched", core_domain.ErrInvalidTransition, id, post.Status)
	}

	targets, err := selectPlatforms(post, platforms)
	if err != nil {
		approvalActionsCounter.WithLabelValues("redispatch", "validation").Inc()
		return nil, err
	}
	if len(targets) == 0 {
		return &ActionResult{Success: true, Message: "Nothing to redispatch", Post: post}, nil
	}

	summary, final := s.dispatch(context.WithoutCancel(ctx), post, targets, "redispatch")
	if summary == nil {
		approvalActionsCounter.WithLabelValues("redispatch", "invalid_transition").Inc()
		return nil, fmt.Errorf("%w: dispatch already in progress for post %s", core_domain.ErrInvalidTransition, id)
	}
	approvalActionsCounter.WithLabelValues("redispatch", "ok").Inc()
	return &ActionResult{
		Success: true,
		Message: fmt.Sprintf("Post redispatched: %s", describeSummary(summary)),
		Post:    final,
		Summary: summary,
	}, nil
}

// ProcessApproved dispatches approved posts that still miss an outcome for some platform,
// e.g. after a crash between approval and dispatch. It returns how many posts were dispatched.
func (s *ApprovalService) ProcessApproved(ctx context.Context) (int, error) {
	approved, err := s.repo.List(ctx, core_domain.StatusApproved)
	if err != nil {
		return 0, fmt.Errorf("list approved posts: %w", err)
	}
	dispatched := 0
	for _, post := range approved {
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}
		missing := post.UndispatchedPlatforms()
		if len(missing) == 0 {
			continue
		}
		s.logger.InfoContext(ctx, "Recovering undispatched post", "post_id", post.ID, "platforms", missing)
		if summary, _ := s.dispatch(ctx, post, missing, triggerSweep); summary != nil {
			dispatched++
		}
	}
	return dispatched, nil
}

// History returns recent dispatch summaries, newest first.
func (s *ApprovalService) History() []DispatchSummary {
	if s.history == nil {
		return []DispatchSummary{}
	}
	return s.history.Snapshot()
}

// dispatch runs the dispatcher unless another dispatch of the same post is in flight.
// It returns a nil summary in that case, and also when a sweep finds the post fully
// dispatched after reloading it.
func (s *ApprovalService) dispatch(ctx context.Context, post *core_domain.PostRecord, platforms []string, trigger string) (*DispatchSummary, *core_domain.PostRecord) {
	if !s.begin(post.ID) {
		s.logger.WarnContext(ctx, "Dispatch already in progress, skipping", "post_id", post.ID, "trigger", trigger)
		return nil, post
	}
	defer s.end(post.ID)

	// post may come from a listing taken before another dispatch finished.
	current, err := s.repo.Get(ctx, post.ID)
	switch {
	case err == nil:
		post = current
	case trigger == triggerSweep:
		s.logger.ErrorContext(ctx, "Failed to reload post before sweep dispatch", "post_id", post.ID, "error", err)
		return nil, post
	default:
		s.logger.WarnContext(ctx, "Failed to reload post before dispatch", "post_id", post.ID, "error", err)
	}
	if trigger == triggerSweep {
		if post.Status != core_domain.StatusApproved {
			return nil, post
		}
		platforms = post.UndispatchedPlatforms()
		if len(platforms) == 0 {
			s.logger.DebugContext(ctx, "Post dispatched meanwhile, sweep skips it", "post_id", post.ID)
			return nil, post
		}
	}

	summary := s.dispatcher.Dispatch(ctx, post, platforms, trigger)

	final, err := s.repo.Get(ctx, post.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to reload post after dispatch", "post_id", post.ID, "error", err)
		final = post
	}
	if n := s.getNotifier(); n != nil {
		if err := n.NotifyDispatched(ctx, final, summary); err != nil {
			s.logger.WarnContext(ctx, "Failed to notify operator about dispatch", "post_id", post.ID, "error", err)
		}
	}
	return summary, final
}

func (s *ApprovalService) begin(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *ApprovalService) end(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

func selectPlatforms(post *core_domain.PostRecord, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return post.PendingPlatforms(), nil
	}
	onRecord := make(map[string]bool, len(post.Platforms))
	for _, p := range post.Platforms {
		onRecord[p] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, p := range requested {
		p = strings.ToLower(strings.TrimSpace(p))
		if !onRecord[p] {
			return nil, &core_domain.ValidationError{Field: "platforms", Reason: fmt.Sprintf("%q is not a platform of this post", p)}
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &core_domain.ValidationError{Field: "id", Reason: "is required"}
	}
	return nil
}

func describeSummary(s *DispatchSummary) string {
	parts := []string{fmt.Sprintf("%d succeeded", len(s.Succeeded)), fmt.Sprintf("%d failed", len(s.Failed))}
	return strings.Join(parts, ", ")
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, core_domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, core_domain.ErrInvalidTransition):
		return "invalid_transition"
	case core_domain.IsValidation(err):
		return "validation"
	default:
		return "error"
	}
}
