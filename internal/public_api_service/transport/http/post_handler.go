package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/public_api_service/middleware"
	"github.com/ondepub/autopost/internal/queue_service/app"
)

// PostService is the approval workflow behind the HTTP gateway.
type PostService interface {
	Submit(ctx context.Context, req app.SubmitRequest) (*core_domain.PostRecord, error)
	Approve(ctx context.Context, id string) (*app.ActionResult, error)
	Reject(ctx context.Context, id string) (*app.ActionResult, error)
	Feedback(ctx context.Context, id string, note string) (*app.ActionResult, error)
	Redispatch(ctx context.Context, id string, platforms []string) (*app.ActionResult, error)
	Pending(ctx context.Context) ([]*core_domain.PostRecord, error)
	List(ctx context.Context, status core_domain.PostStatus) ([]*core_domain.PostRecord, error)
	Get(ctx context.Context, id string) (*core_domain.PostRecord, error)
	History() []app.DispatchSummary
}

type PostHandler struct {
	svc      PostService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewPostHandler(svc PostService, validate *validator.Validate, logger *slog.Logger) *PostHandler {
	if validate == nil {
		validate = NewValidator()
	}
	return &PostHandler{
		svc:      svc,
		validate: validate,
		logger:   logger.With("handler", "posts"),
	}
}

// NewValidator reports field errors under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// RegisterRoutes registers post routes with the given router.
func (h *PostHandler) RegisterRoutes(r chi.Router) {
	r.Post("/posts", h.handleSubmit)
	r.Get("/posts", h.handleList)
	r.Post("/posts/approve", h.handleApprove)
	r.Post("/posts/reject", h.handleReject)
	r.Post("/posts/feedback", h.handleFeedback)
	r.Post("/posts/redispatch", h.handleRedispatch)
	r.Get("/posts/pending", h.handlePending)
	r.Get("/posts/history", h.handleHistory)
	r.Get("/posts/{postID}", h.handleGet)
}

func (h *PostHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	var req SubmitPostRequest
	if !h.decodeAndValidate(w, r, logger, &req) {
		return
	}
	post, err := h.svc.Submit(ctx, app.SubmitRequest{
		ID:        req.ID,
		Text:      req.Text,
		Media:     req.Media,
		Platforms: req.Platforms,
		Account:   req.Account,
		Source:    req.Source,
	})
	if err != nil {
		h.serviceError(w, logger, err)
		return
	}
	logger.InfoContext(ctx, "Post queued via HTTP", "post_id", post.ID)
	h.jsonResponse(w, http.StatusCreated, ActionResponse{Success: true, Message: "Post queued for approval", Post: post})
}

func (h *PostHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req PostIDRequest
	logger := h.requestLogger(r)
	if !h.decodeAndValidate(w, r, logger, &req) {
		return
	}
	h.writeAction(w, logger)(h.svc.Approve(r.Context(), req.ID))
}

func (h *PostHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req PostIDRequest
	logger := h.requestLogger(r)
	if !h.decodeAndValidate(w, r, logger, &req) {
		return
	}
	h.writeAction(w, logger)(h.svc.Reject(r.Context(), req.ID))
}

func (h *PostHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	logger := h.requestLogger(r)
	if !h.decodeAndValidate(w, r, logger, &req) {
		return
	}
	h.writeAction(w, logger)(h.svc.Feedback(r.Context(), req.ID, req.Feedback))
}

func (h *PostHandler) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	var req RedispatchRequest
	logger := h.requestLogger(r)
	if !h.decodeAndValidate(w, r, logger, &req) {
		return
	}
	h.writeAction(w, logger)(h.svc.Redispatch(r.Context(), req.ID, req.Platforms))
}

func (h *PostHandler) handlePending(w http.ResponseWriter, r *http.Request) {
	posts, err := h.svc.Pending(r.Context())
	if err != nil {
		h.serviceError(w, h.requestLogger(r), err)
		return
	}
	h.jsonResponse(w, http.StatusOK, PostsResponse{Posts: nonNil(posts)})
}

// handleList serves GET /posts?status=approved; no status lists everything.
func (h *PostHandler) handleList(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	status := core_domain.PostStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", core_domain.StatusPending, core_domain.StatusApproved, core_domain.StatusRejected:
	default:
		h.jsonError(w, logger, fmt.Sprintf("unknown status %q", status), http.StatusBadRequest)
		return
	}
	posts, err := h.svc.List(r.Context(), status)
	if err != nil {
		h.serviceError(w, logger, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, PostsResponse{Posts: nonNil(posts)})
}

func (h *PostHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.svc.Get(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		h.serviceError(w, h.requestLogger(r), err)
		return
	}
	h.jsonResponse(w, http.StatusOK, PostResponse{Post: post})
}

func (h *PostHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, HistoryResponse{Entries: h.svc.History()})
}

func (h *PostHandler) writeAction(w http.ResponseWriter, logger *slog.Logger) func(*app.ActionResult, error) {
	return func(res *app.ActionResult, err error) {
		if err != nil {
			h.serviceError(w, logger, err)
			return
		}
		h.jsonResponse(w, http.StatusOK, ActionResponse{Success: res.Success, Message: res.Message, Post: res.Post, Results: res.Summary})
	}
}

func (h *PostHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.WarnContext(r.Context(), "Failed to decode request", "error", err)
		h.jsonError(w, logger, "Invalid request payload", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.jsonError(w, logger, describeValidation(err), http.StatusBadRequest)
		return false
	}
	return true
}

// serviceError maps workflow errors to status codes.
func (h *PostHandler) serviceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *core_domain.ValidationError
	switch {
	case errors.As(err, &ve):
		h.jsonError(w, logger, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, core_domain.ErrNotFound):
		h.jsonError(w, logger, err.Error(), http.StatusNotFound)
	case errors.Is(err, core_domain.ErrInvalidTransition):
		h.jsonError(w, logger, err.Error(), http.StatusConflict)
	default:
		logger.Error("Post operation failed", "error", err)
		h.jsonError(w, logger, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *PostHandler) requestLogger(r *http.Request) *slog.Logger {
	logger := h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
	if op, ok := middleware.OperatorFromContext(r.Context()); ok {
		logger = logger.With("operator", op.Subject)
	}
	return logger
}

func (h *PostHandler) jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *PostHandler) jsonError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	logger.Warn("API Error Response", "status_code", statusCode, "message", message)
	h.jsonResponse(w, statusCode, GenericErrorResponse{Success: false, Message: message})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request payload"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func nonNil(posts []*core_domain.PostRecord) []*core_domain.PostRecord {
	if posts == nil {
		return []*core_domain.PostRecord{}
	}
	return posts
}
