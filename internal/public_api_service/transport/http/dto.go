package http

import (
	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/queue_service/app"
)

// SubmitPostRequest defines the body of POST /posts.
type SubmitPostRequest struct {
	ID        string                 `json:"id,omitempty"`
	Text      string                 `json:"text" validate:"required"`
	Media     []core_domain.MediaRef `json:"media,omitempty" validate:"omitempty,dive"`
	Platforms []string               `json:"platforms" validate:"required,min=1,dive,required"`
	Account   string                 `json:"account,omitempty"`
	Source    string                 `json:"source,omitempty"`
}

// PostIDRequest is the body of approve and reject.
type PostIDRequest struct {
	ID string `json:"id" validate:"required"`
}

type FeedbackRequest struct {
	ID       string `json:"id" validate:"required"`
	Feedback string `json:"feedback" validate:"required"`
}

// RedispatchRequest retries the listed platforms, or every failed one when empty.
type RedispatchRequest struct {
	ID        string   `json:"id" validate:"required"`
	Platforms []string `json:"platforms,omitempty" validate:"omitempty,dive,required"`
}

// ActionResponse is returned by every mutating endpoint.
type ActionResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Post    *core_domain.PostRecord `json:"post,omitempty"`
	Results *app.DispatchSummary    `json:"results,omitempty"`
}

type PostsResponse struct {
	Posts []*core_domain.PostRecord `json:"posts"`
}

type PostResponse struct {
	Post *core_domain.PostRecord `json:"post"`
}

type HistoryResponse struct {
	Entries []app.DispatchSummary `json:"entries"`
}

// GenericErrorResponse for API errors
type GenericErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
