package core_domain

import (
	"path/filepath"
	"strings"
	"time"
)

// PostStatus defines the approval state of a queued post.
type PostStatus string

const (
	StatusPending  PostStatus = "pending"
	StatusApproved PostStatus = "approved"
	StatusRejected PostStatus = "rejected"
)

// IsDecided reports whether the status is terminal for the approval workflow.
func (s PostStatus) IsDecided() bool {
	return s == StatusApproved || s == StatusRejected
}

// MediaType describes the kind of a media attachment.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaRef points at an attachment, either a path under the media directory or a public URL.
type MediaRef struct {
	Ref  string    `json:"ref"`
	Type MediaType `json:"type,omitempty"`
}

// IsURL reports whether the reference is a remote http(s) URL.
func (m MediaRef) IsURL() bool {
	return strings.HasPrefix(m.Ref, "http://") || strings.HasPrefix(m.Ref, "https://")
}

// InferMediaType guesses the media type from the file extension.
func InferMediaType(ref string) MediaType {
	switch strings.ToLower(filepath.Ext(stripQuery(ref))) {
	case ".mp4", ".mov", ".webm":
		return MediaVideo
	default:
		return MediaImage
	}
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}

// PostContent is the immutable body of a post.
type PostContent struct {
	Text  string     `json:"text"`
	Media []MediaRef `json:"media,omitempty"`
}

// FirstMedia returns the first attachment of the given type.
func (c PostContent) FirstMedia(t MediaType) (MediaRef, bool) {
	for _, m := range c.Media {
		if m.Type == t {
			return m, true
		}
	}
	return MediaRef{}, false
}

// DispatchOutcome is the result of publishing a post to one platform.
type DispatchOutcome struct {
	Success     bool      `json:"success"`
	RemoteID    string    `json:"remote_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// PostRecord is one unit of content awaiting or having received a publish decision.
type PostRecord struct {
	ID              string                     `json:"id"`
	Status          PostStatus                 `json:"status"`
	Content         PostContent                `json:"content"`
	Platforms       []string                   `json:"platforms"`
	Account         string                     `json:"account,omitempty"`
	Source          string                     `json:"source,omitempty"`
	Feedback        []string                   `json:"feedback"`
	CreatedAt       time.Time                  `json:"created_at"`
	DecidedAt       *time.Time                 `json:"decided_at,omitempty"`
	Results         map[string]DispatchOutcome `json:"results"`
	NotificationRef string                     `json:"notification_ref,omitempty"`
}

// Clone returns a deep copy so callers never share slices or maps with a store.
func (p *PostRecord) Clone() *PostRecord {
	if p == nil {
		return nil
	}
	c := *p
	if p.Content.Media != nil {
		c.Content.Media = append([]MediaRef{}, p.Content.Media...)
	}
	if p.Platforms != nil {
		c.Platforms = append([]string{}, p.Platforms...)
	}
	if p.Feedback != nil {
		c.Feedback = append([]string{}, p.Feedback...)
	}
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		c.DecidedAt = &t
	}
	if p.Results != nil {
		c.Results = make(map[string]DispatchOutcome, len(p.Results))
		for k, v := range p.Results {
			c.Results[k] = v
		}
	}
	return &c
}

// PendingPlatforms lists platforms that have no outcome yet or whose last outcome failed.
func (p *PostRecord) PendingPlatforms() []string {
	var out []string
	for _, platform := range p.Platforms {
		if res, ok := p.Results[platform]; !ok || !res.Success {
			out = append(out, platform)
		}
	}
	return out
}

// UndispatchedPlatforms lists platforms that were never attempted.
func (p *PostRecord) UndispatchedPlatforms() []string {
	var out []string
	for _, platform := range p.Platforms {
		if _, ok := p.Results[platform]; !ok {
			out = append(out, platform)
		}
	}
	return out
}

// Transition applies a status change, enforcing the single pending -> decided step.
func (p *PostRecord) Transition(to PostStatus, at time.Time) error {
	if !to.IsDecided() {
		return &ValidationError{Field: "status", Reason: "must be approved or rejected"}
	}
	if p.Status != StatusPending {
		return InvalidTransition(p.ID, p.Status, to)
	}
	p.Status = to
	decided := at
	p.DecidedAt = &decided
	return nil
}

// Preview returns the text shortened to n runes.
func (c PostContent) Preview(n int) string {
	runes := []rune(c.Text)
	if len(runes) <= n {
		return c.Text
	}
	return string(runes[:n]) + "..."
}

// NormalizeNewPost validates a record about to be enqueued and fills defaults.
func NormalizeNewPost(p *PostRecord, now time.Time) error {
	if p == nil {
		return &ValidationError{Field: "post", Reason: "is required"}
	}
	if strings.TrimSpace(p.Content.Text) == "" {
		return &ValidationError{Field: "content.text", Reason: "is required"}
	}
	if len(p.Platforms) == 0 {
		return &ValidationError{Field: "platforms", Reason: "at least one platform is required"}
	}
	seen := make(map[string]bool, len(p.Platforms))
	platforms := make([]string, 0, len(p.Platforms))
	for _, platform := range p.Platforms {
		platform = strings.ToLower(strings.TrimSpace(platform))
		if platform == "" {
			return &ValidationError{Field: "platforms", Reason: "platform identifiers must not be blank"}
		}
		if seen[platform] {
			continue
		}
		seen[platform] = true
		platforms = append(platforms, platform)
	}
	p.Platforms = platforms
	for i := range p.Content.Media {
		if strings.TrimSpace(p.Content.Media[i].Ref) == "" {
			return &ValidationError{Field: "content.media", Reason: "media reference must not be blank"}
		}
		if p.Content.Media[i].Type == "" {
			p.Content.Media[i].Type = InferMediaType(p.Content.Media[i].Ref)
		}
	}
	p.Status = StatusPending
	p.CreatedAt = now
	p.DecidedAt = nil
	p.Feedback = []string{}
	p.Results = map[string]DispatchOutcome{}
	p.NotificationRef = ""
	return nil
}

// CompletionHistoryEntry summarises one finished dispatch.
type CompletionHistoryEntry struct {
	PostID      string                     `json:"post_id"`
	CompletedAt time.Time                  `json:"completed_at"`
	Results     map[string]DispatchOutcome `json:"results"`
	Succeeded   []string                   `json:"succeeded"`
	Failed      []string                   `json:"failed"`
}
