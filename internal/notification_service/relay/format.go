package relay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/queue_service/app"
)

const approvalPreviewLength = 200

var postIDLine = regexp.MustCompile(`(?m)^ID: (\S+)\s*$`)

// FormatApproval renders the approval request body.
func FormatApproval(post *core_domain.PostRecord) string {
	var b strings.Builder
	b.WriteString("New post awaiting approval\n\n")
	writeHeader(&b, post)
	b.WriteString("\n")
	b.WriteString(post.Content.Preview(approvalPreviewLength))
	return b.String()
}

// FormatDecision renders the approval message after the operator decided.
func FormatDecision(post *core_domain.PostRecord) string {
	var b strings.Builder
	switch post.Status {
	case core_domain.StatusApproved:
		b.WriteString("Post approved")
	case core_domain.StatusRejected:
		b.WriteString("Post rejected")
	default:
		b.WriteString("Post " + string(post.Status))
	}
	if post.DecidedAt != nil {
		b.WriteString(" at " + post.DecidedAt.Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("\n\n")
	writeHeader(&b, post)
	b.WriteString("\n")
	b.WriteString(post.Content.Preview(approvalPreviewLength))
	return b.String()
}

// FormatPreview renders the full content of a post, including operator notes.
func FormatPreview(post *core_domain.PostRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Full preview\nID: %s\n\n%s\n", post.ID, post.Content.Text)
	for _, m := range post.Content.Media {
		fmt.Fprintf(&b, "\n[%s] %s", m.Type, m.Ref)
	}
	if len(post.Feedback) > 0 {
		b.WriteString("\n\nFeedback:")
		for _, note := range post.Feedback {
			b.WriteString("\n- " + note)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSummary renders the per-platform result of a dispatch.
func FormatSummary(post *core_domain.PostRecord, summary *app.DispatchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dispatch finished\nID: %s\n%d succeeded, %d failed\n", post.ID, len(summary.Succeeded), len(summary.Failed))
	for _, platform := range post.Platforms {
		outcome, ok := summary.Results[platform]
		if !ok {
			continue
		}
		if outcome.Success {
			detail := outcome.URL
			if detail == "" {
				detail = outcome.RemoteID
			}
			fmt.Fprintf(&b, "\nOK %s: %s", strings.ToUpper(platform), detail)
		} else {
			fmt.Fprintf(&b, "\nFAILED %s: %s", strings.ToUpper(platform), outcome.Reason)
		}
	}
	return b.String()
}

// FeedbackPrompt asks the operator to reply with notes. The ID line lets the reply be matched later.
func FeedbackPrompt(postID string) string {
	return "Reply to this message with your feedback for the post.\nID: " + postID
}

// PostIDFromMessage extracts the post id from a message rendered by this package.
func PostIDFromMessage(text string) (string, bool) {
	m := postIDLine.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func writeHeader(b *strings.Builder, post *core_domain.PostRecord) {
	fmt.Fprintf(b, "ID: %s\n", post.ID)
	fmt.Fprintf(b, "Platforms: %s\n", strings.ToUpper(strings.Join(post.Platforms, ", ")))
	if post.Account != "" {
		fmt.Fprintf(b, "Account: %s\n", post.Account)
	}
	for _, m := range post.Content.Media {
		fmt.Fprintf(b, "Media: %s %s\n", m.Type, m.Ref)
	}
	if post.Source != "" {
		fmt.Fprintf(b, "Source: %s\n", post.Source)
	}
}
