package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/queue_service/app"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	statusStyles = map[core_domain.PostStatus]lipgloss.Style{
		core_domain.StatusPending:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F5A623")),
		core_domain.StatusApproved: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50")),
		core_domain.StatusRejected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
	}
)

const previewRunes = 80

func renderQueue(posts []*core_domain.PostRecord) string {
	counts := map[core_domain.PostStatus]int{}
	for _, p := range posts {
		counts[p.Status]++
	}
	header := headerStyle.Render(fmt.Sprintf("Queue: %d pending, %d approved, %d rejected",
		counts[core_domain.StatusPending], counts[core_domain.StatusApproved], counts[core_domain.StatusRejected]))
	if len(posts) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, noteStyle.Render("No posts in the queue."))
	}

	blocks := []string{header}
	for _, p := range posts {
		blocks = append(blocks, renderPost(p))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func renderPost(p *core_domain.PostRecord) string {
	lines := []string{
		fmt.Sprintf("%s %s", statusStyles[p.Status].Render(strings.ToUpper(string(p.Status))), idStyle.Render(p.ID)),
		p.Content.Preview(previewRunes),
		fmt.Sprintf("Platforms: %s", strings.Join(p.Platforms, ", ")),
	}
	if len(p.Content.Media) > 0 {
		refs := make([]string, 0, len(p.Content.Media))
		for _, m := range p.Content.Media {
			refs = append(refs, m.Ref)
		}
		lines = append(lines, fmt.Sprintf("Media: %s", strings.Join(refs, ", ")))
	}
	for _, platform := range p.Platforms {
		if outcome, ok := p.Results[platform]; ok {
			lines = append(lines, outcomeLine(platform, outcome))
		}
	}
	for _, note := range p.Feedback {
		lines = append(lines, noteStyle.Render("feedback: "+note))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderAction(res *app.ActionResult) string {
	style := okStyle
	if !res.Success {
		style = failStyle
	}
	out := style.Render(res.Message)
	if res.Summary != nil {
		out = lipgloss.JoinVertical(lipgloss.Left, out, renderSummary(res.Summary))
	}
	return out
}

func renderSummary(s *app.DispatchSummary) string {
	platforms := make([]string, 0, len(s.Results))
	for platform := range s.Results {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	lines := []string{fmt.Sprintf("%s %d succeeded, %d failed", idStyle.Render(s.PostID), len(s.Succeeded), len(s.Failed))}
	for _, platform := range platforms {
		lines = append(lines, outcomeLine(platform, s.Results[platform]))
	}
	return strings.Join(lines, "\n")
}

func outcomeLine(platform string, outcome core_domain.DispatchOutcome) string {
	if outcome.Success {
		detail := outcome.URL
		if detail == "" {
			detail = outcome.RemoteID
		}
		return okStyle.Render(fmt.Sprintf("  OK %s %s", platform, detail))
	}
	return failStyle.Render(fmt.Sprintf("  FAILED %s %s", platform, outcome.Reason))
}
