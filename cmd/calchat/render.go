package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"CalChat/internal/audit"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	name    lipgloss.Style
	detail  lipgloss.Style
	param   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	section lipgloss.Style
	empty   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		name:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		param:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section: lipgloss.NewStyle().MarginTop(1),
		empty:   lipgloss.NewStyle().Faint(true),
	}
}

// toolView is a tool as the CLI shows it, whether local or fetched over MCP.
type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

func renderTools(title string, list []toolView, s styles) string {
	lines := []string{
		s.title.Render(title),
		s.header.Render(fmt.Sprintf("tools: %d", len(list))),
	}
	if len(list) == 0 {
		lines = append(lines, s.empty.Render("No tools registered."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, t := range list {
		parts := []string{
			s.name.Render(t.Name),
			s.detail.Render(t.Description),
		}
		for _, p := range schemaParams(t.InputSchema) {
			parts = append(parts, s.param.Render("  "+p))
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, parts...)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// schemaParams summarizes a JSON schema as "name (type, required)" lines.
func schemaParams(schema any) []string {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var decoded struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}

	required := make(map[string]bool, len(decoded.Required))
	for _, name := range decoded.Required {
		required[name] = true
	}
	names := make([]string, 0, len(decoded.Properties))
	for name := range decoded.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		label := decoded.Properties[name].Type
		if required[name] {
			label += ", required"
		}
		out = append(out, fmt.Sprintf("%s (%s)", name, label))
	}
	return out
}

func renderAudit(entries []audit.Entry, s styles) string {
	lines := []string{
		s.title.Render("Recent tool calls"),
		s.header.Render(fmt.Sprintf("entries: %d", len(entries))),
	}
	if len(entries) == 0 {
		lines = append(lines, s.empty.Render("No tool calls recorded."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, e := range entries {
		outcome := s.success.Render(string(e.Outcome))
		if e.Outcome != audit.OutcomeSuccess {
			outcome = s.warning.Render(string(e.Outcome))
		}
		heading := lipgloss.JoinHorizontal(lipgloss.Top,
			s.name.Render(e.Tool), " ", outcome, " ",
			s.header.Render(e.CreatedAt.Local().Format(time.DateTime)),
		)

		args, _ := json.Marshal(e.Arguments)
		parts := []string{
			heading,
			s.param.Render(fmt.Sprintf("session %s  request %s  %s", orDash(e.SessionID), orDash(e.RequestID), e.Duration)),
			s.detail.Render("args " + string(args)),
		}
		if e.Detail != "" {
			parts = append(parts, s.detail.Render(firstLines(e.Detail, 6)))
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, parts...)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}
