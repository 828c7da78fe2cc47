/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package tui renders the live dashboard in the terminal.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/carverauto/livestatus/pkg/models"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	highlightDuration = 1500 * time.Millisecond
	noticeDuration    = 5 * time.Second
	commandTimeout    = 5 * time.Second
	defaultChartWidth = 50

	colName    = 24
	colStatus  = 10
	colLatency = 10
	colChecked = 10
)

// Controller is the part of the engine the dashboard drives.
type Controller interface {
	Watch(ctx context.Context, id string) error
	Unwatch(ctx context.Context) error
	Refresh(ctx context.Context) error
}

type (
	changesMsg    []models.ChangeDescriptor
	chartMsg      models.ChartUpdate
	connectionMsg models.ConnectionEvent
	errMsg        struct{ err error }

	// clearHighlightMsg ends the flash for id unless a newer update restarted it.
	clearHighlightMsg struct {
		id  string
		gen int
	}

	clearNoticeMsg struct{ gen int }
)

type highlight struct {
	fields []models.Field
	gen    int
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx        context.Context
	controller Controller

	rows       []models.ServiceEntity
	cursor     int
	highlights map[string]highlight
	gen        int

	chart *models.ChartUpdate
	conn  models.ConnectionEvent
	err   error

	notice    string
	noticeGen int

	keys   keyMap
	help   help.Model
	styles styles
	width  int
}

func NewModel(ctx context.Context, controller Controller) *Model {
	return &Model{
		ctx:        ctx,
		controller: controller,
		highlights: make(map[string]highlight),
		keys:       defaultKeyMap(),
		help:       help.New(),
		styles:     newStyles(),
	}
}

func (*Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case changesMsg:
		return m, m.applyChanges(msg)
	case chartMsg:
		m.applyChart(models.ChartUpdate(msg))
	case connectionMsg:
		event := models.ConnectionEvent(msg)
		if event.Transient() {
			return m, m.showNotice(&event)
		}

		m.conn = event
	case clearNoticeMsg:
		if msg.gen == m.noticeGen {
			m.notice = ""
		}
	case clearHighlightMsg:
		if h, ok := m.highlights[msg.id]; ok && h.gen == msg.gen {
			delete(m.highlights, msg.id)
		}
	case errMsg:
		m.err = msg.err
	}

	return m, nil
}

// showNotice displays a transient event under the table for noticeDuration.
func (m *Model) showNotice(event *models.ConnectionEvent) tea.Cmd {
	m.noticeGen++
	m.notice = event.Message()

	if event.Error != "" {
		m.notice += ": " + event.Error
	}

	gen := m.noticeGen

	return tea.Tick(noticeDuration, func(time.Time) tea.Msg {
		return clearNoticeMsg{gen: gen}
	})
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Watch):
		if id, ok := m.selectedID(); ok {
			return m, m.call(func(ctx context.Context) error { return m.controller.Watch(ctx, id) })
		}
	case key.Matches(msg, m.keys.Close):
		return m, m.call(m.controller.Unwatch)
	case key.Matches(msg, m.keys.Refresh):
		m.err = nil
		return m, m.call(m.controller.Refresh)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}

	return m, nil
}

// call runs fn off the update loop; the engine answers through the renderer.
func (m *Model) call(fn func(ctx context.Context) error) tea.Cmd {
	parent := m.ctx

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, commandTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			return errMsg{err: err}
		}

		return nil
	}
}

func (m *Model) selectedID() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return "", false
	}

	return m.rows[m.cursor].ID, true
}

func (m *Model) applyChanges(changes []models.ChangeDescriptor) tea.Cmd {
	var cmds []tea.Cmd

	for i := range changes {
		change := &changes[i]

		switch change.Kind {
		case models.ChangeAdded:
			if change.Entity != nil {
				m.rows = append(m.rows, *change.Entity)
			}
		case models.ChangeUpdated:
			idx := m.rowIndex(change.ID)
			if idx < 0 || change.Entity == nil {
				continue
			}

			m.rows[idx] = *change.Entity

			if len(change.ChangedFields) > 0 {
				cmds = append(cmds, m.flash(change.ID, change.ChangedFields))
			}
		case models.ChangeRemoved:
			idx := m.rowIndex(change.ID)
			if idx < 0 {
				continue
			}

			m.rows = slices.Delete(m.rows, idx, idx+1)
			delete(m.highlights, change.ID)

			if m.cursor >= len(m.rows) && m.cursor > 0 {
				m.cursor = len(m.rows) - 1
			}
		}
	}

	return tea.Batch(cmds...)
}

func (m *Model) flash(id string, fields []models.Field) tea.Cmd {
	m.gen++
	gen := m.gen
	m.highlights[id] = highlight{fields: slices.Clone(fields), gen: gen}

	return tea.Tick(highlightDuration, func(time.Time) tea.Msg {
		return clearHighlightMsg{id: id, gen: gen}
	})
}

func (m *Model) applyChart(update models.ChartUpdate) {
	if update.Closed {
		if m.chart != nil && m.chart.ID == update.ID {
			m.chart = nil
		}

		return
	}

	m.chart = &update
}

func (m *Model) rowIndex(id string) int {
	return slices.IndexFunc(m.rows, func(e models.ServiceEntity) bool { return e.ID == id })
}

func (m *Model) View() string {
	var content strings.Builder

	title := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.styles.title.Render("livestatus"),
		"  ",
		m.styles.connection(m.conn),
	)

	content.WriteString(title + "\n\n")
	content.WriteString(m.renderTable())

	if m.chart != nil {
		content.WriteString("\n\n")
		content.WriteString(m.renderChart())
	}

	if m.notice != "" {
		content.WriteString("\n\n")
		content.WriteString(m.styles.reconnecting.Render("! " + m.notice))
	}

	if m.err != nil {
		content.WriteString("\n\n")
		content.WriteString(m.styles.errText.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	content.WriteString("\n\n")
	content.WriteString(m.help.View(m.keys))

	return m.styles.app.Render(content.String())
}

func (m *Model) renderTable() string {
	if len(m.rows) == 0 {
		return m.styles.muted.Render("No services yet.")
	}

	var b strings.Builder

	b.WriteString(m.styles.header.Render(fmt.Sprintf("%-*s %-*s %*s %*s  %s",
		colName, "NAME", colStatus, "STATUS", colLatency, "LATENCY", colChecked, "CHECKED", "URL")))

	for i := range m.rows {
		b.WriteString("\n")
		b.WriteString(m.renderRow(i))
	}

	return b.String()
}

func (m *Model) renderRow(i int) string {
	row := &m.rows[i]
	h := m.highlights[row.ID]

	cell := func(field models.Field, text string) string {
		if slices.Contains(h.fields, field) {
			return m.styles.changed.Render(text)
		}

		return text
	}

	badge := m.styles.badge(row.Status)
	badgePad := max(colStatus-lipgloss.Width(badge), 0)

	line := strings.Join([]string{
		cell(models.FieldName, fmt.Sprintf("%-*s", colName, truncate(row.Name, colName))),
		badge + strings.Repeat(" ", badgePad),
		cell(models.FieldLastLatency, fmt.Sprintf("%*s", colLatency, formatLatency(row.LastLatency))),
		cell(models.FieldLastCheckedAt, fmt.Sprintf("%*s", colChecked, formatChecked(row.LastCheckedAt))),
		" " + m.styles.muted.Render(row.URL),
	}, " ")

	if i == m.cursor {
		return m.styles.selected.Render(line)
	}

	return line
}

func (m *Model) renderChart() string {
	name := m.chart.ID
	if idx := m.rowIndex(m.chart.ID); idx >= 0 {
		name = m.rows[idx].Name
	}

	width := defaultChartWidth
	if m.width > 0 {
		width = min(max(m.width-2*appPadding-6, 10), len(m.chart.Samples))
	}

	lines := []string{
		m.styles.header.Render(fmt.Sprintf("%s latency (%d samples)", name, len(m.chart.Samples))),
		m.renderSparkline(m.chart.Samples, width),
	}

	if stats := m.chart.Stats; stats != nil {
		lines = append(lines, m.styles.muted.Render(fmt.Sprintf(
			"uptime %.2f%%  avg %s  checks %d",
			stats.UptimePercentage, formatLatency(&stats.AvgLatency), stats.TotalChecks)))
	}

	return m.styles.chart.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *Model) renderSparkline(samples []models.LatencySample, width int) string {
	if len(samples) == 0 {
		return m.styles.muted.Render("waiting for samples")
	}

	levels := sparkLevels(samples, width)
	tail := samples[len(samples)-len(levels):]

	var b strings.Builder

	for i, level := range levels {
		r := string(sparkBlocks[level])
		if tail[i].Success {
			b.WriteString(m.styles.sparkOK.Render(r))
		} else {
			b.WriteString(m.styles.sparkFail.Render(r))
		}
	}

	return b.String()
}

func formatLatency(d *models.Duration) string {
	if d == nil {
		return "-"
	}

	ms := float64(time.Duration(*d)) / float64(time.Millisecond)

	return fmt.Sprintf("%.1fms", ms)
}

func formatChecked(t *time.Time) string {
	if t == nil {
		return "never"
	}

	return t.Local().Format(time.TimeOnly)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}
