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

package tui

import (
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/charmbracelet/lipgloss"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
	draculaSelection  = "#44475A"
)

const appPadding = 2

type styles struct {
	title, header, selected, changed, muted, errText, chart, app lipgloss.Style
	connected, reconnecting, disconnected                       lipgloss.Style
	sparkOK, sparkFail                                          lipgloss.Style
	badges                                                      map[models.Status]lipgloss.Style
}

func newStyles() styles {
	badge := func(bg string) lipgloss.Style {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaSelection)).
			Background(lipgloss.Color(bg)).
			Bold(true).
			Padding(0, 1)
	}

	return styles{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPink)).
			Bold(true),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPurple)).
			Bold(true),
		selected: lipgloss.NewStyle().
			Background(lipgloss.Color(draculaSelection)),
		changed: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaYellow)).
			Bold(true),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		errText: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
		chart: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple)).
			Padding(0, 1),
		app: lipgloss.NewStyle().
			Padding(1, appPadding).
			Foreground(lipgloss.Color(draculaForeground)),
		connected:    lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)),
		reconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaOrange)),
		disconnected: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)),
		sparkOK:      lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan)),
		sparkFail:    lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)),
		badges: map[models.Status]lipgloss.Style{
			models.StatusHealthy:  badge(draculaGreen),
			models.StatusWarning:  badge(draculaYellow),
			models.StatusCritical: badge(draculaOrange),
			models.StatusDown:     badge(draculaRed),
			models.StatusUnknown:  badge(draculaComment),
		},
	}
}

func (s *styles) badge(status models.Status) string {
	style, ok := s.badges[status]
	if !ok {
		style = s.badges[models.StatusUnknown]
	}

	return style.Render(string(status))
}

func (s *styles) connection(event models.ConnectionEvent) string {
	switch event.State {
	case models.ConnectionConnected:
		return s.connected.Render("● " + event.Message())
	case models.ConnectionReconnecting:
		return s.reconnecting.Render("◌ " + event.Message())
	case models.ConnectionDisconnected:
		return s.disconnected.Render("○ " + event.Message())
	default:
		return s.muted.Render("○ Connecting...")
	}
}
