// Package styles provides consistent styling for the stoat CLI.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Color palette
var (
	Primary   lipgloss.TerminalColor = lipgloss.Color("#B45309") // Stoat brown
	Secondary lipgloss.TerminalColor = lipgloss.Color("#0891B2") // Cyan
	Success   lipgloss.TerminalColor = lipgloss.Color("#10B981")
	Warning   lipgloss.TerminalColor = lipgloss.Color("#F59E0B")
	Error     lipgloss.TerminalColor = lipgloss.Color("#EF4444")
	Info      lipgloss.TerminalColor = lipgloss.Color("#3B82F6")
	Text      lipgloss.TerminalColor = lipgloss.Color("#F9FAFB")
	TextMuted lipgloss.TerminalColor = lipgloss.Color("#9CA3AF")
	Border    lipgloss.TerminalColor = lipgloss.Color("#374151")
)

// Icons
const (
	IconSuccess  = "✓"
	IconError    = "✗"
	IconWarning  = "⚠"
	IconInfo     = "ℹ"
	IconArrow    = "→"
	IconDot      = "•"
	IconDatabase = "🗄️"
	IconStream   = "⇶"
	IconHealth   = "❤️"
)

// Styles. They are rebuilt by DisableColors.
var (
	Bold         lipgloss.Style
	Title        lipgloss.Style
	Normal       lipgloss.Style
	Muted        lipgloss.Style
	Highlight    lipgloss.Style
	Code         lipgloss.Style
	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	ErrorStyle   lipgloss.Style
	InfoStyle    lipgloss.Style
	Box          lipgloss.Style
	BoxError     lipgloss.Style
	TableHeader  lipgloss.Style
	TableCell    lipgloss.Style
)

func init() {
	build()
}

func build() {
	Bold = lipgloss.NewStyle().Bold(true)
	Title = lipgloss.NewStyle().Bold(true).Foreground(Primary).MarginBottom(1)
	Normal = lipgloss.NewStyle().Foreground(Text)
	Muted = lipgloss.NewStyle().Foreground(TextMuted)
	Highlight = lipgloss.NewStyle().Bold(true).Foreground(Secondary)
	Code = lipgloss.NewStyle().Foreground(Warning)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle = lipgloss.NewStyle().Foreground(Error)
	InfoStyle = lipgloss.NewStyle().Foreground(Info)
	Box = newRoundedBox(Border)
	BoxError = newRoundedBox(Error)
	TableHeader = lipgloss.NewStyle().Bold(true).Foreground(Primary).Padding(0, 1)
	TableCell = lipgloss.NewStyle().Foreground(Text).Padding(0, 1)
}

func newRoundedBox(borderColor lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1)
}

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key string, value interface{}) string {
	keyStyle := lipgloss.NewStyle().Foreground(TextMuted).Width(20)
	return keyStyle.Render(key+":") + " " + Highlight.Render(fmt.Sprint(value))
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Border)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeader
			}
			return TableCell
		}).
		String()
}

// DisableColors drops every color for terminals that don't support them
func DisableColors() {
	none := lipgloss.NoColor{}
	Primary, Secondary, Success, Warning, Error = none, none, none, none, none
	Info, Text, TextMuted, Border = none, none, none, none
	build()
}
