// Package report renders the outcome of a publish run.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/oshokin/libpack/internal/service/publisher"
)

const (
	// StatusPublished marks a bundle the registry accepted in this run.
	StatusPublished = "published"
	// StatusAlreadyPublished marks a bundle the registry already held.
	StatusAlreadyPublished = "already published"
	// StatusFailed marks a bundle that could not be published.
	StatusFailed = "failed"
)

//nolint:gochecknoglobals // Shared render styles.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Row is one rendered line of the report.
type Row struct {
	// Bundle is the bundle name.
	Bundle string
	// Status is one of the Status constants.
	Status string
	// Detail is the receipt id and location, or the error.
	Detail string
}

// Rows converts publish results into report rows, keeping their order.
func Rows(results []publisher.Result) []Row {
	rows := make([]Row, 0, len(results))

	for _, result := range results {
		row := Row{Bundle: result.Bundle}

		switch {
		case result.Err != nil:
			row.Status = StatusFailed
			row.Detail = result.Err.Error()
		case result.Receipt != nil && result.Receipt.AlreadyPublished:
			row.Status = StatusAlreadyPublished
			row.Detail = receiptDetail(result)
		default:
			row.Status = StatusPublished
			row.Detail = receiptDetail(result)
		}

		rows = append(rows, row)
	}

	return rows
}

// Summary counts rows per status.
func Summary(rows []Row) string {
	var published, existing, failed int

	for _, row := range rows {
		switch row.Status {
		case StatusPublished:
			published++
		case StatusAlreadyPublished:
			existing++
		default:
			failed++
		}
	}

	return fmt.Sprintf("%d published, %d already published, %d failed", published, existing, failed)
}

// Render writes a boxed table of results to w.
func Render(w io.Writer, results []publisher.Result) error {
	rows := Rows(results)

	bundleWidth := len("BUNDLE")
	statusWidth := len(StatusAlreadyPublished)

	for _, row := range rows {
		bundleWidth = max(bundleWidth, len(row.Bundle))
	}

	bundleCol := lipgloss.NewStyle().Width(bundleWidth + 2)
	statusCol := lipgloss.NewStyle().Width(statusWidth + 2)

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, headerStyle.Render(bundleCol.Render("BUNDLE")+statusCol.Render("STATUS")+"DETAIL"))

	for _, row := range rows {
		lines = append(lines, bundleCol.Render(row.Bundle)+statusCol.Render(statusStyle(row.Status).Render(row.Status))+row.Detail)
	}

	lines = append(lines, "", Summary(rows))

	_, err := fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))

	return err
}

// receiptDetail formats the receipt of a successful result.
func receiptDetail(result publisher.Result) string {
	if result.Receipt == nil {
		return ""
	}

	if result.Receipt.Location == "" {
		return result.Receipt.ID
	}

	return result.Receipt.ID + " " + result.Receipt.Location
}

// statusStyle picks the color of a status cell.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case StatusPublished:
		return okStyle
	case StatusAlreadyPublished:
		return skipStyle
	default:
		return failStyle
	}
}
