// package formatter renders cache state for the terminal (lipgloss) and exports track lists (CSV, text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/hoard/internal/models"
	"github.com/desertthunder/hoard/internal/probe"
)

// FormatBytes renders n using binary units, e.g. "1.5 GiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.label.Render(label), value)
}

// RenderStats renders cache statistics with budget usage.
func RenderStats(stats models.CacheStats) string {
	usage := "no budget"
	if stats.MaxBytes > 0 {
		pct := float64(stats.CachedBytes) / float64(stats.MaxBytes) * 100
		usage = fmt.Sprintf("%.1f%%", pct)
		switch {
		case stats.CachedBytes > stats.MaxBytes:
			usage = styles.err.Render(usage + " (over budget)")
		case pct >= 90:
			usage = styles.warn.Render(usage)
		default:
			usage = styles.ok.Render(usage)
		}
	}

	lines := []string{
		styles.title.Render("Cache"),
		row("Tracks", strconv.Itoa(stats.TotalTracks)),
		row("Cached", fmt.Sprintf("%d (%s)", stats.CachedTracks, FormatBytes(stats.CachedBytes))),
		row("Cloud only", strconv.Itoa(stats.CloudOnlyTracks)),
		row("Pinned", fmt.Sprintf("%d (%s)", stats.PinnedTracks, FormatBytes(stats.PinnedBytes))),
		row("Budget", FormatBytes(stats.MaxBytes)),
		row("Usage", usage),
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

// RenderEviction summarizes an eviction sweep.
func RenderEviction(result models.EvictionResult) string {
	if result.Evicted == 0 {
		return styles.muted.Render("Nothing evicted") + "\n"
	}
	return styles.ok.Render(fmt.Sprintf("✓ Evicted %d tracks, freed %s", result.Evicted, FormatBytes(result.FreedBytes))) + "\n"
}

// RenderSources lists registered sources.
func RenderSources(sources []*models.StorageSource) string {
	if len(sources) == 0 {
		return styles.muted.Render("No sources registered") + "\n"
	}

	var b strings.Builder
	b.WriteString(styles.title.Render(fmt.Sprintf("Sources (%d)", len(sources))))
	b.WriteString("\n")
	for _, source := range sources {
		kind := styles.ok.Render(string(source.Type))
		if source.Type == models.SourceLocal {
			kind = styles.muted.Render(string(source.Type))
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", kind, source.Label, styles.muted.Render(source.RootPath))
		fmt.Fprintf(&b, "       id: %s\n", source.ID)
	}
	return b.String()
}

// RenderDetected lists cloud account mounts found on disk.
func RenderDetected(detected []probe.DetectedSource) string {
	if len(detected) == 0 {
		return styles.muted.Render("No cloud accounts found") + "\n"
	}

	var b strings.Builder
	for _, d := range detected {
		fmt.Fprintf(&b, "%s  %s\n", styles.ok.Render(d.Account), styles.muted.Render(d.Path))
	}
	return b.String()
}

// TracksToCSV converts tracks to CSV with columns: ID, Path, Size, Status, Pinned, LastAccessed
func TracksToCSV(tracks []*models.Track) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Path", "Size", "Status", "Pinned", "LastAccessed"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range tracks {
		accessed := ""
		if track.LastAccessed != nil {
			accessed = track.LastAccessed.UTC().Format(time.RFC3339)
		}
		record := []string{
			track.ID,
			track.FilePath,
			strconv.FormatInt(track.FileSize, 10),
			string(track.SyncStatus),
			strconv.FormatBool(track.Pinned),
			accessed,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// TracksToText converts tracks to a plain text list.
func TracksToText(tracks []*models.Track) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Tracks: %d\n\n", len(tracks)))
	for i, track := range tracks {
		pin := ""
		if track.Pinned {
			pin = " [pinned]"
		}
		buf.WriteString(fmt.Sprintf("%d. %s (%s, %s)%s\n   %s\n",
			i+1, track.FilePath, track.SyncStatus, FormatBytes(track.FileSize), pin, track.ID))
	}

	return buf.Bytes()
}
