// Package report renders the end-of-run summary.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/panorama-harvester/internal/pipeline"
	"github.com/JakeFAU/panorama-harvester/internal/storage/local"
)

// Clock formats d as HH:MM:SS. Hours are not wrapped at 24.
func Clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// Table renders the summary as a rounded two-column table.
func Table(s pipeline.Summary) string {
	status := "completed"
	if s.Interrupted {
		status = "interrupted"
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(fmt.Sprintf("Harvest %d: %s", s.Year, status))
	tw.AppendHeader(table.Row{"Metric", "Value"})
	rows := []table.Row{
		{"Session time", Clock(s.SessionDuration)},
		{"Total time", Clock(s.TotalDuration)},
		{"Segments this session", fmt.Sprintf("%d / %d", s.SegmentsThisSession, s.TotalSegments)},
		{"Coordinates visited", fmt.Sprintf("%d / %d", s.VisitedTotal, s.TotalCoordinates)},
		{"Coordinates this session", strconv.Itoa(s.CoordinatesThisSession)},
		{"Views saved this session", strconv.Itoa(s.AcceptedThisSession)},
		{"Duplicates rejected", strconv.Itoa(s.DuplicatesThisSession)},
		{"No panorama", strconv.Itoa(s.NotFoundThisSession)},
		{"Failed", strconv.Itoa(s.FailedThisSession)},
		{"Images total", strconv.Itoa(s.ImagesTotal)},
	}
	for _, r := range rows {
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// WriteJSON atomically stores the summary next to the year's outputs.
func WriteJSON(path string, s pipeline.Summary) error {
	payload := struct {
		pipeline.Summary
		SessionTime string `json:"session_time"`
		TotalTime   string `json:"total_time"`
	}{s, Clock(s.SessionDuration), Clock(s.TotalDuration)}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	return local.WriteFileAtomic(path, append(data, '\n'), 0o644)
}
