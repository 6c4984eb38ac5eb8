package pipeline

import "time"

// Summary reports a finished run.
type Summary struct {
	Year                   int           `json:"year"`
	SessionDuration        time.Duration `json:"session_duration"`
	TotalDuration          time.Duration `json:"total_duration"`
	SegmentsThisSession    int           `json:"segments_this_session"`
	TotalSegments          int           `json:"total_segments"`
	VisitedTotal           int           `json:"visited_total"`
	TotalCoordinates       int           `json:"total_coordinates"`
	CoordinatesThisSession int           `json:"coordinates_this_session"`
	// ImagesTotal is the highest sequence ID assigned for the year.
	ImagesTotal           int  `json:"images_total"`
	AcceptedThisSession   int  `json:"accepted_this_session"`
	DuplicatesThisSession int  `json:"duplicates_this_session"`
	NotFoundThisSession   int  `json:"not_found_this_session"`
	FailedThisSession     int  `json:"failed_this_session"`
	Interrupted           bool `json:"interrupted"`
}

// Stats is a live view of a run for the status endpoint.
type Stats struct {
	Summary
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CurrentRoad string    `json:"current_road,omitempty"`
	Running     bool      `json:"running"`
}
