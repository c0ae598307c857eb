package models

import "time"

const FraudReportResolved = "resolved"

// ReportedUser is the user snapshot embedded in a fraud report.
type ReportedUser struct {
	UserID     UserID     `json:"user_id"`
	UserEmail  string     `json:"user_email"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FraudReport flags a parking spot and the user who posted it.
type FraudReport struct {
	ID               string       `json:"id"`
	ReportedMarkerID string       `json:"reported_marker_id"`
	ReportedUser     ReportedUser `json:"reported_user"`
	ReporterID       string       `json:"reporter_id"`
	Reason           string       `json:"reason"`
	Description      string       `json:"description"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
	Address          string       `json:"address,omitempty"`
	Timestamp        *time.Time   `json:"timestamp,omitempty"`
	Status           string       `json:"status,omitempty"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy       string       `json:"resolved_by,omitempty"`
}

// ReportView is a fraud report as shown in a user's detail view. SpotMissing is
// set when the referenced parking spot is no longer loaded.
type ReportView struct {
	FraudReport
	SpotMissing bool `json:"spot_missing"`
}
