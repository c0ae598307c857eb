package models

import (
	"time"
)

type SpotStatus string

const (
	SpotAvailable SpotStatus = "available"
	SpotOccupied  SpotStatus = "occupied"
	SpotReserved  SpotStatus = "reserved"
)

// SpotStatuses lists every legal status. Any status may move to any other.
var SpotStatuses = []SpotStatus{SpotAvailable, SpotOccupied, SpotReserved}

func (s SpotStatus) Valid() bool {
	for _, v := range SpotStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type ParkingSpot struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      SpotStatus  `json:"status"`
	ReportedBy  DisplayName `json:"reported_by"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Address     string      `json:"address"`
	Price       string      `json:"price"`
	Capacity    int         `json:"capacity"`
}

// SpotFraudSummary is a spot augmented with the fraud reports that reference it.
type SpotFraudSummary struct {
	ParkingSpot
	IsFraudReported  bool          `json:"is_fraud_reported"`
	FraudReportCount int           `json:"fraud_report_count"`
	FraudReports     []FraudReport `json:"fraud_reports"`
}

// UpdateSpotRequest is the partial update an administrator may apply to a spot.
type UpdateSpotRequest struct {
	Status      *SpotStatus `json:"status" validate:"omitempty,oneof=available occupied reserved"`
	Title       *string     `json:"title" validate:"omitempty,max=200"`
	Description *string     `json:"description" validate:"omitempty,max=2000"`
	Address     *string     `json:"address" validate:"omitempty,max=500"`
}

// Fields returns the document fields the request sets.
func (r *UpdateSpotRequest) Fields() map[string]any {
	fields := make(map[string]any)
	if r.Status != nil {
		fields["status"] = string(*r.Status)
	}
	if r.Title != nil {
		fields["title"] = *r.Title
	}
	if r.Description != nil {
		fields["description"] = *r.Description
	}
	if r.Address != nil {
		fields["address"] = *r.Address
	}
	return fields
}
