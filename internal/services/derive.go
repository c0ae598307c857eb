package services

import (
	"math"

	"github.com/fndparking/admin/internal/models"
)

// ComputeSpotFraudSummaries joins every spot with the reports whose
// reportedMarkerId points at it. Order follows spots.
func ComputeSpotFraudSummaries(spots []models.ParkingSpot, reports []models.FraudReport) []models.SpotFraudSummary {
	byMarker := make(map[string][]models.FraudReport, len(reports))
	for _, r := range reports {
		byMarker[r.ReportedMarkerID] = append(byMarker[r.ReportedMarkerID], r)
	}

	out := make([]models.SpotFraudSummary, 0, len(spots))
	for _, spot := range spots {
		matched := byMarker[spot.ID]
		if matched == nil {
			matched = []models.FraudReport{}
		}
		out = append(out, models.SpotFraudSummary{
			ParkingSpot:      spot,
			IsFraudReported:  len(matched) > 0,
			FraudReportCount: len(matched),
			FraudReports:     matched,
		})
	}
	return out
}

// ComputeReportedUsers keeps the users targeted by at least one report, in the
// order of users. Report ids with no matching user are ignored.
func ComputeReportedUsers(users []models.User, reports []models.FraudReport) []models.User {
	reported := make(map[models.UserID]struct{}, len(reports))
	for _, r := range reports {
		reported[r.ReportedUser.UserID] = struct{}{}
	}

	out := make([]models.User, 0)
	for _, u := range users {
		if _, ok := reported[u.ID]; ok {
			out = append(out, u)
		}
	}
	return out
}

func ReportsForUser(reports []models.FraudReport, id models.UserID) []models.FraudReport {
	out := make([]models.FraudReport, 0)
	for _, r := range reports {
		if r.ReportedUser.UserID == id {
			out = append(out, r)
		}
	}
	return out
}

func FraudCountsByUser(reports []models.FraudReport) map[models.UserID]int {
	counts := make(map[models.UserID]int)
	for _, r := range reports {
		counts[r.ReportedUser.UserID]++
	}
	return counts
}

// PercentChange is 0 when both values are 0 and 100 when only previous is 0.
func PercentChange(current, previous int) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return float64(current-previous) / float64(previous) * 100
}

// AvailabilityRate is the rounded percentage of available spots.
func AvailabilityRate(available, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(available) / float64(total) * 100))
}
