package services

import (
	"testing"

	"github.com/fndparking/admin/internal/models"
)

func report(id, userID, markerID string) models.FraudReport {
	return models.FraudReport{
		ID:               id,
		ReportedMarkerID: markerID,
		ReportedUser:     models.ReportedUser{UserID: models.UserID(userID)},
	}
}

func TestComputeReportedUsers(t *testing.T) {
	users := []models.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
	reports := []models.FraudReport{
		report("r1", "u3", "s1"),
		report("r2", "u1", "s1"),
		report("r3", "u3", "s2"),
		report("r4", "ghost", "s2"),
	}

	got := ComputeReportedUsers(users, reports)
	if len(got) != 2 || got[0].ID != "u1" || got[1].ID != "u3" {
		t.Fatalf("reported users = %+v, want [u1 u3] in user order without duplicates", got)
	}
}

func TestComputeReportedUsers_NoReports(t *testing.T) {
	got := ComputeReportedUsers([]models.User{{ID: "u1"}}, nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("want empty non-nil list, got %#v", got)
	}
}

func TestComputeSpotFraudSummaries(t *testing.T) {
	spots := []models.ParkingSpot{{ID: "s1"}, {ID: "s2"}}
	reports := []models.FraudReport{report("r1", "u1", "s1"), report("r2", "u2", "s1")}

	got := ComputeSpotFraudSummaries(spots, reports)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != "s1" || got[0].FraudReportCount != 2 || !got[0].IsFraudReported {
		t.Fatalf("s1 = %+v", got[0])
	}
	if got[1].ID != "s2" || got[1].FraudReportCount != 0 || got[1].IsFraudReported {
		t.Fatalf("s2 = %+v", got[1])
	}
	if got[1].FraudReports == nil {
		t.Fatal("unreported spot should carry an empty report list")
	}
}

func TestComputeSpotFraudSummaries_CountsOnlyKnownSpots(t *testing.T) {
	spots := []models.ParkingSpot{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	reports := []models.FraudReport{
		report("1", "u", "a"),
		report("2", "u", "b"),
		report("3", "u", "b"),
		report("4", "u", "deleted"),
		report("5", "u", ""),
	}

	sum := 0
	for _, s := range ComputeSpotFraudSummaries(spots, reports) {
		sum += s.FraudReportCount
	}

	known := map[string]bool{"a": true, "b": true, "c": true}
	want := 0
	for _, r := range reports {
		if known[r.ReportedMarkerID] {
			want++
		}
	}
	if sum != want {
		t.Fatalf("sum of counts = %d, want %d", sum, want)
	}
}

func TestReportsForUserAndCounts(t *testing.T) {
	reports := []models.FraudReport{report("1", "u1", "a"), report("2", "u2", "a"), report("3", "u1", "b")}

	if got := ReportsForUser(reports, "u1"); len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("ReportsForUser = %+v", got)
	}
	if got := ReportsForUser(reports, "nobody"); len(got) != 0 {
		t.Fatalf("expected no reports, got %+v", got)
	}

	counts := FraudCountsByUser(reports)
	if counts["u1"] != 2 || counts["u2"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestPercentChange(t *testing.T) {
	tests := []struct {
		current, previous int
		want              float64
	}{
		{0, 0, 0},
		{10, 0, 100},
		{150, 100, 50},
		{50, 100, -50},
		{100, 100, 0},
	}
	for _, tt := range tests {
		if got := PercentChange(tt.current, tt.previous); got != tt.want {
			t.Errorf("PercentChange(%d, %d) = %v, want %v", tt.current, tt.previous, got, tt.want)
		}
	}
}

func TestAvailabilityRate(t *testing.T) {
	tests := []struct {
		available, total, want int
	}{
		{0, 0, 0},
		{3, 10, 30},
		{10, 10, 100},
		{1, 3, 33},
		{2, 3, 67},
	}
	for _, tt := range tests {
		if got := AvailabilityRate(tt.available, tt.total); got != tt.want {
			t.Errorf("AvailabilityRate(%d, %d) = %d, want %d", tt.available, tt.total, got, tt.want)
		}
	}
}
