package services

import (
	"sort"
	"time"

	"github.com/fndparking/admin/internal/models"
)

const (
	AnalyticsDays   = 30
	TopReporters    = 5
	dayLabelLayout  = "Jan 2"
	seriesNewSpots  = "New Spots Daily"
	seriesSpotTotal = "Total Spots"
	seriesUserTotal = "Total Users"
	seriesReported  = "Spots Reported"
)

// window returns the UTC midnights of the trailing days ending today.
func window(now time.Time, days int) []time.Time {
	today := truncateDay(now)
	out := make([]time.Time, days)
	for i := 0; i < days; i++ {
		out[i] = today.AddDate(0, 0, i-days+1)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func labels(days []time.Time) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.Format(dayLabelLayout)
	}
	return out
}

// growth buckets creation times by day over the window. Items created before
// the window, or with no creation time, count toward the starting total.
func growth(created []*time.Time, now time.Time, days int) (daily, cumulative []int) {
	span := window(now, days)
	start := span[0]
	index := make(map[time.Time]int, len(span))
	for i, d := range span {
		index[d] = i
	}

	daily = make([]int, len(span))
	baseline := 0
	for _, c := range created {
		if c == nil || c.Before(start) {
			baseline++
			continue
		}
		if i, ok := index[truncateDay(*c)]; ok {
			daily[i]++
		}
	}

	cumulative = make([]int, len(span))
	total := baseline
	for i, n := range daily {
		total += n
		cumulative[i] = total
	}
	return daily, cumulative
}

// SpotGrowthSeries charts new spots per day and the running total.
func SpotGrowthSeries(spots []models.ParkingSpot, now time.Time, days int) models.Chart {
	created := make([]*time.Time, len(spots))
	for i, s := range spots {
		created[i] = s.CreatedAt
	}
	daily, cumulative := growth(created, now, days)
	return models.Chart{
		Labels: labels(window(now, days)),
		Datasets: []models.Series{
			{Label: seriesNewSpots, Data: daily},
			{Label: seriesSpotTotal, Data: cumulative},
		},
	}
}

// UserGrowthSeries charts the running user total by createdAt.
func UserGrowthSeries(users []models.User, now time.Time, days int) models.Chart {
	created := make([]*time.Time, len(users))
	for i, u := range users {
		created[i] = u.CreatedAt
	}
	_, cumulative := growth(created, now, days)
	return models.Chart{
		Labels:   labels(window(now, days)),
		Datasets: []models.Series{{Label: seriesUserTotal, Data: cumulative}},
	}
}

// UsageStatistics counts spots per status.
func UsageStatistics(spots []models.ParkingSpot) models.Chart {
	counts := make(map[models.SpotStatus]int, len(models.SpotStatuses))
	for _, s := range spots {
		st := s.Status
		if st == "" {
			st = models.SpotAvailable
		}
		counts[st]++
	}
	return models.Chart{
		Labels: []string{"Available", "Occupied", "Reserved"},
		Datasets: []models.Series{{
			Label: "Spots",
			Data:  []int{counts[models.SpotAvailable], counts[models.SpotOccupied], counts[models.SpotReserved]},
		}},
	}
}

// ReportingActivity ranks reporters by the number of spots they posted.
func ReportingActivity(spots []models.ParkingSpot, top int) models.Chart {
	counts := make(map[models.DisplayName]int)
	for _, s := range spots {
		who := s.ReportedBy
		if who == "" {
			who = defaultReporter
		}
		counts[who]++
	}

	names := make([]models.DisplayName, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > top {
		names = names[:top]
	}

	chart := models.Chart{
		Labels:   make([]string, len(names)),
		Datasets: []models.Series{{Label: seriesReported, Data: make([]int, len(names))}},
	}
	for i, name := range names {
		chart.Labels[i] = string(name)
		chart.Datasets[0].Data[i] = counts[name]
	}
	return chart
}

// createdBetween counts times in [from, to).
func createdBetween(created []*time.Time, from, to time.Time) int {
	n := 0
	for _, c := range created {
		if c != nil && !c.Before(from) && c.Before(to) {
			n++
		}
	}
	return n
}

// periodChange compares the trailing window against the window before it.
func periodChange(created []*time.Time, now time.Time, days int) float64 {
	end := truncateDay(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)
	prev := start.AddDate(0, 0, -days)
	return PercentChange(createdBetween(created, start, end), createdBetween(created, prev, start))
}

// BuildAnalytics assembles every chart of the analytics page.
func BuildAnalytics(users []models.User, spots []models.ParkingSpot, now time.Time) models.Analytics {
	userCreated := make([]*time.Time, len(users))
	for i, u := range users {
		userCreated[i] = u.CreatedAt
	}
	spotCreated := make([]*time.Time, len(spots))
	for i, s := range spots {
		spotCreated[i] = s.CreatedAt
	}

	return models.Analytics{
		UserGrowth:        UserGrowthSeries(users, now, AnalyticsDays),
		SpotGrowth:        SpotGrowthSeries(spots, now, AnalyticsDays),
		Usage:             UsageStatistics(spots),
		ReportingActivity: ReportingActivity(spots, TopReporters),
		SpotGrowthPercent: periodChange(spotCreated, now, AnalyticsDays),
		UserGrowthPercent: periodChange(userCreated, now, AnalyticsDays),
	}
}
