package models

import "time"

type UserStats struct {
	Total       int `json:"total"`
	Active      int `json:"active"`
	Deactivated int `json:"deactivated"`
	Reported    int `json:"reported"`
}

// ReportedUserRow is a reported user with the number of reports against them.
type ReportedUserRow struct {
	User
	FraudReportCount int `json:"fraud_report_count"`
}

type UsersView struct {
	Users         []User            `json:"users"`
	UsersPage     Page              `json:"users_page"`
	ReportedUsers []ReportedUserRow `json:"reported_users"`
	ReportedPage  Page              `json:"reported_page"`
	Stats         UserStats         `json:"stats"`
	Empty         bool              `json:"empty"`
	NoReported    bool              `json:"no_reported"`
	Banners       []Banner          `json:"banners"`
}

type UserDetailView struct {
	User    User         `json:"user"`
	Reports []ReportView `json:"reports"`
	Empty   bool         `json:"empty"`
}

type SpotStats struct {
	Total            int `json:"total"`
	Available        int `json:"available"`
	Occupied         int `json:"occupied"`
	Reserved         int `json:"reserved"`
	Reported         int `json:"reported"`
	UniqueReporters  int `json:"unique_reporters"`
	AvailabilityRate int `json:"availability_rate"`
}

type ParkingSpotsView struct {
	Spots   []SpotFraudSummary `json:"spots"`
	Page    Page               `json:"page"`
	Stats   SpotStats          `json:"stats"`
	Empty   bool               `json:"empty"`
	Banners []Banner           `json:"banners"`
}

type DashboardStats struct {
	TotalUsers        int       `json:"total_users"`
	ActiveUsers       int       `json:"active_users"`
	DeactivatedUsers  int       `json:"deactivated_users"`
	TotalParkingSpots int       `json:"total_parking_spots"`
	AvailableSpots    int       `json:"available_spots"`
	ReportedSpots     int       `json:"reported_spots"`
	ReportedUsers     int       `json:"reported_users"`
	AvailabilityRate  int       `json:"availability_rate"`
	LastSync          time.Time `json:"last_sync"`
	Banners           []Banner  `json:"banners"`
}

// Series is one line or bar dataset of a chart.
type Series struct {
	Label string `json:"label"`
	Data  []int  `json:"data"`
}

type Chart struct {
	Labels   []string `json:"labels"`
	Datasets []Series `json:"datasets"`
}

type Analytics struct {
	UserGrowth        Chart    `json:"user_growth"`
	SpotGrowth        Chart    `json:"spot_growth"`
	Usage             Chart    `json:"usage"`
	ReportingActivity Chart    `json:"reporting_activity"`
	SpotGrowthPercent float64  `json:"spot_growth_percent"`
	UserGrowthPercent float64  `json:"user_growth_percent"`
	Banners           []Banner `json:"banners"`
}
