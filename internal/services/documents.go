package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/storage"
)

// Display defaults applied to documents written by older app versions.
const (
	defaultUserName        = "Unknown User"
	defaultUserEmail       = "No email"
	defaultSpotTitle       = "Available Parking"
	defaultSpotDescription = "Tap for directions"
	defaultReporter        = "anonymous"
	defaultSpotAddress     = "No address provided"
	defaultSpotPrice       = "Free"
	defaultSpotCapacity    = 1
	defaultSpotLatitude    = -25.9501
	defaultSpotLongitude   = 28.1036
)

// loadOrdered reads a collection in the given order, retrying unordered when
// the store cannot serve the ordering.
func loadOrdered(ctx context.Context, store storage.Store, collection string, order *storage.Order, log zerolog.Logger) ([]storage.Document, error) {
	docs, err := store.GetAll(ctx, collection, order)
	if err != nil && order != nil && errors.Is(err, storage.ErrOrderUnsupported) {
		log.Warn().Err(err).Str("collection", collection).Msg("ordered read rejected, retrying without order")
		docs, err = store.GetAll(ctx, collection, nil)
	}
	if err != nil {
		return nil, &DataAccessError{Collection: collection, Err: err}
	}
	return docs, nil
}

func decodeUser(doc storage.Document) models.User {
	d := doc.Data
	email := stringField(d, "email")

	name := stringField(d, "name")
	if name == "" && email != "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	if name == "" {
		name = defaultUserName
	}
	if email == "" {
		email = defaultUserEmail
	}

	status := models.UserStatus(stringField(d, "status"))
	if status == "" {
		status = models.UserStatusActive
	}
	role := models.UserRole(stringField(d, "role"))
	if role == "" {
		role = models.RoleUser
	}

	count := intField(d, "parkingSpotsCount")
	if count == 0 {
		count = intField(d, "parkingSpots")
	}

	return models.User{
		ID:                models.UserID(doc.ID),
		Name:              name,
		Email:             email,
		Role:              role,
		Status:            status,
		ParkingSpotsCount: count,
		CreatedAt:         timeField(d, "createdAt"),
		LastLogin:         timeField(d, "lastLogin"),
		DeactivatedAt:     timeField(d, "deactivatedAt"),
	}
}

func decodeSpot(doc storage.Document) models.ParkingSpot {
	d := doc.Data
	spot := models.ParkingSpot{
		ID:          doc.ID,
		Title:       orDefault(stringField(d, "title"), defaultSpotTitle),
		Description: orDefault(stringField(d, "description"), defaultSpotDescription),
		Status:      models.SpotStatus(orDefault(stringField(d, "status"), string(models.SpotAvailable))),
		ReportedBy:  models.DisplayName(orDefault(stringField(d, "reportedBy"), defaultReporter)),
		CreatedAt:   timeField(d, "createdAt"),
		Latitude:    floatField(d, "latitude"),
		Longitude:   floatField(d, "longitude"),
		Address:     orDefault(stringField(d, "address"), defaultSpotAddress),
		Price:       orDefault(stringField(d, "price"), defaultSpotPrice),
		Capacity:    intField(d, "capacity"),
	}
	if spot.Latitude == 0 {
		spot.Latitude = defaultSpotLatitude
	}
	if spot.Longitude == 0 {
		spot.Longitude = defaultSpotLongitude
	}
	if spot.Capacity == 0 {
		spot.Capacity = defaultSpotCapacity
	}
	return spot
}

func decodeReport(doc storage.Document) models.FraudReport {
	d := doc.Data
	report := models.FraudReport{
		ID:               doc.ID,
		ReportedMarkerID: stringField(d, "reportedMarkerId"),
		ReporterID:       stringField(d, "reporterId"),
		Reason:           stringField(d, "reason"),
		Description:      stringField(d, "description"),
		Address:          stringField(d, "address"),
		Timestamp:        timeField(d, "timestamp"),
		Status:           stringField(d, "status"),
		ResolvedAt:       timeField(d, "resolvedAt"),
		ResolvedBy:       stringField(d, "resolvedBy"),
	}
	if ru, ok := d["reportedUser"].(map[string]any); ok {
		report.ReportedUser = models.ReportedUser{
			UserID:     models.UserID(stringField(ru, "userId")),
			UserEmail:  stringField(ru, "userEmail"),
			ReportedAt: timeField(ru, "reportedAt"),
		}
	}
	report.Coordinates = coordinatesField(d, "coordinates")
	return report
}

// geoPoint matches Firestore's latlng.LatLng.
type geoPoint interface {
	GetLatitude() float64
	GetLongitude() float64
}

func coordinatesField(d map[string]any, key string) *models.Coordinates {
	switch v := d[key].(type) {
	case geoPoint:
		if v == nil {
			return nil
		}
		return &models.Coordinates{Latitude: v.GetLatitude(), Longitude: v.GetLongitude()}
	case map[string]any:
		return &models.Coordinates{Latitude: floatField(v, "latitude"), Longitude: floatField(v, "longitude")}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func stringField(d map[string]any, key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func intField(d map[string]any, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func floatField(d map[string]any, key string) float64 {
	switch v := d[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func timeField(d map[string]any, key string) *time.Time {
	var t time.Time
	switch v := d[key].(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return nil
		}
		t = *v
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			if parsed, err = time.Parse("2006-01-02", v); err != nil {
				return nil
			}
		}
		t = parsed
	case int:
		t = time.UnixMilli(int64(v))
	case int32:
		t = time.UnixMilli(int64(v))
	case int64:
		t = time.UnixMilli(v)
	case float64:
		// JSON and Firestore doubles; Date.now() values fit exactly.
		t = time.UnixMilli(int64(v))
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
