package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/events"
	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/storage"
)

const (
	UsersPerPage = 10
	SpotsPerPage = 9
)

// Spot list filters.
const (
	FilterAll       = "all"
	FilterAvailable = "available"
	FilterOccupied  = "occupied"
	FilterReserved  = "reserved"
	FilterReported  = "reported"
)

type UserQuery struct {
	Search       string
	Page         int
	ReportedPage int
}

type SpotQuery struct {
	Search string
	Filter string
	Page   int
}

// DashboardDeps are the collaborators shared by every dashboard session.
type DashboardDeps struct {
	Users   *UserService
	Spots   *ParkingSpotService
	Reports *FraudReportService
	Events  events.Publisher
	Log     zerolog.Logger
}

// Dashboard holds one administrator's loaded snapshots and the views derived
// from them. Mutations write through to the store and then patch every view
// that embeds the changed entity, so no reload is needed.
type Dashboard struct {
	deps      DashboardDeps
	principal models.Principal
	log       zerolog.Logger
	now       func() time.Time

	loadOnce sync.Once

	mu            sync.Mutex
	users         []models.User
	reportedUsers []models.User
	spots         []models.ParkingSpot
	reports       []models.FraudReport
	detail        *models.User
	banners       map[string]models.Banner
	lastSync      time.Time
	unsubscribe   func()
	subscribing   bool
	subGen        int
	failedGen     int
	watchers      map[int]chan struct{}
	nextWatcher   int
	closed        bool
}

func NewDashboard(deps DashboardDeps, principal models.Principal) *Dashboard {
	if deps.Events == nil {
		deps.Events = events.NoopPublisher{}
	}
	return &Dashboard{
		deps:      deps,
		principal: principal,
		log:       deps.Log.With().Str("component", "dashboard").Str("admin", principal.Email).Logger(),
		now:       time.Now,
		banners:   make(map[string]models.Banner),
		watchers:  make(map[int]chan struct{}),
	}
}

// EnsureLoaded runs the first Load of the session exactly once.
func (d *Dashboard) EnsureLoaded(ctx context.Context) {
	d.loadOnce.Do(func() {
		if err := d.Load(ctx); err != nil {
			d.log.Warn().Err(err).Msg("initial load incomplete")
		}
	})
}

// Load fetches the three collections in parallel. A collection that fails to
// load becomes an empty set with a banner; the others still populate their
// views. The returned error joins every failure.
func (d *Dashboard) Load(ctx context.Context) error {
	var (
		wg                       sync.WaitGroup
		users                    []models.User
		spots                    []models.ParkingSpot
		reports                  []models.FraudReport
		usersErr, spotsErr, rErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		users, usersErr = d.deps.Users.ListUsers(ctx)
	}()
	go func() {
		defer wg.Done()
		spots, spotsErr = d.deps.Spots.ListParkingSpots(ctx)
	}()
	go func() {
		defer wg.Done()
		reports, rErr = d.deps.Reports.ListFraudReports(ctx)
	}()
	wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrSessionClosed
	}

	d.banners = make(map[string]models.Banner)
	d.users = orEmpty(users, usersErr)
	d.spots = orEmpty(spots, spotsErr)
	d.reports = orEmpty(reports, rErr)
	d.setBannerLocked(storage.CollectionUsers, usersErr)
	d.setBannerLocked(storage.CollectionParkingSpots, spotsErr)
	d.setBannerLocked(storage.CollectionFraudReports, rErr)

	d.reportedUsers = ComputeReportedUsers(d.users, d.reports)
	if d.detail != nil {
		if u, ok := findUser(d.users, d.detail.ID); ok {
			d.detail = &u
		} else {
			d.detail = nil
		}
	}
	d.lastSync = d.now().UTC()
	d.notifyLocked()

	d.log.Debug().
		Int("users", len(d.users)).
		Int("spots", len(d.spots)).
		Int("reports", len(d.reports)).
		Msg("dashboard loaded")

	return errors.Join(usersErr, spotsErr, rErr)
}

// Refresh reloads every collection.
func (d *Dashboard) Refresh(ctx context.Context) error {
	return d.Load(ctx)
}

func orEmpty[T any](items []T, err error) []T {
	if err != nil || items == nil {
		return []T{}
	}
	return items
}

var bannerLabels = map[string]string{
	storage.CollectionUsers:        "Failed to load users",
	storage.CollectionParkingSpots: "Failed to load parking spots",
	storage.CollectionFraudReports: "Failed to load fraud reports",
}

func (d *Dashboard) setBannerLocked(source string, err error) {
	if err == nil {
		delete(d.banners, source)
		return
	}
	label, ok := bannerLabels[source]
	if !ok {
		label = "Request failed"
	}
	d.banners[source] = models.Banner{Source: source, Message: label + ": " + unwrapMessage(err)}
}

// unwrapMessage drops the DataAccessError prefix, the banner label says it already.
func unwrapMessage(err error) string {
	var dae *DataAccessError
	if errors.As(err, &dae) {
		return dae.Err.Error()
	}
	return err.Error()
}

func (d *Dashboard) bannersLocked() []models.Banner {
	out := make([]models.Banner, 0, len(d.banners))
	for _, b := range d.banners {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (d *Dashboard) spotsLoadedLocked() bool {
	_, failed := d.banners[storage.CollectionParkingSpots]
	return !failed
}

func (d *Dashboard) UsersView(q UserQuery) models.UsersView {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := FraudCountsByUser(d.reports)

	all := filterUsers(d.users, q.Search)
	pageUsers, usersPage := paginate(all, q.Page, UsersPerPage)

	reported := filterUsers(d.reportedUsers, q.Search)
	rows := make([]models.ReportedUserRow, 0, len(reported))
	for _, u := range reported {
		rows = append(rows, models.ReportedUserRow{User: u, FraudReportCount: counts[u.ID]})
	}
	pageRows, reportedPage := paginate(rows, q.ReportedPage, UsersPerPage)

	stats := models.UserStats{Total: len(d.users), Reported: len(d.reportedUsers)}
	for _, u := range d.users {
		switch u.Status {
		case models.UserStatusActive:
			stats.Active++
		case models.UserStatusDeactivated:
			stats.Deactivated++
		}
	}

	return models.UsersView{
		Users:         pageUsers,
		UsersPage:     usersPage,
		ReportedUsers: pageRows,
		ReportedPage:  reportedPage,
		Stats:         stats,
		Empty:         len(d.users) == 0,
		NoReported:    len(d.reportedUsers) == 0,
		Banners:       d.bannersLocked(),
	}
}

func filterUsers(users []models.User, search string) []models.User {
	term := strings.ToLower(strings.TrimSpace(search))
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if term == "" ||
			strings.Contains(strings.ToLower(u.Name), term) ||
			strings.Contains(strings.ToLower(u.Email), term) {
			out = append(out, u)
		}
	}
	return out
}

func (d *Dashboard) ParkingSpotsView(q SpotQuery) models.ParkingSpotsView {
	d.mu.Lock()
	defer d.mu.Unlock()

	summaries := ComputeSpotFraudSummaries(d.spots, d.reports)

	term := strings.ToLower(strings.TrimSpace(q.Search))
	filtered := make([]models.SpotFraudSummary, 0, len(summaries))
	for _, s := range summaries {
		if matchesSpot(s, term) && matchesFilter(s, q.Filter) {
			filtered = append(filtered, s)
		}
	}
	page, pageInfo := paginate(filtered, q.Page, SpotsPerPage)

	return models.ParkingSpotsView{
		Spots:   page,
		Page:    pageInfo,
		Stats:   spotStats(summaries),
		Empty:   len(summaries) == 0,
		Banners: d.bannersLocked(),
	}
}

// Spot returns one loaded spot with its fraud reports.
func (d *Dashboard) Spot(id string) (models.SpotFraudSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range ComputeSpotFraudSummaries(d.spots, d.reports) {
		if s.ID == id {
			return s, nil
		}
	}
	return models.SpotFraudSummary{}, ErrNotFound
}

func matchesSpot(s models.SpotFraudSummary, term string) bool {
	if term == "" {
		return true
	}
	for _, field := range []string{s.Title, s.Description, string(s.ReportedBy), s.Address} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

func matchesFilter(s models.SpotFraudSummary, filter string) bool {
	switch filter {
	case FilterAvailable, FilterOccupied, FilterReserved:
		return string(s.Status) == filter
	case FilterReported:
		return s.IsFraudReported
	}
	return true
}

func spotStats(summaries []models.SpotFraudSummary) models.SpotStats {
	stats := models.SpotStats{Total: len(summaries)}
	reporters := make(map[models.DisplayName]struct{})
	for _, s := range summaries {
		switch s.Status {
		case models.SpotAvailable:
			stats.Available++
		case models.SpotOccupied:
			stats.Occupied++
		case models.SpotReserved:
			stats.Reserved++
		}
		if s.IsFraudReported {
			stats.Reported++
		}
		reporters[s.ReportedBy] = struct{}{}
	}
	stats.UniqueReporters = len(reporters)
	stats.AvailabilityRate = AvailabilityRate(stats.Available, stats.Total)
	return stats
}

// UserDetail opens the detail view for a user and returns it.
func (d *Dashboard) UserDetail(id models.UserID) (models.UserDetailView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := findUser(d.users, id)
	if !ok {
		return models.UserDetailView{}, ErrNotFound
	}
	d.detail = &u
	return d.detailViewLocked(), nil
}

// OpenDetail returns the currently open detail view, if any.
func (d *Dashboard) OpenDetail() (models.UserDetailView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.detail == nil {
		return models.UserDetailView{}, false
	}
	return d.detailViewLocked(), true
}

func (d *Dashboard) CloseUserDetail() {
	d.mu.Lock()
	d.detail = nil
	d.mu.Unlock()
}

func (d *Dashboard) detailViewLocked() models.UserDetailView {
	spotIDs := make(map[string]struct{}, len(d.spots))
	for _, s := range d.spots {
		spotIDs[s.ID] = struct{}{}
	}
	checkSpots := d.spotsLoadedLocked()

	reports := ReportsForUser(d.reports, d.detail.ID)
	views := make([]models.ReportView, 0, len(reports))
	for _, r := range reports {
		_, exists := spotIDs[r.ReportedMarkerID]
		views = append(views, models.ReportView{FraudReport: r, SpotMissing: checkSpots && !exists})
	}
	return models.UserDetailView{User: *d.detail, Reports: views, Empty: len(views) == 0}
}

// ResolveReport persists the resolution and drops the report from every view.
// Resolving a report that is no longer loaded is a no-op.
func (d *Dashboard) ResolveReport(ctx context.Context, reportID string) error {
	d.mu.Lock()
	report, ok := findReport(d.reports, reportID)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	err := d.deps.Reports.ResolveReport(ctx, reportID, d.actor())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	d.mu.Lock()
	d.reports = removeReport(d.reports, reportID)
	userID := report.ReportedUser.UserID
	if len(ReportsForUser(d.reports, userID)) == 0 {
		d.reportedUsers = removeUser(d.reportedUsers, userID)
	}
	d.notifyLocked()
	d.mu.Unlock()

	d.publish(ctx, events.FraudReportResolved, events.FraudReportResolvedEvent{
		ReportID:   reportID,
		SpotID:     report.ReportedMarkerID,
		UserID:     string(userID),
		Actor:      d.actor(),
		ResolvedAt: d.now().UTC(),
	})
	return nil
}

// ToggleUserStatus flips a user between active and deactivated. On success the
// new status is applied to the all-users list, the reported-users list and the
// open detail view. Admin accounts cannot be toggled.
func (d *Dashboard) ToggleUserStatus(ctx context.Context, id models.UserID) (models.User, error) {
	d.mu.Lock()
	u, ok := findUser(d.users, id)
	d.mu.Unlock()
	if !ok {
		return models.User{}, ErrNotFound
	}
	if u.IsAdmin() {
		return models.User{}, ErrAdminImmutable
	}

	previous := u.Status
	next := previous.Toggled()
	if err := d.deps.Users.UpdateUserStatus(ctx, id, next); err != nil {
		return models.User{}, err
	}

	now := d.now().UTC()
	apply := func(u *models.User) {
		u.Status = next
		if next == models.UserStatusDeactivated {
			t := now
			u.DeactivatedAt = &t
		} else {
			u.DeactivatedAt = nil
		}
	}

	apply(&u)
	d.mu.Lock()
	for i := range d.users {
		if d.users[i].ID == id {
			apply(&d.users[i])
			u = d.users[i]
		}
	}
	for i := range d.reportedUsers {
		if d.reportedUsers[i].ID == id {
			apply(&d.reportedUsers[i])
		}
	}
	if d.detail != nil && d.detail.ID == id {
		apply(d.detail)
	}
	d.mu.Unlock()

	d.publish(ctx, events.UserStatusChanged, events.UserStatusChangedEvent{
		UserID:    string(id),
		Status:    string(next),
		Previous:  string(previous),
		Actor:     d.actor(),
		ChangedAt: now,
	})
	return u, nil
}

// UpdateSpot writes the fields through and patches the loaded spot.
func (d *Dashboard) UpdateSpot(ctx context.Context, id string, req models.UpdateSpotRequest) (models.ParkingSpot, error) {
	fields := req.Fields()
	if err := d.deps.Spots.UpdateParkingSpot(ctx, id, fields); err != nil {
		return models.ParkingSpot{}, err
	}

	d.mu.Lock()
	var (
		updated models.ParkingSpot
		found   bool
	)
	for i := range d.spots {
		if d.spots[i].ID != id {
			continue
		}
		s := &d.spots[i]
		if req.Status != nil {
			s.Status = *req.Status
		}
		// Cleared fields show the same defaults a reload would.
		if req.Title != nil {
			s.Title = orDefault(*req.Title, defaultSpotTitle)
		}
		if req.Description != nil {
			s.Description = orDefault(*req.Description, defaultSpotDescription)
		}
		if req.Address != nil {
			s.Address = orDefault(*req.Address, defaultSpotAddress)
		}
		updated, found = *s, true
	}
	d.notifyLocked()
	d.mu.Unlock()

	if !found {
		spot, err := d.deps.Spots.GetParkingSpot(ctx, id)
		if err != nil {
			return models.ParkingSpot{}, err
		}
		updated = *spot
	}

	subject := events.SpotUpdated
	if req.Status != nil && len(fields) == 1 {
		subject = events.SpotStatusChanged
	}
	d.publish(ctx, subject, events.SpotUpdatedEvent{
		SpotID:    id,
		Fields:    fields,
		Actor:     d.actor(),
		UpdatedAt: d.now().UTC(),
	})
	return updated, nil
}

// UpdateSpotStatus moves a spot to any of its three states.
func (d *Dashboard) UpdateSpotStatus(ctx context.Context, id string, status models.SpotStatus) (models.ParkingSpot, error) {
	if !status.Valid() {
		return models.ParkingSpot{}, ErrInvalidStatus
	}
	return d.UpdateSpot(ctx, id, models.UpdateSpotRequest{Status: &status})
}

// DeleteSpot removes the spot. Its fraud reports stay loaded and show up as
// referencing a missing spot.
func (d *Dashboard) DeleteSpot(ctx context.Context, id string) error {
	if err := d.deps.Spots.DeleteParkingSpot(ctx, id); err != nil {
		return err
	}

	d.mu.Lock()
	out := d.spots[:0]
	for _, s := range d.spots {
		if s.ID != id {
			out = append(out, s)
		}
	}
	d.spots = out
	d.notifyLocked()
	d.mu.Unlock()

	d.publish(ctx, events.SpotDeleted, events.SpotDeletedEvent{
		SpotID:    id,
		Actor:     d.actor(),
		DeletedAt: d.now().UTC(),
	})
	return nil
}

// SeedSampleUsers creates the demo users and reloads the user list.
func (d *Dashboard) SeedSampleUsers(ctx context.Context) ([]models.UserID, error) {
	ids, err := d.deps.Users.SeedSampleUsers(ctx)
	if err != nil {
		return ids, err
	}

	users, err := d.deps.Users.ListUsers(ctx)
	d.mu.Lock()
	if !d.closed {
		if err == nil {
			d.users = users
			d.reportedUsers = ComputeReportedUsers(d.users, d.reports)
		}
		d.setBannerLocked(storage.CollectionUsers, err)
	}
	d.mu.Unlock()

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	d.publish(ctx, events.SampleUsersCreated, events.SampleUsersCreatedEvent{
		UserIDs:   strIDs,
		Actor:     d.actor(),
		CreatedAt: d.now().UTC(),
	})
	return ids, nil
}

// ApplySpotSnapshot replaces the whole spot list with a real-time payload.
func (d *Dashboard) ApplySpotSnapshot(spots []models.ParkingSpot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.spots = append([]models.ParkingSpot(nil), spots...)
	d.setBannerLocked(storage.CollectionParkingSpots, nil)
	d.lastSync = d.now().UTC()
	d.notifyLocked()
}

// Watch starts the real-time spot subscription if it is not running. After
// the listener dies, the next Watch starts a new one.
func (d *Dashboard) Watch(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrSessionClosed
	}
	if d.unsubscribe != nil || d.subscribing {
		d.mu.Unlock()
		return nil
	}
	d.subscribing = true
	d.subGen++
	gen := d.subGen
	d.mu.Unlock()

	unsubscribe, err := d.deps.Spots.SubscribeParkingSpots(ctx, d.ApplySpotSnapshot, func(err error) {
		d.subscriptionFailed(gen, err)
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribing = false
	if err != nil {
		if !d.closed {
			d.setBannerLocked(storage.CollectionParkingSpots, err)
			d.notifyLocked()
		}
		return err
	}
	if d.closed || d.failedGen == gen {
		unsubscribe()
		if d.closed {
			return ErrSessionClosed
		}
		return nil
	}
	d.unsubscribe = unsubscribe
	return nil
}

// subscriptionFailed records a dead listener as a banner and lets open
// streams re-send so the banner reaches them.
func (d *Dashboard) subscriptionFailed(gen int, err error) {
	d.mu.Lock()
	if d.closed || gen != d.subGen {
		d.mu.Unlock()
		return
	}
	d.failedGen = gen
	d.setBannerLocked(storage.CollectionParkingSpots, err)
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.notifyLocked()
	d.mu.Unlock()

	d.log.Warn().Err(err).Msg("spot listener stopped")
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Watching reports whether the real-time spot subscription is running.
func (d *Dashboard) Watching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unsubscribe != nil
}

// Changes returns a channel signalled whenever the loaded data changes, and a
// func to stop receiving. The channel is closed when the dashboard closes.
func (d *Dashboard) Changes() (<-chan struct{}, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan struct{}, 1)
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	id := d.nextWatcher
	d.nextWatcher++
	d.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			if w, ok := d.watchers[id]; ok {
				delete(d.watchers, id)
				close(w)
			}
			d.mu.Unlock()
		})
	}
}

func (d *Dashboard) notifyLocked() {
	for _, ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close cancels the real-time subscription and discards results of loads
// still in flight. It is safe to call more than once.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	for id, ch := range d.watchers {
		delete(d.watchers, id)
		close(ch)
	}
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (d *Dashboard) Stats() models.DashboardStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := models.DashboardStats{
		TotalUsers:        len(d.users),
		TotalParkingSpots: len(d.spots),
		ReportedUsers:     len(d.reportedUsers),
		LastSync:          d.lastSync,
		Banners:           d.bannersLocked(),
	}
	for _, u := range d.users {
		switch u.Status {
		case models.UserStatusActive:
			stats.ActiveUsers++
		case models.UserStatusDeactivated:
			stats.DeactivatedUsers++
		}
	}
	for _, s := range ComputeSpotFraudSummaries(d.spots, d.reports) {
		if s.Status == models.SpotAvailable {
			stats.AvailableSpots++
		}
		if s.IsFraudReported {
			stats.ReportedSpots++
		}
	}
	stats.AvailabilityRate = AvailabilityRate(stats.AvailableSpots, stats.TotalParkingSpots)
	return stats
}

func (d *Dashboard) Analytics() models.Analytics {
	d.mu.Lock()
	defer d.mu.Unlock()

	a := BuildAnalytics(d.users, d.spots, d.now())
	a.Banners = d.bannersLocked()
	return a
}

func (d *Dashboard) actor() string {
	if d.principal.Email != "" {
		return d.principal.Email
	}
	return d.principal.UserID
}

func (d *Dashboard) publish(ctx context.Context, subject string, payload interface{}) {
	if err := d.deps.Events.Publish(ctx, subject, payload); err != nil {
		d.log.Warn().Err(err).Str("subject", subject).Msg("failed to publish audit event")
	}
}

func findUser(users []models.User, id models.UserID) (models.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

func findReport(reports []models.FraudReport, id string) (models.FraudReport, bool) {
	for _, r := range reports {
		if r.ID == id {
			return r, true
		}
	}
	return models.FraudReport{}, false
}

func removeReport(reports []models.FraudReport, id string) []models.FraudReport {
	out := make([]models.FraudReport, 0, len(reports))
	for _, r := range reports {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func removeUser(users []models.User, id models.UserID) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != id {
			out = append(out, u)
		}
	}
	return out
}

// paginate returns the 1-based page of items. Out of range pages are clamped.
func paginate[T any](items []T, page, perPage int) ([]T, models.Page) {
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	if page < 1 {
		page = 1
	}
	if totalPages > 0 && page > totalPages {
		page = totalPages
	}

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	info := models.Page{Number: page, PerPage: perPage, Total: total, TotalPages: totalPages, To: end}
	if total > 0 {
		info.From = start + 1
	}
	return items[start:end], info
}
