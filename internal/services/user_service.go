package services

import (
	"context"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/models"
	"github.com/fndparking/admin/internal/storage"
)

// AccountUpdater is the part of the Firebase Auth client used to keep sign-in
// access in line with a user's status.
type AccountUpdater interface {
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
}

type UserService struct {
	store    storage.Store
	accounts AccountUpdater
	log      zerolog.Logger
	now      func() time.Time
}

// NewUserService returns a service over the users collection. accounts may be nil.
func NewUserService(store storage.Store, accounts AccountUpdater, log zerolog.Logger) *UserService {
	return &UserService{
		store:    store,
		accounts: accounts,
		log:      log.With().Str("component", "users").Logger(),
		now:      time.Now,
	}
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	docs, err := loadOrdered(ctx, s.store, storage.CollectionUsers, nil, s.log)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, decodeUser(doc))
	}
	return users, nil
}

func (s *UserService) GetUser(ctx context.Context, id models.UserID) (*models.User, error) {
	doc, err := s.store.Get(ctx, storage.CollectionUsers, string(id))
	if err != nil {
		return nil, err
	}
	user := decodeUser(doc)
	return &user, nil
}

// UpdateUserStatus persists the status together with updatedAt. deactivatedAt is
// stamped on deactivation and cleared on reactivation.
func (s *UserService) UpdateUserStatus(ctx context.Context, id models.UserID, status models.UserStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	now := s.now().UTC()
	fields := map[string]any{
		"status":    string(status),
		"updatedAt": now,
	}
	if status == models.UserStatusDeactivated {
		fields["deactivatedAt"] = now
	} else {
		fields["deactivatedAt"] = nil
	}

	if err := s.store.Update(ctx, storage.CollectionUsers, string(id), fields); err != nil {
		return writeError(storage.CollectionUsers, string(id), err)
	}

	s.syncAccount(ctx, id, status)
	return nil
}

// syncAccount mirrors the status onto the Firebase Auth account. Users created
// without an auth account are skipped.
func (s *UserService) syncAccount(ctx context.Context, id models.UserID, status models.UserStatus) {
	if s.accounts == nil {
		return
	}
	update := (&auth.UserToUpdate{}).Disabled(status == models.UserStatusDeactivated)
	if _, err := s.accounts.UpdateUser(ctx, string(id), update); err != nil {
		if auth.IsUserNotFound(err) {
			s.log.Debug().Str("user_id", string(id)).Msg("no auth account to update")
			return
		}
		s.log.Warn().Err(err).Str("user_id", string(id)).Msg("failed to sync auth account status")
	}
}

// CreateOrUpdateUser merges fields into the user document. status defaults to active.
func (s *UserService) CreateOrUpdateUser(ctx context.Context, id models.UserID, fields map[string]any) error {
	doc := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		doc[k] = v
	}
	if st, _ := doc["status"].(string); st == "" {
		doc["status"] = string(models.UserStatusActive)
	}
	doc["updatedAt"] = s.now().UTC()

	if err := s.store.Set(ctx, storage.CollectionUsers, string(id), doc, true); err != nil {
		return writeError(storage.CollectionUsers, string(id), err)
	}
	return nil
}

type sampleUser struct {
	id    models.UserID
	name  string
	email string
	spots int
}

var sampleUsers = []sampleUser{
	{id: "user1", name: "John Doe", email: "john@example.com", spots: 5},
	{id: "user2", name: "Jane Smith", email: "jane@example.com", spots: 3},
	{id: "user3", name: "Mike Johnson", email: "mike@example.com", spots: 7},
}

// SeedSampleUsers writes a fixed set of demo users so an empty project has
// something to show.
func (s *UserService) SeedSampleUsers(ctx context.Context) ([]models.UserID, error) {
	now := s.now().UTC()
	ids := make([]models.UserID, 0, len(sampleUsers))
	for _, u := range sampleUsers {
		err := s.CreateOrUpdateUser(ctx, u.id, map[string]any{
			"name":              u.name,
			"email":             u.email,
			"role":              string(models.RoleUser),
			"status":            string(models.UserStatusActive),
			"createdAt":         now,
			"parkingSpotsCount": u.spots,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, u.id)
	}
	s.log.Info().Int("count", len(ids)).Msg("sample users created")
	return ids, nil
}
