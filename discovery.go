package citymatch

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Discovery reads profiles and saves the caller's own profile.
type Discovery struct {
	backend Backend
	cache   *Cache
	self    UserID
	logger  zerolog.Logger
}

func newDiscovery(backend Backend, cache *Cache, self UserID, logger zerolog.Logger) *Discovery {
	cache.Register(KeyProfile, func(ctx context.Context, _ Key) (any, error) {
		return backend.GetCallerUserProfile(ctx)
	})
	cache.Register(KeyUserProfile, func(ctx context.Context, key Key) (any, error) {
		return backend.GetUserProfile(ctx, UserID(key.ID))
	})
	cache.Register(KeyProfilesByCity, func(ctx context.Context, key Key) (any, error) {
		return backend.GetProfilesByCity(ctx, key.ID)
	})
	return &Discovery{backend: backend, cache: cache, self: self, logger: logger}
}

// CurrentProfile returns the caller's profile, or nil if none was saved.
func (d *Discovery) CurrentProfile(ctx context.Context) (*Profile, error) {
	p, err := getAs[*Profile](ctx, d.cache, ProfileKey())
	if err != nil {
		return nil, classify("get_profile", err)
	}
	return p, nil
}

// SaveProfile validates and stores the caller's profile.
func (d *Discovery) SaveProfile(ctx context.Context, update *ProfileUpdate) error {
	const op = "save_profile"
	if update == nil || strings.TrimSpace(update.Name) == "" {
		return validationError(op, "name is required")
	}
	if strings.TrimSpace(update.City) == "" {
		return validationError(op, "city is required")
	}
	if !update.Gender.Valid() || !update.ConnectWith.Valid() {
		return validationError(op, "gender and connection preference are required")
	}
	update.Name = strings.TrimSpace(update.Name)
	update.City = strings.TrimSpace(update.City)

	if err := d.backend.SaveCallerUserProfile(ctx, update); err != nil {
		return classify(op, err)
	}
	d.cache.AfterMutation(MutationSaveProfile, 0)
	return nil
}

// UserProfile returns another user's profile.
func (d *Discovery) UserProfile(ctx context.Context, user UserID) (*Profile, error) {
	p, err := getAs[*Profile](ctx, d.cache, UserProfileKey(user))
	if err != nil {
		return nil, classify("get_user_profile", err)
	}
	return p, nil
}

// ProfilesByCity lists the profiles the backend matches for city, without
// the caller. A non-empty search keeps only names containing it,
// case-insensitively.
func (d *Discovery) ProfilesByCity(ctx context.Context, city, search string) ([]Profile, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, nil
	}
	all, err := getAs[[]Profile](ctx, d.cache, ProfilesByCityKey(city))
	if err != nil {
		return nil, classify("profiles_by_city", err)
	}

	query := strings.ToLower(strings.TrimSpace(search))
	out := make([]Profile, 0, len(all))
	for _, p := range all {
		if p.Owner == d.self {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
