package authmw

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
)

// Service talks to the Keycloak admin API with client credentials. It is
// only used to import the realm's users into the local users table.
type Service struct {
	Client       *gocloak.GoCloak
	Realm        string
	clientID     string
	clientSecret string
}

func NewService(baseURL, realm, clientID, clientSecret string) (*Service, error) {
	s := &Service{
		Client:       gocloak.NewClient("http://" + baseURL),
		Realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
	}

	if err := s.selfTest(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) selfTest() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jwt, err := s.LoginAdmin(ctx)
	if err != nil {
		return fmt.Errorf("keycloak auth failed: %w", err)
	}

	// Minimal permission check (safe & cheap)
	_, err = s.Client.GetRealm(ctx, jwt.AccessToken, s.Realm)
	if err != nil {
		return fmt.Errorf("keycloak permission check failed: %w", err)
	}

	return nil
}

func (s *Service) LoginAdmin(ctx context.Context) (*gocloak.JWT, error) {
	return s.Client.LoginClient(
		ctx,
		s.clientID,
		s.clientSecret,
		s.Realm,
	)
}

const syncPageSize = 100

// SyncUsers pages through every realm user and hands each one to upsert.
// It returns the number of users passed on.
func (s *Service) SyncUsers(ctx context.Context, upsert func(ctx context.Context, id Identity) error) (int, error) {
	jwt, err := s.LoginAdmin(ctx)
	if err != nil {
		return 0, fmt.Errorf("keycloak auth failed: %w", err)
	}

	synced := 0
	for first := 0; ; first += syncPageSize {
		users, err := s.Client.GetUsers(ctx, jwt.AccessToken, s.Realm, gocloak.GetUsersParams{
			First: gocloak.IntP(first),
			Max:   gocloak.IntP(syncPageSize),
		})
		if err != nil {
			return synced, fmt.Errorf("list users: %w", err)
		}

		for _, u := range users {
			id, ok := identityFromUser(u)
			if !ok {
				continue
			}
			if err := upsert(ctx, id); err != nil {
				return synced, fmt.Errorf("upsert user %s: %w", id.UserID, err)
			}
			synced++
		}

		if len(users) < syncPageSize {
			return synced, nil
		}
	}
}

func identityFromUser(u *gocloak.User) (Identity, bool) {
	if u == nil || u.ID == nil || *u.ID == "" {
		return Identity{}, false
	}
	id := Identity{
		UserID:   *u.ID,
		Username: gocloak.PString(u.Username),
		Email:    gocloak.PString(u.Email),
		Name:     strings.TrimSpace(gocloak.PString(u.FirstName) + " " + gocloak.PString(u.LastName)),
	}
	return id, true
}
