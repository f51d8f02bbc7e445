package client

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"teletab/internal/models"
	"teletab/internal/store"
)

// Authentication errors are surfaced inline to the user; none of them
// changes any state.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrNameTaken     = errors.New("username already taken")
)

const avatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="

// Seed inserts the fixed bootstrap accounts on first run. Existing accounts
// are left alone, so calling it on every start is harmless.
func Seed(s store.Store) error {
	bootstrap := []models.User{
		{
			ID:        "creator_001",
			Username:  "SeL1er",
			Password:  "123",
			Avatar:    avatarBase + "SeL1er",
			Bio:       "Founder",
			IsCreator: true,
		},
		{
			ID:       "user_meri",
			Username: "Meri",
			Password: "123",
			Avatar:   avatarBase + "Meri",
			Bio:      "Early user",
		},
	}
	for i := range bootstrap {
		err := s.CreateUser(&bootstrap[i])
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return nil
}

// Login authenticates against the local registry. Usernames compare
// case-insensitively; passwords compare in the clear.
func Login(s store.Store, username, password string) (*models.User, error) {
	u, err := s.GetUserByUsername(strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.Password != password {
		return nil, ErrWrongPassword
	}
	s.SetSessionUser(u)
	return u, nil
}

// Register creates a new account and logs it in.
func Register(s store.Store, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	u := &models.User{
		ID:       uuid.NewString(),
		Username: username,
		Password: password,
		Avatar:   avatarBase + username,
	}
	err := s.CreateUser(u)
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrNameTaken
	}
	if err != nil {
		return nil, err
	}
	s.SetSessionUser(u)
	return u, nil
}
