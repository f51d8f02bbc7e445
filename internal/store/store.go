package store

import (
	"errors"

	"teletab/internal/models"
)

var (
	// ErrNotFound is returned when a registry lookup misses.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a username is already taken.
	ErrConflict = errors.New("username already taken")
)

// Store is the local persistence surface: a durable user registry and
// whole-blob snapshots, plus an ephemeral session pointer that mirrors
// per-tab session storage and never touches disk.
//
// Snapshot writes replace the prior value wholesale; there is no merge and
// no conflict detection. Concurrent tabs race and the last writer wins,
// which is acceptable because live tabs have already applied the same
// deltas via bus events.
type Store interface {
	// User registry
	CreateUser(u *models.User) error
	GetUserByUsername(username string) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	UpdateUser(u *models.User) error
	ListUsers() ([]models.User, error)

	// Snapshots
	SaveThreads(userID string, threads []models.ChatThread) error
	LoadThreads(userID string) ([]models.ChatThread, error)
	SaveGlobalHistory(msgs []models.Message) error
	LoadGlobalHistory() ([]models.Message, error)

	// Preferences
	SaveTheme(theme string) error
	Theme() (string, error)

	// Session (in-memory only, cleared when the process exits)
	SetSessionUser(u *models.User)
	SessionUser() *models.User
	ClearSession()
}
