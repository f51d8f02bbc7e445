package sqlstore

import (
	"database/sql"
	"encoding/json"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"teletab/internal/models"
	"teletab/internal/store"
)

// Snapshot keys. Thread collections are keyed per user; global history and
// the theme preference are shared by every user on the machine.
const (
	globalHistoryKey = "tele_global_history"
	themeKey         = "tele_theme"
	threadsKeyPrefix = "threads_"
)

type SQLStore struct {
	db *sql.DB

	// Session state lives in memory only, like per-tab session storage.
	sessionMu   sync.RWMutex
	sessionUser *models.User
}

func New(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE COLLATE NOCASE NOT NULL,
		password TEXT NOT NULL,
		avatar TEXT,
		bio TEXT,
		is_creator BOOLEAN DEFAULT FALSE,
		settings TEXT
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateUser(u *models.User) error {
	settings, err := marshalSettings(u.Settings)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO users (id, username, password, avatar, bio, is_creator, settings) VALUES (?, ?, ?, ?, ?, ?, ?)",
		u.ID, u.Username, u.Password, u.Avatar, u.Bio, u.IsCreator, settings)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return store.ErrConflict
	}
	return err
}

func (s *SQLStore) GetUserByUsername(username string) (*models.User, error) {
	return s.getUser("SELECT id, username, password, COALESCE(avatar, ''), COALESCE(bio, ''), is_creator, COALESCE(settings, '') FROM users WHERE username = ? COLLATE NOCASE", username)
}

func (s *SQLStore) GetUserByID(id string) (*models.User, error) {
	return s.getUser("SELECT id, username, password, COALESCE(avatar, ''), COALESCE(bio, ''), is_creator, COALESCE(settings, '') FROM users WHERE id = ?", id)
}

func (s *SQLStore) getUser(query string, arg any) (*models.User, error) {
	var u models.User
	var settings string
	err := s.db.QueryRow(query, arg).Scan(&u.ID, &u.Username, &u.Password, &u.Avatar, &u.Bio, &u.IsCreator, &settings)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.Settings, err = unmarshalSettings(settings); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) UpdateUser(u *models.User) error {
	settings, err := marshalSettings(u.Settings)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		"UPDATE users SET username = ?, password = ?, avatar = ?, bio = ?, is_creator = ?, settings = ? WHERE id = ?",
		u.Username, u.Password, u.Avatar, u.Bio, u.IsCreator, settings, u.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query("SELECT id, username, password, COALESCE(avatar, ''), COALESCE(bio, ''), is_creator, COALESCE(settings, '') FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var settings string
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.Avatar, &u.Bio, &u.IsCreator, &settings); err != nil {
			return nil, err
		}
		if u.Settings, err = unmarshalSettings(settings); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) SaveThreads(userID string, threads []models.ChatThread) error {
	return s.putSnapshot(threadsKeyPrefix+userID, threads)
}

func (s *SQLStore) LoadThreads(userID string) ([]models.ChatThread, error) {
	var threads []models.ChatThread
	ok, err := s.getSnapshot(threadsKeyPrefix+userID, &threads)
	if err != nil || !ok {
		return nil, err
	}
	return threads, nil
}

func (s *SQLStore) SaveGlobalHistory(msgs []models.Message) error {
	return s.putSnapshot(globalHistoryKey, msgs)
}

func (s *SQLStore) LoadGlobalHistory() ([]models.Message, error) {
	var msgs []models.Message
	ok, err := s.getSnapshot(globalHistoryKey, &msgs)
	if err != nil || !ok {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLStore) SaveTheme(theme string) error {
	return s.putSnapshot(themeKey, theme)
}

func (s *SQLStore) Theme() (string, error) {
	var theme string
	_, err := s.getSnapshot(themeKey, &theme)
	return theme, err
}

// putSnapshot replaces the stored value wholesale. Last writer wins.
func (s *SQLStore) putSnapshot(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		"INSERT INTO snapshots (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, string(data))
	return err
}

func (s *SQLStore) getSnapshot(key string, out any) (bool, error) {
	var data string
	err := s.db.QueryRow("SELECT value FROM snapshots WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(data), out)
}

func (s *SQLStore) SetSessionUser(u *models.User) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionUser = u
}

func (s *SQLStore) SessionUser() *models.User {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionUser
}

func (s *SQLStore) ClearSession() {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionUser = nil
}

func marshalSettings(settings *models.Settings) (string, error) {
	if settings == nil {
		return "", nil
	}
	data, err := json.Marshal(settings)
	return string(data), err
}

func unmarshalSettings(data string) (*models.Settings, error) {
	if data == "" {
		return nil, nil
	}
	var settings models.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}
