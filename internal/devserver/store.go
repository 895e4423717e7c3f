package devserver

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/crypto/bcrypt"

	"github.com/pliu/courier/internal/models"
)

// Store is the devserver's sqlite-backed persistence: users, bearer tokens,
// and the message log the history endpoint snapshots from.
type Store struct {
	db *sql.DB
}

func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL,
		password TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'offline'
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		from_user_id TEXT NOT NULL,
		to_user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'text',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (from_user_id) REFERENCES users(id),
		FOREIGN KEY (to_user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// CreateUser hashes the password and inserts the user, returning it with a
// fresh id.
func (s *Store) CreateUser(email, username, password string) (*models.Identity, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.Identity{
		ID:       uuid.NewString(),
		Email:    email,
		Username: username,
		Status:   "offline",
	}
	_, err = s.db.Exec(
		"INSERT INTO users (id, email, username, password, status) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Email, user.Username, string(hashed), user.Status,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUserByEmail(email string) (*models.Identity, string, error) {
	var user models.Identity
	var hashed string
	err := s.db.QueryRow(
		"SELECT id, email, username, password, status FROM users WHERE email = ?", email,
	).Scan(&user.ID, &user.Email, &user.Username, &hashed, &user.Status)
	if err != nil {
		return nil, "", err
	}
	return &user, hashed, nil
}

func (s *Store) GetUserByID(id string) (*models.Identity, error) {
	var user models.Identity
	err := s.db.QueryRow(
		"SELECT id, email, username, status FROM users WHERE id = ?", id,
	).Scan(&user.ID, &user.Email, &user.Username, &user.Status)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers matches email substrings, capped at 10 rows.
func (s *Store) SearchUsers(fragment string) ([]models.Identity, error) {
	rows, err := s.db.Query(
		"SELECT id, email, username, status FROM users WHERE email LIKE ? ORDER BY email LIMIT 10",
		"%"+fragment+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.Identity{}
	for rows.Next() {
		var u models.Identity
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.Status); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// VerifyPassword checks email+password and returns the user on success.
func (s *Store) VerifyPassword(email, password string) (*models.Identity, error) {
	user, hashed, err := s.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return nil, err
	}
	return user, nil
}

// IssueToken creates a bearer token for the user.
func (s *Store) IssueToken(userID string) (string, error) {
	token := uuid.NewString()
	_, err := s.db.Exec("INSERT INTO tokens (token, user_id) VALUES (?, ?)", token, userID)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetUserByToken resolves a bearer token to its user.
func (s *Store) GetUserByToken(token string) (*models.Identity, error) {
	var userID string
	err := s.db.QueryRow("SELECT user_id FROM tokens WHERE token = ?", token).Scan(&userID)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(userID)
}

func (s *Store) RevokeToken(token string) error {
	_, err := s.db.Exec("DELETE FROM tokens WHERE token = ?", token)
	return err
}

// SaveMessage persists a draft, assigning the id and timestamp, and returns
// the full message as it will be pushed to both participants.
func (s *Store) SaveMessage(draft models.OutboundDraft) (*models.Message, error) {
	msg := &models.Message{
		ID:         uuid.NewString(),
		FromUserID: draft.FromUserID,
		ToUserID:   draft.ToUserID,
		Content:    draft.Text,
		Type:       models.TypeText,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		"INSERT INTO messages (id, from_user_id, to_user_id, content, type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.FromUserID, msg.ToUserID, msg.Content, string(msg.Type), msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetThreadMessages returns the conversation between two users, oldest
// first.
func (s *Store) GetThreadMessages(userID, peerID string) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, from_user_id, to_user_id, content, type, created_at
		FROM messages
		WHERE (from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)
		ORDER BY created_at ASC, id ASC
	`, userID, peerID, peerID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var typ string
		if err := rows.Scan(&m.ID, &m.FromUserID, &m.ToUserID, &m.Content, &typ, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = models.MessageType(typ)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
