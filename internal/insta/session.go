package insta

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Session is the persisted identity: device identifiers generated once at
// first login plus the cookies the API hands back. The device identity must
// stay stable across restarts or the API treats every login as a new device.
type Session struct {
	Username  string          `json:"username"`
	UserID    int64           `json:"userId"`
	DeviceID  string          `json:"deviceId"`
	PhoneID   string          `json:"phoneId"`
	UUID      string          `json:"uuid"`
	CSRFToken string          `json:"csrfToken,omitempty"`
	Cookies   []SessionCookie `json:"cookies,omitempty"`
	SavedAt   time.Time       `json:"savedAt,omitempty"`
}

// SessionCookie is one persisted cookie.
type SessionCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// NewSession creates a fresh session with generated device identity.
func NewSession(username string) *Session {
	u := uuid.New()
	return &Session{
		Username: username,
		DeviceID: fmt.Sprintf("android-%x", u[:8]),
		PhoneID:  uuid.NewString(),
		UUID:     uuid.NewString(),
	}
}

// LoadSession reads a session file written by Save.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", path, err)
	}
	if s.DeviceID == "" {
		return nil, fmt.Errorf("session file %s has no device identity", path)
	}
	return &s, nil
}

// Save writes the session to path, creating parent directories.
func (s *Session) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	s.SavedAt = time.Now()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoggedIn reports whether the session carries an authenticated identity.
func (s *Session) LoggedIn() bool {
	if s.UserID == 0 {
		return false
	}
	return s.Cookie("sessionid") != ""
}

// Cookie returns the value of a stored cookie, or "".
func (s *Session) Cookie(name string) string {
	for _, c := range s.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// setCookie inserts or replaces a cookie by name.
func (s *Session) setCookie(c SessionCookie) {
	for i := range s.Cookies {
		if s.Cookies[i].Name == c.Name {
			s.Cookies[i] = c
			return
		}
	}
	s.Cookies = append(s.Cookies, c)
}
