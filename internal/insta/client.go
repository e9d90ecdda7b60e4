package insta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultAPIBase     = "https://i.instagram.com/api/v1"
	defaultHTTPTimeout = 30 * time.Second

	igAppID     = "567067343352427"
	igUserAgent = "Instagram 275.0.0.27.98 Android (33/13; 420dpi; 1080x2400; Google; Pixel 7; panther; en_US; 458229258)"
)

// Client talks to the private direct-messaging HTTP API. All calls are
// session-authenticated; cookies set by responses are absorbed back into the
// session so it can be persisted across restarts.
type Client struct {
	base        string
	password    string
	sessionPath string
	http        *http.Client
	logger      *slog.Logger

	mu      sync.Mutex // guards session cookie/identity updates
	session *Session
}

// ClientConfig configures the API client.
type ClientConfig struct {
	Session     *Session
	Password    string // kept for inline re-login when the session expires
	SessionPath string
	Logger      *slog.Logger
	BaseURL     string       // override for tests
	HTTPClient  *http.Client // override for tests
}

func NewClient(cfg ClientConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultAPIBase
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:        strings.TrimRight(base, "/"),
		password:    cfg.Password,
		sessionPath: cfg.SessionPath,
		http:        hc,
		logger:      logger,
		session:     cfg.Session,
	}
}

// UserID returns the authenticated account's numeric id, 0 before login.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.UserID
}

// Username returns the authenticated account's handle.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Username
}

// SaveSession persists the session to the configured path.
func (c *Client) SaveSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionPath == "" {
		return nil
	}
	return c.session.Save(c.sessionPath)
}

// Login authenticates with the stored credentials and absorbs the returned
// identity and cookies into the session.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	username := c.session.Username
	form := url.Values{
		"username":            {username},
		"enc_password":        {fmt.Sprintf("#PWD_INSTAGRAM:0:%d:%s", time.Now().Unix(), c.password)},
		"guid":                {c.session.UUID},
		"phone_id":            {c.session.PhoneID},
		"device_id":           {c.session.DeviceID},
		"login_attempt_count": {"0"},
	}
	c.mu.Unlock()

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/accounts/login/", form, &resp); err != nil {
		return fmt.Errorf("login %s: %w", username, err)
	}

	c.mu.Lock()
	c.session.UserID = resp.LoggedInUser.PK
	if resp.LoggedInUser.Username != "" {
		c.session.Username = resp.LoggedInUser.Username
	}
	c.mu.Unlock()

	c.logger.Info("instagram login ok", "username", username, "user_id", resp.LoggedInUser.PK)
	return nil
}

// CurrentUser verifies the session by fetching the account it belongs to.
func (c *Client) CurrentUser(ctx context.Context) (int64, string, error) {
	var resp struct {
		User struct {
			PK       int64  `json:"pk"`
			Username string `json:"username"`
		} `json:"user"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/current_user/?edit=true", nil, &resp); err != nil {
		return 0, "", err
	}

	c.mu.Lock()
	c.session.UserID = resp.User.PK
	if resp.User.Username != "" {
		c.session.Username = resp.User.Username
	}
	c.mu.Unlock()

	return resp.User.PK, resp.User.Username, nil
}

// Inbox fetches the direct inbox page: threads ordered most-recently-active
// first, plus the sequence baseline for the realtime subscription.
func (c *Client) Inbox(ctx context.Context) (*InboxResponse, error) {
	path := "/direct_v2/inbox/?visual_message_return_type=unseen&thread_message_limit=10&persistentBadging=true&limit=20"
	var resp InboxResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch inbox: %w", err)
	}
	return &resp, nil
}

// ThreadLatest fetches a thread with only its most recent item.
func (c *Client) ThreadLatest(ctx context.Context, threadID string) (*Thread, error) {
	path := fmt.Sprintf("/direct_v2/threads/%s/?visual_message_return_type=unseen&limit=1", url.PathEscape(threadID))
	var resp ThreadResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}
	return &resp.Thread, nil
}

// SendText delivers a text message to a thread over the request API.
func (c *Client) SendText(ctx context.Context, threadID, text string) error {
	form := url.Values{
		"action":         {"send_item"},
		"thread_ids":     {fmt.Sprintf("[%s]", threadID)},
		"text":           {text},
		"client_context": {uuid.NewString()},
	}
	if err := c.do(ctx, http.MethodPost, "/direct_v2/threads/broadcast/text/", form, nil); err != nil {
		return fmt.Errorf("send text to %s: %w", threadID, err)
	}
	return nil
}

// SendReaction attaches an emoji reaction to an item.
func (c *Client) SendReaction(ctx context.Context, threadID, itemID, emoji string) error {
	form := url.Values{
		"action":          {"send_item"},
		"item_type":       {"reaction"},
		"reaction_type":   {"like"},
		"reaction_status": {"created"},
		"emoji":           {emoji},
		"thread_ids":      {fmt.Sprintf("[%s]", threadID)},
		"item_id":         {itemID},
		"node_type":       {"item"},
		"client_context":  {uuid.NewString()},
	}
	if err := c.do(ctx, http.MethodPost, "/direct_v2/threads/broadcast/reaction/", form, nil); err != nil {
		return fmt.Errorf("send reaction to %s: %w", threadID, err)
	}
	return nil
}

// MarkSeen marks an item as seen.
func (c *Client) MarkSeen(ctx context.Context, threadID, itemID string) error {
	path := fmt.Sprintf("/direct_v2/threads/%s/items/%s/seen/", url.PathEscape(threadID), url.PathEscape(itemID))
	form := url.Values{
		"action":    {"mark_seen"},
		"thread_id": {threadID},
		"item_id":   {itemID},
	}
	if err := c.do(ctx, http.MethodPost, path, form, nil); err != nil {
		return fmt.Errorf("mark seen %s/%s: %w", threadID, itemID, err)
	}
	return nil
}

// SetTyping toggles the typing indicator in a thread.
func (c *Client) SetTyping(ctx context.Context, threadID string, active bool) error {
	status := "0"
	if active {
		status = "1"
	}
	path := fmt.Sprintf("/direct_v2/threads/%s/activity/", url.PathEscape(threadID))
	form := url.Values{
		"activity_status": {status},
		"client_context":  {uuid.NewString()},
	}
	if err := c.do(ctx, http.MethodPost, path, form, nil); err != nil {
		return fmt.Errorf("set typing %s: %w", threadID, err)
	}
	return nil
}

// do executes one API request: headers, cookies, error envelope handling,
// cookie absorption, and JSON decoding into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	c.mu.Lock()
	req.Header.Set("User-Agent", igUserAgent)
	req.Header.Set("X-IG-App-ID", igAppID)
	req.Header.Set("X-IG-Device-ID", c.session.DeviceID)
	req.Header.Set("Accept-Language", "en-US")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if c.session.CSRFToken != "" {
		req.Header.Set("X-CSRFToken", c.session.CSRFToken)
	}
	for _, ck := range c.session.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.absorbCookies(resp)

	var envelope apiStatus
	_ = json.Unmarshal(data, &envelope)
	if resp.StatusCode >= 400 || envelope.Status == "fail" {
		return &APIError{
			Status:  resp.StatusCode,
			Code:    envelope.ErrorType,
			Message: envelope.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// absorbCookies merges Set-Cookie headers into the session.
func (c *Client) absorbCookies(resp *http.Response) {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ck := range cookies {
		c.session.setCookie(SessionCookie{
			Name:    ck.Name,
			Value:   ck.Value,
			Domain:  ck.Domain,
			Path:    ck.Path,
			Expires: ck.Expires,
		})
		if ck.Name == "csrftoken" {
			c.session.CSRFToken = ck.Value
		}
	}
}
