package insta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *Session) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	session := NewSession("botacct")
	client := NewClient(ClientConfig{
		Session:  session,
		Password: "hunter2",
		BaseURL:  srv.URL,
	})
	return client, session
}

// --- Login ---

func TestLogin_AbsorbsIdentityAndCookies(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/login/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("username"); got != "botacct" {
			t.Errorf("username = %q", got)
		}
		if got := r.PostForm.Get("enc_password"); !strings.HasPrefix(got, "#PWD_INSTAGRAM:0:") {
			t.Errorf("enc_password = %q", got)
		}
		if r.PostForm.Get("device_id") == "" {
			t.Error("device_id missing from login form")
		}
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-abc"})
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-xyz"})
		w.Write([]byte(`{"logged_in_user":{"pk":4242,"username":"botacct"},"status":"ok"}`))
	})

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if client.UserID() != 4242 {
		t.Errorf("UserID() = %d, want 4242", client.UserID())
	}
	if got := session.Cookie("sessionid"); got != "sess-abc" {
		t.Errorf("sessionid cookie = %q", got)
	}
	if session.CSRFToken != "csrf-xyz" {
		t.Errorf("CSRFToken = %q", session.CSRFToken)
	}
	if !session.LoggedIn() {
		t.Error("session should report logged in")
	}
}

func TestLogin_BadPassword(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"fail","message":"The password you entered is incorrect.","error_type":"bad_password"}`))
	})

	err := client.Login(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("error %v is not an APIError", err)
	}
	if ae.Code != "bad_password" {
		t.Errorf("Code = %q", ae.Code)
	}
	if IsAuthExpired(err) {
		t.Error("bad password should not classify as expired auth")
	}
}

// --- Inbox and threads ---

func TestInbox_ParsesBaselineAndThreads(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/direct_v2/inbox/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{
			"inbox": {"threads": [
				{"thread_id": "t1", "thread_title": "alice",
				 "users": [{"pk": 7, "username": "alice"}],
				 "items": [{"item_id": "i1", "user_id": 7, "timestamp": 1700000000000000, "item_type": "text", "text": "hello"}],
				 "last_activity_at": 1700000000000000},
				{"thread_id": "t2", "thread_title": "group chat"}
			]},
			"seq_id": 5551,
			"snapshot_at_ms": 1700000000123,
			"status": "ok"
		}`))
	})

	inbox, err := client.Inbox(context.Background())
	if err != nil {
		t.Fatalf("Inbox() error: %v", err)
	}
	if inbox.SeqID != 5551 || inbox.SnapshotAtMs != 1700000000123 {
		t.Errorf("baseline = (%d, %d)", inbox.SeqID, inbox.SnapshotAtMs)
	}
	if len(inbox.Inbox.Threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(inbox.Inbox.Threads))
	}
	first := inbox.Inbox.Threads[0]
	if first.ThreadID != "t1" || len(first.Items) != 1 || first.Items[0].Text != "hello" {
		t.Errorf("first thread parsed wrong: %+v", first)
	}
}

func TestThreadLatest_FetchesSingleItem(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/direct_v2/threads/t99/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("limit = %q, want 1", r.URL.Query().Get("limit"))
		}
		w.Write([]byte(`{"thread": {"thread_id": "t99", "items": [{"item_id": "i7", "user_id": 3, "timestamp": 1700000001000000, "item_type": "text", "text": "newest"}]}, "status": "ok"}`))
	})

	thread, err := client.ThreadLatest(context.Background(), "t99")
	if err != nil {
		t.Fatalf("ThreadLatest() error: %v", err)
	}
	if thread.ThreadID != "t99" || len(thread.Items) != 1 || thread.Items[0].ItemID != "i7" {
		t.Errorf("thread parsed wrong: %+v", thread)
	}
}

// --- Sending ---

func TestSendText_PostsForm(t *testing.T) {
	var gotForm map[string]string
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/direct_v2/threads/broadcast/text/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-IG-App-ID") == "" || r.Header.Get("User-Agent") == "" {
			t.Error("identity headers missing")
		}
		if c, err := r.Cookie("sessionid"); err != nil || c.Value != "sess-abc" {
			t.Error("session cookie not sent")
		}
		r.ParseForm()
		gotForm = map[string]string{
			"action":         r.PostForm.Get("action"),
			"thread_ids":     r.PostForm.Get("thread_ids"),
			"text":           r.PostForm.Get("text"),
			"client_context": r.PostForm.Get("client_context"),
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	session.setCookie(SessionCookie{Name: "sessionid", Value: "sess-abc"})

	if err := client.SendText(context.Background(), "t1", "pong"); err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if gotForm["action"] != "send_item" || gotForm["thread_ids"] != "[t1]" || gotForm["text"] != "pong" {
		t.Errorf("form = %v", gotForm)
	}
	if gotForm["client_context"] == "" {
		t.Error("client_context missing")
	}
}

func TestSendReaction_PostsEmoji(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("emoji"); got != "🔥" {
			t.Errorf("emoji = %q", got)
		}
		if got := r.PostForm.Get("item_id"); got != "i1" {
			t.Errorf("item_id = %q", got)
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	if err := client.SendReaction(context.Background(), "t1", "i1", "🔥"); err != nil {
		t.Fatalf("SendReaction() error: %v", err)
	}
}

// --- Error envelope ---

func TestDo_FailEnvelopeOnHTTP200(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"Please wait a few minutes before you try again.","error_type":""}`))
	})

	_, err := client.Inbox(context.Background())
	if err == nil {
		t.Fatal("expected error for fail envelope")
	}
	if !IsRateLimited(err) {
		t.Errorf("error %v should classify as rate limited", err)
	}
}

func TestDo_ClassifiesErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"throttled", 429, `{"status":"fail","message":"too many requests"}`, IsRateLimited},
		{"feedback required", 400, `{"status":"fail","error_type":"feedback_required"}`, IsRateLimited},
		{"login required", 401, `{"status":"fail","error_type":"login_required"}`, IsAuthExpired},
		{"challenge", 400, `{"status":"fail","error_type":"challenge_required"}`, IsAccessRestricted},
		{"forbidden", 403, `{"status":"fail","message":"forbidden"}`, IsAccessRestricted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := client.Inbox(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !tc.check(err) {
				t.Errorf("error %v not classified as expected", err)
			}
		})
	}
}

func TestCurrentUser_RefreshesIdentity(t *testing.T) {
	client, session := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":{"pk":777,"username":"renamed"},"status":"ok"}`))
	})

	id, name, err := client.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() error: %v", err)
	}
	if id != 777 || name != "renamed" {
		t.Errorf("got (%d, %q)", id, name)
	}
	if session.UserID != 777 || session.Username != "renamed" {
		t.Errorf("session not refreshed: %+v", session)
	}
}
