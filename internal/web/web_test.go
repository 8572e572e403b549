package web

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/security"
	"github.com/tallyhq/tally/internal/session"
	"github.com/tallyhq/tally/internal/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testApp struct {
	srv      *httptest.Server
	accounts *accounts.Service
	users    *accounts.MemoryStore
	tracker  *tracker.Service
	tokens   *auth.Manager
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	users := accounts.NewMemoryStore()
	tr := tracker.NewService(tracker.NewMemoryStore())
	tokens := auth.NewManager(auth.NewMemoryStore())
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	acc := accounts.NewService(users).WithCost(bcrypt.MinCost).OnDelete(
		tr.DeleteOwner,
		tokens.Revoke,
		sessions.EndAll,
	)
	csrf, err := security.NewCSRF("test-secret", false)
	require.NoError(t, err)

	r := gin.New()
	r.SetHTMLTemplate(Templates())
	r.Use(session.Middleware(sessions), csrf.Middleware())
	NewHandler(acc, tr, tokens, sessions).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, accounts: acc, users: users, tracker: tr, tokens: tokens}
}

var csrfInput = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type browser struct {
	t      *testing.T
	app    *testApp
	client *http.Client
	csrf   string
}

func (a *testApp) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, app: a, client: &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	if m := csrfInput.FindStringSubmatch(string(body)); m != nil {
		b.csrf = m[1]
	}
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest("GET", b.app.srv.URL+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	if b.csrf == "" {
		b.get("/login")
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", b.csrf)
	req, err := http.NewRequest("POST", b.app.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, location, resp.Header.Get("Location"))
}

// loggedIn registers and logs in a fresh user.
func (a *testApp) loggedIn(t *testing.T, username string) *browser {
	t.Helper()
	b := a.browser(t)
	resp, _ := b.post("/register", url.Values{"username": {username}, "password": {"correct horse"}})
	assertRedirect(t, resp, "/login")
	resp, _ = b.post("/login", url.Values{"username": {username}, "password": {"correct horse"}})
	assertRedirect(t, resp, "/dashboard")
	return b
}

func (a *testApp) userID(t *testing.T, username string) int64 {
	t.Helper()
	u, err := a.users.GetByUsername(context.Background(), username)
	require.NoError(t, err)
	return u.ID
}

// ---------------------------------------------------------------------------
// Auth pages
// ---------------------------------------------------------------------------

func TestRegisterLoginLogout(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	resp, _ := b.post("/register", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	assertRedirect(t, resp, "/login")

	_, body := b.get("/login")
	assert.Contains(t, body, "Registered! Log in now.")

	// Flash is shown once.
	_, body = b.get("/register")
	assert.NotContains(t, body, "Registered! Log in now.")

	resp, _ = b.post("/login", url.Values{"username": {"alice"}, "password": {"correct horse"}})
	assertRedirect(t, resp, "/dashboard")

	resp, body = b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Logged in!")
	assert.Contains(t, body, "Log out (alice)")

	resp, _ = b.post("/logout", nil)
	assertRedirect(t, resp, "/login")
	resp, _ = b.get("/dashboard")
	assertRedirect(t, resp, "/login")
}

func TestRegister_DuplicateAndInvalid(t *testing.T) {
	app := newTestApp(t)
	app.loggedIn(t, "alice")

	b := app.browser(t)
	resp, _ := b.post("/register", url.Values{"username": {"alice"}, "password": {"another pass"}})
	assertRedirect(t, resp, "/register")
	_, body := b.get("/register")
	assert.Contains(t, body, "Username exists!")

	resp, body = b.post("/register", url.Values{"username": {"a b"}, "password": {"short"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Username may contain only letters")
	assert.Contains(t, body, "Password must be at least 8 characters")
}

func TestLogin_InvalidCredentials(t *testing.T) {
	app := newTestApp(t)
	app.loggedIn(t, "alice")

	b := app.browser(t)
	resp, _ := b.post("/login", url.Values{"username": {"alice"}, "password": {"wrong password"}})
	assertRedirect(t, resp, "/login")
	_, body := b.get("/login")
	assert.Contains(t, body, "Invalid credentials")
}

func TestProtectedPages_RequireLogin(t *testing.T) {
	app := newTestApp(t)
	b := app.browser(t)

	for _, path := range []string{"/dashboard", "/actions", "/actions/1", "/dashboard/token", "/settings"} {
		resp, _ := b.get(path)
		assertRedirect(t, resp, "/login")
	}
	_, body := b.get("/login")
	assert.Contains(t, body, "Please log in first")

	resp, _ := b.get("/")
	assertRedirect(t, resp, "/dashboard")
}

func TestStaleSession_IsCleared(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")

	require.NoError(t, app.users.Delete(context.Background(), app.userID(t, "alice")))

	resp, _ := b.get("/dashboard")
	assertRedirect(t, resp, "/login")
	_, body := b.get("/login")
	assert.Contains(t, body, "Your session has expired. Please log in again.")

	resp, _ = b.get("/dashboard")
	assertRedirect(t, resp, "/login")
}

func TestCSRF_Required(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")

	b.csrf = "forged"
	resp, _ := b.post("/actions/new", url.Values{"name": {"run"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Actions and logs
// ---------------------------------------------------------------------------

func TestActions_CreateListEditDelete(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")
	uid := app.userID(t, "alice")
	ctx := context.Background()

	resp, _ := b.post("/actions/new", url.Values{
		"name": {"pushups"}, "notes": {"daily set"}, "properties": {`{"unit":"reps"}`},
	})
	assertRedirect(t, resp, "/actions")
	_, body := b.get("/actions")
	assert.Contains(t, body, "Action &#39;pushups&#39; created successfully!")
	assert.Contains(t, body, "daily set")

	actions, err := app.tracker.ListActions(ctx, uid)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, "reps", a.Properties["unit"])

	resp, body = b.post("/actions/new", url.Values{"name": {"pushups"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "already have an action with this name")

	path := "/actions/" + itoa(a.ID)
	_, body = b.get(path + "/edit")
	assert.Contains(t, body, `&#34;unit&#34;: &#34;reps&#34;`)

	resp, _ = b.post(path+"/edit", url.Values{"name": {"push-ups"}, "properties": {"{}"}})
	assertRedirect(t, resp, "/actions")
	got, err := app.tracker.GetAction(ctx, uid, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "push-ups", got.Name)

	resp, _ = b.post(path+"/delete", nil)
	assertRedirect(t, resp, "/actions")
	_, err = app.tracker.GetAction(ctx, uid, a.ID)
	assert.ErrorIs(t, err, tracker.ErrActionNotFound)
}

func TestActions_InvalidPropertiesWritesNothing(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")

	resp, body := b.post("/actions/new", url.Values{"name": {"read"}, "properties": {"{not json"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Invalid JSON in properties")
	assert.Contains(t, body, `value="read"`, "form is re-rendered with the submitted values")

	actions, err := app.tracker.ListActions(context.Background(), app.userID(t, "alice"))
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestLogs_CreateHistoryEdit(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")
	uid := app.userID(t, "alice")
	ctx := context.Background()

	a, err := app.tracker.CreateAction(ctx, uid, tracker.ActionInput{Name: "water"})
	require.NoError(t, err)
	path := "/actions/" + itoa(a.ID)

	// Delta defaults to 1 when the field is omitted.
	resp, _ := b.post(path+"/log", url.Values{"notes": {"morning"}})
	assertRedirect(t, resp, path)
	resp, _ = b.post(path+"/log", url.Values{"delta": {"-3"}})
	assertRedirect(t, resp, path)

	_, body := b.get(path)
	assert.Contains(t, body, "Logged new instance for &#39;water&#39;")
	assert.Contains(t, body, "morning")
	assert.Contains(t, body, "+1")
	assert.Contains(t, body, "-3")

	resp, body = b.post(path+"/log", url.Values{"delta": {"1001"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Delta must be at most 1000")

	resp, body = b.post(path+"/log", url.Values{"delta": {"2"}, "properties": {"[1,2]"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Invalid JSON in properties")

	page, err := app.tracker.History(ctx, uid, a.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Logs, 2)
	newest := page.Logs[0]
	assert.Equal(t, int64(-3), newest.Delta)

	logPath := "/logs/" + itoa(newest.ID) + "/edit"
	resp, _ = b.get(logPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = b.post(logPath, url.Values{"delta": {"5"}, "notes": {"fixed"}, "properties": {`{"k":1}`}})
	assertRedirect(t, resp, path)

	l, err := app.tracker.GetLog(ctx, uid, newest.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.Delta)
	assert.Equal(t, "fixed", l.Note)
}

func TestActions_OtherUsersAreNotFound(t *testing.T) {
	app := newTestApp(t)
	alice := app.loggedIn(t, "alice")
	bob := app.loggedIn(t, "bob")
	ctx := context.Background()

	a, err := app.tracker.CreateAction(ctx, app.userID(t, "alice"), tracker.ActionInput{Name: "secret"})
	require.NoError(t, err)
	l, _, err := app.tracker.LogActivity(ctx, app.userID(t, "alice"), a.ID, tracker.LogInput{Delta: 1})
	require.NoError(t, err)

	for _, path := range []string{"/actions/" + itoa(a.ID), "/actions/" + itoa(a.ID) + "/edit", "/actions/" + itoa(a.ID) + "/log"} {
		resp, _ := bob.get(path)
		assertRedirect(t, resp, "/actions")
	}
	resp, _ := bob.post("/actions/"+itoa(a.ID)+"/delete", nil)
	assertRedirect(t, resp, "/actions")
	resp, _ = bob.get("/logs/" + itoa(l.ID) + "/edit")
	assertRedirect(t, resp, "/actions")

	_, body := bob.get("/actions")
	assert.Contains(t, body, "Activity not found.")

	resp, _ = alice.get("/actions/" + itoa(a.ID))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Dashboard, token and settings
// ---------------------------------------------------------------------------

func TestDashboard_ChartsAndSummary(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")
	uid := app.userID(t, "alice")
	ctx := context.Background()

	a, err := app.tracker.CreateAction(ctx, uid, tracker.ActionInput{Name: "steps"})
	require.NoError(t, err)
	_, _, err = app.tracker.LogActivity(ctx, uid, a.ID, tracker.LogInput{Delta: 4})
	require.NoError(t, err)

	resp, body := b.get("/dashboard?days=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "steps")
	assert.Contains(t, body, `class="series"`)
	assert.Contains(t, body, `class="trend"`)
	assert.Contains(t, body, "Last 10 days")
	assert.Contains(t, body, "total 4")

	resp, body = b.get("/dashboard?days=2")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Days must be at least 3")
	assert.Contains(t, body, "Last 30 days")
}

func TestTokenPage_GenerateShowsOnce(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")

	_, body := b.get("/dashboard/token")
	assert.Contains(t, body, "You have no API token.")

	resp, body := b.post("/dashboard/token/generate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := regexp.MustCompile(auth.TokenPrefix + `[A-Za-z0-9_-]+`).FindString(body)
	require.NotEmpty(t, raw)
	assert.Contains(t, body, "New API token generated!")

	tok, err := app.tokens.ValidateToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, app.userID(t, "alice"), tok.UserID)

	_, body = b.get("/dashboard/token")
	assert.NotContains(t, body, raw)
	assert.Contains(t, body, tok.Prefix)
	assert.Contains(t, body, "Regenerate token")
}

func TestSettings_ChangePassword(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")

	resp, _ := b.post("/settings", url.Values{
		"form": {"change"}, "old_password": {"nope"}, "new_password": {"new password"}, "confirm": {"new password"},
	})
	assertRedirect(t, resp, "/settings")
	_, body := b.get("/settings")
	assert.Contains(t, body, "Old password is incorrect.")

	resp, body = b.post("/settings", url.Values{
		"form": {"change"}, "old_password": {"correct horse"}, "new_password": {"new password"}, "confirm": {"different"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Passwords do not match")

	resp, _ = b.post("/settings", url.Values{
		"form": {"change"}, "old_password": {"correct horse"}, "new_password": {"new password"}, "confirm": {"new password"},
	})
	assertRedirect(t, resp, "/settings")

	_, err := app.accounts.Authenticate(context.Background(), "alice", "new password")
	assert.NoError(t, err)
}

func TestSettings_DeleteAccount(t *testing.T) {
	app := newTestApp(t)
	b := app.loggedIn(t, "alice")
	uid := app.userID(t, "alice")
	ctx := context.Background()

	a, err := app.tracker.CreateAction(ctx, uid, tracker.ActionInput{Name: "run"})
	require.NoError(t, err)
	_, _, err = app.tokens.GenerateToken(ctx, uid)
	require.NoError(t, err)

	resp, _ := b.post("/settings", url.Values{"form": {"delete"}, "password": {"wrong"}})
	assertRedirect(t, resp, "/settings")
	_, err = app.accounts.Get(ctx, uid)
	require.NoError(t, err)

	resp, _ = b.post("/settings", url.Values{"form": {"delete"}, "password": {"correct horse"}})
	assertRedirect(t, resp, "/login")
	_, body := b.get("/login")
	assert.Contains(t, body, "Your account has been deleted.")

	_, err = app.accounts.Get(ctx, uid)
	assert.ErrorIs(t, err, accounts.ErrUserNotFound)
	_, err = app.tracker.GetAction(ctx, uid, a.ID)
	assert.ErrorIs(t, err, tracker.ErrActionNotFound)
	_, err = app.tokens.Current(ctx, uid)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	resp, _ = b.get("/dashboard")
	assertRedirect(t, resp, "/login")
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
