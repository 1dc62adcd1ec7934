package bootstrap

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"imgrelay/internal/config"
	tgchannel "imgrelay/internal/delivery/channels/telegram"
	"imgrelay/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456:TEST-token"

const photoUpdate = `{"ok":true,"result":[{"update_id":1,"message":{"message_id":10,"date":1700000000,` +
	`"chat":{"id":5,"type":"private"},"photo":[` +
	`{"file_id":"small","file_unique_id":"s","width":90,"height":90,"file_size":100},` +
	`{"file_id":"big","file_unique_id":"b","width":800,"height":600,"file_size":5000}]}}]}`

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakePlatform serves the bot API, its file downloads and the image host.
type fakePlatform struct {
	mu        sync.Mutex
	sent      []string
	webhooks  []map[string]string
	delivered bool
	uploads   int
	rejectMe  bool
	meErrors  int
	getMes    int
	server    *httptest.Server
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{}
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePlatform) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/upload":
		p.mu.Lock()
		p.uploads++
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"src":"/file/hosted.jpg"}]`))
		return
	case strings.HasPrefix(r.URL.Path, "/file/"):
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
		return
	case !strings.HasPrefix(r.URL.Path, "/bot"+testToken+"/"):
		http.NotFound(w, r)
		return
	}

	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	w.Header().Set("Content-Type", "application/json")

	p.mu.Lock()
	defer p.mu.Unlock()
	switch method {
	case "getMe":
		p.getMes++
		if p.meErrors > 0 {
			p.meErrors--
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		if p.rejectMe {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`))
	case "getUpdates":
		if !p.delivered {
			p.delivered = true
			_, _ = w.Write([]byte(photoUpdate))
			return
		}
		p.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		p.mu.Lock()
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))
	case "getFile":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"` + r.PostForm.Get("file_id") +
			`","file_unique_id":"u","file_size":10,"file_path":"photos/` + r.PostForm.Get("file_id") + `.jpg"}}`))
	case "sendMessage":
		p.sent = append(p.sent, r.PostForm.Get("text"))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"date":1700000000,"chat":{"id":5,"type":"private"},"text":"ok"}}`))
	case "setWebhook":
		p.webhooks = append(p.webhooks, map[string]string{
			"url":          r.PostForm.Get("url"),
			"secret_token": r.PostForm.Get("secret_token"),
		})
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	case "deleteMessage", "deleteWebhook":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (p *fakePlatform) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakePlatform) registeredWebhooks() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.webhooks...)
}

func testConfig(p *fakePlatform) config.Config {
	obs := observability.DefaultConfig()
	obs.Logging.Output = io.Discard
	cfg := config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", RateLimitRPM: 600, RateLimitBurst: 50},
		Relay: config.RelayConfig{
			LinkBaseURL:   "https://links.example/imeg",
			HTTPTimeout:   5 * time.Second,
			MaxConcurrent: 2,
		},
		Store:         config.StoreConfig{Retention: time.Hour, SweepInterval: time.Minute},
		Observability: obs,
	}
	if p != nil {
		cfg.Telegram = config.TelegramConfig{
			Token:        testToken,
			SecretToken:  "hook-secret",
			APIEndpoint:  p.server.URL + "/bot%s/%s",
			FileEndpoint: p.server.URL + "/file",
		}
		cfg.Relay.UploadURL = p.server.URL + "/upload"
		cfg.Relay.HostBaseURL = p.server.URL
	}
	return cfg
}

func buildApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	obs, err := observability.New(cfg.Observability)
	require.NoError(t, err)
	t.Cleanup(func() { _ = obs.Shutdown(context.Background()) })

	app, err := Build(context.Background(), cfg, obs)
	require.NoError(t, err)
	return app
}

// serveApp runs app on a loopback listener and returns its base URL.
func serveApp(t *testing.T, app *App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	return "http://" + ln.Addr().String()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestBuildServerOnlyWithoutToken(t *testing.T) {
	app := buildApp(t, testConfig(nil))

	assert.Nil(t, app.Client)
	assert.Nil(t, app.Gateway)
	assert.True(t, app.Degraded.IsEmpty())

	base := serveApp(t, app)
	status, body := get(t, base+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "not configured")

	app.Store.Put("abc", "file-1", time.Now())
	status, body = get(t, base+"/image/abc")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Bot not configured", body)
}

func TestBuildDegradesWhenTokenRejected(t *testing.T) {
	platform := newFakePlatform(t)
	platform.rejectMe = true

	app := buildApp(t, testConfig(platform))

	assert.Nil(t, app.Client)
	assert.Nil(t, app.Gateway)
	assert.Contains(t, app.Degraded.Names(), "telegram")

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)

	platform.mu.Lock()
	assert.Equal(t, 1, platform.getMes)
	platform.mu.Unlock()

	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "✅ Bot is running!", resp.Body.String())
}

func TestBuildRetriesTransientPlatformFailure(t *testing.T) {
	platform := newFakePlatform(t)
	platform.meErrors = 1

	app := buildApp(t, testConfig(platform))

	require.NotNil(t, app.Client)
	require.NotNil(t, app.Gateway)
	assert.True(t, app.Degraded.IsEmpty())
	platform.mu.Lock()
	assert.Equal(t, 2, platform.getMes)
	platform.mu.Unlock()

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "✅ Bot is running!", resp.Body.String())
}

func TestPollingRelaysPhotoAndServesLink(t *testing.T) {
	platform := newFakePlatform(t)
	app := buildApp(t, testConfig(platform))
	require.NotNil(t, app.Gateway)
	base := serveApp(t, app)

	linkPattern := regexp.MustCompile(`https://links\.example/imeg/([0-9a-f]{16})\.jpg`)
	var shortID string
	require.Eventually(t, func() bool {
		for _, text := range platform.messages() {
			if m := linkPattern.FindStringSubmatch(text); m != nil {
				shortID = m[1]
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	platform.mu.Lock()
	assert.Equal(t, 1, platform.uploads)
	platform.mu.Unlock()

	record, err := app.Store.Get(shortID)
	require.NoError(t, err)
	assert.Equal(t, "big", record.FileRef)

	status, body := get(t, base+"/image/"+shortID)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "jpeg-bytes", body)

	status, _ = get(t, base+"/imeg/"+shortID+".jpg")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, base+"/image/0000000000000000")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWebhookModeRegistersAndAcceptsUpdates(t *testing.T) {
	platform := newFakePlatform(t)
	cfg := testConfig(platform)
	cfg.Telegram.WebhookURL = "https://relay.example"

	app := buildApp(t, cfg)
	base := serveApp(t, app)

	require.Eventually(t, func() bool { return len(platform.registeredWebhooks()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]string{
		"url":          "https://relay.example/webhook",
		"secret_token": "hook-secret",
	}, platform.registeredWebhooks()[0])

	update := `{"update_id":9,"message":{"message_id":3,"date":1700000000,"chat":{"id":5,"type":"private"},` +
		`"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`

	req, err := http.NewRequest(http.MethodPost, base+"/webhook", strings.NewReader(update))
	require.NoError(t, err)
	req.Header.Set(tgchannel.SecretHeader, "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, base+"/webhook", strings.NewReader(update))
	require.NoError(t, err)
	req.Header.Set(tgchannel.SecretHeader, "hook-secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		for _, text := range platform.messages() {
			if strings.Contains(text, "Photo link bot") {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
