package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123456:TEST-token"

type fakeBotAPI struct {
	mu       sync.Mutex
	forms    map[string][]map[string]string
	getFiles atomic.Int32
	getMes   atomic.Int32
	// meFailures is the number of getMe calls answered with 502 before success.
	meFailures atomic.Int32
	rejectMe   atomic.Bool
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	api := &fakeBotAPI{forms: map[string][]map[string]string{}}
	server := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(server.Close)
	return api, server
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/") {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/bot"+testToken+"/") {
		http.NotFound(w, r)
		return
	}
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	form := map[string]string{}
	for key := range r.PostForm {
		form[key] = r.PostForm.Get(key)
	}
	f.mu.Lock()
	f.forms[method] = append(f.forms[method], form)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		f.getMes.Add(1)
		if f.rejectMe.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		if f.meFailures.Add(-1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`))
	case "getFile":
		f.getFiles.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"` + form["file_id"] + `","file_unique_id":"u1","file_size":10,"file_path":"photos/file_1.jpg"}}`))
	case "sendMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":77,"date":1700000000,"chat":{"id":5,"type":"private"},"text":"hi"}}`))
	case "deleteMessage", "setWebhook", "deleteWebhook":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (f *fakeBotAPI) lastForm(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	forms := f.forms[method]
	if len(forms) == 0 {
		return nil
	}
	return forms[len(forms)-1]
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{
		Token:        testToken,
		APIEndpoint:  server.URL + "/bot%s/%s",
		FileEndpoint: server.URL + "/file/",
		HTTPClient:   server.Client(),
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Token: "  "}, nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClientAuthorizes(t *testing.T) {
	_, server := newFakeBotAPI(t)
	client := newTestClient(t, server)
	assert.Equal(t, "relay_bot", client.Username())
}

func TestNewClientRetriesTransientFailures(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.meFailures.Store(1)

	client := newTestClient(t, server)
	assert.Equal(t, "relay_bot", client.Username())
	assert.Equal(t, int32(2), api.getMes.Load())
}

func TestNewClientFailsFastOnRejectedToken(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.rejectMe.Store(true)

	_, err := NewClient(context.Background(), Config{
		Token:       testToken,
		APIEndpoint: server.URL + "/bot%s/%s",
		HTTPClient:  server.Client(),
	}, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
	assert.Equal(t, int32(1), api.getMes.Load())
}

func TestNewClientStopsRetryingWhenCancelled(t *testing.T) {
	api, server := newFakeBotAPI(t)
	api.meFailures.Store(1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(ctx, Config{
		Token:       testToken,
		APIEndpoint: server.URL + "/bot%s/%s",
		HTTPClient:  server.Client(),
	}, nil)
	require.Error(t, err)
	assert.LessOrEqual(t, api.getMes.Load(), int32(1))
}

func TestFileURLResolvesAndCaches(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	url, err := client.FileURL(context.Background(), "file-abc")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/file/bot"+testToken+"/photos/file_1.jpg", url)
	assert.Equal(t, "file-abc", api.lastForm("getFile")["file_id"])

	again, err := client.FileURL(context.Background(), "file-abc")
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, int32(1), api.getFiles.Load())

	file, err := NewDownloader(server.Client()).Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(file.Data))
}

func TestFileURLRejectsEmptyReference(t *testing.T) {
	_, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	_, err := client.FileURL(context.Background(), "")
	require.Error(t, err)
}

func TestSendReplyWithHTML(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	id, err := client.Send(context.Background(), OutgoingMessage{ChatID: 5, Text: "link", ReplyTo: 10, HTML: true})
	require.NoError(t, err)
	assert.Equal(t, 77, id)

	form := api.lastForm("sendMessage")
	assert.Equal(t, "5", form["chat_id"])
	assert.Equal(t, "link", form["text"])
	assert.Equal(t, "10", form["reply_to_message_id"])
	assert.Equal(t, "HTML", form["parse_mode"])
}

func TestSendPlainOmitsReplyAndParseMode(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	_, err := client.Send(context.Background(), OutgoingMessage{ChatID: 5, Text: "processing"})
	require.NoError(t, err)

	form := api.lastForm("sendMessage")
	assert.NotContains(t, form, "reply_to_message_id")
	assert.NotContains(t, form, "parse_mode")
}

func TestSendHonoursCancelledContext(t *testing.T) {
	_, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Send(ctx, OutgoingMessage{ChatID: 5, Text: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeleteMessage(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	require.NoError(t, client.DeleteMessage(context.Background(), 5, 77))
	form := api.lastForm("deleteMessage")
	assert.Equal(t, "5", form["chat_id"])
	assert.Equal(t, "77", form["message_id"])
}

func TestRegisterWebhookSendsSecret(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	require.NoError(t, client.RegisterWebhook(context.Background(), "https://relay.example/webhook", "s3cret"))
	form := api.lastForm("setWebhook")
	assert.Equal(t, "https://relay.example/webhook", form["url"])
	assert.Equal(t, "s3cret", form["secret_token"])
}

func TestDeleteWebhook(t *testing.T) {
	api, server := newFakeBotAPI(t)
	client := newTestClient(t, server)

	require.NoError(t, client.DeleteWebhook(context.Background()))
	assert.NotNil(t, api.lastForm("deleteWebhook"))
}

func TestTransportErrorsDoNotLeakToken(t *testing.T) {
	_, server := newFakeBotAPI(t)
	client := newTestClient(t, server)
	server.Close()

	_, err := client.Send(context.Background(), OutgoingMessage{ChatID: 5, Text: "x"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)

	err = client.DeleteMessage(context.Background(), 5, 1)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
}
