package judge0

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJudge struct {
	t           *testing.T
	statuses    []Status
	polls       atomic.Int32
	created     createRequest
	createCode  int
	stdout      string
	compileOut  string
	lastAuthKey string
}

func (f *fakeJudge) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodPost, r.Method)
		assert.Equal(f.t, "true", r.URL.Query().Get("base64_encoded"))
		assert.Equal(f.t, "false", r.URL.Query().Get("wait"))
		f.lastAuthKey = r.Header.Get("X-Auth-Token")

		if f.createCode != 0 {
			w.WriteHeader(f.createCode)
			_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
			return
		}

		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.created))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/submissions/tok-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, http.MethodGet, r.Method)
		assert.Equal(f.t, "true", r.URL.Query().Get("base64_encoded"))

		poll := int(f.polls.Add(1))
		status := f.statuses[len(f.statuses)-1]
		if poll <= len(f.statuses) {
			status = f.statuses[poll-1]
		}

		body := map[string]interface{}{
			"token":  "tok-1",
			"status": status,
			"time":   "0.042",
			"memory": 3120,
		}
		if status.ID >= StatusAccepted {
			body["stdout"] = wrap60(base64.StdEncoding.EncodeToString([]byte(f.stdout)))
			if f.compileOut != "" {
				body["compile_output"] = base64.StdEncoding.EncodeToString([]byte(f.compileOut))
			}
		} else {
			body["stdout"] = nil
			body["time"] = nil
			body["memory"] = nil
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

func wrap60(value string) string {
	var b strings.Builder
	for len(value) > 60 {
		b.WriteString(value[:60])
		b.WriteString("\n")
		value = value[60:]
	}
	b.WriteString(value)
	return b.String()
}

func newTestClient(t *testing.T, server *httptest.Server, maxPolls int) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:      server.URL + "/",
		APIKey:       "key-123",
		PollInterval: 5 * time.Millisecond,
		MaxPolls:     maxPolls,
		HTTPClient:   server.Client(),
	})
	require.NoError(t, err)
	return client
}

func TestExecuteReturnsOnFirstTerminalPoll(t *testing.T) {
	longOutput := strings.Repeat("hello world ", 20)
	fake := &fakeJudge{t: t, statuses: []Status{{ID: StatusAccepted, Description: "Accepted"}}, stdout: longOutput}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server, 10)

	started := time.Now()
	result, err := client.Execute(context.Background(), Request{Language: "Python", Source: "print('hi')", Stdin: "5"})
	require.NoError(t, err)
	require.Less(t, time.Since(started), 500*time.Millisecond)

	require.Equal(t, int32(1), fake.polls.Load())
	require.Equal(t, 71, fake.created.LanguageID)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("print('hi')")), fake.created.SourceCode)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("5")), fake.created.Stdin)
	require.Equal(t, "key-123", fake.lastAuthKey)

	require.Equal(t, longOutput, result.Stdout)
	require.Equal(t, StatusAccepted, result.Status.ID)
	require.Equal(t, "Accepted", result.Status.Description)
	require.InDelta(t, 0.042, result.Time, 1e-9)
	require.Equal(t, 3120, result.Memory)
	require.True(t, result.Succeeded())
}

func TestExecutePollsUntilTerminal(t *testing.T) {
	fake := &fakeJudge{t: t, statuses: []Status{
		{ID: StatusInQueue, Description: "In Queue"},
		{ID: StatusProcessing, Description: "Processing"},
		{ID: StatusCompilationError, Description: "Compilation Error"},
	}, compileOut: "main.c:1: error"}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server, 10)

	result, err := client.Execute(context.Background(), Request{Language: "c", Source: "int main("})
	require.NoError(t, err)
	require.Equal(t, int32(3), fake.polls.Load())
	require.Equal(t, StatusCompilationError, result.Status.ID)
	require.Equal(t, "main.c:1: error", result.CompileOutput)
	require.False(t, result.Succeeded())
}

func TestExecuteReturnsLastPollOnExhaustion(t *testing.T) {
	fake := &fakeJudge{t: t, statuses: []Status{{ID: StatusProcessing, Description: "Processing"}}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server, 10)

	result, err := client.Execute(context.Background(), Request{Language: "go", Source: "package main"})
	require.ErrorIs(t, err, ErrPollTimeout)
	require.Equal(t, int32(10), fake.polls.Load())
	require.Equal(t, StatusProcessing, result.Status.ID)
	require.Equal(t, "tok-1", result.Token)
	require.False(t, result.IsTerminal())
}

func TestExecutePropagatesHTTPErrors(t *testing.T) {
	fake := &fakeJudge{t: t, createCode: http.StatusTooManyRequests}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server, 10)

	_, err := client.Execute(context.Background(), Request{Language: "java", Source: "class Main {}"})
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	require.Zero(t, fake.polls.Load())
}

func TestExecuteRejectsUnsupportedLanguage(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "http://judge.invalid"})
	require.NoError(t, err)

	_, err = client.Execute(context.Background(), Request{Language: "cobol", Source: "DISPLAY 'HI'."})
	require.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestExecuteHonoursCancellation(t *testing.T) {
	fake := &fakeJudge{t: t, statuses: []Status{{ID: StatusInQueue, Description: "In Queue"}}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, PollInterval: time.Hour, HTTPClient: server.Client()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Execute(ctx, Request{Language: "ruby", Source: "puts 1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
