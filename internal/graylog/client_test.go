package graylog

import (
	"context"
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

	"github.com/jmylchreest/aura/internal/config"
)

const sampleCSV = `"level"
"6"
"3"
"4"
"6"
"2"
"4"
""
"7"
`

func testConfig(host string) config.GraylogConfig {
	return config.GraylogConfig{
		Host:        host,
		APIToken:    "s3cr3t",
		RequestedBy: "aura-test",
		Streams:     []string{"000000000000000000000001", "abc"},
		Mean:        100,
		Timeout:     config.Duration(2 * time.Second),
		QueryMode:   config.QueryModeCombined,
	}
}

func TestSearch_Combined(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SearchPath, r.URL.Path)
		assert.Equal(t, "aura-test", r.Header.Get("X-Requested-By"))
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "s3cr3t", user)
		assert.Equal(t, "token", pass)

		var body searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"000000000000000000000001", "abc"}, body.Streams)
		assert.Equal(t, "relative", body.Timerange.Type)
		assert.Equal(t, 300, body.Timerange.Range)
		assert.Equal(t, []string{"level"}, body.FieldsInOrder)
		assert.Nil(t, body.QueryString)

		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	sample, err := client.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.NotEmpty(t, sample.ID)
	assert.Equal(t, 8, sample.Messages)
	assert.Equal(t, 3, sample.Errors) // 3, 2 and the row without a level
	assert.Equal(t, 2, sample.Warnings)
	assert.Greater(t, sample.Latency, time.Duration(0))
}

func TestSearch_Separate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var body searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body.QueryString == nil {
			_, _ = w.Write([]byte("level\n6\n6\n6\n6\n6\n3\n4\n"))
			return
		}
		assert.Equal(t, "elasticsearch", body.QueryString.Type)
		assert.Equal(t, "level:<=4", body.QueryString.QueryString)
		_, _ = w.Write([]byte("level\n3\n4\n4\n"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.QueryMode = config.QueryModeSeparate
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	sample, err := client.Search(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 7, sample.Messages)
	assert.Equal(t, 1, sample.Errors)
	assert.Equal(t, 2, sample.Warnings)
}

func TestSearch_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("level\n"))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	sample, err := client.Search(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sample.Messages)
	assert.Zero(t, sample.Errors)
	assert.Zero(t, sample.Warnings)
}

func TestSearch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	sample, err := client.Search(context.Background())
	require.Error(t, err)
	assert.Nil(t, sample)

	var rf *RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, http.StatusUnauthorized, rf.StatusCode)
	assert.Equal(t, "count", rf.Op)
	assert.Contains(t, err.Error(), "401")
}

func TestSearch_SeparateSecondRequestFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body searchRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.QueryString != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("level\n6\n"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.QueryMode = config.QueryModeSeparate
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	_, err = client.Search(context.Background())
	var rf *RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, "severity", rf.Op)
	assert.Equal(t, http.StatusInternalServerError, rf.StatusCode)
}

func TestSearch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(testConfig(url), nil)
	require.NoError(t, err)

	_, err = client.Search(context.Background())
	var rf *RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.Zero(t, rf.StatusCode)
	assert.Error(t, rf.Unwrap())
}

func TestSearch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = config.Duration(50 * time.Millisecond)
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	_, err = client.Search(context.Background())
	var rf *RequestFailure
	require.ErrorAs(t, err, &rf)
	assert.True(t, rf.Timeout())
}

func TestSearch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("level\n6\n"))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Search(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestParseLevels(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []int
	}{
		{"empty body", "", nil},
		{"header only", "level\n", nil},
		{"multiple columns", "timestamp,level,source\n2024-01-01T00:00:00Z,3,web\n2024-01-01T00:00:01Z,6,db\n", []int{3, 6}},
		{"case insensitive header", "Level\n4\n", []int{4}},
		{"missing level column", "timestamp\nx\ny\n", []int{0, 0}},
		{"garbage level", "level\nhigh\n 5 \n", []int{0, 5}},
		{"empty level", "timestamp,level\nx,\n", []int{0}},
		{"short row", "timestamp,level\nonly\n", []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLevels(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNewClient_InvalidHost(t *testing.T) {
	_, err := NewClient(testConfig(""), nil)
	assert.Error(t, err)
}

func TestNewClient_Endpoint(t *testing.T) {
	client, err := NewClient(testConfig("graylog.internal"), nil)
	require.NoError(t, err)
	assert.Equal(t, "http://graylog.internal:9000/api/views/search/messages", client.Endpoint())
}
