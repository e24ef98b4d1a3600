package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/edustats/internal/blob"
	"github.com/ashita-ai/edustats/internal/testutil"
)

func testOptions(base string) Options {
	return Options{
		BaseURL: base,
		Paths: map[string]string{
			"results":   "sb_ca{year}_all.zip",
			"locations": "entities_{yy}.zip",
			"subgroups": "StudentGroups.zip",
			"tests":     "Tests.zip",
		},
		Timeout:     time.Second,
		MaxAttempts: 4,
		Backoff:     time.Millisecond,
	}
}

func TestResolveURL(t *testing.T) {
	opts := testOptions("https://example.test/files/")
	got, err := ResolveURL(opts.BaseURL, opts.Paths, 2023, CategoryResults)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/files/sb_ca2023_all.zip", got)

	got, err = ResolveURL(opts.BaseURL, opts.Paths, 2019, CategoryLocations)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/files/entities_19.zip", got)

	_, err = ResolveURL(opts.BaseURL, map[string]string{}, 2019, CategoryTests)
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Results ")
	require.NoError(t, err)
	assert.Equal(t, CategoryResults, c)
	assert.True(t, c.Required())
	assert.False(t, CategoryTests.Required())

	_, err = ParseCategory("scores")
	assert.Error(t, err)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	f := New(testOptions(srv.URL), nil, nil, testutil.TestLogger())
	p, err := f.Fetch(context.Background(), 2023, CategoryResults)
	require.NoError(t, err)
	assert.Equal(t, "body", string(p.Body))
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, p.Hash, 64)
}

func TestFetchRetriesTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.Timeout = 50 * time.Millisecond
	f := New(opts, nil, nil, testutil.TestLogger())
	p, err := f.Fetch(context.Background(), 2023, CategoryTests)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(p.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(testOptions(srv.URL), nil, nil, testutil.TestLogger())
	_, err := f.Fetch(context.Background(), 2014, CategoryResults)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindNotFound, fe.Kind)
	assert.False(t, fe.Temporary())
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(testOptions(srv.URL), nil, nil, testutil.TestLogger())
	_, err := f.Fetch(context.Background(), 2023, CategoryResults)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindStatus, fe.Kind)
	assert.Equal(t, http.StatusForbidden, fe.Status)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRejectsHTMLErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	f := New(testOptions(srv.URL), nil, nil, testutil.TestLogger())
	_, err := f.Fetch(context.Background(), 2023, CategoryResults)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindContentType, fe.Kind)
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(testOptions(srv.URL), nil, nil, testutil.TestLogger())
	_, err := f.Fetch(context.Background(), 2023, CategoryResults)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindExhausted, fe.Kind)
	assert.Equal(t, 4, fe.Attempts)
	assert.True(t, fe.Temporary())
	assert.Equal(t, int32(4), hits.Load())
}

func TestFetchTransportFailureAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := New(testOptions(url), nil, nil, testutil.TestLogger())
	_, err := f.Fetch(context.Background(), 2023, CategoryResults)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTransport, fe.Kind)
	assert.Zero(t, fe.Status)
	assert.Equal(t, 4, fe.Attempts)
	assert.Error(t, fe.Err)
	assert.True(t, fe.Temporary())
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestFetchStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := testOptions(srv.URL)
	opts.Backoff = time.Hour
	f := New(opts, nil, nil, testutil.TestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, 2023, CategoryResults)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchConditionalRequestUsesCache(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("payload-v1"))
	}))
	defer srv.Close()

	m, err := OpenManifest(":memory:")
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	cache := blob.NewMemory()
	f := New(testOptions(srv.URL), cache, m, testutil.TestLogger())
	ctx := context.Background()

	first, err := f.Fetch(ctx, 2023, CategoryResults)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, cache.Len())

	e, ok, err := m.Lookup(ctx, 2023, CategoryResults)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v1"`, e.ETag)
	assert.Equal(t, first.Hash, e.Hash)

	second, err := f.Fetch(ctx, 2023, CategoryResults)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, int32(1), notModified.Load())
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 1, cache.Len(), "cache is content addressed")
}

func TestExtract(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"readme.pdf":        "not text",
		"small.txt":         "a^b",
		"sb_ca2023_all.txt": "county_code^district_code\n01^61119\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	got, err := Extract(Payload{Year: 2023, Category: CategoryResults, Body: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, "county_code^district_code\n01^61119\n", string(got))

	plain, err := Extract(Payload{Body: []byte("a,b\n1,2\n")})
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(plain))
}

func TestExtractWithoutTextMember(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("layout.pdf")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())

	_, err = Extract(Payload{Body: buf.Bytes()})
	assert.Error(t, err)
}
