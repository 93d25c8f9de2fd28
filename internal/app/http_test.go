package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/sid"
	"snuwiki/api/internal/store"
)

func newTestServer(st *fakeStore, perms *fakePerms) *HTTPServer {
	svc := NewService(st, perms)
	return NewHTTPServer(svc, nil, "http://localhost:3000", zerolog.Nop())
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealthRoute(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePerms{}).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeJSON(t, rec)["ok"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetDocumentRoute(t *testing.T) {
	st := &fakeStore{
		hydrateFn: func(_ context.Context, s string) (*store.Document, error) {
			require.Equal(t, "article:hello world", s)
			return articleDoc("article:hello world", "# Hi"), nil
		},
	}
	h := newTestServer(st, &fakePerms{mask: acl.Full}).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/w/article:hello%20world?user_idx=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeJSON(t, rec)
	require.Equal(t, "article:hello world", payload["sid"])
	require.Equal(t, "hello world", payload["display"])
	require.Equal(t, float64(acl.Full), payload["rud"])
	require.Equal(t, "# Hi", payload["content_md"])
}

func TestGetDocumentRouteMapsDomainErrors(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePerms{mask: acl.Full}).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/w/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeJSON(t, rec)["code"])
}

func TestEditDocumentRoute(t *testing.T) {
	var saved store.SetDocument
	st := &fakeStore{
		setDocumentFn: func(_ context.Context, in store.SetDocument) (int64, error) {
			saved = in
			return 7, nil
		},
	}
	h := newTestServer(st, &fakePerms{mask: acl.Full}).Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/e/intro",
		`{"content_md":"# Hi [setup]()","user_idx":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	payload := decodeJSON(t, rec)
	require.Equal(t, "article:intro", payload["sid"])
	require.Equal(t, true, payload["created"])
	require.Equal(t, []string{"article:setup"}, saved.Refs)
}

func TestEditDocumentRouteRejectsBadBody(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePerms{mask: acl.Full}).Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/e/intro", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_body", decodeJSON(t, rec)["code"])
}

func TestListRouteValidatesType(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePerms{}).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/list/bogus", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "unsupported_type", decodeJSON(t, rec)["code"])
}

func TestNeededRoute(t *testing.T) {
	st := &fakeStore{
		listNeededFn: func(context.Context, sid.DocType, int, int) ([]store.NeededDoc, int, error) {
			return []store.NeededDoc{{Sid: "article:setup", Type: "article", Name: "setup", RefCnt: 2}}, 1, nil
		},
	}
	h := newTestServer(st, &fakePerms{}).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/need/article", "")
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeJSON(t, rec)
	require.Equal(t, float64(1), payload["total"])
	items := payload["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "article:setup", items[0].(map[string]any)["sid"])
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePerms{}).Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequesterIdx(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/w/x", nil)
	require.Equal(t, acl.Anonymous, requesterIdx(req))

	req = httptest.NewRequest(http.MethodGet, "/api/w/x?user_idx=5", nil)
	require.Equal(t, int64(5), requesterIdx(req))

	req = httptest.NewRequest(http.MethodGet, "/api/w/x?user_idx=-2", nil)
	require.Equal(t, acl.Anonymous, requesterIdx(req))

	req = httptest.NewRequest(http.MethodGet, "/api/w/x", nil)
	req.Header.Set("X-User-Idx", "8")
	require.Equal(t, int64(8), requesterIdx(req))
}
