package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"snuwiki/api/internal/account"
	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	accounts   *account.Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, accounts *account.Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, accounts: accounts, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" {
		switch {
		case parts[1] == "w" && len(parts) >= 3 && r.Method == http.MethodGet:
			s.handleGetDocument(w, r, joinSidPath(parts[2:]))
			return
		case parts[1] == "e" && len(parts) >= 3 && r.Method == http.MethodPost:
			s.handleEditDocument(w, r, joinSidPath(parts[2:]))
			return
		case parts[1] == "list" && len(parts) == 3 && r.Method == http.MethodGet:
			s.handleList(w, r, parts[2])
			return
		case parts[1] == "need" && len(parts) == 3 && r.Method == http.MethodGet:
			s.handleNeeded(w, r, parts[2])
			return
		case parts[1] == "recent" && len(parts) == 2 && r.Method == http.MethodGet:
			s.handleRecent(w, r)
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "No such route", nil)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, rawSid string) {
	view, err := s.service.GetDocument(r.Context(), rawSid, requesterIdx(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentPayload(view))
}

func (s *HTTPServer) handleEditDocument(w http.ResponseWriter, r *http.Request, rawSid string) {
	var body struct {
		EditRequest
		UserIdx int64 `json:"user_idx"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	result, err := s.service.EditDocument(r.Context(), rawSid, body.EditRequest, body.UserIdx)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request, doctype string) {
	page, limit := pageParams(r)
	list, err := s.service.ListDocuments(r.Context(), doctype, page, limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(list.Items))
	for _, d := range list.Items {
		items = append(items, docRawPayload(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": list.Total, "page": page})
}

func (s *HTTPServer) handleNeeded(w http.ResponseWriter, r *http.Request, doctype string) {
	page, limit := pageParams(r)
	list, err := s.service.NeededDocuments(r.Context(), doctype, page, limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(list.Items))
	for _, n := range list.Items {
		item := map[string]any{
			"sid":     n.Sid,
			"type":    n.Type,
			"name":    n.Name,
			"ref_cnt": n.RefCnt,
		}
		if n.LastRef != nil {
			item["last_ref"] = n.LastRef
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": list.Total, "page": page})
}

func (s *HTTPServer) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.RecentChanges(r.Context(), limit)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, d := range items {
		payload = append(payload, docRawPayload(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": payload})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	a, err := s.accounts.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountPayload(a))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	a, err := s.accounts.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountPayload(a))
}

// requesterIdx decodes the request identity. Token verification happens in
// front of this service; absent identity is anonymous.
func requesterIdx(r *http.Request) int64 {
	raw := r.Header.Get("X-User-Idx")
	if raw == "" {
		raw = r.URL.Query().Get("user_idx")
	}
	idx, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || idx < 0 {
		return acl.Anonymous
	}
	return idx
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

// joinSidPath reassembles a sid path segment. net/http already
// percent-decodes the path; a trailing empty segment from "/api/w/foo/" is
// dropped here.
func joinSidPath(parts []string) string {
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return strings.Join(parts, "/")
}

func documentPayload(view *DocumentView) map[string]any {
	doc := view.Doc
	payload := map[string]any{
		"id":      doc.ID,
		"sid":     doc.Sid,
		"type":    string(doc.Type),
		"name":    doc.Name,
		"display": view.Display,
		"rud":     uint8(view.Perms),
		"mtime":   doc.Mtime,
		"ctime":   doc.Ctime,
		"refs":    doc.Refs,
		"links":   doc.Links,
	}
	if doc.AclID != nil {
		payload["acl_id"] = *doc.AclID
	}
	switch {
	case doc.Article != nil:
		payload["content_md"] = doc.Article.ContentMD
		payload["toc"] = doc.Article.Toc
		payload["namespaces"] = doc.Article.Namespaces
		payload["rendered"] = view.Rendered
	case doc.User != nil:
		payload["content_md"] = doc.User.ContentMD
		payload["toc"] = doc.User.Toc
		payload["user_idx"] = doc.User.UserIdx
		payload["rendered"] = view.Rendered
	case doc.Group != nil:
		payload["content_md"] = doc.Group.ContentMD
		payload["toc"] = doc.Group.Toc
		payload["members"] = doc.Group.Members
		payload["rendered"] = view.Rendered
	case doc.Acl != nil:
		entries := make([]map[string]any, 0, len(doc.Acl.Entries))
		for _, e := range doc.Acl.Entries {
			entry := map[string]any{
				"target_t":  e.TargetT,
				"target_id": e.TargetID,
				"rud_mask":  uint8(e.Mask),
				"allow":     e.Allow,
			}
			if e.TargetSid != nil {
				entry["target_sid"] = *e.TargetSid
			}
			entries = append(entries, entry)
		}
		payload["entries"] = entries
	}
	return payload
}

func docRawPayload(d store.DocRaw) map[string]any {
	payload := map[string]any{
		"id":    d.ID,
		"sid":   d.Sid,
		"type":  string(d.Type),
		"name":  d.Name,
		"mtime": d.Mtime,
		"ctime": d.Ctime,
	}
	if d.AclID != nil {
		payload["acl_id"] = *d.AclID
	}
	return payload
}

func accountPayload(a *store.Account) map[string]any {
	payload := map[string]any{
		"idx":       a.Idx,
		"email":     a.Email,
		"certified": a.Certified,
		"ctime":     a.Ctime,
	}
	if a.Name != nil {
		payload["name"] = *a.Name
	}
	return payload
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "req-unknown"
	}
	return hex.EncodeToString(buf)
}

func setCORSHeaders(h http.Header, origin string) {
	if origin == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Idx, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
