// Package app is the request-facing wiki core: permission-gated document
// reads and saves over the store, plus the thin HTTP layer.
package app

import (
	"context"
	"fmt"

	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/content"
	"snuwiki/api/internal/sid"
	"snuwiki/api/internal/store"
)

// dataStore is the slice of the document store the service consumes.
type dataStore interface {
	Ping(ctx context.Context) error
	GetBySid(ctx context.Context, docSid string) (*store.DocRaw, error)
	Hydrate(ctx context.Context, sidOrName string) (*store.Document, error)
	SetDocument(ctx context.Context, in store.SetDocument) (int64, error)
	ListByType(ctx context.Context, doctype sid.DocType, page, limit int) ([]store.DocRaw, int, error)
	ListRecent(ctx context.Context, limit int) ([]store.DocRaw, error)
	ListNeeded(ctx context.Context, doctype sid.DocType, page, limit int) ([]store.NeededDoc, int, error)
}

// permissionResolver computes the effective RUD mask for an identity.
type permissionResolver interface {
	Resolve(ctx context.Context, aclID *int64, userIdx int64) (acl.Rud, error)
}

type Service struct {
	store dataStore
	perms permissionResolver
}

func NewService(store dataStore, perms permissionResolver) *Service {
	return &Service{store: store, perms: perms}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DocumentView is a hydrated document together with the requester's
// effective permissions.
type DocumentView struct {
	Doc     *store.Document
	Perms   acl.Rud
	Display string
	// Rendered is the markdown with the toc placeholder and empty wiki
	// links substituted, for article-like documents.
	Rendered string
}

// GetDocument loads a document for an identity. The permission mask is
// always computed in full and then checked, never short-circuited.
func (s *Service) GetDocument(ctx context.Context, sidOrName string, userIdx int64) (*DocumentView, error) {
	docSid, err := resolveSid(sidOrName)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.Hydrate(ctx, docSid)
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", docSid, err)
	}
	if doc == nil {
		return nil, errNotFound(docSid)
	}

	perms, err := s.perms.Resolve(ctx, doc.AclID, userIdx)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for %s: %w", docSid, err)
	}
	if !perms.Read() {
		return nil, errNoReadPermission()
	}

	view := &DocumentView{Doc: doc, Perms: perms, Display: sid.DisplayName(doc.Sid)}
	if contentMD, toc, ok := articleLike(doc); ok {
		view.Rendered = content.Render(contentMD, toc)
	}
	return view, nil
}

func articleLike(doc *store.Document) (contentMD, toc string, ok bool) {
	switch {
	case doc.Article != nil:
		return doc.Article.ContentMD, doc.Article.Toc, true
	case doc.User != nil:
		return doc.User.ContentMD, doc.User.Toc, true
	case doc.Group != nil:
		return doc.Group.ContentMD, doc.Group.Toc, true
	}
	return "", "", false
}

// EditRequest is the decoded save payload. Which fields are honored depends
// on the document type named by the sid.
type EditRequest struct {
	// ContentMD is the raw markdown for article, user and group documents;
	// toc and outgoing refs are derived from it.
	ContentMD string `json:"content_md"`
	// AclID attaches an ACL; nil keeps the current one on update.
	AclID *int64 `json:"acl_id"`
	// Refs are the member sids of a namespace document.
	Refs []string `json:"refs"`
	// UserIdxReq is the account a user document represents; 0 means the
	// requester itself.
	UserIdxReq int64 `json:"user_idx_req"`
	// Members is the full member set of a group document.
	Members []int64 `json:"members"`
	// Entries is the full rule list of an acl document.
	Entries []EditAclEntry `json:"entries"`
}

type EditAclEntry struct {
	TargetSid string `json:"target_sid"`
	Mask      uint8  `json:"rud_mask"`
	Allow     bool   `json:"allow"`
}

type EditResult struct {
	ID      int64  `json:"id"`
	Sid     string `json:"sid"`
	Created bool   `json:"created"`
}

// EditDocument saves the desired new state of one document. The update gate
// runs against the document's current ACL; a document that does not exist
// yet is unrestricted, so anyone may create it.
func (s *Service) EditDocument(ctx context.Context, sidOrName string, req EditRequest, userIdx int64) (*EditResult, error) {
	docSid, err := resolveSid(sidOrName)
	if err != nil {
		return nil, err
	}
	doctype := sid.TypeOf(docSid)
	name := sid.NameOf(docSid)

	current, err := s.store.GetBySid(ctx, docSid)
	if err != nil {
		return nil, fmt.Errorf("load current %s: %w", docSid, err)
	}

	var currentAcl *int64
	if current != nil {
		currentAcl = current.AclID
	}
	perms, err := s.perms.Resolve(ctx, currentAcl, userIdx)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for %s: %w", docSid, err)
	}
	if !perms.Update() {
		return nil, errNoUpdatePermission()
	}

	in := store.SetDocument{
		Type:  doctype,
		Name:  name,
		AclID: req.AclID,
	}
	if in.AclID == nil && current != nil {
		in.AclID = current.AclID
	}

	switch doctype {
	case sid.TypeArticle:
		in.ContentMD = req.ContentMD
		in.Toc = content.ExtractToc(req.ContentMD)
		in.Refs = content.ExtractRefs(req.ContentMD)

	case sid.TypeNamespace:
		in.Refs = normalizeRefs(req.Refs)

	case sid.TypeUser:
		target := req.UserIdxReq
		if target == 0 {
			target = userIdx
		}
		// A user document can only be created by the account it names;
		// repointing an existing one goes through its own ACL.
		if current == nil && target != userIdx {
			return nil, errInvalidUserIdxReq()
		}
		in.UserIdx = target
		in.ContentMD = req.ContentMD
		in.Toc = content.ExtractToc(req.ContentMD)
		in.Refs = content.ExtractRefs(req.ContentMD)

	case sid.TypeGroup:
		in.Members = req.Members
		in.ContentMD = req.ContentMD
		in.Toc = content.ExtractToc(req.ContentMD)
		in.Refs = content.ExtractRefs(req.ContentMD)

	case sid.TypeACL:
		entries := make([]store.SetAclEntry, 0, len(req.Entries))
		refs := make([]string, 0, len(req.Entries))
		for _, e := range req.Entries {
			entries = append(entries, store.SetAclEntry{
				TargetSid: e.TargetSid,
				Mask:      acl.Rud(e.Mask) & acl.Full,
				Allow:     e.Allow,
			})
			refs = append(refs, e.TargetSid)
		}
		in.Entries = entries
		in.Refs = refs
	}

	id, err := s.store.SetDocument(ctx, in)
	if err != nil {
		return nil, err
	}
	return &EditResult{ID: id, Sid: docSid, Created: current == nil}, nil
}

// DocumentList is one page of the per-type document listing.
type DocumentList struct {
	Items []store.DocRaw
	Total int
}

func (s *Service) ListDocuments(ctx context.Context, doctype string, page, limit int) (*DocumentList, error) {
	typ, ok := sid.NormalizeType(doctype)
	if !ok {
		return nil, errUnsupportedType(doctype)
	}
	items, total, err := s.store.ListByType(ctx, typ, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", typ, err)
	}
	return &DocumentList{Items: items, Total: total}, nil
}

// NeededList is one page of the dangling-reference report.
type NeededList struct {
	Items []store.NeededDoc
	Total int
}

func (s *Service) NeededDocuments(ctx context.Context, doctype string, page, limit int) (*NeededList, error) {
	typ, ok := sid.NormalizeType(doctype)
	if !ok {
		return nil, errUnsupportedType(doctype)
	}
	items, total, err := s.store.ListNeeded(ctx, typ, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list needed %s documents: %w", typ, err)
	}
	return &NeededList{Items: items, Total: total}, nil
}

func (s *Service) RecentChanges(ctx context.Context, limit int) ([]store.DocRaw, error) {
	items, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent documents: %w", err)
	}
	return items, nil
}

// resolveSid normalizes a path segment or raw sid into its canonical form
// and rejects unknown types.
func resolveSid(sidOrName string) (string, error) {
	docSid := sid.FromPath(sidOrName)
	typRaw, name, ok := sid.Parse(docSid)
	if !ok {
		return "", errInvalidSid(sidOrName)
	}
	typ, known := sid.NormalizeType(typRaw)
	if !known {
		return "", errInvalidSid(sidOrName)
	}
	return string(typ) + ":" + name, nil
}

func normalizeRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r == "" {
			continue
		}
		out = append(out, sid.FromPath(r))
	}
	return out
}
