package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/sid"
	"snuwiki/api/internal/store"
)

type fakeStore struct {
	pingFn        func(context.Context) error
	getBySidFn    func(context.Context, string) (*store.DocRaw, error)
	hydrateFn     func(context.Context, string) (*store.Document, error)
	setDocumentFn func(context.Context, store.SetDocument) (int64, error)
	listByTypeFn  func(context.Context, sid.DocType, int, int) ([]store.DocRaw, int, error)
	listRecentFn  func(context.Context, int) ([]store.DocRaw, error)
	listNeededFn  func(context.Context, sid.DocType, int, int) ([]store.NeededDoc, int, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetBySid(ctx context.Context, docSid string) (*store.DocRaw, error) {
	if f.getBySidFn != nil {
		return f.getBySidFn(ctx, docSid)
	}
	return nil, nil
}

func (f *fakeStore) Hydrate(ctx context.Context, sidOrName string) (*store.Document, error) {
	if f.hydrateFn != nil {
		return f.hydrateFn(ctx, sidOrName)
	}
	return nil, nil
}

func (f *fakeStore) SetDocument(ctx context.Context, in store.SetDocument) (int64, error) {
	if f.setDocumentFn != nil {
		return f.setDocumentFn(ctx, in)
	}
	return 1, nil
}

func (f *fakeStore) ListByType(ctx context.Context, t sid.DocType, page, limit int) ([]store.DocRaw, int, error) {
	if f.listByTypeFn != nil {
		return f.listByTypeFn(ctx, t, page, limit)
	}
	return nil, 0, nil
}

func (f *fakeStore) ListRecent(ctx context.Context, limit int) ([]store.DocRaw, error) {
	if f.listRecentFn != nil {
		return f.listRecentFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeStore) ListNeeded(ctx context.Context, t sid.DocType, page, limit int) ([]store.NeededDoc, int, error) {
	if f.listNeededFn != nil {
		return f.listNeededFn(ctx, t, page, limit)
	}
	return nil, 0, nil
}

// fakePerms resolves every request to a fixed mask.
type fakePerms struct {
	mask acl.Rud
	err  error
	// calls records the acl ids the service asked about
	calls []*int64
}

func (f *fakePerms) Resolve(_ context.Context, aclID *int64, _ int64) (acl.Rud, error) {
	f.calls = append(f.calls, aclID)
	return f.mask, f.err
}

func articleDoc(docSid, contentMD string) *store.Document {
	return &store.Document{
		DocRaw:  store.DocRaw{ID: 1, Sid: docSid, Type: sid.TypeOf(docSid), Name: sid.NameOf(docSid)},
		Article: &store.ArticleData{ContentMD: contentMD},
	}
}

func TestGetDocumentReturnsViewWithPermissions(t *testing.T) {
	st := &fakeStore{
		hydrateFn: func(_ context.Context, s string) (*store.Document, error) {
			require.Equal(t, "article:hello", s)
			return articleDoc("article:hello", "# Hi"), nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	view, err := svc.GetDocument(context.Background(), "hello", 1)
	require.NoError(t, err)
	require.Equal(t, "hello", view.Display)
	require.Equal(t, acl.Full, view.Perms)
	require.Equal(t, "# Hi", view.Rendered)
}

func TestGetDocumentRendersEmptyWikiLinks(t *testing.T) {
	st := &fakeStore{
		hydrateFn: func(context.Context, string) (*store.Document, error) {
			return articleDoc("article:hello", "see [setup]()"), nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	view, err := svc.GetDocument(context.Background(), "hello", 1)
	require.NoError(t, err)
	require.Equal(t, "see [setup](/w/article:setup)", view.Rendered)
}

func TestGetDocumentNotFound(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakePerms{mask: acl.Full})

	_, err := svc.GetDocument(context.Background(), "missing", 1)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "not_found", domainErr.Code)
	require.Equal(t, 404, domainErr.Status)
}

func TestGetDocumentReadDenied(t *testing.T) {
	st := &fakeStore{
		hydrateFn: func(context.Context, string) (*store.Document, error) {
			return articleDoc("article:secret", "x"), nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.MaskUpdate | acl.MaskDelete})

	_, err := svc.GetDocument(context.Background(), "secret", 1)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "no_read_permission", domainErr.Code)
}

func TestGetDocumentRejectsUnknownType(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakePerms{mask: acl.Full})

	_, err := svc.GetDocument(context.Background(), "bogus:x", 1)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "invalid_sid", domainErr.Code)
}

func TestEditDocumentCreatesArticleWithDerivedFields(t *testing.T) {
	var saved store.SetDocument
	st := &fakeStore{
		setDocumentFn: func(_ context.Context, in store.SetDocument) (int64, error) {
			saved = in
			return 42, nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	result, err := svc.EditDocument(context.Background(), "intro", EditRequest{
		ContentMD: "# Hi\n\n[setup]() and [toc]()",
	}, 1)
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, int64(42), result.ID)
	require.Equal(t, "article:intro", result.Sid)

	require.Equal(t, sid.TypeArticle, saved.Type)
	require.Equal(t, "intro", saved.Name)
	require.Equal(t, []string{"article:setup"}, saved.Refs, "toc placeholder is not a ref")
	require.Contains(t, saved.Toc, `class="h1"`)
}

func TestEditDocumentUpdateGateUsesCurrentAcl(t *testing.T) {
	aclID := int64(9)
	perms := &fakePerms{mask: acl.MaskRead}
	st := &fakeStore{
		getBySidFn: func(context.Context, string) (*store.DocRaw, error) {
			return &store.DocRaw{ID: 1, Sid: "article:locked", Type: sid.TypeArticle, Name: "locked", AclID: &aclID}, nil
		},
	}
	svc := NewService(st, perms)

	_, err := svc.EditDocument(context.Background(), "locked", EditRequest{ContentMD: "x"}, 1)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "no_update_permission", domainErr.Code)
	require.Len(t, perms.calls, 1)
	require.Equal(t, &aclID, perms.calls[0])
}

func TestEditDocumentInheritsAclOnUpdate(t *testing.T) {
	aclID := int64(9)
	var saved store.SetDocument
	st := &fakeStore{
		getBySidFn: func(context.Context, string) (*store.DocRaw, error) {
			return &store.DocRaw{ID: 1, Sid: "article:a", Type: sid.TypeArticle, Name: "a", AclID: &aclID}, nil
		},
		setDocumentFn: func(_ context.Context, in store.SetDocument) (int64, error) {
			saved = in
			return 1, nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	result, err := svc.EditDocument(context.Background(), "a", EditRequest{ContentMD: "x"}, 1)
	require.NoError(t, err)
	require.False(t, result.Created)
	require.Equal(t, &aclID, saved.AclID)
}

func TestEditDocumentUserClaimGuard(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakePerms{mask: acl.Full})

	_, err := svc.EditDocument(context.Background(), "user:alice", EditRequest{UserIdxReq: 7}, 3)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "invalid_user_idx_req", domainErr.Code)
}

func TestEditDocumentUserDefaultsToRequester(t *testing.T) {
	var saved store.SetDocument
	st := &fakeStore{
		setDocumentFn: func(_ context.Context, in store.SetDocument) (int64, error) {
			saved = in
			return 1, nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	_, err := svc.EditDocument(context.Background(), "user:alice", EditRequest{ContentMD: "hi"}, 3)
	require.NoError(t, err)
	require.Equal(t, sid.TypeUser, saved.Type)
	require.Equal(t, int64(3), saved.UserIdx)
}

func TestEditDocumentAclRefsComeFromEntryTargets(t *testing.T) {
	var saved store.SetDocument
	st := &fakeStore{
		setDocumentFn: func(_ context.Context, in store.SetDocument) (int64, error) {
			saved = in
			return 1, nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	_, err := svc.EditDocument(context.Background(), "acl:locked", EditRequest{
		Entries: []EditAclEntry{
			{TargetSid: "group:devs", Mask: 0b110, Allow: true},
			{TargetSid: "user:bob", Mask: 0b010, Allow: false},
		},
	}, 1)
	require.NoError(t, err)
	require.Equal(t, sid.TypeACL, saved.Type)
	require.Equal(t, []string{"group:devs", "user:bob"}, saved.Refs)
	require.Len(t, saved.Entries, 2)
	require.Equal(t, acl.MaskRead|acl.MaskUpdate, saved.Entries[0].Mask)
	require.False(t, saved.Entries[1].Allow)
}

func TestEditDocumentNamespaceUsesExplicitRefs(t *testing.T) {
	var saved store.SetDocument
	st := &fakeStore{
		setDocumentFn: func(_ context.Context, in store.SetDocument) (int64, error) {
			saved = in
			return 1, nil
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	_, err := svc.EditDocument(context.Background(), "namespace:docs", EditRequest{
		Refs: []string{"intro", "article:setup", ""},
	}, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"article:intro", "article:setup"}, saved.Refs)
}

func TestEditDocumentPropagatesStoreSentinels(t *testing.T) {
	st := &fakeStore{
		setDocumentFn: func(context.Context, store.SetDocument) (int64, error) {
			return 0, store.ErrInvalidNameChar
		},
	}
	svc := NewService(st, &fakePerms{mask: acl.Full})

	_, err := svc.EditDocument(context.Background(), "article:bad", EditRequest{}, 1)
	require.True(t, errors.Is(err, store.ErrInvalidNameChar))

	status, code, _, _ := mapError(err)
	require.Equal(t, 400, status)
	require.Equal(t, "invalid_name_char", code)
}

func TestListDocumentsRejectsUnknownType(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakePerms{})

	_, err := svc.ListDocuments(context.Background(), "bogus", 1, 10)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "unsupported_type", domainErr.Code)

	_, err = svc.NeededDocuments(context.Background(), "bogus", 1, 10)
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, "unsupported_type", domainErr.Code)
}
