package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/sid"
)

var (
	// ErrInvalidName rejects empty document names.
	ErrInvalidName = errors.New("invalid_name")
	// ErrInvalidNameChar rejects names containing ':' or ';'.
	ErrInvalidNameChar = errors.New("invalid_name_char")
	// ErrUpsertBase signals that the base upsert returned no id, which means
	// the backing store violated an invariant.
	ErrUpsertBase = errors.New("upsert_documents_failed")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const docRawColumns = `id, sid, type::text, name, acl_id, mtime, ctime`

func scanDocRaw(row *sql.Row) (*DocRaw, error) {
	var d DocRaw
	var typ string
	var aclID sql.NullInt64
	err := row.Scan(&d.ID, &d.Sid, &typ, &d.Name, &aclID, &d.Mtime, &d.Ctime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Type = sid.DocType(typ)
	if aclID.Valid {
		d.AclID = &aclID.Int64
	}
	return &d, nil
}

// GetBySid returns the base row for a sid, or nil when no document exists.
func (s *PostgresStore) GetBySid(ctx context.Context, docSid string) (*DocRaw, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+docRawColumns+`
		FROM documents
		WHERE sid=$1
	`, docSid)
	return scanDocRaw(row)
}

// Hydrate loads the full typed document for a sid (or bare article name).
// Returns nil when the document does not exist.
func (s *PostgresStore) Hydrate(ctx context.Context, sidOrName string) (*Document, error) {
	docSid := sid.FromPath(sidOrName)
	base, err := s.GetBySid(ctx, docSid)
	if err != nil || base == nil {
		return nil, err
	}

	refs, err := s.refsOf(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	links, err := s.linksOf(ctx, base.ID, base.Sid)
	if err != nil {
		return nil, err
	}

	doc := &Document{DocRaw: *base, Refs: refs, Links: links}

	switch base.Type {
	case sid.TypeArticle:
		contentMD, toc, err := s.articleRow(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		namespaces, err := s.namespacesOf(ctx, base.ID, base.Sid)
		if err != nil {
			return nil, err
		}
		doc.Article = &ArticleData{ContentMD: contentMD, Toc: toc, Namespaces: namespaces}

	case sid.TypeNamespace:
		// base row only

	case sid.TypeUser:
		contentMD, toc, err := s.articleRow(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		userIdx, _, err := s.UserDocIdx(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		doc.User = &UserData{ContentMD: contentMD, Toc: toc, UserIdx: userIdx}

	case sid.TypeGroup:
		contentMD, toc, err := s.articleRow(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		members, err := s.groupMembers(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		doc.Group = &GroupData{ContentMD: contentMD, Toc: toc, Members: members}

	case sid.TypeACL:
		entries, err := s.aclEntriesDetailed(ctx, base.ID)
		if err != nil {
			return nil, err
		}
		doc.Acl = &AclData{Entries: entries}
	}

	return doc, nil
}

func (s *PostgresStore) articleRow(ctx context.Context, id int64) (contentMD, toc string, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT content_md, toc FROM articles WHERE id=$1`, id).Scan(&contentMD, &toc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("read article content: %w", err)
	}
	return contentMD, toc, nil
}

// refsOf lists outgoing references, preferring the live sid of a resolved
// target and falling back to the stored raw sid for dangling edges.
func (s *PostgresStore) refsOf(ctx context.Context, id int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(d2.sid, r.dst_sid) AS ref_sid
		FROM doc_refs r
		LEFT JOIN documents d2 ON d2.id = r.dst_id
		WHERE r.src_id=$1
		ORDER BY ref_sid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return collectStrings(rows, "refs")
}

// linksOf lists incoming references. Edges match either by resolved id or,
// for edges still stored dangling, by the target's current sid; a document
// created after being referenced therefore shows its links immediately.
func (s *PostgresStore) linksOf(ctx context.Context, id int64, selfSid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d1.sid
		FROM doc_refs r
		JOIN documents d1 ON d1.id = r.src_id
		WHERE r.dst_id=$1 OR (r.dst_id IS NULL AND r.dst_sid=$2)
		ORDER BY d1.sid
	`, id, selfSid)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return collectStrings(rows, "links")
}

// namespacesOf lists the namespace documents whose references include this
// article, with the same lazy dangling-edge matching as linksOf.
func (s *PostgresStore) namespacesOf(ctx context.Context, id int64, selfSid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ns.sid
		FROM doc_refs r
		JOIN documents ns ON ns.id = r.src_id
		WHERE ns.type='namespace'
		  AND (r.dst_id=$1 OR (r.dst_id IS NULL AND r.dst_sid=$2))
		ORDER BY ns.sid
	`, id, selfSid)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	return collectStrings(rows, "namespaces")
}

func (s *PostgresStore) groupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_idx FROM group_members WHERE group_id=$1 ORDER BY user_idx
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	members := make([]int64, 0)
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}

// aclEntriesDetailed returns the ordered entries of an ACL document with
// each target resolved back to its current sid. A missing target yields a
// nil sid, not an error.
func (s *PostgresStore) aclEntriesDetailed(ctx context.Context, aclID int64) ([]AclEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.target_t::text, e.target_id, d.sid, e.rud_mask, e.allow
		FROM acl_entries e
		LEFT JOIN documents d ON d.id = e.target_id
		WHERE e.acl_id=$1
		ORDER BY e.id
	`, aclID)
	if err != nil {
		return nil, fmt.Errorf("list acl entries: %w", err)
	}
	defer rows.Close()

	entries := make([]AclEntry, 0)
	for rows.Next() {
		var e AclEntry
		var targetSid sql.NullString
		var mask int16
		if err := rows.Scan(&e.TargetT, &e.TargetID, &targetSid, &mask, &e.Allow); err != nil {
			return nil, fmt.Errorf("scan acl entry: %w", err)
		}
		if targetSid.Valid {
			e.TargetSid = &targetSid.String
		}
		e.Mask = acl.Rud(mask)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acl entries: %w", err)
	}
	return entries, nil
}

// AclEntries implements acl.EntryStore.
func (s *PostgresStore) AclEntries(ctx context.Context, aclID int64) ([]acl.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_t::text, target_id, rud_mask, allow
		FROM acl_entries
		WHERE acl_id=$1
		ORDER BY id ASC
	`, aclID)
	if err != nil {
		return nil, fmt.Errorf("list acl entries: %w", err)
	}
	defer rows.Close()

	entries := make([]acl.Entry, 0)
	for rows.Next() {
		var e acl.Entry
		var mask int16
		if err := rows.Scan(&e.TargetT, &e.TargetID, &mask, &e.Allow); err != nil {
			return nil, fmt.Errorf("scan acl entry: %w", err)
		}
		e.Mask = acl.Rud(mask)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acl entries: %w", err)
	}
	return entries, nil
}

// UserDocIdx implements acl.EntryStore: the account index a user document
// represents, or false when the document is gone.
func (s *PostgresStore) UserDocIdx(ctx context.Context, userDocID int64) (int64, bool, error) {
	var idx int64
	err := s.db.QueryRowContext(ctx, `SELECT user_idx FROM users_doc WHERE id=$1`, userDocID).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read users_doc: %w", err)
	}
	return idx, true, nil
}

// IsGroupMember implements acl.EntryStore.
func (s *PostgresStore) IsGroupMember(ctx context.Context, groupDocID, userIdx int64) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_idx=$2)
	`, groupDocID, userIdx).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}
	return member, nil
}

func collectStrings(rows *sql.Rows, what string) ([]string, error) {
	defer rows.Close()
	items := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return items, nil
}
