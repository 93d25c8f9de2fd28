package store

import (
	"context"
	"database/sql"
	"fmt"

	"snuwiki/api/internal/sid"
)

// ListByType pages through the documents of one type, most recently
// modified first.
func (s *PostgresStore) ListByType(ctx context.Context, doctype sid.DocType, page, limit int) ([]DocRaw, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int FROM documents WHERE type=$1::doc_type
	`, string(doctype)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+docRawColumns+`
		FROM documents
		WHERE type=$1::doc_type
		ORDER BY mtime DESC NULLS LAST, sid ASC
		LIMIT $2 OFFSET $3
	`, string(doctype), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	items, err := collectDocRaws(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListRecent returns the most recently modified documents of any type.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]DocRaw, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+docRawColumns+`
		FROM documents
		ORDER BY mtime DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent documents: %w", err)
	}
	return collectDocRaws(rows)
}

// ListNeeded reports dangling reference targets of one type: sids that are
// referenced but still missing. An edge whose raw dst_sid now matches a real
// document is excluded even before the source is re-saved.
func (s *PostgresStore) ListNeeded(ctx context.Context, doctype sid.DocType, page, limit int) ([]NeededDoc, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT r.dst_sid)::int
		FROM doc_refs r
		LEFT JOIN documents d ON d.sid = r.dst_sid
		WHERE r.dst_id IS NULL
		  AND d.id IS NULL
		  AND r.dst_sid LIKE $1 || ':%'
	`, string(doctype)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count needed documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.dst_sid,
		       split_part(r.dst_sid, ':', 1),
		       split_part(r.dst_sid, ':', 2),
		       COUNT(*)::int AS ref_cnt,
		       MAX(r.ctime)  AS last_ref
		FROM doc_refs r
		LEFT JOIN documents d ON d.sid = r.dst_sid
		WHERE r.dst_id IS NULL
		  AND d.id IS NULL
		  AND r.dst_sid LIKE $1 || ':%'
		GROUP BY r.dst_sid
		ORDER BY MAX(r.ctime) DESC NULLS LAST, r.dst_sid ASC
		LIMIT $2 OFFSET $3
	`, string(doctype), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list needed documents: %w", err)
	}
	defer rows.Close()

	items := make([]NeededDoc, 0)
	for rows.Next() {
		var item NeededDoc
		var lastRef sql.NullTime
		if err := rows.Scan(&item.Sid, &item.Type, &item.Name, &item.RefCnt, &lastRef); err != nil {
			return nil, 0, fmt.Errorf("scan needed document: %w", err)
		}
		if lastRef.Valid {
			t := lastRef.Time
			item.LastRef = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate needed documents: %w", err)
	}
	return items, total, nil
}

func collectDocRaws(rows *sql.Rows) ([]DocRaw, error) {
	defer rows.Close()
	items := make([]DocRaw, 0)
	for rows.Next() {
		var d DocRaw
		var typ string
		var aclID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Sid, &typ, &d.Name, &aclID, &d.Mtime, &d.Ctime); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Type = sid.DocType(typ)
		if aclID.Valid {
			v := aclID.Int64
			d.AclID = &v
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}
