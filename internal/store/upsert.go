package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"snuwiki/api/internal/sid"
)

// SetDocument upserts one document: base row, type-specific satellite state,
// and a full rebuild of its outgoing reference edges, all inside a single
// transaction. Child collections (group members, acl entries, doc_refs) are
// replaced wholesale, never diffed. Returns the stable document id.
//
// Unresolvable ACL entry targets are dropped and unresolved refs become
// dangling edges; neither fails the save.
func (s *PostgresStore) SetDocument(ctx context.Context, in SetDocument) (int64, error) {
	if err := validateName(in.Name); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin set document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := upsertBase(ctx, tx, in)
	if err != nil {
		return 0, err
	}

	switch in.Type {
	case sid.TypeArticle:
		err = upsertArticleRow(ctx, tx, id, in.ContentMD, in.Toc)
	case sid.TypeNamespace:
		err = ensureMarkerRow(ctx, tx, "namespaces", id)
	case sid.TypeUser:
		if err = upsertArticleRow(ctx, tx, id, in.ContentMD, in.Toc); err == nil {
			err = upsertUserDoc(ctx, tx, id, in.UserIdx)
		}
	case sid.TypeGroup:
		if err = upsertArticleRow(ctx, tx, id, in.ContentMD, in.Toc); err == nil {
			if err = ensureMarkerRow(ctx, tx, "groups_doc", id); err == nil {
				err = replaceGroupMembers(ctx, tx, id, in.Members)
			}
		}
	case sid.TypeACL:
		if err = ensureMarkerRow(ctx, tx, "acls", id); err == nil {
			err = replaceAclEntries(ctx, tx, id, in.Entries)
		}
	default:
		err = fmt.Errorf("set document: unsupported type %q", in.Type)
	}
	if err != nil {
		return 0, err
	}

	if err := replaceRefs(ctx, tx, id, in.Refs); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit set document: %w", err)
	}
	return id, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, ":;") {
		return ErrInvalidNameChar
	}
	return nil
}

func upsertBase(ctx context.Context, tx *sql.Tx, in SetDocument) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO documents (type, name, acl_id)
		VALUES ($1::doc_type, $2, $3)
		ON CONFLICT (sid) DO UPDATE
			SET type   = EXCLUDED.type,
			    name   = EXCLUDED.name,
			    acl_id = EXCLUDED.acl_id
		RETURNING id
	`, string(in.Type), in.Name, nullableID(in.AclID)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUpsertBase
	}
	if err != nil {
		return 0, fmt.Errorf("upsert document base: %w", err)
	}
	return id, nil
}

func upsertArticleRow(ctx context.Context, tx *sql.Tx, id int64, contentMD, toc string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO articles (id, content_md, toc)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET content_md = EXCLUDED.content_md,
			    toc        = EXCLUDED.toc
	`, id, contentMD, toc)
	if err != nil {
		return fmt.Errorf("upsert article content: %w", err)
	}
	return nil
}

// ensureMarkerRow inserts the satellite marker row for types whose satellite
// carries no columns beyond the id.
func ensureMarkerRow(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("ensure %s row: %w", table, err)
	}
	return nil
}

// upsertUserDoc maps a user document to its account. Update-in-place allows
// repointing; the service layer guards against misuse.
func upsertUserDoc(ctx context.Context, tx *sql.Tx, id, userIdx int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users_doc (id, user_idx)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
			SET user_idx = EXCLUDED.user_idx
	`, id, userIdx)
	if err != nil {
		return fmt.Errorf("upsert users_doc: %w", err)
	}
	return nil
}

// replaceGroupMembers deletes the current member set and inserts the
// submitted one, deduplicated.
func replaceGroupMembers(ctx context.Context, tx *sql.Tx, groupID int64, members []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1`, groupID); err != nil {
		return fmt.Errorf("clear group members: %w", err)
	}
	uniq := dedupeInt64(members)
	if len(uniq) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_idx)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (group_id, user_idx) DO NOTHING
	`, groupID, uniq)
	if err != nil {
		return fmt.Errorf("insert group members: %w", err)
	}
	return nil
}

// replaceAclEntries deletes the current entries and re-resolves the
// submitted ones. Entries whose target sid does not name an existing user or
// group document are silently dropped.
func replaceAclEntries(ctx context.Context, tx *sql.Tx, aclID int64, entries []SetAclEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM acl_entries WHERE acl_id=$1`, aclID); err != nil {
		return fmt.Errorf("clear acl entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	sids := make([]string, 0, len(entries))
	for _, e := range entries {
		sids = append(sids, e.TargetSid)
	}
	targets, err := resolveTargets(ctx, tx, sids)
	if err != nil {
		return err
	}

	// insert one by one so acl_entries ids preserve submission order
	for _, e := range entries {
		t, ok := targets[e.TargetSid]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO acl_entries (acl_id, target_t, target_id, rud_mask, allow)
			VALUES ($1, $2::acl_target, $3, $4, $5)
		`, aclID, t.typ, t.id, int16(e.Mask), e.Allow)
		if err != nil {
			return fmt.Errorf("insert acl entry: %w", err)
		}
	}
	return nil
}

type resolvedTarget struct {
	id  int64
	typ string
}

func resolveTargets(ctx context.Context, tx *sql.Tx, sids []string) (map[string]resolvedTarget, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT sid, id, type::text
		FROM documents
		WHERE sid = ANY($1::text[])
		  AND type IN ('user','group')
	`, sids)
	if err != nil {
		return nil, fmt.Errorf("resolve acl targets: %w", err)
	}
	defer rows.Close()

	targets := make(map[string]resolvedTarget)
	for rows.Next() {
		var s, typ string
		var id int64
		if err := rows.Scan(&s, &id, &typ); err != nil {
			return nil, fmt.Errorf("scan acl target: %w", err)
		}
		targets[s] = resolvedTarget{id: id, typ: typ}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acl targets: %w", err)
	}
	return targets, nil
}

// replaceRefs rebuilds the outgoing edge set from the submitted refs:
// resolved edges for sids that currently exist, dangling edges for the rest.
func replaceRefs(ctx context.Context, tx *sql.Tx, srcID int64, refs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_refs WHERE src_id=$1`, srcID); err != nil {
		return fmt.Errorf("clear refs: %w", err)
	}
	uniq := dedupeStrings(refs)
	if len(uniq) == 0 {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT sid, id FROM documents WHERE sid = ANY($1::text[])`, uniq)
	if err != nil {
		return fmt.Errorf("resolve refs: %w", err)
	}
	sidToID := make(map[string]int64)
	func() {
		defer rows.Close()
		for rows.Next() {
			var s string
			var id int64
			if scanErr := rows.Scan(&s, &id); scanErr != nil {
				err = fmt.Errorf("scan ref target: %w", scanErr)
				return
			}
			sidToID[s] = id
		}
		if iterErr := rows.Err(); iterErr != nil {
			err = fmt.Errorf("iterate ref targets: %w", iterErr)
		}
	}()
	if err != nil {
		return err
	}

	for _, refSid := range uniq {
		if dstID, ok := sidToID[refSid]; ok {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO doc_refs (src_id, dst_id, dst_sid) VALUES ($1, $2, NULL)
			`, srcID, dstID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO doc_refs (src_id, dst_id, dst_sid) VALUES ($1, NULL, $2)
			`, srcID, refSid)
		}
		if err != nil {
			return fmt.Errorf("insert ref edge: %w", err)
		}
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func dedupeInt64(in []int64) []int64 {
	seen := make(map[int64]bool, len(in))
	out := make([]int64, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
