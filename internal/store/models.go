package store

import (
	"time"

	"snuwiki/api/internal/acl"
	"snuwiki/api/internal/sid"
)

// DocRaw is the base row of the documents table, common to every type.
// The sid column is generated from (type, name) and unique.
type DocRaw struct {
	ID    int64
	Sid   string
	Type  sid.DocType
	Name  string
	AclID *int64
	Mtime time.Time
	Ctime time.Time
}

// AclEntry is one ordered rule of a hydrated ACL document. TargetSid is the
// current sid of the target document, nil when the target has since
// disappeared (the entry then never applies, which is expected).
type AclEntry struct {
	TargetT   string
	TargetID  int64
	TargetSid *string
	Mask      acl.Rud
	Allow     bool
}

// Variant payloads. Exactly one of these is non-nil on a hydrated Document,
// matching its Type (namespace documents carry none).

type ArticleData struct {
	ContentMD string
	Toc       string
	// Namespaces holds the sids of namespace documents referencing this
	// article. Derived, read-only.
	Namespaces []string
}

type UserData struct {
	ContentMD string
	Toc       string
	// UserIdx is the authentication account this profile represents.
	UserIdx int64
}

type GroupData struct {
	ContentMD string
	Toc       string
	// Members are account indexes, ascending, deduplicated.
	Members []int64
}

type AclData struct {
	Entries []AclEntry
}

// Document is a fully hydrated document: base row, derived reference lists,
// and the payload for its type.
type Document struct {
	DocRaw

	// Refs are outgoing references: the live sid of a resolved target, or
	// the raw stored sid of a dangling edge.
	Refs []string
	// Links are incoming references from documents whose edges point here.
	Links []string

	Article *ArticleData
	User    *UserData
	Group   *GroupData
	Acl     *AclData
}

// SetAclEntry is an ACL rule as submitted at the API boundary: the target is
// named by sid and resolved to a document id at write time.
type SetAclEntry struct {
	TargetSid string
	Mask      acl.Rud
	Allow     bool
}

// SetDocument is the desired new state of one document. Type selects which
// of the variant fields are honored; the rest are ignored.
type SetDocument struct {
	Type  sid.DocType
	Name  string
	AclID *int64
	Refs  []string

	// article, user, group
	ContentMD string
	Toc       string

	// user
	UserIdx int64

	// group
	Members []int64

	// acl
	Entries []SetAclEntry
}

// NeededDoc is a dangling reference target aggregated for the "needed
// documents" report.
type NeededDoc struct {
	Sid     string
	Type    string
	Name    string
	RefCnt  int
	LastRef *time.Time
}

// Account is an authentication account (auth_users row), the identity space
// user documents and group members refer to.
type Account struct {
	Idx       int64
	Email     string
	Name      *string
	Certified bool
	Ctime     time.Time
	Info      *string
}
