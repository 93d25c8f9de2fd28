// Package account provides email/password account registration and login.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"snuwiki/api/internal/sid"
	"snuwiki/api/internal/store"
)

const bcryptCost = 10

var (
	ErrEmailTaken     = errors.New("email_already_registered")
	ErrBadCredentials = errors.New("bad_credentials")
	ErrBadRequest     = errors.New("email_and_password_required")
)

// Groups every account is placed in, and the extra groups the very first
// account gets so the instance has an administrator from the start.
var (
	defaultGroups   = []string{"users"}
	bootstrapGroups = []string{"admin", "system"}
)

// AccountStore is the auth_users/credentials slice of the store.
type AccountStore interface {
	GetAccount(ctx context.Context, idx int64) (*store.Account, error)
	CreateAccount(ctx context.Context, email string, name *string, certified bool, info *string) (*store.Account, error)
	AccountCount(ctx context.Context) (int, error)
	HasCredential(ctx context.Context, email, provider string) (bool, error)
	CreateCredential(ctx context.Context, userIdx int64, provider, email, passwordHash string) error
	LocalCredential(ctx context.Context, email string) (string, int64, error)
}

// DocStore is the document slice the service needs to maintain group
// membership documents.
type DocStore interface {
	Hydrate(ctx context.Context, sidOrName string) (*store.Document, error)
	SetDocument(ctx context.Context, in store.SetDocument) (int64, error)
}

type Service struct {
	accounts AccountStore
	docs     DocStore
}

func NewService(accounts AccountStore, docs DocStore) *Service {
	return &Service{accounts: accounts, docs: docs}
}

// SignUp registers a local account. New accounts join the default groups;
// the first account of the instance additionally joins the bootstrap groups.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (*store.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrBadRequest
	}

	taken, err := s.accounts.HasCredential(ctx, email, "local")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	first, err := s.isFirstAccount(ctx)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var namePtr *string
	if n := strings.TrimSpace(name); n != "" {
		namePtr = &n
	}
	account, err := s.accounts.CreateAccount(ctx, email, namePtr, false, nil)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if err := s.accounts.CreateCredential(ctx, account.Idx, "local", email, string(hash)); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}

	groups := defaultGroups
	if first {
		groups = append(append([]string{}, defaultGroups...), bootstrapGroups...)
	}
	for _, group := range groups {
		if err := s.joinGroup(ctx, group, account.Idx); err != nil {
			return nil, fmt.Errorf("join group %s: %w", group, err)
		}
	}
	return account, nil
}

// Login verifies a local credential and returns the account.
func (s *Service) Login(ctx context.Context, email, password string) (*store.Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrBadRequest
	}

	hash, idx, err := s.accounts.LocalCredential(ctx, email)
	if err != nil {
		return nil, err
	}
	if idx == 0 || hash == "" {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	account, err := s.accounts.GetAccount(ctx, idx)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrBadCredentials
	}
	return account, nil
}

func (s *Service) isFirstAccount(ctx context.Context) (bool, error) {
	count, err := s.accounts.AccountCount(ctx)
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return count == 0, nil
}

// joinGroup appends the account to a group document, creating the group when
// it does not exist yet. Existing content, ACL and references are preserved.
func (s *Service) joinGroup(ctx context.Context, groupName string, idx int64) error {
	groupSid, _ := sid.Build(string(sid.TypeGroup), groupName)
	current, err := s.docs.Hydrate(ctx, groupSid)
	if err != nil {
		return err
	}

	in := store.SetDocument{
		Type:    sid.TypeGroup,
		Name:    groupName,
		Members: []int64{idx},
	}
	if current != nil {
		in.AclID = current.AclID
		in.Refs = current.Refs
		if current.Group != nil {
			in.ContentMD = current.Group.ContentMD
			in.Toc = current.Group.Toc
			in.Members = append(append([]int64{}, current.Group.Members...), idx)
		}
	}
	_, err = s.docs.SetDocument(ctx, in)
	return err
}
