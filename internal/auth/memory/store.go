// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

// Package memory provides in-process implementations of the auth
// repositories for development and tests. Data is lost on restart.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/verigate/verigate/internal/auth"
)

// Store holds users, codes and sessions behind a single lock. Repository
// views are obtained with Users, Codes and Sessions; Store itself is the
// auth.Transactor.
//
// Transactions roll back their own writes on failure but are not isolated
// from concurrent callers.
type Store struct {
	mu       sync.Mutex
	users    map[ulid.ULID]auth.User
	codes    map[ulid.ULID]auth.OneTimeCode
	sessions map[ulid.ULID]auth.WebSession
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[ulid.ULID]auth.User),
		codes:    make(map[ulid.ULID]auth.OneTimeCode),
		sessions: make(map[ulid.ULID]auth.WebSession),
	}
}

// Users returns the user repository view.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Codes returns the one-time code repository view.
func (s *Store) Codes() *CodeRepository { return &CodeRepository{s: s} }

// Sessions returns the web session repository view.
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

type txKey struct{}

// undoLog collects compensating actions for writes made inside a
// transaction. Actions run with s.mu held.
type undoLog struct {
	actions []func()
}

// InTransaction runs fn and reverts every write fn made through this store
// if fn returns an error. Nested calls join the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*undoLog); ok {
		return fn(ctx)
	}

	log := &undoLog{}
	if err := fn(context.WithValue(ctx, txKey{}, log)); err != nil {
		s.mu.Lock()
		for i := len(log.actions) - 1; i >= 0; i-- {
			log.actions[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// onRollback registers undo for the transaction in ctx, if any. Must be
// called with s.mu held.
func onRollback(ctx context.Context, undo func()) {
	if log, ok := ctx.Value(txKey{}).(*undoLog); ok {
		log.actions = append(log.actions, undo)
	}
}

func foldEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Compile-time interface check.
var _ auth.Transactor = (*Store)(nil)
