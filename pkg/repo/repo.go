// Package repo defines a generic repository over Neo4j nodes and the
// session abstraction the graph store is built on.
package repo

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNotFound is returned by Get when no node matches.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic node repository.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
	Count(ctx context.Context) (int64, error)
}

// ListOpts controls pagination and ordering for List.
type ListOpts struct {
	Offset int
	Limit  int
	// OrderBy is a node property to sort by, descending. Empty keeps
	// database order.
	OrderBy string
}

// Result is the part of a Neo4j result the repositories consume.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner runs a Cypher statement, either in a session or a transaction.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
}

// Session is a Neo4j session. ExecuteWrite runs work in one managed write
// transaction that commits only if work returns nil.
type Session interface {
	Runner
	ExecuteWrite(ctx context.Context, work func(tx Runner) error) error
	Close(ctx context.Context) error
}

// SessionFactory opens sessions.
type SessionFactory func(ctx context.Context) Session

// DriverSessions returns a SessionFactory backed by driver.
func DriverSessions(driver neo4j.DriverWithContext, database string) SessionFactory {
	return func(ctx context.Context) Session {
		return &driverSession{sess: driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})}
	}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx Runner) error) error {
	_, err := s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(txRunner{tx})
	})
	return err
}

func (s *driverSession) Close(ctx context.Context) error { return s.sess.Close(ctx) }

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (t txRunner) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return t.tx.Run(ctx, cypher, params)
}
