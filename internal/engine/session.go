package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	dbsql "github.com/databricks/databricks-sql-go"
)

const defaultQueryTimeout = 30 * time.Minute

// Session runs statements against one warehouse.
type Session interface {
	// Exec runs query to completion, draining its result set, and returns
	// the number of rows fetched.
	Exec(ctx context.Context, query string) (int64, error)
	Close() error
}

// SessionConfig is everything needed to connect to a warehouse's SQL endpoint.
type SessionConfig struct {
	Hostname     string
	HTTPPath     string
	Token        string
	Catalog      string
	Schema       string
	ResultsCache bool
	Concurrency  int
	Timeout      time.Duration
}

// Opener creates a Session.
type Opener func(ctx context.Context, cfg SessionConfig) (Session, error)

type sqlSession struct {
	db *sql.DB
}

// OpenSQL connects through the Databricks SQL driver. The connection pool
// is sized to the configured concurrency and the result cache session
// parameter follows cfg.ResultsCache.
func OpenSQL(ctx context.Context, cfg SessionConfig) (Session, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	connector, err := dbsql.NewConnector(
		dbsql.WithServerHostname(cfg.Hostname),
		dbsql.WithPort(443),
		dbsql.WithHTTPPath(cfg.HTTPPath),
		dbsql.WithAccessToken(cfg.Token),
		dbsql.WithInitialNamespace(cfg.Catalog, cfg.Schema),
		dbsql.WithSessionParams(map[string]string{
			"use_cached_result": strconv.FormatBool(cfg.ResultsCache),
		}),
		dbsql.WithTimeout(timeout),
		dbsql.WithUserAgentEntry("whbench"),
	)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if cfg.Concurrency > 0 {
		db.SetMaxOpenConns(cfg.Concurrency)
		db.SetMaxIdleConns(cfg.Concurrency)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", cfg.HTTPPath, err)
	}
	return &sqlSession{db: db}, nil
}

func (s *sqlSession) Exec(ctx context.Context, query string) (int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func (s *sqlSession) Close() error {
	return s.db.Close()
}
