package connpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gnemet/duckgrid/internal/metrics"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

// Driver names accepted by Open
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

var ErrProviderClosed = errors.New("connection provider closed")

// Session is one scoped engine connection. Close must be called exactly once
// per successful Connect; further calls are no-ops.
type Session interface {
	Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
	Exec(ctx context.Context, query string, args ...interface{}) error
	Close() error
}

// Connector hands out sessions. *Provider is the production implementation.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Options tunes the provider and the underlying database/sql pool
type Options struct {
	Driver      string
	DSN         string
	MaxConns    int
	IdleTimeout time.Duration
	AbsTimeout  time.Duration // leases held longer than this are reported by the watchdog
	Logger      zerolog.Logger
}

// Stats counts session leases since the provider was created
type Stats struct {
	Opened int64
	Closed int64
	Active int
}

// Provider owns the engine handle. It is created and torn down by the
// application; components receive it at construction.
type Provider struct {
	db          *sql.DB
	driver      string
	leases      map[string]*lease
	mu          sync.Mutex
	absTimeout  time.Duration
	opened      atomic.Int64
	closed      atomic.Int64
	isClosed    atomic.Bool
	cleanupStop chan struct{}
	stopOnce    sync.Once
	logger      zerolog.Logger
}

// Open connects to the engine named by opts.Driver and verifies it answers.
// An empty DSN with the duckdb driver opens an in-memory database.
func Open(ctx context.Context, opts Options) (*Provider, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverDuckDB
	}
	if driver != DriverDuckDB && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported engine driver %q", driver)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(max(1, opts.MaxConns/2))
	}
	if opts.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(opts.IdleTimeout)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	opts.Driver = driver
	return New(db, opts), nil
}

// New wraps an already opened handle
func New(db *sql.DB, opts Options) *Provider {
	absTimeout := opts.AbsTimeout
	if absTimeout <= 0 {
		absTimeout = time.Minute
	}
	p := &Provider{
		db:          db,
		driver:      opts.Driver,
		leases:      make(map[string]*lease),
		absTimeout:  absTimeout,
		cleanupStop: make(chan struct{}),
		logger:      opts.Logger,
	}
	p.startWatchdog()
	return p
}

// Driver reports the engine driver name
func (p *Provider) Driver() string {
	return p.driver
}

// Close stops the watchdog and closes the engine handle
func (p *Provider) Close() error {
	p.isClosed.Store(true)
	p.stopOnce.Do(func() { close(p.cleanupStop) })
	return p.db.Close()
}

// Stats returns lease counters
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	active := len(p.leases)
	p.mu.Unlock()
	return Stats{
		Opened: p.opened.Load(),
		Closed: p.closed.Load(),
		Active: active,
	}
}

// Connect leases a dedicated connection. The lease is never shared.
func (p *Provider) Connect(ctx context.Context) (Session, error) {
	if p.isClosed.Load() {
		return nil, ErrProviderClosed
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	l := &lease{
		id:        "sess_" + uuid.New().String()[:8],
		conn:      conn,
		createdAt: time.Now(),
		provider:  p,
	}

	p.mu.Lock()
	p.leases[l.id] = l
	p.mu.Unlock()

	p.opened.Add(1)
	metrics.OpenSessions.Inc()
	p.logger.Debug().Str("session", l.id).Msg("session opened")
	return l, nil
}

func (p *Provider) release(l *lease) {
	p.mu.Lock()
	delete(p.leases, l.id)
	p.mu.Unlock()

	p.closed.Add(1)
	metrics.OpenSessions.Dec()
	p.logger.Debug().Str("session", l.id).Dur("held", time.Since(l.createdAt)).Msg("session closed")
}

func (p *Provider) startWatchdog() {
	interval := p.absTimeout / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				p.reportStaleLeases()
			case <-p.cleanupStop:
				ticker.Stop()
				return
			}
		}
	}()
}

// reportStaleLeases only logs: requests are never cancelled from outside.
func (p *Provider) reportStaleLeases() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, l := range p.leases {
		if held := now.Sub(l.createdAt); held > p.absTimeout {
			p.logger.Warn().Str("session", id).Dur("held", held).Msg("session held past abs timeout")
		}
	}
}

type lease struct {
	id        string
	conn      *sql.Conn
	createdAt time.Time
	provider  *Provider
	once      sync.Once
	closeErr  error
}

func (l *lease) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func (l *lease) Exec(ctx context.Context, query string, args ...interface{}) error {
	if _, err := l.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec failed: %w", err)
	}
	return nil
}

func (l *lease) Close() error {
	l.once.Do(func() {
		l.closeErr = l.conn.Close()
		l.provider.release(l)
	})
	return l.closeErr
}

func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		pointers := make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
