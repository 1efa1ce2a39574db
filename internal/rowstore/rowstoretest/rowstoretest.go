// Package rowstoretest provides an in-memory gateway and call-counting and
// failure-injecting wrappers for tests.
package rowstoretest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	accessDatamodel "github.com/frahmantamala/crm-authz/internal/core/datamodel/access"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/frahmantamala/crm-authz/internal/rowstore/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrInjected = errors.New("injected failure")

// NewSQLite opens a fresh in-memory database with the full schema.
func NewSQLite() (*gorm.DB, *postgres.Gateway, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	// every new connection to :memory: would see an empty database
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(accessDatamodel.All()...); err != nil {
		return nil, nil, err
	}
	return db, postgres.NewGateway(db, TestLogger()), nil
}

func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Gateway wraps another gateway, counting calls per operation and failing
// selected operations on demand.
type Gateway struct {
	Inner rowstore.Gateway

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]bool
}

func Wrap(inner rowstore.Gateway) *Gateway {
	return &Gateway{
		Inner:    inner,
		calls:    make(map[string]int),
		failures: make(map[string]bool),
	}
}

// SetShouldFail makes op ("select", "insert", "update", "delete", "call") fail,
// optionally only for one table ("insert:role_permissions").
func (g *Gateway) SetShouldFail(op string, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = fail
}

func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

func (g *Gateway) ResetCalls() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = make(map[string]int)
}

func (g *Gateway) record(op, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	if g.failures[op] || g.failures[op+":"+target] {
		return ErrInjected
	}
	return nil
}

func (g *Gateway) Select(ctx context.Context, table string, filter rowstore.Filter, opts ...rowstore.SelectOption) ([]rowstore.Row, error) {
	if err := g.record("select", table); err != nil {
		return nil, err
	}
	return g.Inner.Select(ctx, table, filter, opts...)
}

func (g *Gateway) Insert(ctx context.Context, table string, row rowstore.Row) (rowstore.Row, error) {
	if err := g.record("insert", table); err != nil {
		return nil, err
	}
	return g.Inner.Insert(ctx, table, row)
}

func (g *Gateway) Update(ctx context.Context, table string, filter rowstore.Filter, patch rowstore.Row) error {
	if err := g.record("update", table); err != nil {
		return err
	}
	return g.Inner.Update(ctx, table, filter, patch)
}

func (g *Gateway) Delete(ctx context.Context, table string, filter rowstore.Filter) error {
	if err := g.record("delete", table); err != nil {
		return err
	}
	return g.Inner.Delete(ctx, table, filter)
}

func (g *Gateway) Call(ctx context.Context, fn string, args map[string]any) (any, error) {
	if err := g.record("call", fn); err != nil {
		return nil, err
	}
	return g.Inner.Call(ctx, fn, args)
}

// Transaction keeps counting and failure injection inside the transaction.
func (g *Gateway) Transaction(ctx context.Context, fn func(tx rowstore.Gateway) error) error {
	return g.Inner.Transaction(ctx, func(tx rowstore.Gateway) error {
		return fn(&txGateway{parent: g, inner: tx})
	})
}

type txGateway struct {
	parent *Gateway
	inner  rowstore.Gateway
}

func (t *txGateway) Select(ctx context.Context, table string, filter rowstore.Filter, opts ...rowstore.SelectOption) ([]rowstore.Row, error) {
	if err := t.parent.record("select", table); err != nil {
		return nil, err
	}
	return t.inner.Select(ctx, table, filter, opts...)
}

func (t *txGateway) Insert(ctx context.Context, table string, row rowstore.Row) (rowstore.Row, error) {
	if err := t.parent.record("insert", table); err != nil {
		return nil, err
	}
	return t.inner.Insert(ctx, table, row)
}

func (t *txGateway) Update(ctx context.Context, table string, filter rowstore.Filter, patch rowstore.Row) error {
	if err := t.parent.record("update", table); err != nil {
		return err
	}
	return t.inner.Update(ctx, table, filter, patch)
}

func (t *txGateway) Delete(ctx context.Context, table string, filter rowstore.Filter) error {
	if err := t.parent.record("delete", table); err != nil {
		return err
	}
	return t.inner.Delete(ctx, table, filter)
}

func (t *txGateway) Call(ctx context.Context, fn string, args map[string]any) (any, error) {
	if err := t.parent.record("call", fn); err != nil {
		return nil, err
	}
	return t.inner.Call(ctx, fn, args)
}

func (t *txGateway) Transaction(ctx context.Context, fn func(tx rowstore.Gateway) error) error {
	return fn(t)
}

// MustInsert inserts row and returns its id. It panics on failure, which
// ginkgo reports as a test failure.
func MustInsert(ctx context.Context, gw rowstore.Gateway, table string, row rowstore.Row) string {
	out, err := gw.Insert(ctx, table, row)
	if err != nil {
		panic(err)
	}
	return out["id"].(string)
}
