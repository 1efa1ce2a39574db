package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/frahmantamala/crm-authz/internal/rowstore"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type procedures struct {
	mu    sync.RWMutex
	procs map[string]rowstore.Procedure
}

// Gateway implements rowstore.Gateway on gorm. The same code runs against
// Postgres in production and SQLite in tests and local setups.
type Gateway struct {
	db     *gorm.DB
	procs  *procedures
	logger *slog.Logger
}

func NewGateway(db *gorm.DB, logger *slog.Logger) *Gateway {
	return &Gateway{
		db:     db,
		procs:  &procedures{procs: make(map[string]rowstore.Procedure)},
		logger: logger,
	}
}

// Register makes fn reachable through Call. Registering the same name twice replaces it.
func (g *Gateway) Register(name string, fn rowstore.Procedure) {
	g.procs.mu.Lock()
	defer g.procs.mu.Unlock()
	g.procs.procs[name] = fn
}

func (g *Gateway) Select(ctx context.Context, table string, filter rowstore.Filter, opts ...rowstore.SelectOption) ([]rowstore.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	o := rowstore.ApplyOptions(opts)

	q := g.db.WithContext(ctx).Table(table)

	if len(o.Columns) > 0 {
		cols := make([]string, 0, len(o.Columns))
		for _, c := range o.Columns {
			if err := checkIdent(c); err != nil {
				return nil, err
			}
			cols = append(cols, quote(c))
		}
		q = q.Select(strings.Join(cols, ", "))
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}
	if where != "" {
		q = q.Where(where, args...)
	}

	for _, ord := range o.Orders {
		if err := checkIdent(ord.Column); err != nil {
			return nil, err
		}
		dir := "ASC"
		if ord.Desc {
			dir = "DESC"
		}
		q = q.Order(quote(ord.Column) + " " + dir)
	}
	if o.Limit > 0 {
		q = q.Limit(o.Limit)
	}

	var found []map[string]any
	if err := q.Find(&found).Error; err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	rows := make([]rowstore.Row, 0, len(found))
	for _, f := range found {
		rows = append(rows, rowstore.Row(f))
	}
	return rows, nil
}

func (g *Gateway) Insert(ctx context.Context, table string, row rowstore.Row) (rowstore.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	values := make(map[string]any, len(row)+1)
	for k, v := range row {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if id, ok := values["id"]; !ok || id == nil || id == "" {
		values["id"] = uuid.NewString()
	}

	if err := g.db.WithContext(ctx).Table(table).Create(values).Error; err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return rowstore.Row(values), nil
}

func (g *Gateway) Update(ctx context.Context, table string, filter rowstore.Filter, patch rowstore.Row) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(filter) == 0 {
		return rowstore.ErrEmptyFilter
	}
	if len(patch) == 0 {
		return nil
	}
	values := make(map[string]any, len(patch))
	for k, v := range patch {
		if err := checkIdent(k); err != nil {
			return err
		}
		values[k] = v
	}

	where, args, err := buildWhere(filter)
	if err != nil {
		return err
	}
	if err := g.db.WithContext(ctx).Table(table).Where(where, args...).Updates(values).Error; err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func (g *Gateway) Delete(ctx context.Context, table string, filter rowstore.Filter) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(filter) == 0 {
		return rowstore.ErrEmptyFilter
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return err
	}
	stmt := "DELETE FROM " + quote(table) + " WHERE " + where
	if err := g.db.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (g *Gateway) Call(ctx context.Context, fn string, args map[string]any) (any, error) {
	g.procs.mu.RLock()
	proc, ok := g.procs.procs[fn]
	g.procs.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", rowstore.ErrUnknownProcedure, fn)
	}
	return proc(ctx, g, args)
}

func (g *Gateway) Transaction(ctx context.Context, fn func(tx rowstore.Gateway) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gateway{db: tx, procs: g.procs, logger: g.logger})
	})
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", rowstore.ErrInvalidIdentifier, name)
	}
	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}

// buildWhere renders filter as ANDed equality terms in column order.
// nil compares with IS NULL, slices expand to IN, and an empty slice matches nothing.
func buildWhere(filter rowstore.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if err := checkIdent(k); err != nil {
			return "", nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := filter[k]
		if v == nil {
			terms = append(terms, quote(k)+" IS NULL")
			continue
		}
		if list, ok := asList(v); ok {
			if len(list) == 0 {
				terms = append(terms, "1 = 0")
				continue
			}
			terms = append(terms, quote(k)+" IN ?")
			args = append(args, list)
			continue
		}
		terms = append(terms, quote(k)+" = ?")
		args = append(args, v)
	}
	return strings.Join(terms, " AND "), args, nil
}

func asList(v any) ([]any, bool) {
	switch v.(type) {
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
