// Package rowstore is the remote data gateway every access component talks to.
// Rows are plain column maps; filters are equality maps where a slice value means IN.
package rowstore

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
)

type Row map[string]any

type Filter map[string]any

// Procedure is a named server-side function reachable through Gateway.Call.
type Procedure func(ctx context.Context, gw Gateway, args map[string]any) (any, error)

// ProcedureRegistry is implemented by gateways that host Go procedures.
type ProcedureRegistry interface {
	Register(name string, fn Procedure)
}

type Gateway interface {
	Select(ctx context.Context, table string, filter Filter, opts ...SelectOption) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table string, filter Filter, patch Row) error
	Delete(ctx context.Context, table string, filter Filter) error
	Call(ctx context.Context, fn string, args map[string]any) (any, error)
	// Transaction runs fn against a gateway bound to one store transaction.
	// Returning an error from fn rolls every write back.
	Transaction(ctx context.Context, fn func(tx Gateway) error) error
}

var (
	ErrInvalidIdentifier = errors.New("rowstore: invalid identifier")
	ErrEmptyFilter       = errors.New("rowstore: refusing unfiltered write")
	ErrUnknownProcedure  = errors.New("rowstore: unknown procedure")
)

type Order struct {
	Column string
	Desc   bool
}

type SelectOptions struct {
	Columns []string
	Orders  []Order
	Limit   int
}

type SelectOption func(*SelectOptions)

func OrderBy(column string) SelectOption {
	return func(o *SelectOptions) {
		o.Orders = append(o.Orders, Order{Column: column})
	}
}

func OrderByDesc(column string) SelectOption {
	return func(o *SelectOptions) {
		o.Orders = append(o.Orders, Order{Column: column, Desc: true})
	}
}

func Limit(n int) SelectOption {
	return func(o *SelectOptions) {
		o.Limit = n
	}
}

func Columns(cols ...string) SelectOption {
	return func(o *SelectOptions) {
		o.Columns = append(o.Columns, cols...)
	}
}

func ApplyOptions(opts []SelectOption) SelectOptions {
	var o SelectOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Decode copies a row into out, a pointer to a struct tagged with json names.
func Decode(row Row, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			uuidBytesHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(row))
}

// DecodeAll decodes each row into a T.
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := Decode(row, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// uuidBytesHook turns binary uuid values some drivers return into their string form.
func uuidBytesHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch v := data.(type) {
	case [16]byte:
		return uuid.UUID(v).String(), nil
	case uuid.UUID:
		return v.String(), nil
	}
	return data, nil
}
