// Package audit records access mutations through the log_audit_action procedure.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/crm-authz/internal/core/events"
	"github.com/frahmantamala/crm-authz/internal/core/rbac"
	"github.com/frahmantamala/crm-authz/internal/rowstore"
)

const LogActionProcedure = "log_audit_action"

var errMissingArg = errors.New("missing required argument")

// RegisterProcedures installs the audit procedures on a gateway that hosts them.
func RegisterProcedures(reg rowstore.ProcedureRegistry) {
	reg.Register(LogActionProcedure, LogAction)
}

// LogAction inserts one audit row and returns its id. Arguments follow the
// procedure's signature: _action and _entity_type are required; _entity_id,
// _old_values, _new_values, _organization_id and _user_id are optional.
func LogAction(ctx context.Context, gw rowstore.Gateway, args map[string]any) (any, error) {
	action, _ := args["_action"].(string)
	entityType, _ := args["_entity_type"].(string)
	if action == "" {
		return nil, fmt.Errorf("%s: %w: _action", LogActionProcedure, errMissingArg)
	}
	if entityType == "" {
		return nil, fmt.Errorf("%s: %w: _entity_type", LogActionProcedure, errMissingArg)
	}

	row := rowstore.Row{
		"action":          action,
		"entity_type":     entityType,
		"entity_id":       optionalString(args["_entity_id"]),
		"organization_id": optionalString(args["_organization_id"]),
		"user_id":         optionalString(args["_user_id"]),
		"created_at":      time.Now().UTC(),
	}
	for _, key := range []string{"old_values", "new_values"} {
		encoded, err := encodeValues(args["_"+key])
		if err != nil {
			return nil, fmt.Errorf("%s: encode %s: %w", LogActionProcedure, key, err)
		}
		row[key] = encoded
	}

	out, err := gw.Insert(ctx, rbac.TableAuditLogs, row)
	if err != nil {
		return nil, err
	}
	return out["id"], nil
}

func optionalString(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return s
}

func encodeValues(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Recent returns the newest audit rows of an organization.
func Recent(ctx context.Context, gw rowstore.Gateway, orgID string, limit int) ([]rbac.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := gw.Select(ctx, rbac.TableAuditLogs, rowstore.Filter{"organization_id": orgID},
		rowstore.OrderByDesc("created_at"), rowstore.Limit(limit))
	if err != nil {
		return nil, err
	}
	return rowstore.DecodeAll[rbac.AuditLog](rows)
}

// Recorder turns access events into audit rows.
type Recorder struct {
	gw     rowstore.Gateway
	logger *slog.Logger
}

func NewRecorder(gw rowstore.Gateway, logger *slog.Logger) *Recorder {
	return &Recorder{gw: gw, logger: logger}
}

func (r *Recorder) HandleAccessChanged(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.AccessChangedEvent)
	if !ok {
		r.logger.Error("invalid event type for audit recorder", "event_type", event.EventType())
		return fmt.Errorf("expected AccessChangedEvent, got %T", event)
	}

	_, err := r.gw.Call(ctx, LogActionProcedure, map[string]any{
		"_action":          changed.EventType(),
		"_entity_type":     changed.EntityType,
		"_entity_id":       changed.EntityID,
		"_organization_id": changed.OrganizationID,
		"_user_id":         changed.ActorID,
		"_new_values":      changed.Data,
	})
	if err != nil {
		r.logger.Error("failed to record audit log",
			"event_type", changed.EventType(),
			"event_id", changed.EventID(),
			"error", err)
		return fmt.Errorf("audit %s: %w", changed.EventType(), err)
	}
	return nil
}

func (r *Recorder) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.SubscribeMany(events.AccessEventTypes, r.HandleAccessChanged)

	r.logger.Info("audit event handlers registered", "handlers", events.AccessEventTypes)
}
