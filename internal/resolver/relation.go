package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
	"github.com/fentz26/uta/internal/uitree"
)

// RelationResolver classifies how a screen relates to the task.
type RelationResolver struct {
	client *oracle.Client
	logger *slog.Logger
}

// NewRelationResolver creates a relation resolver.
func NewRelationResolver(c *oracle.Client, logger *slog.Logger) *RelationResolver {
	return &RelationResolver{client: c, logger: logging.OrDefault(logger).With("resolver", "relation")}
}

// Resolve asks the oracle once. Oracle and schema failures are returned as
// decision failures without retry.
func (r *RelationResolver) Resolve(ctx context.Context, task *models.Task, snap *uitree.Snapshot, excluded []int) (models.Relation, error) {
	req := oracle.Request{
		Kind:             oracle.KindRelation,
		Task:             task.Goal(),
		Tree:             snap.Tree.Serialize(nil),
		History:          History(task),
		ExcludedElements: excluded,
	}
	fields, raw, err := r.client.Ask(ctx, req)
	if err != nil {
		return models.Relation{}, err
	}

	kindText, _ := fields.Get("Relation")
	kind, err := models.ParseRelationKind(kindText)
	if err != nil {
		return models.Relation{}, models.NewDecisionError("relation", raw, err)
	}
	rel := models.Relation{Kind: kind}
	rel.Reason, _ = fields.Get("Reason")

	idText, _ := fields.First("Element Id", "Element", "Id")
	id, hasID := parseID(idText)
	switch {
	case kind == models.RelationCompleted:
	case kind.Related() && !hasID:
		return models.Relation{}, models.NewDecisionError("relation", raw,
			fmt.Errorf("%s verdict without element id: %w", kind, errSchemaMismatch))
	case hasID:
		rel.ElementID = models.IntPtr(id)
	}

	r.logger.Debug("relation resolved", "task_id", task.ID, "relation", rel.Kind, "element", idText)
	return rel, nil
}
