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

// BackResolver looks for a back, close or dismiss control on an unrelated
// screen.
type BackResolver struct {
	client *oracle.Client
	logger *slog.Logger
}

// NewBackResolver creates a back resolver.
func NewBackResolver(c *oracle.Client, logger *slog.Logger) *BackResolver {
	return &BackResolver{client: c, logger: logging.OrDefault(logger).With("resolver", "back")}
}

// Resolve asks the oracle with only clickable elements listed. A "Yes" that
// names no valid clickable element is downgraded to Can=false.
func (r *BackResolver) Resolve(ctx context.Context, task *models.Task, snap *uitree.Snapshot) (models.BackAvailability, error) {
	req := oracle.Request{
		Kind:    oracle.KindBack,
		Task:    task.Goal(),
		Tree:    snap.Tree.Serialize(uitree.ClickableOnly),
		History: History(task),
	}
	fields, _, err := r.client.Ask(ctx, req)
	if err != nil {
		return models.BackAvailability{}, err
	}

	canText, _ := fields.First("Can", "Can Go Back")
	back := models.BackAvailability{Can: parseYes(canText)}
	back.Reason, _ = fields.Get("Reason")
	back.Description, _ = fields.Get("Description")
	if !back.Can {
		return back, nil
	}

	idText, _ := fields.First("Element", "Element Id", "Id")
	id, ok := parseID(idText)
	if !ok {
		return r.downgrade(task, back, fmt.Sprintf("no valid element in %q", idText)), nil
	}
	el, err := snap.Lookup(id)
	if err != nil {
		return r.downgrade(task, back, fmt.Sprintf("element %d does not exist", id)), nil
	}
	if !uitree.ClickableOnly(el) {
		return r.downgrade(task, back, fmt.Sprintf("element %d is not clickable", id)), nil
	}
	back.ElementID = models.IntPtr(id)

	r.logger.Debug("back control found", "task_id", task.ID, "element", id)
	return back, nil
}

func (r *BackResolver) downgrade(task *models.Task, back models.BackAvailability, why string) models.BackAvailability {
	r.logger.Info("back verdict downgraded", "task_id", task.ID, "reason", why)
	back.Can = false
	back.ElementID = nil
	if back.Reason != "" {
		back.Reason += "; "
	}
	back.Reason += why
	return back
}
