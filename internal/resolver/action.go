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

// KeyboardProbe reports whether the on-screen keyboard is up.
type KeyboardProbe interface {
	KeyboardActive(ctx context.Context) (bool, error)
}

const keyboardHiddenNote = "The on-screen keyboard is not shown, so Input is not possible yet. " +
	"To type into a field, Click the input field first to raise the keyboard."

// ActionResolver picks the next interaction on a usable screen.
type ActionResolver struct {
	client   *oracle.Client
	keyboard KeyboardProbe
	logger   *slog.Logger
}

// NewActionResolver creates an action resolver.
func NewActionResolver(c *oracle.Client, kb KeyboardProbe, logger *slog.Logger) *ActionResolver {
	return &ActionResolver{client: c, keyboard: kb, logger: logging.OrDefault(logger).With("resolver", "action")}
}

// Resolve returns the chosen action. A target that is missing, non-numeric,
// not a leaf or excluded yields models.NoAction, never an error. Input chosen
// while the keyboard is hidden becomes a Click on the same element when that
// element takes text, and NoAction otherwise; Input becomes possible on a
// later turn once the keyboard is shown.
func (r *ActionResolver) Resolve(ctx context.Context, task *models.Task, snap *uitree.Snapshot, excluded []int) (models.Action, error) {
	active, err := r.keyboard.KeyboardActive(ctx)
	if err != nil {
		return models.Action{}, models.NewDeviceError("keyboard state", err)
	}

	req := oracle.Request{
		Kind:             oracle.KindAction,
		Task:             task.Goal(),
		Tree:             snap.Tree.Serialize(nil),
		History:          History(task),
		ExcludedElements: excluded,
	}
	if !active {
		req.Notes = append(req.Notes, keyboardHiddenNote)
	}
	fields, raw, err := r.client.Ask(ctx, req)
	if err != nil {
		return models.Action{}, err
	}

	kindText, _ := fields.First("Action", "Action Type")
	kind, err := models.ParseActionKind(kindText)
	if err != nil {
		return models.Action{}, models.NewDecisionError("action", raw, err)
	}
	reason, _ := fields.Get("Reason")
	if kind == models.ActionNone {
		return models.NoAction(reason), nil
	}
	if !kind.TargetsElement() {
		return models.Action{}, models.NewDecisionError("action", raw,
			fmt.Errorf("action %q is not a screen interaction: %w", kind, errSchemaMismatch))
	}

	idText, _ := fields.First("Element", "Element Id", "Id")
	id, ok := parseID(idText)
	if !ok {
		return r.noAction(task, fmt.Sprintf("no valid element in %q", idText)), nil
	}
	el, err := snap.Lookup(id)
	if err != nil {
		return r.noAction(task, fmt.Sprintf("element %d does not exist", id)), nil
	}
	if !el.IsLeaf() {
		return r.noAction(task, fmt.Sprintf("element %d is not a leaf", id)), nil
	}
	for _, x := range excluded {
		if x == id {
			return r.noAction(task, fmt.Sprintf("element %d is excluded", id)), nil
		}
	}

	action := models.Action{Kind: kind, ElementID: models.IntPtr(id), Reason: reason}
	if kind == models.ActionInput {
		if !active {
			if !el.InputCapable() {
				return r.noAction(task, fmt.Sprintf("element %d cannot take input", id)), nil
			}
			action.Kind = models.ActionClick
			action.Reason = "raise keyboard: " + reason
			r.logger.Info("input coerced to click while keyboard hidden", "task_id", task.ID, "element", id)
		} else {
			action.InputText, _ = fields.First("Input Text", "Text", "Input")
		}
	}

	r.logger.Debug("action resolved", "task_id", task.ID, "action", action.String())
	return action, nil
}

func (r *ActionResolver) noAction(task *models.Task, reason string) models.Action {
	r.logger.Info("no valid action target", "task_id", task.ID, "reason", reason)
	return models.NoAction(reason)
}
