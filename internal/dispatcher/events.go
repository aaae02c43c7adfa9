// Calendar-module handlers, including the approval flow: in a group with
// requireApproval, an ordinary user's event starts unapproved and needs a
// moderator's sign-off.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/wire"
)

func eventEntry(e *model.Event) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"description": e.Description,
		"start":       e.Start,
		"end":         e.End,
		"approved":    e.Approved,
		"bulletin":    e.Bulletin,
	}
}

func (d *Dispatcher) handleAddEvent(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group       string `json:"group"`
		Calendar    string `json:"calendar"`
		Description string `json:"description"`
		Start       int64  `json:"start"`
		End         int64  `json:"end"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Description == "" {
		return nil, Errorf("event description must not be empty")
	}
	if params.Start < 1 {
		return nil, Errorf("start must be positive")
	}
	if params.End < params.Start {
		return nil, Errorf("end must not precede start")
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModuleCal, params.Calendar, params.Group); err != nil {
		return nil, err
	}
	role, err := d.store.GetRole(ctx, params.Group, actor)
	if err != nil {
		return nil, storeErr(err)
	}
	if err := d.requireNotMuted(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	approved := true
	if role == model.RoleUser {
		groups, err := d.store.GetGroupInfo(ctx, []string{params.Group}, -1)
		if err != nil {
			return nil, storeErr(err)
		}
		if len(groups) > 0 && groups[0].RequireApproval {
			approved = false
		}
	}

	event, err := d.store.CreateEvent(ctx, params.Calendar, params.Description, params.Start, params.End, approved)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := eventEntry(event)
	push := map[string]any{"group": params.Group, "calendar": params.Calendar, "event": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushEvent, push, sess); err != nil {
		d.log.Error("fan out event %d in %s: %v", event.ID, params.Calendar, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleGetEvents(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		Calendar string `json:"calendar"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireModule(ctx, model.ModuleCal, params.Calendar, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, sess.State().UserID); err != nil {
		return nil, err
	}

	events, err := d.store.GetEvents(ctx, params.Calendar)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(events))
	for _, e := range events {
		entries = append(entries, eventEntry(e))
	}
	return map[string]any{"events": entries}, nil
}

// handleApproveEvent approves a pending event, or with approve=false
// deletes it. Already-approved events are untouched either way.
func (d *Dispatcher) handleApproveEvent(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		Calendar string `json:"calendar"`
		ID       int64  `json:"id"`
		Approve  bool   `json:"approve"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireModule(ctx, model.ModuleCal, params.Calendar, params.Group); err != nil {
		return nil, err
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}

	event, deleted, err := d.store.ApproveEvent(ctx, params.Calendar, params.ID, params.Approve)
	if err != nil {
		return nil, storeErr(err)
	}

	if deleted {
		push := map[string]any{"group": params.Group, "calendar": params.Calendar, "id": params.ID}
		if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushEventDeleted, push, sess); err != nil {
			d.log.Error("fan out event rejection %d in %s: %v", params.ID, params.Calendar, err)
		}
		return struct{}{}, nil
	}

	entry := eventEntry(event)
	if !params.Approve {
		// Rejecting an already-approved event changed nothing.
		return entry, nil
	}
	push := map[string]any{"group": params.Group, "calendar": params.Calendar, "event": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushEventApprove, push, sess); err != nil {
		d.log.Error("fan out event approval %d in %s: %v", params.ID, params.Calendar, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleUpdateEvent(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group       string `json:"group"`
		Calendar    string `json:"calendar"`
		ID          int64  `json:"id"`
		Description string `json:"description"`
		Start       int64  `json:"start"`
		End         int64  `json:"end"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Description == "" {
		return nil, Errorf("event description must not be empty")
	}
	if params.Start < 1 {
		return nil, Errorf("start must be positive")
	}
	if params.End < params.Start {
		return nil, Errorf("end must not precede start")
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModuleCal, params.Calendar, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}
	if err := d.requireNotMuted(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	event, err := d.store.EditEvent(ctx, params.Calendar, params.ID, params.Description, params.Start, params.End)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := eventEntry(event)
	push := map[string]any{"group": params.Group, "calendar": params.Calendar, "event": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushEventUpdated, push, sess); err != nil {
		d.log.Error("fan out event update %d in %s: %v", params.ID, params.Calendar, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleDeleteEvent(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		Calendar string `json:"calendar"`
		ID       int64  `json:"id"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireModule(ctx, model.ModuleCal, params.Calendar, params.Group); err != nil {
		return nil, err
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}

	if err := d.store.DeleteEvent(ctx, params.Calendar, params.ID); err != nil {
		return nil, storeErr(err)
	}

	push := map[string]any{"group": params.Group, "calendar": params.Calendar, "id": params.ID}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushEventDeleted, push, sess); err != nil {
		d.log.Error("fan out event delete %d in %s: %v", params.ID, params.Calendar, err)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleSetBulletin(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		Calendar string `json:"calendar"`
		ID       int64  `json:"id"`
		Bulletin bool   `json:"bulletin"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireModule(ctx, model.ModuleCal, params.Calendar, params.Group); err != nil {
		return nil, err
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}

	event, err := d.store.SetBulletinEvent(ctx, params.Calendar, params.ID, params.Bulletin)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := eventEntry(event)
	push := map[string]any{"group": params.Group, "calendar": params.Calendar, "event": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushSetBulletin, push, sess); err != nil {
		d.log.Error("fan out bulletin %d in %s: %v", params.ID, params.Calendar, err)
	}
	return entry, nil
}
