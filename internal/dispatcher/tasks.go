// Task-module handlers.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/wire"
)

func taskEntry(t *model.Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"description": t.Description,
		"deadline":    t.Deadline,
		"done":        t.Done,
	}
}

// requireTaskActor runs the shared checks for mutating task operations:
// task-type module, membership, not muted.
func (d *Dispatcher) requireTaskActor(ctx context.Context, groupID, moduleID, actor string) error {
	if err := d.requireModule(ctx, model.ModuleTask, moduleID, groupID); err != nil {
		return err
	}
	if err := d.requireMember(ctx, groupID, actor); err != nil {
		return err
	}
	return d.requireNotMuted(ctx, groupID, actor)
}

func (d *Dispatcher) handleAddTask(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group       string `json:"group"`
		TaskList    string `json:"taskList"`
		Deadline    int64  `json:"deadline"`
		Description string `json:"description"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Description == "" {
		return nil, Errorf("task description must not be empty")
	}
	if params.Deadline < 0 {
		return nil, Errorf("deadline must not be negative")
	}
	if err := d.requireTaskActor(ctx, params.Group, params.TaskList, sess.State().UserID); err != nil {
		return nil, err
	}

	task, err := d.store.CreateTask(ctx, params.TaskList, params.Description, params.Deadline)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := taskEntry(task)
	push := map[string]any{"group": params.Group, "taskList": params.TaskList, "task": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushTask, push, sess); err != nil {
		d.log.Error("fan out task %d in %s: %v", task.ID, params.TaskList, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleGetTasks(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		TaskList string `json:"taskList"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireModule(ctx, model.ModuleTask, params.TaskList, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, sess.State().UserID); err != nil {
		return nil, err
	}

	tasks, err := d.store.GetTasks(ctx, params.TaskList)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, taskEntry(t))
	}
	return map[string]any{"tasks": entries}, nil
}

func (d *Dispatcher) handleUpdateTaskStatus(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		TaskList string `json:"taskList"`
		ID       int64  `json:"id"`
		Done     bool   `json:"done"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireTaskActor(ctx, params.Group, params.TaskList, sess.State().UserID); err != nil {
		return nil, err
	}

	task, err := d.store.UpdateTaskStatus(ctx, params.TaskList, params.ID, params.Done)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := taskEntry(task)
	push := map[string]any{"group": params.Group, "taskList": params.TaskList, "task": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushTaskUpdated, push, sess); err != nil {
		d.log.Error("fan out task update %d in %s: %v", params.ID, params.TaskList, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleUpdateTaskDeadline(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		TaskList string `json:"taskList"`
		ID       int64  `json:"id"`
		Deadline int64  `json:"deadline"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Deadline < 0 {
		return nil, Errorf("deadline must not be negative")
	}
	if err := d.requireTaskActor(ctx, params.Group, params.TaskList, sess.State().UserID); err != nil {
		return nil, err
	}

	task, err := d.store.UpdateTaskDeadline(ctx, params.TaskList, params.ID, params.Deadline)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := taskEntry(task)
	push := map[string]any{"group": params.Group, "taskList": params.TaskList, "task": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushTaskUpdated, push, sess); err != nil {
		d.log.Error("fan out task deadline %d in %s: %v", params.ID, params.TaskList, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleDeleteTask(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		TaskList string `json:"taskList"`
		ID       int64  `json:"id"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireTaskActor(ctx, params.Group, params.TaskList, sess.State().UserID); err != nil {
		return nil, err
	}

	if err := d.store.DeleteTask(ctx, params.TaskList, params.ID); err != nil {
		return nil, storeErr(err)
	}

	push := map[string]any{"group": params.Group, "taskList": params.TaskList, "id": params.ID}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushTaskDeleted, push, sess); err != nil {
		d.log.Error("fan out task delete %d in %s: %v", params.ID, params.TaskList, err)
	}
	return struct{}{}, nil
}
