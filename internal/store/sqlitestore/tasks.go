package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

func (s *Store) CreateTask(ctx context.Context, moduleID, description string, deadline int64) (*model.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := nextItemID(ctx, tx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (module_id, id, description, deadline, done) VALUES (?, ?, ?, ?, 0)`, moduleID, id, description, deadline); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Task{ID: id, ModuleID: moduleID, Description: description, Deadline: deadline}, nil
}

func (s *Store) GetTasks(ctx context.Context, moduleID string) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, deadline, done FROM tasks WHERE module_id = ? ORDER BY id ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		var t model.Task
		var done int
		if err := rows.Scan(&t.ID, &t.Description, &t.Deadline, &done); err != nil {
			return nil, err
		}
		t.ModuleID = moduleID
		t.Done = done != 0
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *Store) scanTask(row *sql.Row, moduleID string, id int64) (*model.Task, error) {
	var t model.Task
	var done int
	if err := row.Scan(&t.Description, &t.Deadline, &done); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.ID = id
	t.ModuleID = moduleID
	t.Done = done != 0
	return &t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, moduleID string, id int64, done bool) (*model.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET done = ? WHERE module_id = ? AND id = ?`, boolInt(done), moduleID, id)
	if err := checkRowsAffected(res, err); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT description, deadline, done FROM tasks WHERE module_id = ? AND id = ?`, moduleID, id)
	return s.scanTask(row, moduleID, id)
}

func (s *Store) UpdateTaskDeadline(ctx context.Context, moduleID string, id int64, deadline int64) (*model.Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET deadline = ? WHERE module_id = ? AND id = ?`, deadline, moduleID, id)
	if err := checkRowsAffected(res, err); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT description, deadline, done FROM tasks WHERE module_id = ? AND id = ?`, moduleID, id)
	return s.scanTask(row, moduleID, id)
}

func (s *Store) DeleteTask(ctx context.Context, moduleID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE module_id = ? AND id = ?`, moduleID, id)
	return checkRowsAffected(res, err)
}
