package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

func (s *Store) CreateModule(ctx context.Context, groupID, name string, mtype model.ModuleType) (*model.Module, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := nowUnix()
	if _, err := tx.ExecContext(ctx, `INSERT INTO modules (id, group_id, type, name, enabled, modified_at) VALUES (?, ?, ?, ?, 1, ?)`, id, groupID, string(mtype), name, now); err != nil {
		return nil, fmt.Errorf("create module: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO item_seq (module_id, next_id) VALUES (?, 1)`, id); err != nil {
		return nil, fmt.Errorf("create module seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE groups SET modified_at = ? WHERE id = ?`, now, groupID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Module{ID: id, GroupID: groupID, Type: mtype, Name: name, Enabled: true, ModifiedAt: now}, nil
}

func (s *Store) scanModule(row *sql.Row) (*model.Module, error) {
	var m model.Module
	var mtype string
	var enabled int
	if err := row.Scan(&m.ID, &m.GroupID, &mtype, &m.Name, &enabled, &m.ModifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	m.Type = model.ModuleType(mtype)
	m.Enabled = enabled != 0
	return &m, nil
}

func (s *Store) GetModules(ctx context.Context, groupID string) ([]*model.Module, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_id, type, name, enabled, modified_at FROM modules WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []*model.Module
	for rows.Next() {
		var m model.Module
		var mtype string
		var enabled int
		if err := rows.Scan(&m.ID, &m.GroupID, &mtype, &m.Name, &enabled, &m.ModifiedAt); err != nil {
			return nil, err
		}
		m.Type = model.ModuleType(mtype)
		m.Enabled = enabled != 0
		modules = append(modules, &m)
	}
	return modules, rows.Err()
}

func (s *Store) GetModuleInfo(ctx context.Context, moduleID string) (*model.Module, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, group_id, type, name, enabled, modified_at FROM modules WHERE id = ?`, moduleID)
	return s.scanModule(row)
}

func (s *Store) CheckModuleInGroup(ctx context.Context, mtype model.ModuleType, moduleID, groupID string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM modules WHERE id = ? AND group_id = ? AND type = ?`, moduleID, groupID, string(mtype)).Scan(&x)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) SetModuleEnabled(ctx context.Context, groupID, moduleID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE modules SET enabled = ?, modified_at = ? WHERE id = ? AND group_id = ?`, boolInt(enabled), nowUnix(), moduleID, groupID)
	return checkRowsAffected(res, err)
}
