package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

func (s *Store) CreateEvent(ctx context.Context, moduleID, description string, start, end int64, approved bool) (*model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := nextItemID(ctx, tx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events (module_id, id, description, start_at, end_at, approved, bulletin) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		moduleID, id, description, start, end, boolInt(approved)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Event{ID: id, ModuleID: moduleID, Description: description, Start: start, End: end, Approved: approved}, nil
}

func (s *Store) scanEventRows(rows *sql.Rows, moduleID string) ([]*model.Event, error) {
	var events []*model.Event
	for rows.Next() {
		var e model.Event
		var approved, bulletin int
		if err := rows.Scan(&e.ID, &e.Description, &e.Start, &e.End, &approved, &bulletin); err != nil {
			return nil, err
		}
		e.ModuleID = moduleID
		e.Approved = approved != 0
		e.Bulletin = bulletin != 0
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *Store) GetEvents(ctx context.Context, moduleID string) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, start_at, end_at, approved, bulletin FROM events WHERE module_id = ? ORDER BY start_at ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanEventRows(rows, moduleID)
}

func (s *Store) getEvent(ctx context.Context, moduleID string, id int64) (*model.Event, error) {
	var e model.Event
	var approved, bulletin int
	err := s.db.QueryRowContext(ctx, `SELECT description, start_at, end_at, approved, bulletin FROM events WHERE module_id = ? AND id = ?`, moduleID, id).
		Scan(&e.Description, &e.Start, &e.End, &approved, &bulletin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.ID = id
	e.ModuleID = moduleID
	e.Approved = approved != 0
	e.Bulletin = bulletin != 0
	return &e, nil
}

// ApproveEvent records a moderator's decision on a pending event. A rejected
// event is deleted rather than kept in a rejected state; the returned bool
// reports whether the event was deleted. Rejecting an already-approved
// event is a no-op: only unapproved events can be rejected away.
func (s *Store) ApproveEvent(ctx context.Context, moduleID string, id int64, approve bool) (*model.Event, bool, error) {
	if !approve {
		res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE module_id = ? AND id = ? AND approved = 0`, moduleID, id)
		if err != nil {
			return nil, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		if n > 0 {
			return nil, true, nil
		}
		ev, err := s.getEvent(ctx, moduleID, id)
		return ev, false, err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE events SET approved = 1 WHERE module_id = ? AND id = ?`, moduleID, id)
	if err := checkRowsAffected(res, err); err != nil {
		return nil, false, err
	}
	ev, err := s.getEvent(ctx, moduleID, id)
	return ev, false, err
}

func (s *Store) EditEvent(ctx context.Context, moduleID string, id int64, description string, start, end int64) (*model.Event, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET description = ?, start_at = ?, end_at = ? WHERE module_id = ? AND id = ?`, description, start, end, moduleID, id)
	if err := checkRowsAffected(res, err); err != nil {
		return nil, err
	}
	return s.getEvent(ctx, moduleID, id)
}

func (s *Store) DeleteEvent(ctx context.Context, moduleID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE module_id = ? AND id = ?`, moduleID, id)
	return checkRowsAffected(res, err)
}

func (s *Store) SetBulletinEvent(ctx context.Context, moduleID string, id int64, bulletin bool) (*model.Event, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET bulletin = ? WHERE module_id = ? AND id = ?`, boolInt(bulletin), moduleID, id)
	if err := checkRowsAffected(res, err); err != nil {
		return nil, err
	}
	return s.getEvent(ctx, moduleID, id)
}
