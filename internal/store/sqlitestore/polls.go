package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

func (s *Store) CreatePoll(ctx context.Context, moduleID, description string, options []string) (*model.Poll, error) {
	encoded, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := nextItemID(ctx, tx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO polls (module_id, id, description, options) VALUES (?, ?, ?, ?)`, moduleID, id, description, string(encoded)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Poll{ID: id, ModuleID: moduleID, Description: description, Options: options, Votes: map[string]int{}}, nil
}

func (s *Store) loadVotes(ctx context.Context, moduleID string, id int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, option FROM poll_votes WHERE module_id = ? AND poll_id = ?`, moduleID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := map[string]int{}
	for rows.Next() {
		var userID string
		var option int
		if err := rows.Scan(&userID, &option); err != nil {
			return nil, err
		}
		votes[userID] = option
	}
	return votes, rows.Err()
}

func (s *Store) getPoll(ctx context.Context, moduleID string, id int64) (*model.Poll, error) {
	var p model.Poll
	var optionsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT description, options FROM polls WHERE module_id = ? AND id = ?`, moduleID, id).
		Scan(&p.Description, &optionsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &p.Options); err != nil {
		return nil, err
	}
	p.ID = id
	p.ModuleID = moduleID

	votes, err := s.loadVotes(ctx, moduleID, id)
	if err != nil {
		return nil, err
	}
	p.Votes = votes
	return &p, nil
}

func (s *Store) GetPolls(ctx context.Context, moduleID string) ([]*model.Poll, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM polls WHERE module_id = ? ORDER BY id ASC`, moduleID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	polls := make([]*model.Poll, 0, len(ids))
	for _, id := range ids {
		p, err := s.getPoll(ctx, moduleID, id)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, nil
}

func (s *Store) Vote(ctx context.Context, moduleID string, id int64, userID string, option int) (*model.Poll, error) {
	var optionsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT options FROM polls WHERE module_id = ? AND id = ?`, moduleID, id).Scan(&optionsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var options []string
	if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
		return nil, err
	}
	if option < 0 || option >= len(options) {
		return nil, fmt.Errorf("vote: option %d out of range: %w", option, store.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO poll_votes (module_id, poll_id, user_id, option) VALUES (?, ?, ?, ?)
		ON CONFLICT(module_id, poll_id, user_id) DO UPDATE SET option = excluded.option`, moduleID, id, userID, option)
	if err != nil {
		return nil, err
	}

	return s.getPoll(ctx, moduleID, id)
}
