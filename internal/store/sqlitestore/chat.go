package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

// CreateDirectMessage sets up the private conversation between creator
// and peer: a group named after the pair, the creator as owner, the peer
// as moderator (so either side can manage it), and one chat module.
func (s *Store) CreateDirectMessage(ctx context.Context, creator, peer string) (*model.Group, error) {
	creatorName, err := s.GetUserName(ctx, creator)
	if err != nil {
		return nil, err
	}
	peerName, err := s.GetUserName(ctx, peer)
	if err != nil {
		return nil, err
	}

	g, err := s.CreateGroup(ctx, creatorName+" & "+peerName, creator)
	if err != nil {
		return nil, err
	}
	if err := s.JoinGroup(ctx, g.ID, peer, model.RoleModerator); err != nil {
		return nil, err
	}
	if _, err := s.CreateModule(ctx, g.ID, "chat", model.ModuleChat); err != nil {
		return nil, err
	}
	return s.loadGroup(ctx, g.ID)
}

func (s *Store) SendMessage(ctx context.Context, moduleID, sender, contents string, timestamp int64) (*model.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := nextItemID(ctx, tx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO messages (module_id, id, sender, timestamp, contents, deleted) VALUES (?, ?, ?, ?, ?, 0)`, moduleID, id, sender, timestamp, contents); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Message{ID: id, ModuleID: moduleID, Sender: sender, Timestamp: timestamp, Contents: contents}, nil
}

func (s *Store) GetMessages(ctx context.Context, moduleID string, after, before int64) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sender, timestamp, contents, deleted FROM messages WHERE module_id = ? AND id > ? AND id < ? ORDER BY id ASC`, moduleID, after, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		var m model.Message
		var deleted int
		if err := rows.Scan(&m.ID, &m.Sender, &m.Timestamp, &m.Contents, &deleted); err != nil {
			return nil, err
		}
		m.ModuleID = moduleID
		m.Deleted = deleted != 0
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The pool holds a single connection, so reactions are loaded only after
	// the message rows are released.
	rows.Close()
	for _, m := range messages {
		reactions, err := s.GetReactions(ctx, moduleID, m.ID)
		if err != nil {
			return nil, err
		}
		m.Reactions = reactions
	}
	return messages, nil
}

func (s *Store) EditMessage(ctx context.Context, moduleID string, id int64, newContents string) (*model.Message, error) {
	var deleted bool
	if newContents == "" {
		deleted = true
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET contents = ?, deleted = ? WHERE module_id = ? AND id = ?`, newContents, boolInt(deleted), moduleID, id)
	if err := checkRowsAffected(res, err); err != nil {
		return nil, err
	}

	var m model.Message
	var d int
	err = s.db.QueryRowContext(ctx, `SELECT sender, timestamp, contents, deleted FROM messages WHERE module_id = ? AND id = ?`, moduleID, id).
		Scan(&m.Sender, &m.Timestamp, &m.Contents, &d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.ModuleID = moduleID
	m.Deleted = d != 0
	return &m, nil
}

func (s *Store) GetReactions(ctx context.Context, moduleID string, id int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, reaction FROM reactions WHERE module_id = ? AND message_id = ?`, moduleID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := map[string]string{}
	for rows.Next() {
		var userID, reaction string
		if err := rows.Scan(&userID, &reaction); err != nil {
			return nil, err
		}
		reactions[userID] = reaction
	}
	return reactions, rows.Err()
}

// SetReaction sets userID's reaction on a message, or clears it when
// reaction is nil, then returns the full updated reaction map.
func (s *Store) SetReaction(ctx context.Context, moduleID string, id int64, userID string, reaction *string) (map[string]string, error) {
	if reaction == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM reactions WHERE module_id = ? AND message_id = ? AND user_id = ?`, moduleID, id, userID); err != nil {
			return nil, err
		}
	} else {
		_, err := s.db.ExecContext(ctx, `INSERT INTO reactions (module_id, message_id, user_id, reaction) VALUES (?, ?, ?, ?)
			ON CONFLICT(module_id, message_id, user_id) DO UPDATE SET reaction = excluded.reaction`, moduleID, id, userID, *reaction)
		if err != nil {
			return nil, err
		}
	}
	return s.GetReactions(ctx, moduleID, id)
}
