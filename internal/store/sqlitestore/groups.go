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

func (s *Store) loadMembers(ctx context.Context, q queryer, groupID string) ([]model.Member, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id, role, muted FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		var role int
		var muted int
		if err := rows.Scan(&m.UserID, &role, &muted); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		m.Muted = muted != 0
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) loadModuleIDs(ctx context.Context, q queryer, groupID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM modules WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) loadGroup(ctx context.Context, groupID string) (*model.Group, error) {
	var g model.Group
	var requireApproval int
	err := s.db.QueryRowContext(ctx, `SELECT id, name, require_approval, modified_at FROM groups WHERE id = ?`, groupID).
		Scan(&g.ID, &g.Name, &requireApproval, &g.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.RequireApproval = requireApproval != 0

	members, err := s.loadMembers(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	g.Members = members

	moduleIDs, err := s.loadModuleIDs(ctx, s.db, groupID)
	if err != nil {
		return nil, err
	}
	g.ModuleIDs = moduleIDs

	return &g, nil
}

func (s *Store) CreateGroup(ctx context.Context, name, ownerID string) (*model.Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := nowUnix()
	if _, err := tx.ExecContext(ctx, `INSERT INTO groups (id, name, require_approval, modified_at) VALUES (?, ?, 0, ?)`, id, name, now); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, muted) VALUES (?, ?, ?, 0)`, id, ownerID, int(model.RoleOwner)); err != nil {
		return nil, fmt.Errorf("create group owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.loadGroup(ctx, id)
}

// CreateSubGroup creates a new group scoped to a subset of an existing
// group's members. The creating caller (first entry of userIDs) becomes
// owner; the rest join as ordinary users.
func (s *Store) CreateSubGroup(ctx context.Context, parentGroupID, name string, userIDs []string) (*model.Group, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("create subgroup: %w", store.ErrNotMember)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	now := nowUnix()
	if _, err := tx.ExecContext(ctx, `INSERT INTO groups (id, name, require_approval, modified_at) VALUES (?, ?, 0, ?)`, id, name, now); err != nil {
		return nil, fmt.Errorf("create subgroup: %w", err)
	}
	for i, uid := range userIDs {
		role := model.RoleUser
		if i == 0 {
			role = model.RoleOwner
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, muted) VALUES (?, ?, ?, 0)`, id, uid, int(role)); err != nil {
			return nil, fmt.Errorf("create subgroup member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.loadGroup(ctx, id)
}

func (s *Store) GetGroups(ctx context.Context, userID string) ([]*model.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM group_members WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
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

	groups := make([]*model.Group, 0, len(ids))
	for _, id := range ids {
		g, err := s.loadGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// GetGroupInfo returns the groups among groupIDs modified after lastRefresh,
// so a reconnecting client can resync only what changed.
func (s *Store) GetGroupInfo(ctx context.Context, groupIDs []string, lastRefresh int64) ([]*model.Group, error) {
	groups := make([]*model.Group, 0, len(groupIDs))
	for _, id := range groupIDs {
		var modifiedAt int64
		err := s.db.QueryRowContext(ctx, `SELECT modified_at FROM groups WHERE id = ?`, id).Scan(&modifiedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if modifiedAt <= lastRefresh {
			continue
		}
		g, err := s.loadGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *Store) GetGroupName(ctx context.Context, groupID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM groups WHERE id = ?`, groupID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return name, err
}

func (s *Store) CheckUserInGroup(ctx context.Context, groupID, userID string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&x)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) GetRole(ctx context.Context, groupID, userID string) (model.Role, error) {
	var role int
	err := s.db.QueryRowContext(ctx, `SELECT role FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotMember
	}
	return model.Role(role), err
}

func (s *Store) GetMuted(ctx context.Context, groupID, userID string) (bool, error) {
	var muted int
	err := s.db.QueryRowContext(ctx, `SELECT muted FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&muted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotMember
	}
	return muted != 0, err
}

func (s *Store) GetUsers(ctx context.Context, groupID string) ([]model.Member, error) {
	return s.loadMembers(ctx, s.db, groupID)
}

func (s *Store) SetRequireApproval(ctx context.Context, groupID string, require bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET require_approval = ?, modified_at = ? WHERE id = ?`, boolInt(require), nowUnix(), groupID)
	return checkRowsAffected(res, err)
}

func (s *Store) Kick(ctx context.Context, groupID, targetID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, targetID)
	if err := checkRowsAffected(res, err); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE groups SET modified_at = ? WHERE id = ?`, nowUnix(), groupID)
	return err
}

// SetRole changes targetID's role. A group has exactly one owner, so if
// role is RoleOwner the previous owner is demoted to moderator and returned
// in demotedOwnerID so the dispatcher can notify them.
func (s *Store) SetRole(ctx context.Context, groupID, targetID string, role model.Role) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var demotedOwnerID string
	if role == model.RoleOwner {
		row := tx.QueryRowContext(ctx, `SELECT user_id FROM group_members WHERE group_id = ? AND role = ?`, groupID, int(model.RoleOwner))
		var prevOwner string
		if err := row.Scan(&prevOwner); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		if prevOwner != "" && prevOwner != targetID {
			if _, err := tx.ExecContext(ctx, `UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`, int(model.RoleModerator), groupID, prevOwner); err != nil {
				return "", err
			}
			demotedOwnerID = prevOwner
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`, int(role), groupID, targetID)
	if err := checkRowsAffected(res, err); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return demotedOwnerID, nil
}

func (s *Store) SetMuted(ctx context.Context, groupID, targetID string, muted bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE group_members SET muted = ? WHERE group_id = ? AND user_id = ?`, boolInt(muted), groupID, targetID)
	return checkRowsAffected(res, err)
}

// LeaveGroup removes userID from groupID. When userID is the last member,
// the whole group (modules, items, invites) is deleted in the same
// transaction, and cascaded is reported true.
func (s *Store) LeaveGroup(ctx context.Context, groupID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err := checkRowsAffected(res, err); err != nil {
		return false, err
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID).Scan(&remaining); err != nil {
		return false, err
	}

	cascaded := remaining == 0
	if cascaded {
		moduleRows, err := tx.QueryContext(ctx, `SELECT id FROM modules WHERE group_id = ?`, groupID)
		if err != nil {
			return false, err
		}
		var moduleIDs []string
		for moduleRows.Next() {
			var id string
			if err := moduleRows.Scan(&id); err != nil {
				moduleRows.Close()
				return false, err
			}
			moduleIDs = append(moduleIDs, id)
		}
		moduleRows.Close()
		if err := moduleRows.Err(); err != nil {
			return false, err
		}

		for _, mid := range moduleIDs {
			for _, stmt := range []string{
				`DELETE FROM messages WHERE module_id = ?`,
				`DELETE FROM reactions WHERE module_id = ?`,
				`DELETE FROM tasks WHERE module_id = ?`,
				`DELETE FROM events WHERE module_id = ?`,
				`DELETE FROM polls WHERE module_id = ?`,
				`DELETE FROM poll_votes WHERE module_id = ?`,
				`DELETE FROM item_seq WHERE module_id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, mid); err != nil {
					return false, err
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM modules WHERE group_id = ?`, groupID); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE group_id = ?`, groupID); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM invite_links WHERE group_id = ?`, groupID); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, groupID); err != nil {
			return false, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE groups SET modified_at = ? WHERE id = ?`, nowUnix(), groupID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return cascaded, nil
}
