package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

func (s *Store) AddGroupInviteCode(ctx context.Context, groupID, code string, expireAt int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO invite_links (code, group_id, expire_at) VALUES (?, ?, ?)`, code, groupID, expireAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

// CheckInviteCode looks up a code regardless of expiry; the dispatcher
// applies the 30-second grace window before deciding whether the link
// still joins.
func (s *Store) CheckInviteCode(ctx context.Context, code string) (*model.InviteLink, error) {
	var link model.InviteLink
	err := s.db.QueryRowContext(ctx, `SELECT code, group_id, expire_at FROM invite_links WHERE code = ?`, code).
		Scan(&link.Code, &link.GroupID, &link.ExpireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *Store) JoinGroup(ctx context.Context, groupID, userID string, role model.Role) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, muted) VALUES (?, ?, ?, 0)`, groupID, userID, int(role))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("join group: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE groups SET modified_at = ? WHERE id = ?`, nowUnix(), groupID)
	return err
}

// SendInvite records a pending invite. If one already exists for this
// user/group pair, alreadyPending is reported true rather than erroring,
// so a moderator re-inviting doesn't see a spurious failure.
func (s *Store) SendInvite(ctx context.Context, groupID, targetUserID, inviterName string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM invites WHERE group_id = ? AND user_id = ?`, groupID, targetUserID).Scan(&x)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	groupName, err := s.GetGroupName(ctx, groupID)
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO invites (group_id, user_id, group_name, inviter_name) VALUES (?, ?, ?, ?)`, groupID, targetUserID, groupName, inviterName)
	return false, err
}

// SweepInviteLinks drops links past their expiry (never-expiring links
// have expire_at 0 and are kept). The caller folds the grace window into
// deadline.
func (s *Store) SweepInviteLinks(ctx context.Context, deadline int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invite_links WHERE expire_at != 0 AND expire_at < ?`, deadline)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetInvites(ctx context.Context, userID string) ([]*model.Invite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, user_id, group_name, inviter_name FROM invites WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []*model.Invite
	for rows.Next() {
		var inv model.Invite
		if err := rows.Scan(&inv.GroupID, &inv.UserID, &inv.GroupName, &inv.InviterName); err != nil {
			return nil, err
		}
		invites = append(invites, &inv)
	}
	return invites, rows.Err()
}

// ReplyToInvite removes the pending invite and, if accepted, joins the
// user to the group as an ordinary member.
func (s *Store) ReplyToInvite(ctx context.Context, groupID, userID string, accept bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM invites WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err := checkRowsAffected(res, err); err != nil {
		return err
	}

	if accept {
		if _, err := tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role, muted) VALUES (?, ?, ?, 0)`, groupID, userID, int(model.RoleUser)); err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE groups SET modified_at = ? WHERE id = ?`, nowUnix(), groupID); err != nil {
			return err
		}
	}

	return tx.Commit()
}
