// Invite handlers: shareable invite links with bounded lifetime and the
// 30-second grace window, plus direct per-user invites.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/cryptoutil"
	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
	"github.com/comcore-chat/comcore/internal/wire"
)

func (d *Dispatcher) handleCreateInviteLink(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Expire int64  `json:"expire"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Expire < 0 {
		return nil, Errorf("expire must not be negative")
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}

	expire := params.Expire
	if expire != 0 {
		if floor := d.now().Add(consts.InviteLinkMinLifetime).UnixMilli(); expire < floor {
			expire = floor
		}
	}

	// Codes are globally unique; regenerate on the rare collision.
	for attempt := 0; ; attempt++ {
		code, err := cryptoutil.HumanCode(consts.InviteCodeLength)
		if err != nil {
			return nil, err
		}
		err = d.store.AddGroupInviteCode(ctx, params.Group, code, expire)
		if errors.Is(err, store.ErrDuplicate) && attempt < 5 {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		return map[string]string{"link": code}, nil
	}
}

// parseInviteCode accepts either a bare code or a full join URL and
// returns the trailing code component.
func parseInviteCode(link string) string {
	link = strings.TrimSpace(link)
	link = strings.TrimSuffix(link, "/")
	if i := strings.LastIndexByte(link, '/'); i >= 0 {
		link = link[i+1:]
	}
	return link
}

// inviteLinkValid applies the grace window: a link with expire 0 never
// expires; otherwise it joins for up to 30 seconds past expireAt.
func (d *Dispatcher) inviteLinkValid(link *model.InviteLink) bool {
	if link.ExpireAt == 0 {
		return true
	}
	deadline := link.ExpireAt + consts.InviteLinkGrace.Milliseconds()
	return d.now().UnixMilli() <= deadline
}

func (d *Dispatcher) handleUseInviteLink(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Link string `json:"link"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	link, err := d.store.CheckInviteCode(ctx, parseInviteCode(params.Link))
	if errors.Is(err, store.ErrNotFound) {
		return map[string]any{"id": nil}, nil
	}
	if err != nil {
		return nil, err
	}
	if !d.inviteLinkValid(link) {
		return map[string]any{"id": nil}, nil
	}

	err = d.store.JoinGroup(ctx, link.GroupID, sess.State().UserID, model.RoleUser)
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return nil, storeErr(err)
	}
	return map[string]any{"id": link.GroupID}, nil
}

// handleCheckInviteLink is state-independent: it reports validity without
// joining, so the static join page and a logged-out client can both probe
// a link.
func (d *Dispatcher) handleCheckInviteLink(ctx context.Context, data json.RawMessage) (any, error) {
	var params struct {
		Link string `json:"link"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	valid, name, expire, err := d.InviteLinkInfo(ctx, params.Link)
	if err != nil {
		return nil, err
	}
	return map[string]any{"valid": valid, "name": name, "expire": expire}, nil
}

// InviteLinkInfo resolves an invite link to its validity, group name, and
// expiry. Shared with the static site's join page so both surfaces agree.
func (d *Dispatcher) InviteLinkInfo(ctx context.Context, rawLink string) (valid bool, name string, expire int64, err error) {
	link, err := d.store.CheckInviteCode(ctx, parseInviteCode(rawLink))
	if errors.Is(err, store.ErrNotFound) {
		return false, "", 0, nil
	}
	if err != nil {
		return false, "", 0, err
	}
	if !d.inviteLinkValid(link) {
		return false, "", link.ExpireAt, nil
	}
	name, err = d.store.GetGroupName(ctx, link.GroupID)
	if err != nil {
		return false, "", 0, storeErr(err)
	}
	return true, name, link.ExpireAt, nil
}

func (d *Dispatcher) handleSendInvite(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group string `json:"group"`
		Email string `json:"email"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	if _, err := d.requireRole(ctx, params.Group, actor, model.RoleModerator); err != nil {
		return nil, err
	}

	target, err := d.store.LookupAccount(ctx, strings.TrimSpace(params.Email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, Errorf("no account with that email")
	}
	if err != nil {
		return nil, err
	}

	in, err := d.store.CheckUserInGroup(ctx, params.Group, target.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if in {
		return nil, Errorf("already a member of this group")
	}

	inviterName, err := d.store.GetUserName(ctx, actor)
	if err != nil {
		return nil, storeErr(err)
	}
	groupName, err := d.store.GetGroupName(ctx, params.Group)
	if err != nil {
		return nil, storeErr(err)
	}

	alreadyPending, err := d.store.SendInvite(ctx, params.Group, target.ID, inviterName)
	if err != nil {
		return nil, storeErr(err)
	}
	// A repeated invite still reports sent but does not push again, so the
	// target's devices see exactly one notification per pending invite.
	if !alreadyPending {
		d.registry.Forward(target.ID, wire.PushInvite, map[string]string{
			"group":   params.Group,
			"name":    groupName,
			"inviter": inviterName,
		}, nil)
	}
	return map[string]bool{"sent": true}, nil
}

func (d *Dispatcher) handleGetInvites(ctx context.Context, sess Session) (any, error) {
	invites, err := d.store.GetInvites(ctx, sess.State().UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]string, 0, len(invites))
	for _, inv := range invites {
		entries = append(entries, map[string]string{
			"group":   inv.GroupID,
			"name":    inv.GroupName,
			"inviter": inv.InviterName,
		})
	}
	return map[string]any{"invites": entries}, nil
}

func (d *Dispatcher) handleReplyToInvite(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Accept bool   `json:"accept"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.store.ReplyToInvite(ctx, params.Group, sess.State().UserID, params.Accept); err != nil {
		return nil, storeErr(err)
	}
	return struct{}{}, nil
}
