// Group and membership handlers: creation, listing, modules, roles,
// muting, kicking, and leaving.
package dispatcher

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/wire"
)

// groupEntry is the wire shape of one group.
func groupEntry(g *model.Group) map[string]any {
	members := make([]map[string]any, 0, len(g.Members))
	for _, m := range g.Members {
		members = append(members, map[string]any{
			"id":    m.UserID,
			"role":  m.Role.String(),
			"muted": m.Muted,
		})
	}
	return map[string]any{
		"id":              g.ID,
		"name":            g.Name,
		"requireApproval": g.RequireApproval,
		"modifiedAt":      g.ModifiedAt,
		"members":         members,
		"modules":         g.ModuleIDs,
	}
}

func moduleEntry(m *model.Module) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"group":      m.GroupID,
		"type":       string(m.Type),
		"name":       m.Name,
		"enabled":    m.Enabled,
		"modifiedAt": m.ModifiedAt,
	}
}

func (d *Dispatcher) handleCreateGroup(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, Errorf("group name must not be empty")
	}

	g, err := d.store.CreateGroup(ctx, params.Name, sess.State().UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	return map[string]string{"id": g.ID}, nil
}

func (d *Dispatcher) handleCreateSubGroup(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group string   `json:"group"`
		Name  string   `json:"name"`
		Users []string `json:"users"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, Errorf("group name must not be empty")
	}

	actor := sess.State().UserID
	if _, err := d.requireRole(ctx, params.Group, actor, model.RoleOwner); err != nil {
		return nil, err
	}

	parents, err := d.store.GetGroupInfo(ctx, []string{params.Group}, -1)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(parents) == 0 {
		return nil, Errorf("does not exist")
	}
	parent := parents[0]

	// Only members of the parent group may be carried into the subgroup;
	// the actor always is, as its owner.
	userIDs := []string{actor}
	for _, uid := range params.Users {
		if uid == actor {
			continue
		}
		if _, ok := parent.FindMember(uid); ok {
			userIDs = append(userIDs, uid)
		}
	}

	g, err := d.store.CreateSubGroup(ctx, params.Group, params.Name, userIDs)
	if err != nil {
		return nil, storeErr(err)
	}
	if parent.RequireApproval {
		if err := d.store.SetRequireApproval(ctx, g.ID, true); err != nil {
			return nil, storeErr(err)
		}
	}
	return map[string]string{"id": g.ID}, nil
}

func (d *Dispatcher) handleGetGroups(ctx context.Context, sess Session) (any, error) {
	groups, err := d.store.GetGroups(ctx, sess.State().UserID)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, groupEntry(g))
	}
	return map[string]any{"groups": entries}, nil
}

func (d *Dispatcher) handleGetGroupInfo(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Groups      []string `json:"groups"`
		LastRefresh int64    `json:"lastRefresh"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	// Membership filter: only groups the actor belongs to are reported.
	actor := sess.State().UserID
	var memberOf []string
	for _, gid := range params.Groups {
		in, err := d.store.CheckUserInGroup(ctx, gid, actor)
		if err != nil {
			return nil, storeErr(err)
		}
		if in {
			memberOf = append(memberOf, gid)
		}
	}

	groups, err := d.store.GetGroupInfo(ctx, memberOf, params.LastRefresh)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, groupEntry(g))
	}
	return map[string]any{"groups": entries}, nil
}

func (d *Dispatcher) handleCreateModule(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group string `json:"group"`
		Name  string `json:"name"`
		Type  string `json:"type"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, Errorf("module name must not be empty")
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}

	mtype := model.ModuleType(params.Type)
	switch mtype {
	case model.ModuleChat, model.ModuleTask, model.ModuleCal, model.ModulePoll:
	default:
		mtype = model.ModuleCustom
	}

	m, err := d.store.CreateModule(ctx, params.Group, params.Name, mtype)
	if err != nil {
		return nil, storeErr(err)
	}
	return map[string]string{"id": m.ID}, nil
}

func (d *Dispatcher) handleSetRequireApproval(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group   string `json:"group"`
		Require bool   `json:"require"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}
	if err := d.store.SetRequireApproval(ctx, params.Group, params.Require); err != nil {
		return nil, storeErr(err)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleSetModuleEnabled(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group   string `json:"group"`
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if _, err := d.requireRole(ctx, params.Group, sess.State().UserID, model.RoleModerator); err != nil {
		return nil, err
	}
	if err := d.store.SetModuleEnabled(ctx, params.Group, params.ID, params.Enabled); err != nil {
		return nil, storeErr(err)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleGetUsers(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group string `json:"group"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, sess.State().UserID); err != nil {
		return nil, err
	}

	members, err := d.store.GetUsers(ctx, params.Group)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(members))
	for _, m := range members {
		name, err := d.store.GetUserName(ctx, m.UserID)
		if err != nil {
			return nil, storeErr(err)
		}
		entries = append(entries, map[string]any{
			"id":    m.UserID,
			"name":  name,
			"role":  m.Role.String(),
			"muted": m.Muted,
		})
	}
	return map[string]any{"users": entries}, nil
}

func (d *Dispatcher) handleGetUserInfo(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		User string `json:"user"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	acct, err := d.store.GetUserInfo(ctx, params.User)
	if err != nil {
		return nil, storeErr(err)
	}
	return map[string]string{"id": acct.ID, "name": acct.Name}, nil
}

func (d *Dispatcher) handleGetModules(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group string `json:"group"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, sess.State().UserID); err != nil {
		return nil, err
	}

	modules, err := d.store.GetModules(ctx, params.Group)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(modules))
	for _, m := range modules {
		entries = append(entries, moduleEntry(m))
	}
	return map[string]any{"modules": entries}, nil
}

func (d *Dispatcher) handleGetModuleInfo(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Module string `json:"module"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, sess.State().UserID); err != nil {
		return nil, err
	}

	m, err := d.store.GetModuleInfo(ctx, params.Module)
	if err != nil {
		return nil, storeErr(err)
	}
	if m.GroupID != params.Group {
		return nil, Errorf("no such module in this group")
	}
	return moduleEntry(m), nil
}

func (d *Dispatcher) handleLeaveGroup(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group string `json:"group"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	role, err := d.store.GetRole(ctx, params.Group, actor)
	if err != nil {
		return nil, storeErr(err)
	}
	if role == model.RoleOwner {
		members, err := d.store.GetUsers(ctx, params.Group)
		if err != nil {
			return nil, storeErr(err)
		}
		// A group must keep its single owner. The sole
		// member leaving cascades the whole group away instead.
		if len(members) > 1 {
			return nil, Errorf("owner cannot leave the group")
		}
	}

	if _, err := d.store.LeaveGroup(ctx, params.Group, actor); err != nil {
		return nil, storeErr(err)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleKick(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Target string `json:"target"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	if _, _, err := d.requireOver(ctx, params.Group, actor, params.Target); err != nil {
		return nil, err
	}
	if err := d.store.Kick(ctx, params.Group, params.Target); err != nil {
		return nil, storeErr(err)
	}

	d.registry.Forward(params.Target, wire.PushKicked, map[string]string{"group": params.Group}, nil)
	return struct{}{}, nil
}

func (d *Dispatcher) handleSetRole(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Target string `json:"target"`
		Role   string `json:"role"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	newRole := model.ParseRole(params.Role)
	actorRole, _, err := d.requireOver(ctx, params.Group, actor, params.Target)
	if err != nil {
		return nil, err
	}
	if newRole > actorRole {
		return nil, Errorf("cannot grant a role above your own")
	}

	demoted, err := d.store.SetRole(ctx, params.Group, params.Target, newRole)
	if err != nil {
		return nil, storeErr(err)
	}

	d.registry.Forward(params.Target, wire.PushRoleChanged, map[string]string{
		"group": params.Group,
		"role":  newRole.String(),
	}, nil)
	if demoted != "" {
		// Ownership transfer: the previous owner learns of
		// their demotion too. Their originating session, if any, already
		// has the direct reply.
		d.registry.Forward(demoted, wire.PushRoleChanged, map[string]string{
			"group": params.Group,
			"role":  model.RoleModerator.String(),
		}, sess)
	}
	return struct{}{}, nil
}

func (d *Dispatcher) handleSetMuted(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Target string `json:"target"`
		Muted  bool   `json:"muted"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	if _, _, err := d.requireOver(ctx, params.Group, actor, params.Target); err != nil {
		return nil, err
	}
	if err := d.store.SetMuted(ctx, params.Group, params.Target, params.Muted); err != nil {
		return nil, storeErr(err)
	}

	d.registry.Forward(params.Target, wire.PushMutedChanged, map[string]any{
		"group": params.Group,
		"muted": params.Muted,
	}, nil)
	return struct{}{}, nil
}
