// Chat handlers: messages, edits/deletions, and reactions. Message ids are
// the per-module sequential ids the Store assigns.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
	"github.com/comcore-chat/comcore/internal/wire"
)

// maxMessageID bounds the before clamp: ids fit in a float64-safe integer
// so JavaScript clients can hold them losslessly.
const maxMessageID = int64(1) << 53

// reactionList flattens the Store's userID -> reaction map into the wire
// shape. Always non-nil so an unreacted message serializes as [].
func reactionList(reactions map[string]string) []map[string]string {
	list := make([]map[string]string, 0, len(reactions))
	for userID, reaction := range reactions {
		list = append(list, map[string]string{"user": userID, "reaction": reaction})
	}
	return list
}

func messageEntry(m *model.Message) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"sender":    m.Sender,
		"timestamp": m.Timestamp,
		"contents":  m.Contents,
		"deleted":   m.Deleted,
		"reactions": reactionList(m.Reactions),
	}
}

// handleCreateDirectMessage opens a private conversation with another
// user, addressed by email. The reply carries the conversation group's id;
// the peer picks it up on their next group sync.
func (d *Dispatcher) handleCreateDirectMessage(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Email string `json:"email"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	peer, err := d.store.LookupAccount(ctx, params.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, Errorf("no account with that email")
	}
	if err != nil {
		return nil, err
	}
	if peer.ID == actor {
		return nil, Errorf("cannot message yourself")
	}

	g, err := d.store.CreateDirectMessage(ctx, actor, peer.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	return map[string]string{"id": g.ID}, nil
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		Chat     string `json:"chat"`
		Contents string `json:"contents"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Contents == "" {
		return nil, Errorf("message contents must not be empty")
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModuleChat, params.Chat, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}
	if err := d.requireNotMuted(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	msg, err := d.store.SendMessage(ctx, params.Chat, actor, params.Contents, d.now().UnixMilli())
	if err != nil {
		return nil, storeErr(err)
	}

	entry := messageEntry(msg)
	push := map[string]any{"group": params.Group, "chat": params.Chat, "message": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushMessage, push, sess); err != nil {
		d.log.Error("fan out message %d in %s: %v", msg.ID, params.Chat, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleGetMessages(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group  string `json:"group"`
		Chat   string `json:"chat"`
		After  int64  `json:"after"`
		Before int64  `json:"before"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModuleChat, params.Chat, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	if params.After < 1 {
		params.After = 0
	}
	if params.Before < 1 {
		params.Before = maxMessageID
	}

	messages, err := d.store.GetMessages(ctx, params.Chat, params.After, params.Before)
	if err != nil {
		return nil, storeErr(err)
	}
	// Most-recent window, ascending order within it.
	if len(messages) > consts.MaxMessagesPerFetch {
		messages = messages[len(messages)-consts.MaxMessagesPerFetch:]
	}

	entries := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, messageEntry(m))
	}
	return map[string]any{"messages": entries}, nil
}

func (d *Dispatcher) handleUpdateMessage(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		Chat     string `json:"chat"`
		ID       int64  `json:"id"`
		Contents string `json:"contents"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModuleChat, params.Chat, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	existing, err := d.fetchMessage(ctx, params.Chat, params.ID)
	if err != nil {
		return nil, err
	}
	if existing.Deleted {
		return nil, Errorf("message has been deleted")
	}

	if existing.Sender != actor {
		// Someone else's message: only deletion, and only by a member
		// strictly more powerful than the author.
		if params.Contents != "" {
			return nil, Errorf("cannot edit another user's message")
		}
		actorRole, err := d.store.GetRole(ctx, params.Group, actor)
		if err != nil {
			return nil, storeErr(err)
		}
		if actorRole < model.RoleModerator {
			return nil, Errorf("insufficient role")
		}
		senderRole, err := d.store.GetRole(ctx, params.Group, existing.Sender)
		if err != nil && !errors.Is(err, store.ErrNotMember) {
			return nil, storeErr(err)
		}
		// An author who already left the group counts as an ordinary user.
		if err == nil && actorRole <= senderRole {
			return nil, Errorf("insufficient role")
		}
	}

	updated, err := d.store.EditMessage(ctx, params.Chat, params.ID, params.Contents)
	if err != nil {
		return nil, storeErr(err)
	}
	updated.Reactions, err = d.store.GetReactions(ctx, params.Chat, params.ID)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := messageEntry(updated)
	push := map[string]any{"group": params.Group, "chat": params.Chat, "message": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushMessageEdit, push, sess); err != nil {
		d.log.Error("fan out message update %d in %s: %v", params.ID, params.Chat, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleSetReaction(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string  `json:"group"`
		Chat     string  `json:"chat"`
		ID       int64   `json:"id"`
		Reaction *string `json:"reaction"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModuleChat, params.Chat, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}
	if _, err := d.fetchMessage(ctx, params.Chat, params.ID); err != nil {
		return nil, err
	}

	reactions, err := d.store.SetReaction(ctx, params.Chat, params.ID, actor, params.Reaction)
	if err != nil {
		return nil, storeErr(err)
	}

	list := reactionList(reactions)
	push := map[string]any{
		"group":     params.Group,
		"chat":      params.Chat,
		"id":        params.ID,
		"reactions": list,
	}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushReaction, push, sess); err != nil {
		d.log.Error("fan out reaction on %d in %s: %v", params.ID, params.Chat, err)
	}
	return map[string]any{"reactions": list}, nil
}

// fetchMessage loads one message by its sequential id.
func (d *Dispatcher) fetchMessage(ctx context.Context, chatID string, id int64) (*model.Message, error) {
	if id < 1 {
		return nil, Errorf("does not exist")
	}
	messages, err := d.store.GetMessages(ctx, chatID, id-1, id+1)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(messages) == 0 {
		return nil, Errorf("does not exist")
	}
	return messages[0], nil
}
