// Poll-module handlers.
package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/wire"
)

func pollEntry(p *model.Poll) map[string]any {
	votes := make(map[string]int, len(p.Votes))
	for userID, option := range p.Votes {
		votes[userID] = option
	}
	return map[string]any{
		"id":          p.ID,
		"description": p.Description,
		"options":     p.Options,
		"votes":       votes,
	}
}

func (d *Dispatcher) handleAddPoll(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group       string   `json:"group"`
		PollList    string   `json:"pollList"`
		Description string   `json:"description"`
		Options     []string `json:"options"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Description == "" {
		return nil, Errorf("poll description must not be empty")
	}
	if len(params.Options) == 0 {
		return nil, Errorf("poll needs at least one option")
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModulePoll, params.PollList, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}
	if err := d.requireNotMuted(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	poll, err := d.store.CreatePoll(ctx, params.PollList, params.Description, params.Options)
	if err != nil {
		return nil, storeErr(err)
	}

	entry := pollEntry(poll)
	push := map[string]any{"group": params.Group, "pollList": params.PollList, "poll": entry}
	if err := d.registry.ForwardGroup(ctx, params.Group, wire.PushPoll, push, sess); err != nil {
		d.log.Error("fan out poll %d in %s: %v", poll.ID, params.PollList, err)
	}
	return entry, nil
}

func (d *Dispatcher) handleGetPolls(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		PollList string `json:"pollList"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if err := d.requireModule(ctx, model.ModulePoll, params.PollList, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, sess.State().UserID); err != nil {
		return nil, err
	}

	polls, err := d.store.GetPolls(ctx, params.PollList)
	if err != nil {
		return nil, storeErr(err)
	}
	entries := make([]map[string]any, 0, len(polls))
	for _, p := range polls {
		entries = append(entries, pollEntry(p))
	}
	return map[string]any{"polls": entries}, nil
}

func (d *Dispatcher) handleVoteOnPoll(ctx context.Context, sess Session, data json.RawMessage) (any, error) {
	var params struct {
		Group    string `json:"group"`
		PollList string `json:"pollList"`
		ID       int64  `json:"id"`
		Option   int    `json:"option"`
	}
	if err := decode(data, &params); err != nil {
		return nil, err
	}
	if params.Option < 0 {
		return nil, Errorf("option must not be negative")
	}

	actor := sess.State().UserID
	if err := d.requireModule(ctx, model.ModulePoll, params.PollList, params.Group); err != nil {
		return nil, err
	}
	if err := d.requireMember(ctx, params.Group, actor); err != nil {
		return nil, err
	}

	if _, err := d.store.Vote(ctx, params.PollList, params.ID, actor, params.Option); err != nil {
		return nil, storeErr(err)
	}
	return struct{}{}, nil
}
