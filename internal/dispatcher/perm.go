package dispatcher

import (
	"context"
	"errors"

	"github.com/comcore-chat/comcore/internal/model"
	"github.com/comcore-chat/comcore/internal/store"
)

// requireMember verifies userID belongs to groupID.
func (d *Dispatcher) requireMember(ctx context.Context, groupID, userID string) error {
	in, err := d.store.CheckUserInGroup(ctx, groupID, userID)
	if err != nil {
		return storeErr(err)
	}
	if !in {
		return Errorf("not a member of this group")
	}
	return nil
}

// requireRole verifies userID holds at least min within groupID and
// returns the actual role.
func (d *Dispatcher) requireRole(ctx context.Context, groupID, userID string, min model.Role) (model.Role, error) {
	role, err := d.store.GetRole(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotMember) {
			return 0, Errorf("not a member of this group")
		}
		return 0, storeErr(err)
	}
	if role < min {
		return role, Errorf("insufficient role")
	}
	return role, nil
}

// requireOver verifies actorID may modify targetID within groupID: the two
// differ and the actor's role strictly exceeds the target's.
func (d *Dispatcher) requireOver(ctx context.Context, groupID, actorID, targetID string) (actorRole, targetRole model.Role, err error) {
	if actorID == targetID {
		return 0, 0, Errorf("cannot modify yourself")
	}
	actorRole, err = d.store.GetRole(ctx, groupID, actorID)
	if err != nil {
		return 0, 0, storeErr(err)
	}
	targetRole, err = d.store.GetRole(ctx, groupID, targetID)
	if err != nil {
		return 0, 0, storeErr(err)
	}
	if actorRole <= targetRole {
		return 0, 0, Errorf("insufficient role")
	}
	return actorRole, targetRole, nil
}

// requireNotMuted verifies userID may create items in groupID.
func (d *Dispatcher) requireNotMuted(ctx context.Context, groupID, userID string) error {
	muted, err := d.store.GetMuted(ctx, groupID, userID)
	if err != nil {
		return storeErr(err)
	}
	if muted {
		return Errorf("user is muted")
	}
	return nil
}

// requireModule verifies moduleID is a module of groupID with the given type.
func (d *Dispatcher) requireModule(ctx context.Context, mtype model.ModuleType, moduleID, groupID string) error {
	ok, err := d.store.CheckModuleInGroup(ctx, mtype, moduleID, groupID)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return Errorf("no such module in this group")
	}
	return nil
}
