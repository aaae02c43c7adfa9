package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcore-chat/comcore/internal/statemachine"
	"github.com/comcore-chat/comcore/internal/wire"
)

// setupGroup creates Alice (owner) and Bob (user) in a fresh group and
// returns their sessions, ids, and the group id.
func setupGroup(t *testing.T, e *env) (alice, bob *fakeSession, aliceID, bobID, groupID string) {
	t.Helper()
	alice, aliceID = e.signUp(t, "Alice", "alice@x", "p")
	bob, bobID = e.signUp(t, "Bob", "bob@x", "p")

	reply := e.mustCall(t, alice, wire.KindCreateGroup, map[string]string{"name": "G"})
	groupID = reply["id"].(string)

	link := e.mustCall(t, alice, wire.KindCreateInviteLink, map[string]any{"group": groupID, "expire": 0})
	joined := e.mustCall(t, bob, wire.KindUseInviteLink, map[string]string{"link": link["link"].(string)})
	require.Equal(t, groupID, joined["id"])
	return alice, bob, aliceID, bobID, groupID
}

// createModule adds a module of the given type and returns its id.
func createModule(t *testing.T, e *env, sess *fakeSession, groupID, name, mtype string) string {
	t.Helper()
	reply := e.mustCall(t, sess, wire.KindCreateModule, map[string]string{
		"group": groupID, "name": name, "type": mtype,
	})
	return reply["id"].(string)
}

func TestCreateGroupRequiresName(t *testing.T) {
	e := newEnv(t)
	sess, _ := e.signUp(t, "Alice", "alice@x", "p")

	_, err := e.call(t, sess, wire.KindCreateGroup, map[string]string{"name": "  "})
	assert.Error(t, err)
}

func TestGetGroupsIsMembershipFiltered(t *testing.T) {
	e := newEnv(t)
	alice, _, _, _, groupID := setupGroup(t, e)

	carol, _ := e.signUp(t, "Carol", "carol@x", "p")
	reply := e.mustCall(t, carol, wire.KindGetGroups, nil)
	assert.Empty(t, reply["groups"])

	reply = e.mustCall(t, alice, wire.KindGetGroups, nil)
	groups := reply["groups"].([]any)
	require.Len(t, groups, 1)
	assert.Equal(t, groupID, asMap(t, groups[0])["id"])
}

func TestGetGroupInfoSkipsUnmodifiedGroups(t *testing.T) {
	e := newEnv(t)
	alice, _, _, _, groupID := setupGroup(t, e)

	reply := e.mustCall(t, alice, wire.KindGetGroupInfo, map[string]any{
		"groups": []string{groupID}, "lastRefresh": 0,
	})
	require.Len(t, reply["groups"].([]any), 1)
	modifiedAt := int64(asMap(t, reply["groups"].([]any)[0])["modifiedAt"].(float64))

	reply = e.mustCall(t, alice, wire.KindGetGroupInfo, map[string]any{
		"groups": []string{groupID}, "lastRefresh": modifiedAt,
	})
	assert.Empty(t, reply["groups"])
}

func TestUserCannotChangeRoles(t *testing.T) {
	e := newEnv(t)
	_, bob, _, bobID, groupID := setupGroup(t, e)

	// Bob promoting himself fails: nobody modifies their own membership.
	_, err := e.call(t, bob, wire.KindSetRole, map[string]string{
		"group": groupID, "target": bobID, "role": "moderator",
	})
	assert.Error(t, err)
	assert.False(t, IsUnauthorized(err))
}

func TestOwnerPromotesAndOtherSessionIsNotified(t *testing.T) {
	e := newEnv(t)
	alice, _, _, bobID, groupID := setupGroup(t, e)

	// Bob's second device.
	bobPhone := newFakeSession()
	e.mustCall(t, bobPhone, wire.KindLogin, map[string]string{"email": "bob@x", "pass": "p"})
	bobPhone.drainPushes()

	e.mustCall(t, alice, wire.KindSetRole, map[string]string{
		"group": groupID, "target": bobID, "role": "moderator",
	})

	p := bobPhone.lastPush(t)
	assert.Equal(t, wire.PushRoleChanged, p.Kind)
	data := asMap(t, p.Data)
	assert.Equal(t, groupID, data["group"])
	assert.Equal(t, "moderator", data["role"])
}

func TestOwnershipTransferDemotesPreviousOwner(t *testing.T) {
	e := newEnv(t)
	alice, bob, aliceID, bobID, groupID := setupGroup(t, e)

	// Alice's other device should hear about her demotion.
	alicePhone := newFakeSession()
	e.mustCall(t, alicePhone, wire.KindLogin, map[string]string{"email": "alice@x", "pass": "p"})
	alicePhone.drainPushes()
	bob.drainPushes()

	e.mustCall(t, alice, wire.KindSetRole, map[string]string{
		"group": groupID, "target": bobID, "role": "owner",
	})

	users := e.mustCall(t, alice, wire.KindGetUsers, map[string]string{"group": groupID})
	roles := map[string]string{}
	for _, u := range users["users"].([]any) {
		entry := asMap(t, u)
		roles[entry["id"].(string)] = entry["role"].(string)
	}
	assert.Equal(t, "owner", roles[bobID])
	assert.Equal(t, "moderator", roles[aliceID])

	bobPush := bob.lastPush(t)
	assert.Equal(t, wire.PushRoleChanged, bobPush.Kind)
	assert.Equal(t, "owner", asMap(t, bobPush.Data)["role"])

	alicePush := alicePhone.lastPush(t)
	assert.Equal(t, wire.PushRoleChanged, alicePush.Kind)
	assert.Equal(t, "moderator", asMap(t, alicePush.Data)["role"])
}

func TestCannotGrantRoleAboveOwn(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, bobID, groupID := setupGroup(t, e)
	carol, carolID := e.signUp(t, "Carol", "carol@x", "p")

	link := e.mustCall(t, alice, wire.KindCreateInviteLink, map[string]any{"group": groupID, "expire": 0})
	e.mustCall(t, carol, wire.KindUseInviteLink, map[string]string{"link": link["link"].(string)})

	e.mustCall(t, alice, wire.KindSetRole, map[string]string{
		"group": groupID, "target": bobID, "role": "moderator",
	})

	// Bob (moderator) cannot make Carol owner.
	_, err := e.call(t, bob, wire.KindSetRole, map[string]string{
		"group": groupID, "target": carolID, "role": "owner",
	})
	assert.Error(t, err)
}

func TestMutedUserCannotSendMessages(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, bobID, groupID := setupGroup(t, e)
	chatID := createModule(t, e, alice, groupID, "main", "chat")

	bob.drainPushes()
	e.mustCall(t, alice, wire.KindSetMuted, map[string]any{
		"group": groupID, "target": bobID, "muted": true,
	})

	mutedPush := bob.lastPush(t)
	assert.Equal(t, wire.PushMutedChanged, mutedPush.Kind)
	assert.Equal(t, true, asMap(t, mutedPush.Data)["muted"])

	_, err := e.call(t, bob, wire.KindSendMessage, map[string]string{
		"group": groupID, "chat": chatID, "contents": "x",
	})
	require.Error(t, err)
	message, _ := IsRequestError(err)
	assert.Equal(t, "user is muted", message)
}

func TestKickNotifiesTarget(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, bobID, groupID := setupGroup(t, e)

	bob.drainPushes()
	e.mustCall(t, alice, wire.KindKick, map[string]string{"group": groupID, "target": bobID})

	p := bob.lastPush(t)
	assert.Equal(t, wire.PushKicked, p.Kind)
	assert.Equal(t, groupID, asMap(t, p.Data)["group"])

	users := e.mustCall(t, alice, wire.KindGetUsers, map[string]string{"group": groupID})
	assert.Len(t, users["users"].([]any), 1)
}

func TestKickRequiresStrictlyGreaterRole(t *testing.T) {
	e := newEnv(t)
	_, bob, aliceID, _, groupID := setupGroup(t, e)

	_, err := e.call(t, bob, wire.KindKick, map[string]string{"group": groupID, "target": aliceID})
	assert.Error(t, err)
}

func TestOwnerCannotLeaveWhileOthersRemain(t *testing.T) {
	e := newEnv(t)
	alice, _, _, _, groupID := setupGroup(t, e)

	_, err := e.call(t, alice, wire.KindLeaveGroup, map[string]string{"group": groupID})
	assert.Error(t, err)
}

func TestLastMemberLeavingCascadesGroup(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, _, groupID := setupGroup(t, e)
	createModule(t, e, alice, groupID, "main", "chat")

	e.mustCall(t, bob, wire.KindLeaveGroup, map[string]string{"group": groupID})
	e.mustCall(t, alice, wire.KindLeaveGroup, map[string]string{"group": groupID})

	reply := e.mustCall(t, alice, wire.KindGetGroups, nil)
	assert.Empty(t, reply["groups"])
}

func TestCreateSubGroupInheritsApprovalAndFiltersMembers(t *testing.T) {
	e := newEnv(t)
	alice, _, aliceID, bobID, groupID := setupGroup(t, e)
	_, carolID := e.signUp(t, "Carol", "carol@x", "p")

	e.mustCall(t, alice, wire.KindSetRequireApproval, map[string]any{"group": groupID, "require": true})

	// Carol is not in the parent group, so she is silently dropped.
	reply := e.mustCall(t, alice, wire.KindCreateSubGroup, map[string]any{
		"group": groupID, "name": "Sub", "users": []string{bobID, carolID},
	})
	subID := reply["id"].(string)

	info := e.mustCall(t, alice, wire.KindGetGroupInfo, map[string]any{
		"groups": []string{subID}, "lastRefresh": 0,
	})
	groups := info["groups"].([]any)
	require.Len(t, groups, 1)
	sub := asMap(t, groups[0])
	assert.Equal(t, true, sub["requireApproval"])

	members := sub["members"].([]any)
	require.Len(t, members, 2)
	ids := map[string]bool{}
	for _, m := range members {
		ids[asMap(t, m)["id"].(string)] = true
	}
	assert.True(t, ids[aliceID])
	assert.True(t, ids[bobID])
	assert.False(t, ids[carolID])
}

func TestCreateSubGroupRequiresOwner(t *testing.T) {
	e := newEnv(t)
	_, bob, _, bobID, groupID := setupGroup(t, e)

	_, err := e.call(t, bob, wire.KindCreateSubGroup, map[string]any{
		"group": groupID, "name": "Sub", "users": []string{bobID},
	})
	assert.Error(t, err)
}

func TestCreateModuleRequiresModerator(t *testing.T) {
	e := newEnv(t)
	_, bob, _, _, groupID := setupGroup(t, e)

	_, err := e.call(t, bob, wire.KindCreateModule, map[string]string{
		"group": groupID, "name": "main", "type": "chat",
	})
	assert.Error(t, err)
}

func TestModuleLifecycle(t *testing.T) {
	e := newEnv(t)
	alice, _, _, _, groupID := setupGroup(t, e)
	chatID := createModule(t, e, alice, groupID, "main", "chat")

	reply := e.mustCall(t, alice, wire.KindGetModules, map[string]string{"group": groupID})
	modules := reply["modules"].([]any)
	require.Len(t, modules, 1)
	entry := asMap(t, modules[0])
	assert.Equal(t, chatID, entry["id"])
	assert.Equal(t, "chat", entry["type"])
	assert.Equal(t, true, entry["enabled"])

	e.mustCall(t, alice, wire.KindSetModuleEnabled, map[string]any{
		"group": groupID, "id": chatID, "enabled": false,
	})
	info := e.mustCall(t, alice, wire.KindGetModuleInfo, map[string]string{
		"group": groupID, "module": chatID,
	})
	assert.Equal(t, false, info["enabled"])

	// An unrecognized type is stored as custom.
	weirdID := createModule(t, e, alice, groupID, "weird", "kanban")
	info = e.mustCall(t, alice, wire.KindGetModuleInfo, map[string]string{
		"group": groupID, "module": weirdID,
	})
	assert.Equal(t, "custom", info["type"])
}

func TestGetUserInfo(t *testing.T) {
	e := newEnv(t)
	sess, userID := e.signUp(t, "Alice", "alice@x", "p")

	reply := e.mustCall(t, sess, wire.KindGetUserInfo, map[string]string{"user": userID})
	assert.Equal(t, "Alice", reply["name"])
	assert.Equal(t, userID, reply["id"])
}

func TestStateMachineTagNames(t *testing.T) {
	assert.Equal(t, "LoggedOut", statemachine.TagLoggedOut.String())
	assert.Equal(t, "LoggedIn", statemachine.TagLoggedIn.String())
}
