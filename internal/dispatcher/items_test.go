package dispatcher

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcore-chat/comcore/internal/wire"
)

func TestTaskLifecycle(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, _, groupID := setupGroup(t, e)
	taskList := createModule(t, e, alice, groupID, "todo", "task")

	bob.drainPushes()
	entry := e.mustCall(t, alice, wire.KindAddTask, map[string]any{
		"group": groupID, "taskList": taskList, "deadline": 1000, "description": "write spec",
	})
	assert.Equal(t, float64(1), entry["id"])
	assert.Equal(t, false, entry["done"])
	assert.Equal(t, wire.PushTask, bob.lastPush(t).Kind)

	entry = e.mustCall(t, alice, wire.KindUpdateTaskStatus, map[string]any{
		"group": groupID, "taskList": taskList, "id": 1, "done": true,
	})
	assert.Equal(t, true, entry["done"])
	assert.Equal(t, wire.PushTaskUpdated, bob.lastPush(t).Kind)

	entry = e.mustCall(t, alice, wire.KindUpdateTaskDeadline, map[string]any{
		"group": groupID, "taskList": taskList, "id": 1, "deadline": 2000,
	})
	assert.Equal(t, float64(2000), entry["deadline"])

	tasks := e.mustCall(t, alice, wire.KindGetTasks, map[string]string{
		"group": groupID, "taskList": taskList,
	})["tasks"].([]any)
	require.Len(t, tasks, 1)

	e.mustCall(t, alice, wire.KindDeleteTask, map[string]any{
		"group": groupID, "taskList": taskList, "id": 1,
	})
	assert.Equal(t, wire.PushTaskDeleted, bob.lastPush(t).Kind)
	assert.Empty(t, e.mustCall(t, alice, wire.KindGetTasks, map[string]string{
		"group": groupID, "taskList": taskList,
	})["tasks"])
}

func TestAddTaskValidation(t *testing.T) {
	e := newEnv(t)
	alice, _, _, _, groupID := setupGroup(t, e)
	taskList := createModule(t, e, alice, groupID, "todo", "task")

	_, err := e.call(t, alice, wire.KindAddTask, map[string]any{
		"group": groupID, "taskList": taskList, "deadline": 0, "description": "",
	})
	assert.Error(t, err)

	_, err = e.call(t, alice, wire.KindAddTask, map[string]any{
		"group": groupID, "taskList": taskList, "deadline": -1, "description": "x",
	})
	assert.Error(t, err)
}

func TestEventApprovalDependsOnRole(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, _, groupID := setupGroup(t, e)
	calendar := createModule(t, e, alice, groupID, "cal", "cal")
	e.mustCall(t, alice, wire.KindSetRequireApproval, map[string]any{"group": groupID, "require": true})

	// A moderator's event is approved immediately.
	entry := e.mustCall(t, alice, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "standup", "start": 100, "end": 200,
	})
	assert.Equal(t, true, entry["approved"])

	// An ordinary user's event awaits approval.
	entry = e.mustCall(t, bob, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "party", "start": 300, "end": 400,
	})
	assert.Equal(t, false, entry["approved"])
	pendingID := int64(entry["id"].(float64))

	// Bob cannot approve his own event; Alice can.
	_, err := e.call(t, bob, wire.KindApproveEvent, map[string]any{
		"group": groupID, "calendar": calendar, "id": pendingID, "approve": true,
	})
	assert.Error(t, err)

	entry = e.mustCall(t, alice, wire.KindApproveEvent, map[string]any{
		"group": groupID, "calendar": calendar, "id": pendingID, "approve": true,
	})
	assert.Equal(t, true, entry["approved"])
}

func TestRejectingEventDeletesOnlyUnapproved(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, _, groupID := setupGroup(t, e)
	calendar := createModule(t, e, alice, groupID, "cal", "cal")
	e.mustCall(t, alice, wire.KindSetRequireApproval, map[string]any{"group": groupID, "require": true})

	e.mustCall(t, bob, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "pending", "start": 100, "end": 200,
	})

	// Rejecting the unapproved event deletes it.
	e.mustCall(t, alice, wire.KindApproveEvent, map[string]any{
		"group": groupID, "calendar": calendar, "id": 1, "approve": false,
	})
	assert.Empty(t, e.mustCall(t, alice, wire.KindGetEvents, map[string]string{
		"group": groupID, "calendar": calendar,
	})["events"])

	// Rejecting an already-approved event is a no-op.
	e.mustCall(t, alice, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "approved", "start": 100, "end": 200,
	})
	e.mustCall(t, alice, wire.KindApproveEvent, map[string]any{
		"group": groupID, "calendar": calendar, "id": 2, "approve": false,
	})
	events := e.mustCall(t, alice, wire.KindGetEvents, map[string]string{
		"group": groupID, "calendar": calendar,
	})["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, true, asMap(t, events[0])["approved"])
}

func TestEventValidationAndBulletin(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, _, groupID := setupGroup(t, e)
	calendar := createModule(t, e, alice, groupID, "cal", "cal")

	_, err := e.call(t, alice, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "x", "start": 0, "end": 10,
	})
	assert.Error(t, err)

	_, err = e.call(t, alice, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "x", "start": 100, "end": 50,
	})
	assert.Error(t, err)

	e.mustCall(t, alice, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "x", "start": 100, "end": 100,
	})

	bob.drainPushes()
	entry := e.mustCall(t, alice, wire.KindSetBulletin, map[string]any{
		"group": groupID, "calendar": calendar, "id": 1, "bulletin": true,
	})
	assert.Equal(t, true, entry["bulletin"])
	assert.Equal(t, wire.PushSetBulletin, bob.lastPush(t).Kind)

	// Ordinary users cannot pin bulletins.
	_, err = e.call(t, bob, wire.KindSetBulletin, map[string]any{
		"group": groupID, "calendar": calendar, "id": 1, "bulletin": false,
	})
	assert.Error(t, err)
}

func TestEventUpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, _, groupID := setupGroup(t, e)
	calendar := createModule(t, e, alice, groupID, "cal", "cal")

	e.mustCall(t, alice, wire.KindAddEvent, map[string]any{
		"group": groupID, "calendar": calendar, "description": "x", "start": 100, "end": 200,
	})

	bob.drainPushes()
	entry := e.mustCall(t, alice, wire.KindUpdateEvent, map[string]any{
		"group": groupID, "calendar": calendar, "id": 1, "description": "y", "start": 150, "end": 250,
	})
	assert.Equal(t, "y", entry["description"])
	assert.Equal(t, wire.PushEventUpdated, bob.lastPush(t).Kind)

	e.mustCall(t, alice, wire.KindDeleteEvent, map[string]any{
		"group": groupID, "calendar": calendar, "id": 1,
	})
	assert.Equal(t, wire.PushEventDeleted, bob.lastPush(t).Kind)
	assert.Empty(t, e.mustCall(t, alice, wire.KindGetEvents, map[string]string{
		"group": groupID, "calendar": calendar,
	})["events"])
}

func TestPollLifecycle(t *testing.T) {
	e := newEnv(t)
	alice, bob, _, bobID, groupID := setupGroup(t, e)
	pollList := createModule(t, e, alice, groupID, "polls", "poll")

	bob.drainPushes()
	entry := e.mustCall(t, alice, wire.KindAddPoll, map[string]any{
		"group": groupID, "pollList": pollList, "description": "lunch?",
		"options": []string{"pizza", "sushi"},
	})
	assert.Equal(t, float64(1), entry["id"])
	assert.Equal(t, wire.PushPoll, bob.lastPush(t).Kind)

	e.mustCall(t, bob, wire.KindVoteOnPoll, map[string]any{
		"group": groupID, "pollList": pollList, "id": 1, "option": 1,
	})

	polls := e.mustCall(t, alice, wire.KindGetPolls, map[string]string{
		"group": groupID, "pollList": pollList,
	})["polls"].([]any)
	require.Len(t, polls, 1)
	votes := asMap(t, asMap(t, polls[0])["votes"])
	assert.Equal(t, float64(1), votes[bobID])

	// Out-of-range options are rejected.
	_, err := e.call(t, bob, wire.KindVoteOnPoll, map[string]any{
		"group": groupID, "pollList": pollList, "id": 1, "option": 5,
	})
	assert.Error(t, err)
	_, err = e.call(t, bob, wire.KindVoteOnPoll, map[string]any{
		"group": groupID, "pollList": pollList, "id": 1, "option": -1,
	})
	assert.Error(t, err)
}

func TestAddPollValidation(t *testing.T) {
	e := newEnv(t)
	alice, _, _, _, groupID := setupGroup(t, e)
	pollList := createModule(t, e, alice, groupID, "polls", "poll")

	_, err := e.call(t, alice, wire.KindAddPoll, map[string]any{
		"group": groupID, "pollList": pollList, "description": "", "options": []string{"a"},
	})
	assert.Error(t, err)

	_, err = e.call(t, alice, wire.KindAddPoll, map[string]any{
		"group": groupID, "pollList": pollList, "description": "d", "options": []string{},
	})
	assert.Error(t, err)
}

func TestUploadFile(t *testing.T) {
	e := newEnv(t)
	sess, _ := e.signUp(t, "Alice", "alice@x", "p")

	contents := []byte("hello upload")
	reply := e.mustCall(t, sess, wire.KindUploadFile, map[string]string{
		"name":     "../../../etc/passwd",
		"contents": base64.StdEncoding.EncodeToString(contents),
	})

	link := reply["link"].(string)
	require.True(t, strings.HasPrefix(link, "/uploads/"))
	stored := strings.TrimPrefix(link, "/uploads/")
	assert.NotContains(t, stored, "/")
	assert.True(t, strings.HasSuffix(stored, "passwd"))

	data, err := os.ReadFile(filepath.Join(e.disp.uploadDir, stored))
	require.NoError(t, err)
	assert.Equal(t, contents, data)
}

func TestUploadFileRejectsOversizeAndBadBase64(t *testing.T) {
	e := newEnv(t)
	sess, _ := e.signUp(t, "Alice", "alice@x", "p")
	e.disp.maxUpload = 16

	_, err := e.call(t, sess, wire.KindUploadFile, map[string]string{
		"name":     "big.bin",
		"contents": base64.StdEncoding.EncodeToString(make([]byte, 64)),
	})
	assert.Error(t, err)

	_, err = e.call(t, sess, wire.KindUploadFile, map[string]string{
		"name":     "bad.bin",
		"contents": "not base64!!",
	})
	assert.Error(t, err)
}
