// Package store defines the persistence contract the protocol
// engine depends on. It is deliberately an interface: the engine never
// touches a database driver directly, only this contract, so the dispatcher
// and its tests can run against any implementation (see ./sqlitestore for
// the concrete one).
package store

import (
	"context"
	"errors"

	"github.com/comcore-chat/comcore/internal/model"
)

// Sentinel errors the dispatcher translates into protocol-level RequestErrors.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrInvalidModule = errors.New("wrong module type for this operation")
	ErrNotMember     = errors.New("not a member of this group")
)

// Store is the CRUD surface the protocol engine relies on.
// Every method may block on I/O; callers pass a context so a cancelled
// connection does not leave an orphaned query running past its caller.
type Store interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	// Accounts
	LookupAccount(ctx context.Context, email string) (*model.Account, error)
	LookupAccountByID(ctx context.Context, id string) (*model.Account, error)
	CreateAccount(ctx context.Context, name, email, passwordHash string) (*model.Account, error)
	ResetPassword(ctx context.Context, userID, passwordHash string) error
	GetTwoFactor(ctx context.Context, userID string) (bool, error)
	SetTwoFactor(ctx context.Context, userID string, enabled bool) error
	GetAuthToken(ctx context.Context, userID string) (string, error)
	SetAuthToken(ctx context.Context, userID, token string) error

	// Groups
	CreateGroup(ctx context.Context, name, ownerID string) (*model.Group, error)
	CreateSubGroup(ctx context.Context, parentGroupID, name string, userIDs []string) (*model.Group, error)
	GetGroups(ctx context.Context, userID string) ([]*model.Group, error)
	GetGroupInfo(ctx context.Context, groupIDs []string, lastRefresh int64) ([]*model.Group, error)
	GetGroupName(ctx context.Context, groupID string) (string, error)
	CheckUserInGroup(ctx context.Context, groupID, userID string) (bool, error)
	GetRole(ctx context.Context, groupID, userID string) (model.Role, error)
	GetMuted(ctx context.Context, groupID, userID string) (bool, error)
	GetUsers(ctx context.Context, groupID string) ([]model.Member, error)
	GetUserInfo(ctx context.Context, userID string) (*model.Account, error)
	GetUserName(ctx context.Context, userID string) (string, error)
	SetRequireApproval(ctx context.Context, groupID string, require bool) error
	Kick(ctx context.Context, groupID, targetID string) error
	SetRole(ctx context.Context, groupID, targetID string, role model.Role) (demotedOwnerID string, err error)
	SetMuted(ctx context.Context, groupID, targetID string, muted bool) error
	// LeaveGroup removes userID from groupID. If userID was the sole member,
	// the group, its modules, items, invites, and invite links are deleted
	// in the same operation and cascaded=true is returned.
	LeaveGroup(ctx context.Context, groupID, userID string) (cascaded bool, err error)

	// Modules
	CreateModule(ctx context.Context, groupID, name string, mtype model.ModuleType) (*model.Module, error)
	GetModules(ctx context.Context, groupID string) ([]*model.Module, error)
	GetModuleInfo(ctx context.Context, moduleID string) (*model.Module, error)
	CheckModuleInGroup(ctx context.Context, mtype model.ModuleType, moduleID, groupID string) (bool, error)
	SetModuleEnabled(ctx context.Context, groupID, moduleID string, enabled bool) error

	// Invites
	AddGroupInviteCode(ctx context.Context, groupID, code string, expireAt int64) error
	CheckInviteCode(ctx context.Context, code string) (*model.InviteLink, error)
	JoinGroup(ctx context.Context, groupID, userID string, role model.Role) error
	SendInvite(ctx context.Context, groupID, targetUserID, inviterName string) (alreadyPending bool, err error)
	GetInvites(ctx context.Context, userID string) ([]*model.Invite, error)
	ReplyToInvite(ctx context.Context, groupID, userID string, accept bool) error
	// SweepInviteLinks deletes expiring invite links whose expireAt is
	// before deadline, returning how many were dropped.
	SweepInviteLinks(ctx context.Context, deadline int64) (int64, error)

	// Chat
	// CreateDirectMessage builds the two-person conversation between
	// creator and peer: a group holding both users and one chat module.
	CreateDirectMessage(ctx context.Context, creator, peer string) (*model.Group, error)
	SendMessage(ctx context.Context, moduleID, sender, contents string, timestamp int64) (*model.Message, error)
	GetMessages(ctx context.Context, moduleID string, after, before int64) ([]*model.Message, error)
	EditMessage(ctx context.Context, moduleID string, id int64, newContents string) (*model.Message, error)
	GetReactions(ctx context.Context, moduleID string, id int64) (map[string]string, error)
	SetReaction(ctx context.Context, moduleID string, id int64, userID string, reaction *string) (map[string]string, error)

	// Tasks
	CreateTask(ctx context.Context, moduleID, description string, deadline int64) (*model.Task, error)
	GetTasks(ctx context.Context, moduleID string) ([]*model.Task, error)
	UpdateTaskStatus(ctx context.Context, moduleID string, id int64, done bool) (*model.Task, error)
	UpdateTaskDeadline(ctx context.Context, moduleID string, id int64, deadline int64) (*model.Task, error)
	DeleteTask(ctx context.Context, moduleID string, id int64) error

	// Events
	CreateEvent(ctx context.Context, moduleID, description string, start, end int64, approved bool) (*model.Event, error)
	GetEvents(ctx context.Context, moduleID string) ([]*model.Event, error)
	ApproveEvent(ctx context.Context, moduleID string, id int64, approve bool) (*model.Event, bool, error)
	EditEvent(ctx context.Context, moduleID string, id int64, description string, start, end int64) (*model.Event, error)
	DeleteEvent(ctx context.Context, moduleID string, id int64) error
	SetBulletinEvent(ctx context.Context, moduleID string, id int64, bulletin bool) (*model.Event, error)

	// Polls
	CreatePoll(ctx context.Context, moduleID, description string, options []string) (*model.Poll, error)
	GetPolls(ctx context.Context, moduleID string) ([]*model.Poll, error)
	Vote(ctx context.Context, moduleID string, id int64, userID string, option int) (*model.Poll, error)
}
