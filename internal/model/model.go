// Package model defines the data shapes shared by the protocol engine and
// the Store contract: accounts, groups, modules, and the items that live
// inside a module.
package model

// Role is the totally-ordered membership role within a group.
type Role int

const (
	RoleUser Role = iota
	RoleModerator
	RoleOwner
)

// String returns the wire representation of a role.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleModerator:
		return "moderator"
	default:
		return "user"
	}
}

// ParseRole parses a wire role string, defaulting to RoleUser on garbage.
func ParseRole(s string) Role {
	switch s {
	case "owner":
		return RoleOwner
	case "moderator":
		return RoleModerator
	default:
		return RoleUser
	}
}

// ModuleType enumerates the kinds of module a group can contain.
type ModuleType string

const (
	ModuleChat   ModuleType = "chat"
	ModuleTask   ModuleType = "task"
	ModuleCal    ModuleType = "cal"
	ModulePoll   ModuleType = "poll"
	ModuleCustom ModuleType = "custom"
)

// Account is a registered user.
type Account struct {
	ID               string
	Email            string
	Name             string
	PasswordHash     string
	TwoFactorEnabled bool
	AuthToken        string
}

// Member is one user's membership record within a group.
type Member struct {
	UserID string
	Role   Role
	Muted  bool
}

// Group is a collection of users sharing a set of modules.
type Group struct {
	ID               string
	Name             string
	Members          []Member
	RequireApproval  bool
	ModuleIDs        []string
	ModifiedAt       int64
}

// Module is a typed container within a group holding sequentially numbered items.
type Module struct {
	ID         string
	GroupID    string
	Type       ModuleType
	Name       string
	Enabled    bool
	ModifiedAt int64
}

// Message is a chat item.
type Message struct {
	ID        int64
	ModuleID  string
	Sender    string
	Timestamp int64
	Contents  string
	Deleted   bool
	Reactions map[string]string // userID -> reaction
}

// Task is a task-module item.
type Task struct {
	ID          int64
	ModuleID    string
	Description string
	Deadline    int64
	Done        bool
}

// Event is a calendar-module item.
type Event struct {
	ID          int64
	ModuleID    string
	Description string
	Start       int64
	End         int64
	Approved    bool
	Bulletin    bool
}

// Poll is a poll-module item.
type Poll struct {
	ID          int64
	ModuleID    string
	Description string
	Options     []string
	Votes       map[string]int // userID -> option index
}

// Invite is a pending group invitation to a specific user.
type Invite struct {
	UserID      string
	GroupID     string
	GroupName   string
	InviterName string
}

// InviteLink is a shareable, time-limited code that joins the holder to a group.
type InviteLink struct {
	Code      string
	GroupID   string
	ExpireAt  int64 // 0 means never expires
}

// FindMember returns the member record for userID, if any.
func (g *Group) FindMember(userID string) (Member, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// Owner returns the group's owner member. Every group has exactly one.
func (g *Group) Owner() (Member, bool) {
	for _, m := range g.Members {
		if m.Role == RoleOwner {
			return m, true
		}
	}
	return Member{}, false
}
