package collab

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// ContentStore is the durable record behind one project. A room consumes
// only this interface; the storage internals are the backend's concern.
type ContentStore interface {
	Id() string
	Owner() string
	Name() string
	SetName(name string) error
	OriginTime() time.Time

	RoleNames() ([]string, error)
	GetRole(name string) (*RoleContent, error)
	SetRole(name string, content *RoleContent) error
	SetRoles(contents []*RoleContent) error
	RemoveRole(name string) error
	RenameRole(oldName string, newName string) error
	CloneRole(name string, cloneName string) error

	// RoleActionId returns the durable edit watermark for a role.
	RoleActionId(name string) (int64, error)

	Collaborators() []string
	AddCollaborator(username string) error
	RemoveCollaborator(username string) error

	// Fork deep-copies the project for a new owner.
	Fork(owner string) (ContentStore, error)

	IsTransient() (bool, error)
	SetTransient(transient bool) error
	Destroy() error
	Save() error
}

// ActionStore records provisional (unsaved) edit actions per role so a
// disconnected session cannot silently resurrect stale uncommitted work.
type ActionStore interface {
	Record(projectId string, role string, actionId int64) error
	ActionIds(projectId string, role string) ([]int64, error)
	// ClearActionsAfter discards provisional actions recorded strictly
	// after `actionId`. Actions at or before the watermark are retained.
	ClearActionsAfter(projectId string, role string, actionId int64) error
}

type ProjectInfo struct {
	Owner      string
	Name       string
	OriginTime time.Time
	Transient  bool
}

// Storage opens and creates project records for a deployment.
type Storage interface {
	// OpenProject returns a `*NotFoundError` when no record exists.
	OpenProject(owner string, name string) (ContentStore, error)
	CreateProject(owner string, name string, transient bool) (ContentStore, error)
	OwnerProjects(owner string) ([]ProjectInfo, error)
	Actions() ActionStore
	Close() error
}

// UniqueName returns `base` if unused, else probes "base (2)", "base (3)", ...
// in increasing order until an unused name is found.
func UniqueName(base string, taken []string) string {
	if !slices.Contains(taken, base) {
		return base
	}
	for count := 2; ; count += 1 {
		name := fmt.Sprintf("%s (%d)", base, count)
		if !slices.Contains(taken, name) {
			return name
		}
	}
}
