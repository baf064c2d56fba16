package collab

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MemoryStorage keeps projects in process memory. Used for transient
// deployments and tests.
type MemoryStorage struct {
	stateLock sync.Mutex
	projects  map[string]*memoryProject
	actions   *memoryActionStore
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		projects: map[string]*memoryProject{},
		actions:  newMemoryActionStore(),
	}
}

func (self *MemoryStorage) OpenProject(owner string, name string) (ContentStore, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	project, ok := self.projects[RoomId(owner, name)]
	if !ok {
		return nil, NewNotFoundError("project %s does not exist", RoomId(owner, name))
	}
	return project, nil
}

func (self *MemoryStorage) CreateProject(owner string, name string, transient bool) (ContentStore, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.projects[RoomId(owner, name)]; ok {
		return nil, NewConflictError("project %s already exists", RoomId(owner, name))
	}
	project := &memoryProject{
		storage:    self,
		id:         NewId().String(),
		owner:      owner,
		name:       name,
		originTime: time.Now(),
		transient:  transient,
		roles:      map[string]*RoleContent{},
	}
	self.projects[RoomId(owner, name)] = project
	return project, nil
}

func (self *MemoryStorage) OwnerProjects(owner string) ([]ProjectInfo, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	infos := []ProjectInfo{}
	for _, project := range self.projects {
		if project.owner == owner {
			infos = append(infos, ProjectInfo{
				Owner:      project.owner,
				Name:       project.name,
				OriginTime: project.originTime,
				Transient:  project.transient,
			})
		}
	}
	return infos, nil
}

func (self *MemoryStorage) Actions() ActionStore {
	return self.actions
}

func (self *MemoryStorage) Close() error {
	return nil
}

type memoryProject struct {
	storage *MemoryStorage

	id            string
	owner         string
	name          string
	originTime    time.Time
	transient     bool
	roles         map[string]*RoleContent
	collaborators []string
}

func (self *memoryProject) Id() string {
	return self.id
}

func (self *memoryProject) Owner() string {
	return self.owner
}

func (self *memoryProject) Name() string {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()
	return self.name
}

func (self *memoryProject) SetName(name string) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	if name == self.name {
		return nil
	}
	if _, ok := self.storage.projects[RoomId(self.owner, name)]; ok {
		return NewConflictError("project %s already exists", RoomId(self.owner, name))
	}
	delete(self.storage.projects, RoomId(self.owner, self.name))
	self.name = name
	self.storage.projects[RoomId(self.owner, self.name)] = self
	return nil
}

func (self *memoryProject) OriginTime() time.Time {
	return self.originTime
}

func (self *memoryProject) RoleNames() ([]string, error) {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	names := maps.Keys(self.roles)
	slices.Sort(names)
	return names, nil
}

func (self *memoryProject) GetRole(name string) (*RoleContent, error) {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	content, ok := self.roles[name]
	if !ok {
		return nil, NewNotFoundError("role %s does not exist in %s", name, RoomId(self.owner, self.name))
	}
	return content.Clone(), nil
}

func (self *memoryProject) SetRole(name string, content *RoleContent) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	stored := content.Clone()
	stored.Name = name
	self.roles[name] = stored
	return nil
}

func (self *memoryProject) SetRoles(contents []*RoleContent) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	for _, content := range contents {
		self.roles[content.Name] = content.Clone()
	}
	return nil
}

func (self *memoryProject) RemoveRole(name string) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	if _, ok := self.roles[name]; !ok {
		return NewNotFoundError("role %s does not exist in %s", name, RoomId(self.owner, self.name))
	}
	delete(self.roles, name)
	return nil
}

func (self *memoryProject) RenameRole(oldName string, newName string) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	content, ok := self.roles[oldName]
	if !ok {
		return NewNotFoundError("role %s does not exist in %s", oldName, RoomId(self.owner, self.name))
	}
	if _, ok := self.roles[newName]; ok {
		return NewConflictError("role %s already exists in %s", newName, RoomId(self.owner, self.name))
	}
	delete(self.roles, oldName)
	content.Name = newName
	self.roles[newName] = content
	return nil
}

func (self *memoryProject) CloneRole(name string, cloneName string) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	content, ok := self.roles[name]
	if !ok {
		return NewNotFoundError("role %s does not exist in %s", name, RoomId(self.owner, self.name))
	}
	if _, ok := self.roles[cloneName]; ok {
		return NewConflictError("role %s already exists in %s", cloneName, RoomId(self.owner, self.name))
	}
	clone := content.Clone()
	clone.Name = cloneName
	self.roles[cloneName] = clone
	return nil
}

func (self *memoryProject) RoleActionId(name string) (int64, error) {
	content, err := self.GetRole(name)
	if err != nil {
		return NoActionId, err
	}
	return ParseActionId(content.SourceCode), nil
}

func (self *memoryProject) Collaborators() []string {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()
	return slices.Clone(self.collaborators)
}

func (self *memoryProject) AddCollaborator(username string) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	if !slices.Contains(self.collaborators, username) {
		self.collaborators = append(self.collaborators, username)
	}
	return nil
}

func (self *memoryProject) RemoveCollaborator(username string) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	i := slices.Index(self.collaborators, username)
	if 0 <= i {
		self.collaborators = slices.Delete(self.collaborators, i, i+1)
	}
	return nil
}

func (self *memoryProject) Fork(owner string) (ContentStore, error) {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()

	ownerNames := []string{}
	for _, project := range self.storage.projects {
		if project.owner == owner {
			ownerNames = append(ownerNames, project.name)
		}
	}

	fork := &memoryProject{
		storage:       self.storage,
		id:            NewId().String(),
		owner:         owner,
		name:          UniqueName(self.name, ownerNames),
		originTime:    time.Now(),
		transient:     true,
		roles:         map[string]*RoleContent{},
		collaborators: slices.Clone(self.collaborators),
	}
	for name, content := range self.roles {
		fork.roles[name] = content.Clone()
	}
	self.storage.projects[RoomId(fork.owner, fork.name)] = fork
	return fork, nil
}

func (self *memoryProject) IsTransient() (bool, error) {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()
	return self.transient, nil
}

func (self *memoryProject) SetTransient(transient bool) error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()
	self.transient = transient
	return nil
}

func (self *memoryProject) Destroy() error {
	self.storage.stateLock.Lock()
	defer self.storage.stateLock.Unlock()
	delete(self.storage.projects, RoomId(self.owner, self.name))
	return nil
}

func (self *memoryProject) Save() error {
	return nil
}

type memoryAction struct {
	projectId string
	role      string
	actionId  int64
}

type memoryActionStore struct {
	stateLock sync.Mutex
	actions   []memoryAction
}

func newMemoryActionStore() *memoryActionStore {
	return &memoryActionStore{
		actions: []memoryAction{},
	}
}

func (self *memoryActionStore) Record(projectId string, role string, actionId int64) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.actions = append(self.actions, memoryAction{
		projectId: projectId,
		role:      role,
		actionId:  actionId,
	})
	return nil
}

func (self *memoryActionStore) ActionIds(projectId string, role string) ([]int64, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	actionIds := []int64{}
	for _, action := range self.actions {
		if action.projectId == projectId && action.role == role {
			actionIds = append(actionIds, action.actionId)
		}
	}
	return actionIds, nil
}

func (self *memoryActionStore) ClearActionsAfter(projectId string, role string, actionId int64) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	kept := []memoryAction{}
	for _, action := range self.actions {
		if action.projectId == projectId && action.role == role && actionId < action.actionId {
			continue
		}
		kept = append(kept, action)
	}
	self.actions = kept
	return nil
}
