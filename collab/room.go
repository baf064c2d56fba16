package collab

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// room state machine:
// RoomStateLoading
//
//	-> RoomStateActive
//	  -> RoomStateClosing
//	    -> RoomStatePersisted (terminal)
//	    -> RoomStateDestroyed (terminal)
type RoomState string

const (
	RoomStateLoading   RoomState = "Loading"
	RoomStateActive    RoomState = "Active"
	RoomStateClosing   RoomState = "Closing"
	RoomStatePersisted RoomState = "Persisted"
	RoomStateDestroyed RoomState = "Destroyed"
)

func (self RoomState) IsTerminal() bool {
	switch self {
	case RoomStatePersisted, RoomStateDestroyed:
		return true
	default:
		return false
	}
}

type RoomSettings struct {
	// bound on the live-content round trip to an occupant
	RoleFetchTimeout time.Duration
	UpdateDebounce   *DebounceSettings
}

func DefaultRoomSettings() *RoomSettings {
	return &RoomSettings{
		RoleFetchTimeout: 5 * time.Second,
		UpdateDebounce:   DefaultDebounceSettings(),
	}
}

// Room coordinates the live state of one project: role membership,
// naming, synchronization timing, and serialization.
//
// The in-memory role/membership/name table is exclusively owned by the
// room. `stateLock` is held only across the synchronous portion of each
// mutating operation; persistence, broadcasts, and live-content round
// trips run as asynchronous tails outside the lock. Name-table mutations
// that target a name with an in-flight persist are rejected.
type Room struct {
	ctx    context.Context
	cancel context.CancelFunc

	directory *RoomDirectory
	settings  *RoomSettings

	stateLock     sync.Mutex
	owner         string
	name          string
	originTime    time.Time
	state         RoomState
	roles         map[string][]*Client
	roleActionIds map[string]int64
	pendingNames  map[string]bool
	serviceStates map[string]any
	project       ContentStore

	update *Debounce
}

func newRoom(directory *RoomDirectory, owner string, name string, settings *RoomSettings) *Room {
	cancelCtx, cancel := context.WithCancel(directory.ctx)
	room := &Room{
		ctx:           cancelCtx,
		cancel:        cancel,
		directory:     directory,
		settings:      settings,
		owner:         owner,
		name:          name,
		originTime:    time.Now(),
		state:         RoomStateLoading,
		roles:         map[string][]*Client{},
		roleActionIds: map[string]int64{},
		pendingNames:  map[string]bool{},
		serviceStates: map[string]any{},
	}
	room.update = NewDebounce(room.sendUpdateAndSave, settings.UpdateDebounce)
	glog.V(1).Infof("[room]%s created\n", room.Uuid())
	return room
}

func (self *Room) Uuid() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return RoomId(self.owner, self.name)
}

func (self *Room) Owner() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.owner
}

func (self *Room) Name() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.name
}

func (self *Room) OriginTime() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.originTime
}

func (self *Room) State() RoomState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *Room) Project() ContentStore {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.project
}

func (self *Room) SetProject(project ContentStore) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.project = project
	self.originTime = project.OriginTime()
}

// Add attaches a client to a role. The client is atomically detached
// from any prior (room, role) pair first, including a pair in another
// room. A rejected add leaves the prior pair untouched. A move that
// empties the prior role runs the same unsaved-edit cleanup as a
// removal. Triggers a membership broadcast.
func (self *Room) Add(client *Client, role string) error {
	oldRoom, oldRole := client.Position()
	if oldRoom != nil && oldRole != "" && oldRoom != self {
		oldRoom.Remove(client)
	}

	var movedRole string
	var movedEmptied bool
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		// validate the target before detaching
		if _, ok := self.roles[role]; !ok {
			err = NewNotFoundError("role %s does not exist in %s", role, RoomId(self.owner, self.name))
			return
		}
		if oldRoom == self {
			movedRole, movedEmptied, _ = self.removeLocked(client)
		}
		glog.V(1).Infof("[room]%s adding %s to %s\n", RoomId(self.owner, self.name), client.Id(), role)
		self.roles[role] = append(self.roles[role], client)
		client.setPosition(self, role)
		if self.state == RoomStateLoading {
			self.state = RoomStateActive
		}
	}()
	if err != nil {
		return err
	}

	if movedEmptied && movedRole != role {
		if cleanupErr := self.clearUnsavedActions(movedRole); cleanupErr != nil {
			glog.Infof("[room]%s move cleanup error for %s = %s\n", self.Uuid(), movedRole, cleanupErr)
		}
	}

	self.sendUpdate()
	return nil
}

// Remove detaches a client from its role. When the role becomes
// unoccupied, provisional unsaved edits recorded after the role's
// durable watermark are discarded so a partially-saved session cannot
// resurrect stale uncommitted work. Triggers a membership broadcast.
func (self *Room) Remove(client *Client) error {
	var role string
	var emptied bool
	var found bool
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		role, emptied, found = self.removeLocked(client)
	}()

	if !found {
		glog.Infof("[room]%s could not remove %s. Not found\n", self.Uuid(), client.Id())
		return nil
	}

	var cleanupErr error
	if emptied {
		cleanupErr = self.clearUnsavedActions(role)
	}

	self.sendUpdate()
	self.check()
	return cleanupErr
}

// must be called with `stateLock`
func (self *Room) removeLocked(client *Client) (role string, emptied bool, found bool) {
	room, role := client.Position()
	if room != self || role == "" {
		return "", false, false
	}
	clients := self.roles[role]
	i := slices.Index(clients, client)
	if i < 0 {
		return "", false, false
	}
	self.roles[role] = slices.Delete(slices.Clone(clients), i, i+1)
	client.setPosition(nil, "")
	return role, len(self.roles[role]) == 0, true
}

func (self *Room) clearUnsavedActions(role string) error {
	project := self.Project()
	if project == nil {
		return nil
	}
	watermark, err := project.RoleActionId(role)
	if err != nil {
		// no durable copy. All provisional edits are unsafe to keep.
		watermark = NoActionId
	}
	if err := self.directory.Storage().Actions().ClearActionsAfter(project.Id(), role, watermark); err != nil {
		glog.Infof("[room]%s clear actions error for %s = %s\n", self.Uuid(), role, err)
		return NewStorageError(err, "could not discard unsaved edits for %s", role)
	}
	glog.V(2).Infof("[room]%s cleared unsaved actions for %s after %d\n", self.Uuid(), role, watermark)
	return nil
}

// RecordAction records a provisional edit watermark candidate for a
// role. Edits recorded after the durable watermark are discarded when
// the role becomes unoccupied.
func (self *Room) RecordAction(role string, actionId int64) error {
	project := self.Project()
	if project == nil {
		return nil
	}
	return self.directory.Storage().Actions().Record(project.Id(), role, actionId)
}

// CreateRole adds a role name. Rejected on collision with an existing
// or in-flight name.
func (self *Room) CreateRole(role string, content *RoleContent) error {
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.roles[role]; ok {
			err = NewConflictError("role %s already exists in %s", role, RoomId(self.owner, self.name))
			return
		}
		if self.pendingNames[role] {
			err = NewConflictError("role %s has a mutation in flight in %s", role, RoomId(self.owner, self.name))
			return
		}
		self.roles[role] = []*Client{}
		self.pendingNames[role] = true
	}()
	if err != nil {
		return err
	}
	defer self.clearPendingName(role)

	if content != nil {
		if err := self.SetRole(role, content); err != nil {
			glog.Infof("[room]%s create role persist error for %s = %s\n", self.Uuid(), role, err)
		}
	}
	self.scheduleUpdate()
	return nil
}

// RemoveRole removes a role name. Rejected when the role does not exist.
func (self *Room) RemoveRole(role string) error {
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.pendingNames[role] {
			err = NewConflictError("role %s has a mutation in flight in %s", role, RoomId(self.owner, self.name))
			return
		}
		if _, ok := self.roles[role]; !ok {
			err = NewNotFoundError("role %s does not exist in %s", role, RoomId(self.owner, self.name))
			return
		}
		delete(self.roles, role)
		delete(self.roleActionIds, role)
		self.pendingNames[role] = true
	}()
	if err != nil {
		return err
	}
	defer self.clearPendingName(role)

	if project := self.Project(); project != nil {
		if err := project.RemoveRole(role); err != nil {
			glog.Infof("[room]%s remove role persist error for %s = %s\n", self.Uuid(), role, err)
		}
	}
	self.check()
	self.scheduleUpdate()
	return nil
}

// RenameRole renames a role, carrying its occupants. Rejected on
// collision with an existing or in-flight name.
func (self *Room) RenameRole(role string, newRole string) error {
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.pendingNames[role] || self.pendingNames[newRole] {
			err = NewConflictError("role rename to %s has a mutation in flight in %s", newRole, RoomId(self.owner, self.name))
			return
		}
		clients, ok := self.roles[role]
		if !ok {
			err = NewNotFoundError("role %s does not exist in %s", role, RoomId(self.owner, self.name))
			return
		}
		if _, ok := self.roles[newRole]; ok {
			err = NewConflictError("role %s already exists in %s", newRole, RoomId(self.owner, self.name))
			return
		}
		self.roles[newRole] = clients
		delete(self.roles, role)
		for _, client := range clients {
			client.setPosition(self, newRole)
		}
		if actionId, ok := self.roleActionIds[role]; ok {
			self.roleActionIds[newRole] = actionId
			delete(self.roleActionIds, role)
		}
		self.pendingNames[newRole] = true
	}()
	if err != nil {
		return err
	}
	defer self.clearPendingName(newRole)

	if project := self.Project(); project != nil {
		if err := project.RenameRole(role, newRole); err != nil {
			glog.Infof("[room]%s rename role persist error %s -> %s = %s\n", self.Uuid(), role, newRole, err)
		}
	}
	self.scheduleUpdate()
	self.check()
	return nil
}

// CloneRole saves the current content of a role and creates a copy
// under the first unused "<role> (n)" name, n counting up from 2.
func (self *Room) CloneRole(role string) (string, error) {
	var newRole string
	var err error
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.roles[role]; !ok {
			err = NewNotFoundError("role %s does not exist in %s", role, RoomId(self.owner, self.name))
			return
		}
		for count := 2; ; count += 1 {
			candidate := fmt.Sprintf("%s (%d)", role, count)
			_, exists := self.roles[candidate]
			if !exists && !self.pendingNames[candidate] {
				newRole = candidate
				break
			}
		}
		self.roles[newRole] = []*Client{}
		self.pendingNames[newRole] = true
	}()
	if err != nil {
		return "", err
	}
	defer self.clearPendingName(newRole)

	self.saveRole(role)

	project := self.Project()
	if project == nil {
		return newRole, nil
	}
	if err := project.CloneRole(role, newRole); err != nil {
		return newRole, err
	}
	self.scheduleUpdate()
	return newRole, nil
}

// saveRole persists the live content of an occupied role. Unoccupied
// roles keep their persisted copy.
func (self *Room) saveRole(role string) {
	occupant := self.firstClientAt(role)
	if occupant == nil {
		glog.V(1).Infof("[room]%s cannot save unoccupied role %s\n", self.Uuid(), role)
		return
	}
	fetchCtx, cancel := context.WithTimeout(self.ctx, self.settings.RoleFetchTimeout)
	defer cancel()
	content, err := occupant.FetchContent(fetchCtx)
	if err != nil {
		glog.Infof("[room]%s could not fetch live content for %s = %s\n", self.Uuid(), role, err)
		return
	}
	content.Name = role
	if err := self.SetRole(role, content); err != nil {
		glog.Infof("[room]%s save role error for %s = %s\n", self.Uuid(), role, err)
	}
}

func (self *Room) clearPendingName(role string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.pendingNames, role)
}

// Fork creates a new room owned by the client's identity, deep-copying
// the project content and recreating every role name unoccupied. The
// original room's contents are unmodified.
func (self *Room) Fork(client *Client) (*Room, error) {
	owner := client.Username()
	fork := newRoom(self.directory, owner, self.Name(), self.settings)

	if project := self.Project(); project != nil {
		forkProject, err := project.Fork(owner)
		if err != nil {
			return nil, err
		}
		fork.SetProject(forkProject)
		func() {
			fork.stateLock.Lock()
			defer fork.stateLock.Unlock()
			fork.name = forkProject.Name()
		}()
	} else {
		glog.Errorf("[room]%s no store defined, forking live state only\n", self.Uuid())
	}

	roleNames := self.RoleNames()
	func() {
		fork.stateLock.Lock()
		defer fork.stateLock.Unlock()
		for _, name := range roleNames {
			fork.roles[name] = []*Client{}
		}
		fork.state = RoomStateActive
	}()

	self.directory.add(fork)
	client.Send(&Message{
		Type: MessageTypeProjectFork,
		Room: fork.Name(),
	})
	fork.scheduleUpdate()
	self.scheduleUpdate()
	return fork, nil
}

// GetRole returns the role's content. When occupied, live content is
// requested from one occupant with a bounded round trip, persisted
// write-through, and the role's watermark advanced; on timeout or error
// the persisted copy is returned instead. `skipWatermarkUpdate` skips
// the write-through and the watermark advance (used by Serialize, which
// persists occupied roles in bulk).
func (self *Room) GetRole(role string, skipWatermarkUpdate bool) (*RoleContent, error) {
	content, err := self.fetchRoleContent(role, !skipWatermarkUpdate)
	if err != nil {
		return nil, err
	}
	if !skipWatermarkUpdate {
		self.setRoleActionId(role, ParseActionId(content.SourceCode))
	}
	return content, nil
}

func (self *Room) fetchRoleContent(role string, persist bool) (*RoleContent, error) {
	if occupant := self.firstClientAt(role); occupant != nil {
		fetchCtx, cancel := context.WithTimeout(self.ctx, self.settings.RoleFetchTimeout)
		defer cancel()
		content, err := occupant.FetchContent(fetchCtx)
		if err == nil {
			content.Name = role
			if persist {
				if err := self.SetRole(role, content); err != nil {
					glog.Infof("[room]%s write-through error for %s = %s\n", self.Uuid(), role, err)
				}
			}
			return content, nil
		}
		glog.V(1).Infof("[room]%s live content fetch failed for %s, using persisted copy = %s\n", self.Uuid(), role, err)
	}

	project := self.Project()
	if project == nil {
		return nil, NewNotFoundError("role %s has no live or persisted content in %s", role, self.Uuid())
	}
	return project.GetRole(role)
}

// SetRole writes role content through to the content store. Does not by
// itself trigger a broadcast.
func (self *Room) SetRole(role string, content *RoleContent) error {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if _, ok := self.roles[role]; !ok {
			self.roles[role] = []*Client{}
		}
	}()

	project := self.Project()
	if project == nil {
		return NewStorageError(nil, "no store defined for %s", self.Uuid())
	}
	return project.SetRole(role, content)
}

// SetRoles bulk-writes role contents through to the content store.
func (self *Room) SetRoles(contents []*RoleContent) error {
	project := self.Project()
	if project == nil {
		return NewStorageError(nil, "no store defined for %s", self.Uuid())
	}
	glog.V(2).Infof("[room]%s saving %d roles\n", self.Uuid(), len(contents))
	return project.SetRoles(contents)
}

// watermark is monotonic non-decreasing
func (self *Room) setRoleActionId(role string, actionId int64) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if current, ok := self.roleActionIds[role]; !ok || current < actionId {
		self.roleActionIds[role] = actionId
	}
}

func (self *Room) RoleActionId(role string) int64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if actionId, ok := self.roleActionIds[role]; ok {
		return actionId
	}
	return NoActionId
}

// ChangeName resolves a naming conflict for the room. When a different
// logical project of the owner (different origin time) already uses the
// name, or `force` is set, a disambiguated name unique across the
// owner's saved projects and live rooms is chosen. `inPlace` also
// renames the persisted record. Keeping the same logical project's
// existing name is a no-op.
func (self *Room) ChangeName(newName string, force bool, inPlace bool) (string, error) {
	name := newName
	if name == "" {
		name = self.Name()
	}

	projects, err := self.directory.Storage().OwnerProjects(self.Owner())
	if err != nil {
		glog.Infof("[room]%s owner project lookup error = %s\n", self.Uuid(), err)
		projects = nil
	}

	var existing *ProjectInfo
	for i := range projects {
		if projects[i].Name == name {
			existing = &projects[i]
			break
		}
	}
	conflict := existing != nil && !existing.OriginTime.Equal(self.OriginTime())
	if conflict || force {
		taken := []string{}
		for _, info := range projects {
			taken = append(taken, info.Name)
		}
		activeNames := self.directory.ActiveNamesFor(self.Owner(), self)
		glog.V(2).Infof("[room]%s active rooms for %s are %s\n", self.Uuid(), self.Owner(), strings.Join(activeNames, ","))
		taken = append(taken, activeNames...)
		name = UniqueName(name, taken)
	}

	if inPlace {
		if project := self.Project(); project != nil {
			if err := project.SetName(name); err != nil {
				glog.Infof("[room]%s persisted rename error = %s\n", self.Uuid(), err)
			}
		}
	}
	return self.rename(name)
}

func (self *Room) SetOwner(owner string) (string, error) {
	var oldUuid string
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		oldUuid = RoomId(self.owner, self.name)
		self.owner = owner
	}()
	self.directory.rekey(oldUuid, self)
	return self.ChangeName("", false, false)
}

func (self *Room) rename(name string) (string, error) {
	var oldUuid string
	var changed bool
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		oldUuid = RoomId(self.owner, self.name)
		self.name = name
		changed = oldUuid != RoomId(self.owner, self.name)
	}()

	if changed {
		glog.V(1).Infof("[room]%s renamed from %s\n", self.Uuid(), oldUuid)
		self.directory.rekey(oldUuid, self)
		self.scheduleUpdate()
	}
	return name, nil
}

// Serialize exports the room as one canonical document: a room block
// carrying the room name and application tag, containing one block per
// role in role-name order. Content is freshly fetched, always using the
// live-occupant path when occupied. Only occupied roles are persisted,
// so persisted-but-unfetched content of unoccupied roles is never
// overwritten with stale data.
func (self *Room) Serialize() (string, error) {
	names := self.RoleNames()

	contents := []*RoleContent{}
	for _, name := range names {
		content, err := self.GetRole(name, true)
		if err != nil {
			return "", err
		}
		contents = append(contents, content)
	}

	updates := []*RoleContent{}
	for _, content := range contents {
		if self.IsOccupied(content.Name) {
			updates = append(updates, content)
		}
	}
	if project := self.Project(); project != nil && 0 < len(updates) {
		if err := self.SetRoles(updates); err != nil {
			glog.Infof("[room]%s serialize persist error = %s\n", self.Uuid(), err)
		}
	}

	var export strings.Builder
	export.WriteString(fmt.Sprintf(`<room name="%s" app="%s">`, Escape(self.Name()), Escape(App)))
	for _, content := range contents {
		export.WriteString(fmt.Sprintf(`<role name="%s">`, Escape(content.Name)))
		export.WriteString(content.SourceCode)
		export.WriteString(content.Media)
		export.WriteString(`</role>`)
	}
	export.WriteString(`</room>`)
	return export.String(), nil
}

// Close broadcasts a room-closed notice and either destroys the
// persisted record (transient project) or leaves it intact for later
// reload.
func (self *Room) Close() error {
	msg := &Message{Type: MessageTypeProjectClosed}
	for _, client := range self.Clients() {
		client.Send(msg)
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.state = RoomStateClosing
	}()
	self.update.Stop()

	var err error
	finalState := RoomStatePersisted
	if project := self.Project(); project != nil {
		transient, transientErr := project.IsTransient()
		if transientErr != nil {
			err = transientErr
		} else if transient {
			glog.V(1).Infof("[room]%s removing transient project on close\n", self.Uuid())
			err = project.Destroy()
			finalState = RoomStateDestroyed
		}
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.state = finalState
	}()
	self.directory.Remove(self)
	self.cancel()
	return err
}

// check auto-closes a transient room once it has zero occupants.
func (self *Room) check() {
	if 0 < len(self.Clients()) {
		return
	}
	project := self.Project()
	if project == nil {
		return
	}
	transient, err := project.IsTransient()
	if err != nil {
		glog.Infof("[room]%s transient check error = %s\n", self.Uuid(), err)
		return
	}
	if transient {
		if err := self.Close(); err != nil {
			glog.Infof("[room]%s close error = %s\n", self.Uuid(), err)
		}
	}
}

func (self *Room) Save() error {
	project := self.Project()
	if project == nil {
		return nil
	}
	return project.Save()
}

// SendToEveryone broadcasts to all occupants, including the origin. The
// dstId defaults to the well-known everyone marker when unset.
func (self *Room) SendToEveryone(msg *Message) {
	if msg.DstId == "" {
		msg.DstId = Everyone
	}
	for _, client := range self.Clients() {
		client.Send(msg)
	}
}

// SendFrom broadcasts to all occupants except the origin.
func (self *Room) SendFrom(origin *Client, msg *Message) {
	for _, client := range self.Clients() {
		if client != origin {
			client.Send(msg)
		}
	}
}

// StateMessage builds the membership snapshot broadcast.
func (self *Room) StateMessage() *Message {
	occupants := map[string][]Occupant{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		for role, clients := range self.roles {
			list := []Occupant{}
			for _, client := range clients {
				var username *string
				if !client.IsAnonymous() {
					u := client.Username()
					username = &u
				}
				list = append(list, Occupant{
					ConnectionId: client.Id(),
					Username:     username,
				})
			}
			occupants[role] = list
		}
	}()

	return &Message{
		Type:          MessageTypeRoomRoles,
		Owner:         self.Owner(),
		Collaborators: self.Collaborators(),
		Name:          self.Name(),
		Occupants:     occupants,
	}
}

// immediate membership broadcast, for clients moving around
func (self *Room) sendUpdate() {
	msg := self.StateMessage()
	for _, client := range self.Clients() {
		client.Send(msg)
	}
}

// scheduleUpdate schedules the debounced broadcast+persist, for changes
// that affect the data model.
func (self *Room) scheduleUpdate() {
	self.update.Trigger()
}

func (self *Room) sendUpdateAndSave() {
	self.sendUpdate()
	if err := self.Save(); err != nil {
		glog.Infof("[room]%s save error = %s\n", self.Uuid(), err)
	}
}

func (self *Room) Collaborators() []string {
	project := self.Project()
	if project == nil {
		return []string{}
	}
	return project.Collaborators()
}

func (self *Room) AddCollaborator(username string) error {
	project := self.Project()
	if project == nil {
		return NewStorageError(nil, "no store defined for %s", self.Uuid())
	}
	if err := project.AddCollaborator(username); err != nil {
		return err
	}
	self.scheduleUpdate()
	return nil
}

func (self *Room) RemoveCollaborator(username string) error {
	project := self.Project()
	if project == nil {
		return NewStorageError(nil, "no store defined for %s", self.Uuid())
	}
	if err := project.RemoveCollaborator(username); err != nil {
		return err
	}
	self.scheduleUpdate()
	return nil
}

func (self *Room) IsEditableFor(username string) bool {
	return username == self.Owner() || slices.Contains(self.Collaborators(), username)
}

func (self *Room) HasRole(role string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	_, ok := self.roles[role]
	return ok
}

func (self *Room) RoleNames() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	names := maps.Keys(self.roles)
	sort.Strings(names)
	return names
}

func (self *Room) IsOccupied(role string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return 0 < len(self.roles[role])
}

// GetUnoccupiedRole returns the first unoccupied role in name order,
// or "" when every role is occupied.
func (self *Room) GetUnoccupiedRole() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	names := maps.Keys(self.roles)
	sort.Strings(names)
	for _, name := range names {
		if len(self.roles[name]) == 0 {
			return name
		}
	}
	return ""
}

func (self *Room) Clients() []*Client {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	clients := []*Client{}
	for _, roleClients := range self.roles {
		clients = append(clients, roleClients...)
	}
	return clients
}

func (self *Room) ClientsAt(role string) []*Client {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.roles[role])
}

func (self *Room) firstClientAt(role string) *Client {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	clients := self.roles[role]
	if len(clients) == 0 {
		return nil
	}
	return clients[0]
}

func (self *Room) Contains(username string) bool {
	for _, client := range self.Clients() {
		if client.Username() == username {
			return true
		}
	}
	return false
}

func (self *Room) OwnerCount() int {
	owner := self.Owner()
	count := 0
	for _, client := range self.Clients() {
		if client.Username() == owner {
			count += 1
		}
	}
	return count
}

// ServiceState returns the room's instance state for a service, lazily
// created on first access. The state's lifetime is bound to the room.
func (self *Room) ServiceState(serviceName string, create func() any) any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if state, ok := self.serviceStates[serviceName]; ok {
		return state
	}
	glog.V(1).Infof("[room]%s creating service state for %s\n", RoomId(self.owner, self.name), serviceName)
	state := create()
	self.serviceStates[serviceName] = state
	return state
}
