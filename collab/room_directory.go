package collab

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// RoomDirectory is the keyed collection of live rooms, created on
// demand and removed on room destruction.
type RoomDirectory struct {
	ctx    context.Context
	cancel context.CancelFunc

	storage  Storage
	settings *RoomSettings

	stateLock sync.Mutex
	rooms     map[string]*Room
}

func NewRoomDirectoryWithDefaults(ctx context.Context, storage Storage) *RoomDirectory {
	return NewRoomDirectory(ctx, storage, DefaultRoomSettings())
}

func NewRoomDirectory(ctx context.Context, storage Storage, settings *RoomSettings) *RoomDirectory {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &RoomDirectory{
		ctx:      cancelCtx,
		cancel:   cancel,
		storage:  storage,
		settings: settings,
		rooms:    map[string]*Room{},
	}
}

func (self *RoomDirectory) Storage() Storage {
	return self.storage
}

// GetOrCreate returns the live room for (owner, name), loading it from
// storage when a record exists, else creating a fresh transient record.
func (self *RoomDirectory) GetOrCreate(owner string, name string) (*Room, error) {
	uuid := RoomId(owner, name)

	self.stateLock.Lock()
	if room, ok := self.rooms[uuid]; ok {
		self.stateLock.Unlock()
		return room, nil
	}
	self.stateLock.Unlock()

	project, err := self.storage.OpenProject(owner, name)
	if err != nil {
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		project, err = self.storage.CreateProject(owner, name, true)
		if err != nil {
			return nil, err
		}
	}
	return self.loadRoom(project)
}

// Get returns the live room for a canonical room id, or nil.
func (self *RoomDirectory) Get(uuid string) *Room {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.rooms[uuid]
}

func (self *RoomDirectory) loadRoom(project ContentStore) (*Room, error) {
	room := newRoom(self, project.Owner(), project.Name(), self.settings)
	room.SetProject(project)

	names, err := project.RoleNames()
	if err != nil {
		return nil, err
	}
	func() {
		room.stateLock.Lock()
		defer room.stateLock.Unlock()
		for _, name := range names {
			if _, ok := room.roles[name]; !ok {
				room.roles[name] = []*Client{}
			}
		}
		room.state = RoomStateActive
	}()

	// another loader may have won the race
	var existing *Room
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		uuid := room.Uuid()
		if current, ok := self.rooms[uuid]; ok {
			existing = current
			return
		}
		self.rooms[uuid] = room
	}()
	if existing != nil {
		room.cancel()
		return existing, nil
	}

	room.scheduleUpdate()
	return room, nil
}

func (self *RoomDirectory) add(room *Room) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.rooms[room.Uuid()] = room
}

func (self *RoomDirectory) Remove(room *Room) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	uuid := room.Uuid()
	if self.rooms[uuid] == room {
		delete(self.rooms, uuid)
		glog.V(1).Infof("[directory]removed %s\n", uuid)
	}
}

// rekey moves a live room to its recomputed canonical id after a rename
// or owner change.
func (self *RoomDirectory) rekey(oldUuid string, room *Room) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.rooms[oldUuid] == room {
		delete(self.rooms, oldUuid)
	}
	self.rooms[room.Uuid()] = room
}

// ActiveNamesFor lists the names of the owner's other live rooms.
func (self *RoomDirectory) ActiveNamesFor(owner string, exclude *Room) []string {
	self.stateLock.Lock()
	rooms := maps.Values(self.rooms)
	self.stateLock.Unlock()

	names := []string{}
	for _, room := range rooms {
		if room != exclude && room.Owner() == owner {
			names = append(names, room.Name())
		}
	}
	return names
}

func (self *RoomDirectory) Rooms() []*Room {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Values(self.rooms)
}

func (self *RoomDirectory) Close() {
	for _, room := range self.Rooms() {
		if err := room.Close(); err != nil {
			glog.Infof("[directory]close error for %s = %s\n", room.Uuid(), err)
		}
	}
	self.cancel()
}
