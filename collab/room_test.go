package collab

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testRoomSettings() *RoomSettings {
	return &RoomSettings{
		RoleFetchTimeout: 100 * time.Millisecond,
		UpdateDebounce: &DebounceSettings{
			Wait:    5 * time.Millisecond,
			MaxWait: 20 * time.Millisecond,
		},
	}
}

func newTestRoom(t *testing.T, owner string, name string, roles ...string) (*RoomDirectory, *Room) {
	storage := NewMemoryStorage()
	directory := NewRoomDirectory(context.Background(), storage, testRoomSettings())
	room, err := directory.GetOrCreate(owner, name)
	assert.Equal(t, err, nil)
	for _, role := range roles {
		assert.Equal(t, room.CreateRole(role, EmptyRoleContent(role)), nil)
	}
	return directory, room
}

func TestAddAndMove(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1", "r2")

	client, transport := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	gotRoom, gotRole := client.Position()
	assert.Equal(t, gotRoom == room, true)
	assert.Equal(t, gotRole, "r1")

	// moving within the room leaves exactly one (room, role) pair
	assert.Equal(t, room.Add(client, "r2"), nil)
	_, gotRole = client.Position()
	assert.Equal(t, gotRole, "r2")
	assert.Equal(t, len(room.ClientsAt("r1")), 0)
	assert.Equal(t, len(room.ClientsAt("r2")), 1)

	state := transport.lastOfType(MessageTypeRoomRoles)
	assert.NotEqual(t, state, nil)
	assert.Equal(t, len(state.Occupants["r1"]), 0)
	assert.Equal(t, len(state.Occupants["r2"]), 1)
	assert.Equal(t, *state.Occupants["r2"][0].Username, "brock")
}

func TestAddToUnknownRole(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")

	client, _ := newTestClient("brock")
	err := room.Add(client, "missing")
	var notFound *NotFoundError
	assert.Equal(t, errors.As(err, &notFound), true)
	assert.Equal(t, client.Room(), nil)
}

func TestRejectedAddKeepsPosition(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")

	client, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	err := room.Add(client, "missing")
	var notFound *NotFoundError
	assert.Equal(t, errors.As(err, &notFound), true)

	// the rejected move leaves the prior pair intact
	assert.Equal(t, client.Room() == room, true)
	assert.Equal(t, client.Role(), "r1")
	assert.Equal(t, len(room.ClientsAt("r1")), 1)
}

func TestMoveBetweenRoomsDetachesFirst(t *testing.T) {
	storage := NewMemoryStorage()
	directory := NewRoomDirectory(context.Background(), storage, testRoomSettings())

	room1, err := directory.GetOrCreate("ashe", "doc1")
	assert.Equal(t, err, nil)
	assert.Equal(t, room1.CreateRole("r1", EmptyRoleContent("r1")), nil)
	room2, err := directory.GetOrCreate("ashe", "doc2")
	assert.Equal(t, err, nil)
	assert.Equal(t, room2.CreateRole("r1", EmptyRoleContent("r1")), nil)

	client, _ := newTestClient("brock")
	assert.Equal(t, room1.Add(client, "r1"), nil)
	assert.Equal(t, room2.Add(client, "r1"), nil)

	assert.Equal(t, client.Room() == room2, true)
	assert.Equal(t, len(room2.ClientsAt("r1")), 1)

	// room1 was a transient project and auto-closed when emptied
	assert.Equal(t, room1.State(), RoomStateDestroyed)
	assert.Equal(t, directory.Get(RoomId("ashe", "doc1")), nil)
}

func TestRemoveBroadcastsEmptiedRole(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1", "r2")
	assert.Equal(t, room.Project().SetTransient(false), nil)

	client1, transport1 := newTestClient("brock")
	client2, _ := newTestClient("misty")
	assert.Equal(t, room.Add(client1, "r1"), nil)
	assert.Equal(t, room.Add(client2, "r2"), nil)

	assert.Equal(t, room.Remove(client2), nil)

	state := transport1.lastOfType(MessageTypeRoomRoles)
	assert.NotEqual(t, state, nil)
	// the emptied role is reported with an explicit empty occupant list
	occupants, ok := state.Occupants["r2"]
	assert.Equal(t, ok, true)
	assert.Equal(t, len(occupants), 0)
	assert.Equal(t, len(state.Occupants["r1"]), 1)
	assert.Equal(t, room.State(), RoomStateActive)
}

func TestAnonymousOccupantHasNullUsername(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")
	assert.Equal(t, room.Project().SetTransient(false), nil)

	client, _ := newTestClient("_" + NewId().String())
	assert.Equal(t, room.Add(client, "r1"), nil)

	state := room.StateMessage()
	assert.Equal(t, len(state.Occupants["r1"]), 1)
	assert.Equal(t, state.Occupants["r1"][0].Username, nil)
}

func TestCreateRoleConflict(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")

	err := room.CreateRole("r1", nil)
	var conflict *ConflictError
	assert.Equal(t, errors.As(err, &conflict), true)
}

func TestRenameRoleCarriesOccupants(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")

	client, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	assert.Equal(t, room.RenameRole("r1", "alpha"), nil)
	assert.Equal(t, room.HasRole("r1"), false)
	assert.Equal(t, client.Role(), "alpha")
	assert.Equal(t, len(room.ClientsAt("alpha")), 1)
}

func TestCloneRoleNaming(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")

	client, transport := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)
	live := NewRoleContent("r1", `<project actionId="7">live</project>`, "<media></media>")
	transport.setContent(live)

	clone1, err := room.CloneRole("r1")
	assert.Equal(t, err, nil)
	assert.Equal(t, clone1, "r1 (2)")

	clone2, err := room.CloneRole("r1")
	assert.Equal(t, err, nil)
	assert.Equal(t, clone2, "r1 (3)")

	// the clone copies the freshly saved live content
	content, err := room.Project().GetRole("r1 (2)")
	assert.Equal(t, err, nil)
	assert.Equal(t, content.SourceCode, live.SourceCode)
	assert.Equal(t, content.Name, "r1 (2)")
}

func TestGetRoleFallsBackToPersisted(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc")
	persisted := NewRoleContent("r1", `<project actionId="3">saved</project>`, "<media></media>")
	assert.Equal(t, room.CreateRole("r1", persisted), nil)

	// the occupant never answers content requests
	client, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	content, err := room.GetRole("r1", false)
	assert.Equal(t, err, nil)
	assert.Equal(t, content.SourceCode, persisted.SourceCode)
	assert.Equal(t, room.RoleActionId("r1"), int64(3))
}

func TestGetRoleLiveWriteThrough(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1")

	client, transport := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)
	live := NewRoleContent("r1", `<project actionId="12">live</project>`, "<media></media>")
	transport.setContent(live)

	content, err := room.GetRole("r1", false)
	assert.Equal(t, err, nil)
	assert.Equal(t, content.SourceCode, live.SourceCode)
	assert.Equal(t, room.RoleActionId("r1"), int64(12))

	persisted, err := room.Project().GetRole("r1")
	assert.Equal(t, err, nil)
	assert.Equal(t, persisted.SourceCode, live.SourceCode)
}

func TestChangeNameDisambiguation(t *testing.T) {
	storage := NewMemoryStorage()
	directory := NewRoomDirectory(context.Background(), storage, testRoomSettings())

	// another saved project of the owner already uses the name
	_, err := storage.CreateProject("ashe", "other", false)
	assert.Equal(t, err, nil)

	room, err := directory.GetOrCreate("ashe", "doc")
	assert.Equal(t, err, nil)

	// keeping the same logical project's name is a no-op
	name, err := room.ChangeName("doc", false, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "doc")

	name, err = room.ChangeName("other", false, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "other (2)")
	assert.Equal(t, directory.Get(RoomId("ashe", "other (2)")) == room, true)
	assert.Equal(t, directory.Get(RoomId("ashe", "doc")), nil)
}

func TestChangeNameForceAgainstActiveRooms(t *testing.T) {
	storage := NewMemoryStorage()
	directory := NewRoomDirectory(context.Background(), storage, testRoomSettings())

	live, err := directory.GetOrCreate("ashe", "live")
	assert.Equal(t, err, nil)
	room, err := directory.GetOrCreate("ashe", "doc")
	assert.Equal(t, err, nil)

	name, err := room.ChangeName("live", true, false)
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "live (2)")
	assert.Equal(t, live.Name(), "live")
}

func TestChangeNameInPlaceRenamesRecord(t *testing.T) {
	storage := NewMemoryStorage()
	directory := NewRoomDirectory(context.Background(), storage, testRoomSettings())

	room, err := directory.GetOrCreate("ashe", "doc")
	assert.Equal(t, err, nil)

	name, err := room.ChangeName("renamed", false, true)
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "renamed")
	assert.Equal(t, room.Project().Name(), "renamed")

	_, err = storage.OpenProject("ashe", "renamed")
	assert.Equal(t, err, nil)
}

func TestForkLeavesOriginalIntact(t *testing.T) {
	directory, room := newTestRoom(t, "ashe", "doc", "r1", "r2")
	assert.Equal(t, room.Project().SetTransient(false), nil)

	client, transport := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	fork, err := room.Fork(client)
	assert.Equal(t, err, nil)
	assert.Equal(t, fork.Owner(), "brock")
	assert.Equal(t, fork.Name(), "doc")
	assert.Equal(t, fork.RoleNames(), []string{"r1", "r2"})
	assert.Equal(t, len(fork.Clients()), 0)
	assert.Equal(t, directory.Get(fork.Uuid()) == fork, true)

	// the forker stays in the original room
	assert.Equal(t, client.Room() == room, true)
	assert.Equal(t, len(room.ClientsAt("r1")), 1)

	transient, err := fork.Project().IsTransient()
	assert.Equal(t, err, nil)
	assert.Equal(t, transient, true)

	notice := transport.lastOfType(MessageTypeProjectFork)
	assert.NotEqual(t, notice, nil)
	assert.Equal(t, notice.Room, "doc")
}

func TestSerialize(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "a&b")
	assert.Equal(t, room.CreateRole("b", NewRoleContent("b", "<b-old/>", "<media-b/>")), nil)
	assert.Equal(t, room.CreateRole("a", NewRoleContent("a", "<a-saved/>", "<media-a/>")), nil)

	client, transport := newTestClient("brock")
	assert.Equal(t, room.Add(client, "b"), nil)
	transport.setContent(NewRoleContent("b", "<b-live/>", "<media-b/>"))

	export, err := room.Serialize()
	assert.Equal(t, err, nil)

	expected := fmt.Sprintf(
		`<room name="a&amp;b" app="%s">`+
			`<role name="a"><a-saved/><media-a/></role>`+
			`<role name="b"><b-live/><media-b/></role>`+
			`</room>`,
		Escape(App),
	)
	assert.Equal(t, export, expected)

	// only the occupied role was persisted
	persisted, err := room.Project().GetRole("b")
	assert.Equal(t, err, nil)
	assert.Equal(t, persisted.SourceCode, "<b-live/>")
	persisted, err = room.Project().GetRole("a")
	assert.Equal(t, err, nil)
	assert.Equal(t, persisted.SourceCode, "<a-saved/>")
}

func TestUnsavedActionsClearedWhenRoleEmptied(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc")
	assert.Equal(t, room.CreateRole("r1", NewRoleContent("r1", `<project actionId="5">saved</project>`, "")), nil)

	client, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	projectId := room.Project().Id()
	actions := room.directory.Storage().Actions()
	assert.Equal(t, room.RecordAction("r1", 5), nil)
	assert.Equal(t, room.RecordAction("r1", 9), nil)

	assert.Equal(t, room.Remove(client), nil)

	// the durable watermark is 5. The unsaved action after it is gone.
	actionIds, err := actions.ActionIds(projectId, "r1")
	assert.Equal(t, err, nil)
	assert.Equal(t, actionIds, []int64{5})
}

func TestUnsavedActionsClearedOnRoleSwitch(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r2")
	assert.Equal(t, room.CreateRole("r1", NewRoleContent("r1", `<project actionId="5">saved</project>`, "")), nil)

	client, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	projectId := room.Project().Id()
	actions := room.directory.Storage().Actions()
	assert.Equal(t, room.RecordAction("r1", 9), nil)

	// switching roles empties r1. The provisional edit past the durable
	// watermark must not survive the switch.
	assert.Equal(t, room.Add(client, "r2"), nil)
	assert.Equal(t, client.Role(), "r2")

	actionIds, err := actions.ActionIds(projectId, "r1")
	assert.Equal(t, err, nil)
	assert.Equal(t, actionIds, []int64{})
}

func TestCloseBroadcastsAndPersists(t *testing.T) {
	directory, room := newTestRoom(t, "ashe", "doc", "r1")
	assert.Equal(t, room.Project().SetTransient(false), nil)

	client, transport := newTestClient("brock")
	assert.Equal(t, room.Add(client, "r1"), nil)

	assert.Equal(t, room.Close(), nil)
	assert.Equal(t, room.State(), RoomStatePersisted)
	assert.Equal(t, directory.Get(RoomId("ashe", "doc")), nil)
	assert.NotEqual(t, transport.lastOfType(MessageTypeProjectClosed), nil)

	// the persisted record survives for later reload
	_, err := directory.Storage().OpenProject("ashe", "doc")
	assert.Equal(t, err, nil)
}

func TestCollaboratorsAndEditability(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc")

	assert.Equal(t, room.IsEditableFor("ashe"), true)
	assert.Equal(t, room.IsEditableFor("brock"), false)

	assert.Equal(t, room.AddCollaborator("brock"), nil)
	assert.Equal(t, room.IsEditableFor("brock"), true)
	assert.Equal(t, room.Collaborators(), []string{"brock"})

	assert.Equal(t, room.RemoveCollaborator("brock"), nil)
	assert.Equal(t, room.IsEditableFor("brock"), false)
}

func TestGetUnoccupiedRole(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "b", "a")

	assert.Equal(t, room.GetUnoccupiedRole(), "a")

	client, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client, "a"), nil)
	assert.Equal(t, room.GetUnoccupiedRole(), "b")

	client2, _ := newTestClient("misty")
	assert.Equal(t, room.Add(client2, "b"), nil)
	assert.Equal(t, room.GetUnoccupiedRole(), "")
}

func TestContainsAndOwnerCount(t *testing.T) {
	_, room := newTestRoom(t, "ashe", "doc", "r1", "r2")

	client1, _ := newTestClient("ashe")
	client2, _ := newTestClient("brock")
	assert.Equal(t, room.Add(client1, "r1"), nil)
	assert.Equal(t, room.Add(client2, "r2"), nil)

	assert.Equal(t, room.Contains("ashe"), true)
	assert.Equal(t, room.Contains("misty"), false)
	assert.Equal(t, room.OwnerCount(), 1)
}

func TestDirectoryReloadsPersistedProject(t *testing.T) {
	storage := NewMemoryStorage()
	directory := NewRoomDirectory(context.Background(), storage, testRoomSettings())

	project, err := storage.CreateProject("ashe", "doc", false)
	assert.Equal(t, err, nil)
	assert.Equal(t, project.SetRole("r1", NewRoleContent("r1", "<saved/>", "")), nil)

	room, err := directory.GetOrCreate("ashe", "doc")
	assert.Equal(t, err, nil)
	assert.Equal(t, room.RoleNames(), []string{"r1"})
	assert.Equal(t, room.State(), RoomStateActive)

	// same live room on repeat lookups
	again, err := directory.GetOrCreate("ashe", "doc")
	assert.Equal(t, err, nil)
	assert.Equal(t, again == room, true)
}
