package services

import (
	"context"
	"flag"
	"sync"
	"testing"
	"time"

	"github.com/blocshub/collab/collab"
	"github.com/go-playground/assert/v2"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
}

// recordingTransport captures broadcasts sent to a client
type recordingTransport struct {
	stateLock sync.Mutex
	messages  []*collab.Message
}

func (self *recordingTransport) Send(msg *collab.Message) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.messages = append(self.messages, msg)
	return nil
}

func (self *recordingTransport) Close() {
}

func (self *recordingTransport) msgTypes() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	msgTypes := []string{}
	for _, msg := range self.messages {
		if msg.Type == collab.MessageTypeMessage {
			msgTypes = append(msgTypes, msg.MsgType)
		}
	}
	return msgTypes
}

func (self *recordingTransport) lastMsgType() string {
	msgTypes := self.msgTypes()
	if len(msgTypes) == 0 {
		return ""
	}
	return msgTypes[len(msgTypes)-1]
}

type gameEnv struct {
	room    *collab.Room
	state   *battleshipState
	players map[string]*collab.Client
	watch   map[string]*recordingTransport
}

func newGameEnv(t *testing.T) *gameEnv {
	storage := collab.NewMemoryStorage()
	directory := collab.NewRoomDirectory(context.Background(), storage, &collab.RoomSettings{
		RoleFetchTimeout: 100 * time.Millisecond,
		UpdateDebounce: &collab.DebounceSettings{
			Wait:    5 * time.Millisecond,
			MaxWait: 20 * time.Millisecond,
		},
	})
	room, err := directory.GetOrCreate("ashe", "game")
	assert.Equal(t, err, nil)

	env := &gameEnv{
		room:    room,
		state:   newBattleshipState(room.Uuid()).(*battleshipState),
		players: map[string]*collab.Client{},
		watch:   map[string]*recordingTransport{},
	}
	for _, role := range []string{"p1", "p2"} {
		assert.Equal(t, room.CreateRole(role, collab.EmptyRoleContent(role)), nil)
		transport := &recordingTransport{}
		client := collab.NewClient(role+"-user", transport)
		assert.Equal(t, room.Add(client, role), nil)
		env.players[role] = client
		env.watch[role] = transport
	}
	return env
}

func (self *gameEnv) call(role string, args map[string]any) *collab.ServiceCall {
	return &collab.ServiceCall{
		Ctx:    context.Background(),
		State:  self.state,
		Caller: self.players[role],
		Room:   self.room,
		Args:   args,
	}
}

// places the full fleet in rows 1.. facing east from column 1
func (self *gameEnv) placeFleet(t *testing.T, role string) {
	row := 1
	for ship := range battleshipShips {
		result, err := battleshipPlaceShip(self.call(role, map[string]any{
			"ship":   ship,
			"row":    float64(row),
			"column": float64(1),
			"facing": "east",
		}))
		assert.Equal(t, err, nil)
		assert.Equal(t, result, true)
		row += 1
	}
}

func TestBattleshipPlaceShipValidation(t *testing.T) {
	env := newGameEnv(t)

	result, err := battleshipPlaceShip(env.call("p1", map[string]any{
		"ship":   "canoe",
		"row":    float64(1),
		"column": float64(1),
		"facing": "east",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, `Invalid ship "canoe"`)

	result, err = battleshipPlaceShip(env.call("p1", map[string]any{
		"ship":   "battleship",
		"row":    float64(1),
		"column": float64(1),
		"facing": "up",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, `Invalid facing "up". Face north, south, east or west`)

	// length 4 facing west from column 2 leaves the board
	result, err = battleshipPlaceShip(env.call("p1", map[string]any{
		"ship":   "battleship",
		"row":    float64(1),
		"column": float64(2),
		"facing": "west",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Ship is out of bounds!")

	result, err = battleshipPlaceShip(env.call("p1", map[string]any{
		"ship":   "battleship",
		"row":    float64(1),
		"column": float64(1),
		"facing": "east",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, true)

	// overlapping an already placed ship is rejected
	result, err = battleshipPlaceShip(env.call("p1", map[string]any{
		"ship":   "submarine",
		"row":    float64(1),
		"column": float64(2),
		"facing": "east",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Ship overlaps with the battleship!")
}

func TestBattleshipStartRequiresPlacedFleets(t *testing.T) {
	env := newGameEnv(t)

	result, err := battleshipStart(env.call("p1", nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Both players need to place their ships!")

	env.placeFleet(t, "p1")
	env.placeFleet(t, "p2")

	result, err = battleshipStart(env.call("p1", nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, true)
	assert.Equal(t, env.watch["p2"].lastMsgType(), "start")

	result, err = battleshipStart(env.call("p1", nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Game has already started!")
}

func TestBattleshipFire(t *testing.T) {
	env := newGameEnv(t)

	result, err := battleshipFire(env.call("p1", map[string]any{
		"row":    float64(1),
		"column": float64(1),
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Game has not started yet!")

	env.placeFleet(t, "p1")
	env.placeFleet(t, "p2")
	_, err = battleshipStart(env.call("p1", nil))
	assert.Equal(t, err, nil)

	// every fleet has a ship across row 1, so (1,1) is a hit
	result, err = battleshipFire(env.call("p1", map[string]any{
		"row":    float64(1),
		"column": float64(1),
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, true)
	assert.Equal(t, env.watch["p2"].lastMsgType(), "hit")

	// row 10 is empty water
	result, err = battleshipFire(env.call("p1", map[string]any{
		"row":    float64(10),
		"column": float64(10),
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, false)
	assert.Equal(t, env.watch["p2"].lastMsgType(), "miss")

	result, err = battleshipFire(env.call("p1", map[string]any{
		"row":    float64(0),
		"column": float64(5),
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Shot is out of bounds!")
}

func TestBattleshipSinkingAndRemaining(t *testing.T) {
	env := newGameEnv(t)
	env.placeFleet(t, "p1")
	env.placeFleet(t, "p2")
	_, err := battleshipStart(env.call("p1", nil))
	assert.Equal(t, err, nil)

	remaining, err := battleshipRemainingShips(env.call("p1", map[string]any{
		"roleId": "p2",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, remaining, len(battleshipShips))

	// sink one of p2's ships by sweeping its row
	var sunkRow int
	func() {
		env.state.stateLock.Lock()
		defer env.state.stateLock.Unlock()
		ship := env.state.boards["p2"].ships["patrol boat"]
		sunkRow = ship.cells[0]/battleshipBoardSize + 1
	}()
	for column := 1; column <= battleshipShips["patrol boat"]; column += 1 {
		result, err := battleshipFire(env.call("p1", map[string]any{
			"row":    float64(sunkRow),
			"column": float64(column),
		}))
		assert.Equal(t, err, nil)
		assert.Equal(t, result, true)
	}

	remaining, err = battleshipRemainingShips(env.call("p1", map[string]any{
		"roleId": "p2",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, remaining, len(battleshipShips)-1)
}

func TestBattleshipReset(t *testing.T) {
	env := newGameEnv(t)
	env.placeFleet(t, "p1")
	env.placeFleet(t, "p2")
	_, err := battleshipStart(env.call("p1", nil))
	assert.Equal(t, err, nil)

	result, err := battleshipReset(env.call("p1", nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, true)
	assert.Equal(t, env.watch["p2"].lastMsgType(), "reset")

	result, err = battleshipFire(env.call("p1", map[string]any{
		"row":    float64(1),
		"column": float64(1),
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "Game has not started yet!")
}

func TestBattleshipShipInfo(t *testing.T) {
	env := newGameEnv(t)

	ships, err := battleshipAllShips(env.call("p1", nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, ships, []string{
		"aircraft carrier",
		"battleship",
		"destroyer",
		"patrol boat",
		"submarine",
	})

	length, err := battleshipShipLength(env.call("p1", map[string]any{
		"ship": "Battleship",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, length, 4)

	result, err := battleshipShipLength(env.call("p1", map[string]any{
		"ship": "canoe",
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, result, `Ship "canoe" does not exist.`)
}

func TestGeolocationNearestCity(t *testing.T) {
	service := NewGeolocationService()

	call := &collab.ServiceCall{
		Ctx: context.Background(),
		Args: map[string]any{
			"latitude":  36.1,
			"longitude": -86.7,
		},
	}

	name, err := service.Action("city").Handler(call)
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "Nashville")

	country, err := service.Action("country").Handler(call)
	assert.Equal(t, err, nil)
	assert.Equal(t, country, "United States")

	info, err := service.Action("info").Handler(call)
	assert.Equal(t, err, nil)
	assert.Equal(t, info.(map[string]any)["city"], "Nashville")
}

func TestHaversine(t *testing.T) {
	// London to Paris is roughly 344 km
	distance := haversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	assert.Equal(t, 330.0 < distance && distance < 360.0, true)

	assert.Equal(t, haversineKm(10, 20, 10, 20), 0.0)
}

func TestPublicRoleId(t *testing.T) {
	env := newGameEnv(t)
	service := NewPublicRolesService()

	call := env.call("p1", nil)
	roleId, err := service.Action("getPublicRoleId").Handler(call)
	assert.Equal(t, err, nil)
	assert.Equal(t, roleId, "p1@game@ashe")

	// the deprecated alias answers identically
	legacyId, err := service.Action("requestPublicRoleId").Handler(call)
	assert.Equal(t, err, nil)
	assert.Equal(t, legacyId, roleId)
}

func TestRegisterAll(t *testing.T) {
	registry := collab.NewServiceRegistry(collab.NewConnectionRegistry())
	assert.Equal(t, RegisterAll(registry), nil)
	assert.Equal(t, registry.ServiceNames(), []string{"battleship", "geolocation", "public-roles"})

	// legacy paths resolve to the same descriptors
	assert.Equal(t, registry.Lookup("Battleship") == registry.Lookup("battleship"), true)
}
