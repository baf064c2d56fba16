package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blocshub/collab/collab"
	"golang.org/x/exp/maps"
)

const battleshipBoardSize = 10

var battleshipShips = map[string]int{
	"aircraft carrier": 5,
	"battleship":       4,
	"submarine":        3,
	"destroyer":        3,
	"patrol boat":      2,
}

type battleshipShip struct {
	length int
	// occupied cells as row*battleshipBoardSize+column
	cells []int
	hits  map[int]bool
}

func (self *battleshipShip) sunk() bool {
	return len(self.hits) == len(self.cells)
}

type battleshipBoard struct {
	// ship name -> placement
	ships map[string]*battleshipShip
}

func (self *battleshipBoard) occupied(cell int) (string, *battleshipShip) {
	for name, ship := range self.ships {
		for _, shipCell := range ship.cells {
			if shipCell == cell {
				return name, ship
			}
		}
	}
	return "", nil
}

func (self *battleshipBoard) remaining() int {
	count := 0
	for _, ship := range self.ships {
		if !ship.sunk() {
			count += 1
		}
	}
	return count
}

// battleshipState is one game, scoped to one room. Boards are keyed by
// role name so a player keeps their board across reconnects.
type battleshipState struct {
	stateLock sync.Mutex
	started   bool
	boards    map[string]*battleshipBoard
}

func newBattleshipState(roomId string) any {
	return &battleshipState{
		boards: map[string]*battleshipBoard{},
	}
}

func (self *battleshipState) board(role string) *battleshipBoard {
	board, ok := self.boards[role]
	if !ok {
		board = &battleshipBoard{
			ships: map[string]*battleshipShip{},
		}
		self.boards[role] = board
	}
	return board
}

// NewBattleshipService is a two-player game played between roles of one
// room. Hits, misses, and game start are broadcast to every occupant.
func NewBattleshipService() *collab.Service {
	return &collab.Service{
		Name:              "battleship",
		Stateful:          true,
		NewState:          newBattleshipState,
		CompatibilityPath: "Battleship",
		Actions: []*collab.ServiceAction{
			{
				Name:    "reset",
				Handler: battleshipReset,
			},
			{
				Name:    "start",
				Handler: battleshipStart,
			},
			{
				Name: "placeShip",
				Parameters: []collab.ServiceParameter{
					{Name: "ship"},
					{Name: "row", Type: "Number"},
					{Name: "column", Type: "Number"},
					{Name: "facing"},
				},
				Handler: battleshipPlaceShip,
			},
			{
				Name: "fire",
				Parameters: []collab.ServiceParameter{
					{Name: "row", Type: "Number"},
					{Name: "column", Type: "Number"},
				},
				Handler: battleshipFire,
			},
			{
				Name: "remainingShips",
				Parameters: []collab.ServiceParameter{
					{Name: "roleId", Optional: true},
				},
				Handler: battleshipRemainingShips,
			},
			{
				Name:    "allShips",
				Handler: battleshipAllShips,
			},
			{
				Name: "shipLength",
				Parameters: []collab.ServiceParameter{
					{Name: "ship"},
				},
				Handler: battleshipShipLength,
			},
		},
	}
}

func battleshipReset(call *collab.ServiceCall) (any, error) {
	state := call.State.(*battleshipState)

	state.stateLock.Lock()
	state.started = false
	state.boards = map[string]*battleshipBoard{}
	state.stateLock.Unlock()

	call.Room.SendToEveryone(&collab.Message{
		Type:    collab.MessageTypeMessage,
		MsgType: "reset",
	})
	return true, nil
}

func battleshipStart(call *collab.ServiceCall) (any, error) {
	state := call.State.(*battleshipState)

	var problem string
	func() {
		state.stateLock.Lock()
		defer state.stateLock.Unlock()

		if state.started {
			problem = "Game has already started!"
			return
		}
		if len(state.boards) < 2 {
			problem = "Both players need to place their ships!"
			return
		}
		for role, board := range state.boards {
			if len(board.ships) < len(battleshipShips) {
				problem = fmt.Sprintf("%s still needs to place ships!", role)
				return
			}
		}
		state.started = true
	}()
	if problem != "" {
		return problem, nil
	}

	call.Room.SendToEveryone(&collab.Message{
		Type:    collab.MessageTypeMessage,
		MsgType: "start",
	})
	return true, nil
}

func battleshipPlaceShip(call *collab.ServiceCall) (any, error) {
	state := call.State.(*battleshipState)
	shipName := strings.ToLower(call.StringArg("ship"))
	row := int(call.FloatArg("row"))
	column := int(call.FloatArg("column"))
	facing := strings.ToLower(call.StringArg("facing"))

	length, ok := battleshipShips[shipName]
	if !ok {
		return fmt.Sprintf("Invalid ship \"%s\"", call.StringArg("ship")), nil
	}

	var dRow, dColumn int
	switch facing {
	case "north":
		dRow = -1
	case "south":
		dRow = 1
	case "west":
		dColumn = -1
	case "east":
		dColumn = 1
	default:
		return fmt.Sprintf("Invalid facing \"%s\". Face north, south, east or west", facing), nil
	}

	// rows and columns are 1-indexed
	cells := []int{}
	for i := 0; i < length; i += 1 {
		r := row + i*dRow
		c := column + i*dColumn
		if r < 1 || battleshipBoardSize < r || c < 1 || battleshipBoardSize < c {
			return "Ship is out of bounds!", nil
		}
		cells = append(cells, (r-1)*battleshipBoardSize+(c-1))
	}

	state.stateLock.Lock()
	defer state.stateLock.Unlock()

	if state.started {
		return "Game has already started!", nil
	}
	board := state.board(call.Caller.Role())
	for _, cell := range cells {
		if name, _ := board.occupied(cell); name != "" && name != shipName {
			return fmt.Sprintf("Ship overlaps with the %s!", name), nil
		}
	}
	board.ships[shipName] = &battleshipShip{
		length: length,
		cells:  cells,
		hits:   map[int]bool{},
	}
	return true, nil
}

func battleshipFire(call *collab.ServiceCall) (any, error) {
	state := call.State.(*battleshipState)
	row := int(call.FloatArg("row"))
	column := int(call.FloatArg("column"))

	if row < 1 || battleshipBoardSize < row || column < 1 || battleshipBoardSize < column {
		return "Shot is out of bounds!", nil
	}
	cell := (row-1)*battleshipBoardSize + (column - 1)
	role := call.Caller.Role()

	var msgType string
	content := map[string]any{
		"role":   role,
		"row":    row,
		"column": column,
	}
	var problem string
	func() {
		state.stateLock.Lock()
		defer state.stateLock.Unlock()

		if !state.started {
			problem = "Game has not started yet!"
			return
		}

		// the target is the other player's board
		var target *battleshipBoard
		for targetRole, board := range state.boards {
			if targetRole != role {
				target = board
				break
			}
		}
		if target == nil {
			problem = "There is no opponent yet!"
			return
		}

		shipName, ship := target.occupied(cell)
		if ship == nil {
			msgType = "miss"
			return
		}
		ship.hits[cell] = true
		msgType = "hit"
		content["ship"] = shipName
		content["sunk"] = ship.sunk()
	}()
	if problem != "" {
		return problem, nil
	}

	call.Room.SendToEveryone(&collab.Message{
		Type:    collab.MessageTypeMessage,
		MsgType: msgType,
		Content: content,
	})
	return msgType == "hit", nil
}

func battleshipRemainingShips(call *collab.ServiceCall) (any, error) {
	state := call.State.(*battleshipState)
	role := call.StringArg("roleId")
	if role == "" {
		role = call.Caller.Role()
	}

	state.stateLock.Lock()
	defer state.stateLock.Unlock()

	board, ok := state.boards[role]
	if !ok {
		return 0, nil
	}
	return board.remaining(), nil
}

func battleshipAllShips(call *collab.ServiceCall) (any, error) {
	names := maps.Keys(battleshipShips)
	sort.Strings(names)
	return names, nil
}

func battleshipShipLength(call *collab.ServiceCall) (any, error) {
	shipName := strings.ToLower(call.StringArg("ship"))
	length, ok := battleshipShips[shipName]
	if !ok {
		return fmt.Sprintf("Ship \"%s\" does not exist.", call.StringArg("ship")), nil
	}
	return length, nil
}
