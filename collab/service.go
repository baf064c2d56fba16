package collab

import (
	"context"
	"sync"
)

// action names that can never be dispatched externally
var reservedActionNames = []string{"init", "dispose", "isSupported"}

type ServiceParameter struct {
	Name string
	// a key of `InputTypes`, or "" for a raw string parameter
	Type     string
	Optional bool
}

// ActionHandler runs one service action. A returned error is treated as
// unhandled and converted to a generic server error; user-facing
// outcomes are returned as values or written to the response sink.
type ActionHandler func(call *ServiceCall) (any, error)

type ServiceAction struct {
	Name       string
	Parameters []ServiceParameter
	Handler    ActionHandler
	Deprecated bool
}

// Service is an explicit declared-action descriptor. Stateful services
// get one instance state per room, lazily created; stateless services
// share a single state across all rooms.
type Service struct {
	Name string

	Stateful bool
	// NewState builds the instance state. For stateful services it is
	// called once per room with the room id; for stateless services
	// once overall with "".
	NewState func(roomId string) any

	// legacy route alias, resolved before dispatch
	CompatibilityPath string
	// action -> parameter -> legacy query argument name
	ArgumentAliases map[string]map[string]string

	Actions []*ServiceAction

	sharedOnce  sync.Once
	sharedState any
}

func (self *Service) Action(name string) *ServiceAction {
	for _, action := range self.Actions {
		if action.Name == name {
			return action
		}
	}
	return nil
}

func (self *Service) shared() any {
	self.sharedOnce.Do(func() {
		if self.NewState != nil {
			self.sharedState = self.NewState("")
		}
	})
	return self.sharedState
}

// ServiceCall is the per-call context an action is invoked with: the
// resolved instance state, the calling connection and its room, the
// coerced arguments, and the response sink for the final result.
type ServiceCall struct {
	Ctx      context.Context
	Service  *Service
	Action   *ServiceAction
	State    any
	Caller   *Client
	Room     *Room
	Args     map[string]any
	Response ResponseSink
}

// Arg returns the coerced value for a parameter, or nil when an
// optional parameter was omitted. Actions must tolerate nil for
// optional parameters.
func (self *ServiceCall) Arg(name string) any {
	return self.Args[name]
}

func (self *ServiceCall) StringArg(name string) string {
	if value, ok := self.Args[name].(string); ok {
		return value
	}
	return ""
}

func (self *ServiceCall) FloatArg(name string) float64 {
	if value, ok := self.Args[name].(float64); ok {
		return value
	}
	return 0
}

func (self *ServiceCall) HasArg(name string) bool {
	_, ok := self.Args[name]
	return ok
}

// ResponseSink delivers the final result of a call.
type ResponseSink interface {
	Sent() bool
	Send(status int, body string)
	SendJSON(status int, value any)
}

// AsyncResult is a deferred action result. Dispatch awaits it and
// converts an asynchronous failure into a generic server error.
type AsyncResult interface {
	Await(ctx context.Context) (any, error)
}

type asyncOutcome struct {
	value any
	err   error
}

type deferredResult struct {
	outcome chan asyncOutcome
}

// Defer runs fn off the dispatch goroutine and returns its outcome as
// an awaitable result.
func Defer(fn func() (any, error)) AsyncResult {
	result := &deferredResult{
		outcome: make(chan asyncOutcome, 1),
	}
	go func() {
		value, err := fn()
		result.outcome <- asyncOutcome{
			value: value,
			err:   err,
		}
	}()
	return result
}

func (self *deferredResult) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-self.outcome:
		return outcome.value, outcome.err
	}
}
