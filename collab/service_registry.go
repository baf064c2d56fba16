package collab

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// ServiceRegistry indexes declared service descriptors and dispatches
// external calls: it resolves the caller to its room, lazily obtains
// the per-room service instance, validates and coerces arguments,
// invokes the action, and normalizes the result for delivery.
type ServiceRegistry struct {
	connections *ConnectionRegistry

	stateLock   sync.Mutex
	services    map[string]*Service
	compatPaths map[string]*Service
}

func NewServiceRegistry(connections *ConnectionRegistry) *ServiceRegistry {
	return &ServiceRegistry{
		connections: connections,
		services:    map[string]*Service{},
		compatPaths: map[string]*Service{},
	}
}

func (self *ServiceRegistry) Register(service *Service) error {
	if service.Name == "" {
		return NewValidationError("service name is required")
	}
	for _, action := range service.Actions {
		if slices.Contains(reservedActionNames, action.Name) {
			return NewValidationError("action name %s is reserved", action.Name)
		}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.services[service.Name]; ok {
		return NewConflictError("service %s is already registered", service.Name)
	}
	glog.V(1).Infof("[services]registered %s\n", service.Name)
	self.services[service.Name] = service
	if service.CompatibilityPath != "" {
		self.compatPaths[service.CompatibilityPath] = service
	}
	return nil
}

func (self *ServiceRegistry) ServiceNames() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	names := []string{}
	for name := range self.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a service by name or legacy compatibility path.
func (self *ServiceRegistry) Lookup(name string) *Service {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if service, ok := self.services[name]; ok {
		return service
	}
	return self.compatPaths[name]
}

// ResolveInstance resolves the calling connection to its room and
// returns the service instance state bound to that room, lazily
// creating it. Stateless services share a single instance. No instance
// is created when the connection has no session.
func (self *ServiceRegistry) ResolveInstance(service *Service, connectionId Id) (any, *Client, *Room, error) {
	client := self.connections.Get(connectionId)
	if client == nil {
		return nil, nil, nil, NewNotFoundError("no session for connection %s", connectionId)
	}
	room := client.Room()
	if room == nil {
		return nil, nil, nil, NewNotFoundError("connection %s is not in a room", connectionId)
	}

	if !service.Stateful {
		return service.shared(), client, room, nil
	}

	// snapshot outside the callback. `ServiceState` runs it under the
	// room lock, where `room.Uuid()` would self-deadlock.
	roomId := room.Uuid()
	state := room.ServiceState(service.Name, func() any {
		glog.V(1).Infof("[services]creating %s for %s\n", service.Name, roomId)
		if service.NewState == nil {
			return nil
		}
		return service.NewState(roomId)
	})
	return state, client, room, nil
}

// Dispatch runs one external call end to end and writes the outcome to
// the sink. The returned error reports why a call was rejected or
// failed, for logging; the caller-facing message is already delivered.
func (self *ServiceRegistry) Dispatch(
	ctx context.Context,
	sink ResponseSink,
	serviceName string,
	actionName string,
	rawArgs map[string]string,
	connectionId Id,
) error {
	service := self.Lookup(serviceName)
	if service == nil {
		sink.Send(404, "service not found")
		return NewNotFoundError("service %s is not registered", serviceName)
	}

	action := service.Action(actionName)
	if action == nil || slices.Contains(reservedActionNames, actionName) {
		glog.V(1).Infof("[services]invalid action %s.%s\n", serviceName, actionName)
		sink.Send(400, "unrecognized action")
		return NewNotFoundError("unrecognized action %s.%s", serviceName, actionName)
	}

	state, client, room, err := self.ResolveInstance(service, connectionId)
	if err != nil {
		sink.Send(401, "ERROR: user not found. who are you?")
		return err
	}

	args, err := self.coerceArgs(service, action, rawArgs)
	if err != nil {
		glog.V(1).Infof("[services]%s.%s input error = %s\n", serviceName, actionName, err)
		sink.Send(500, err.Error())
		return err
	}

	call := &ServiceCall{
		Ctx:      ctx,
		Service:  service,
		Action:   action,
		State:    state,
		Caller:   client,
		Room:     room,
		Args:     args,
		Response: sink,
	}

	glog.V(2).Infof("[services]calling %s.%s for %s\n", serviceName, actionName, connectionId)

	var result any
	invokeErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &UnhandledActionError{
					Service: serviceName,
					Action:  actionName,
					Cause:   r,
				}
			}
		}()
		result, err = action.Handler(call)
		return
	}()
	if invokeErr != nil {
		glog.Errorf("[services]uncaught exception in %s.%s = %s\n", serviceName, actionName, invokeErr)
		if !sink.Sent() {
			sink.Send(500, "Error occurred!")
		}
		return invokeErr
	}

	return self.sendResult(call, result)
}

// coerceArgs coerces declared parameters in declared order, collecting
// every parameter error so all of them are reported together. Omitted
// optional parameters are left absent.
func (self *ServiceRegistry) coerceArgs(
	service *Service,
	action *ServiceAction,
	rawArgs map[string]string,
) (map[string]any, error) {
	aliases := service.ArgumentAliases[action.Name]

	args := map[string]any{}
	problems := []string{}
	for _, param := range action.Parameters {
		raw, ok := rawArgs[param.Name]
		if !ok {
			if oldName, okAlias := aliases[param.Name]; okAlias {
				raw, ok = rawArgs[oldName]
			}
		}
		if !ok || raw == "" {
			if !param.Optional {
				problems = append(problems, fmt.Sprintf("%s is required.", param.Name))
			}
			continue
		}

		parse, okType := InputTypes[param.Type]
		if !okType {
			args[param.Name] = raw
			continue
		}
		value, err := parse(raw)
		if err != nil {
			problems = append(problems, coercionMessage(param, err))
			continue
		}
		args[param.Name] = value
	}

	if 0 < len(problems) {
		return nil, NewValidationError("%s", strings.Join(problems, "\n"))
	}
	return args, nil
}

func coercionMessage(param ServiceParameter, err error) string {
	msg := fmt.Sprintf("\"%s\" is not a valid %s.", param.Name, FriendlyTypeName(param.Type))
	if detail := err.Error(); detail != "" {
		if strings.Contains(detail, param.Type) {
			return fmt.Sprintf("\"%s\" is not valid. %s", param.Name, detail)
		}
		msg += " " + detail
	}
	return msg
}

// sendResult normalizes the action result for delivery: deferred
// results are awaited, ordered sequences become lists, unordered
// key-value results become ordered (key, value) pairs, scalars are sent
// as text, and no result with nothing sent yields a generic success.
func (self *ServiceRegistry) sendResult(call *ServiceCall, result any) error {
	sink := call.Response
	if sink.Sent() {
		return nil
	}
	if result == nil {
		sink.Send(200, "OK")
		return nil
	}

	if async, ok := result.(AsyncResult); ok {
		value, err := async.Await(call.Ctx)
		if err != nil {
			glog.Errorf("[services]uncaught exception in %s.%s = %s\n", call.Service.Name, call.Action.Name, err)
			if !sink.Sent() {
				sink.Send(500, "Error occurred!")
			}
			return &UnhandledActionError{
				Service: call.Service.Name,
				Action:  call.Action.Name,
				Cause:   err,
			}
		}
		return self.sendResult(call, value)
	}

	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		sink.SendJSON(200, result)
	case reflect.Map:
		keys := []string{}
		valuesByKey := map[string]any{}
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			keys = append(keys, key)
			valuesByKey[key] = iter.Value().Interface()
		}
		sort.Strings(keys)
		pairs := [][]any{}
		for _, key := range keys {
			pairs = append(pairs, []any{key, valuesByKey[key]})
		}
		sink.SendJSON(200, pairs)
	default:
		sink.Send(200, fmt.Sprintf("%v", result))
	}
	return nil
}
