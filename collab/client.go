package collab

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// Transport delivers messages to one live client.
type Transport interface {
	Send(msg *Message) error
	Close()
}

// Client is one live connection. A client occupies at most one
// (room, role) pair at any instant. The pair is mutated only by `Room`,
// never directly.
type Client struct {
	id        Id
	transport Transport

	stateLock      sync.Mutex
	username       string
	room           *Room
	role           string
	pendingFetches map[string]chan *RoleContent
}

func NewClient(username string, transport Transport) *Client {
	return &Client{
		id:             NewId(),
		transport:      transport,
		username:       username,
		pendingFetches: map[string]chan *RoleContent{},
	}
}

func (self *Client) Id() Id {
	return self.id
}

func (self *Client) Username() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.username
}

func (self *Client) SetUsername(username string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.username = username
}

// IsAnonymous reports whether the client never identified with a
// username. Anonymous clients carry a generated name with a leading
// underscore and are shown as null in membership snapshots.
func (self *Client) IsAnonymous() bool {
	return strings.HasPrefix(self.Username(), "_")
}

func (self *Client) Position() (*Room, string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.room, self.role
}

func (self *Client) Room() *Room {
	room, _ := self.Position()
	return room
}

func (self *Client) Role() string {
	_, role := self.Position()
	return role
}

func (self *Client) setPosition(room *Room, role string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.room = room
	self.role = role
}

func (self *Client) Send(msg *Message) {
	if err := self.transport.Send(msg); err != nil {
		glog.Infof("[client]%s send error = %s\n", self.id, err)
	}
}

// FetchContent requests the client's live role content. The round trip
// is bounded by `ctx`; a client that stopped responding must never stall
// its room.
func (self *Client) FetchContent(ctx context.Context) (*RoleContent, error) {
	requestId := NewId().String()
	fetch := make(chan *RoleContent, 1)

	self.stateLock.Lock()
	self.pendingFetches[requestId] = fetch
	self.stateLock.Unlock()

	defer func() {
		self.stateLock.Lock()
		delete(self.pendingFetches, requestId)
		self.stateLock.Unlock()
	}()

	if err := self.transport.Send(&Message{
		Type:      MessageTypeRoleContentRequest,
		RequestId: requestId,
	}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case content := <-fetch:
		return content, nil
	}
}

// ResolveContent completes a pending `FetchContent` round trip. Called
// by the transport read loop when the client answers a content request.
func (self *Client) ResolveContent(requestId string, content *RoleContent) {
	self.stateLock.Lock()
	fetch, ok := self.pendingFetches[requestId]
	delete(self.pendingFetches, requestId)
	self.stateLock.Unlock()

	if !ok {
		// superseded or timed out
		glog.V(2).Infof("[client]%s drop content response %s\n", self.id, requestId)
		return
	}
	fetch <- content
}

func (self *Client) Close() {
	self.transport.Close()
}

// ConnectionRegistry maps live connection ids to clients.
type ConnectionRegistry struct {
	stateLock sync.Mutex
	clients   map[Id]*Client
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		clients: map[Id]*Client{},
	}
}

func (self *ConnectionRegistry) Add(client *Client) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.clients[client.Id()] = client
}

func (self *ConnectionRegistry) Remove(clientId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.clients, clientId)
}

func (self *ConnectionRegistry) Get(clientId Id) *Client {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.clients[clientId]
}

func (self *ConnectionRegistry) Clients() []*Client {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Values(self.clients)
}
