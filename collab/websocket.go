package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type WsServerSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultWsServerSettings() *WsServerSettings {
	return &WsServerSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		PingTimeout:        10 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        30 * time.Second,
	}
}

// message received from a client over the attach socket
type clientMessage struct {
	Type      string          `json:"type"`
	ByJwt     string          `json:"byJwt,omitempty"`
	Username  string          `json:"username,omitempty"`
	Owner     string          `json:"owner,omitempty"`
	Room      string          `json:"room,omitempty"`
	Role      string          `json:"role,omitempty"`
	RequestId string          `json:"requestId,omitempty"`
	ActionId  int64           `json:"actionId,omitempty"`
	Content   *RoleContent    `json:"content,omitempty"`
	DstId     string          `json:"dstId,omitempty"`
	MsgType   string          `json:"msgType,omitempty"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// WsServer upgrades inbound connections to live clients. The first
// frame must identify the client (an externally issued jwt or a plain
// username); unidentified connections get a generated anonymous name.
type WsServer struct {
	ctx context.Context

	connections *ConnectionRegistry
	directory   *RoomDirectory

	settings *WsServerSettings
	upgrader *websocket.Upgrader
}

func NewWsServerWithDefaults(ctx context.Context, connections *ConnectionRegistry, directory *RoomDirectory) *WsServer {
	return NewWsServer(ctx, connections, directory, DefaultWsServerSettings())
}

func NewWsServer(ctx context.Context, connections *ConnectionRegistry, directory *RoomDirectory, settings *WsServerSettings) *WsServer {
	return &WsServer{
		ctx:         ctx,
		connections: connections,
		directory:   directory,
		settings:    settings,
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: settings.WsHandshakeTimeout,
		},
	}
}

func (self *WsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[ws]upgrade error = %s\n", err)
		return
	}

	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	var auth clientMessage
	if err := ws.ReadJSON(&auth); err != nil {
		glog.Infof("[ws]auth error = %s\n", err)
		ws.Close()
		return
	}

	username := auth.Username
	if auth.ByJwt != "" {
		if claims, err := ParseClientAuthUnverified(auth.ByJwt); err == nil && claims.Username != "" {
			username = claims.Username
		}
	}
	if username == "" {
		// anonymous connections carry a generated underscore name
		username = "_" + NewId().String()
	}

	transport := &wsTransport{
		ws:           ws,
		writeTimeout: self.settings.WriteTimeout,
	}
	client := NewClient(username, transport)
	self.connections.Add(client)

	// echo the resolved identity so the client learns its connection id
	client.Send(&Message{
		Type: "connected",
		Name: client.Id().String(),
	})

	go self.run(client, ws)
}

func (self *WsServer) run(client *Client, ws *websocket.Conn) {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer func() {
		handleCancel()
		if room := client.Room(); room != nil {
			room.Remove(client)
		}
		self.connections.Remove(client.Id())
		ws.Close()
		glog.V(1).Infof("[ws]%s detached\n", client.Id())
	}()

	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	go func() {
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				deadline := time.Now().Add(self.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					handleCancel()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			glog.V(1).Infof("[ws]%s<- error = %s\n", client.Id(), err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))

		if err := self.handleMessage(client, &msg); err != nil {
			glog.Infof("[ws]%s message error = %s\n", client.Id(), err)
		}
	}
}

func (self *WsServer) handleMessage(client *Client, msg *clientMessage) error {
	switch msg.Type {
	case "join":
		owner := msg.Owner
		if owner == "" {
			owner = client.Username()
		}
		room, err := self.directory.GetOrCreate(owner, msg.Room)
		if err != nil {
			return err
		}
		role := msg.Role
		if role == "" {
			role = room.GetUnoccupiedRole()
		}
		if role == "" {
			role = UniqueName("myRole", room.RoleNames())
		}
		if !room.HasRole(role) {
			if err := room.CreateRole(role, EmptyRoleContent(role)); err != nil {
				return err
			}
		}
		return room.Add(client, role)

	case "role-content":
		client.ResolveContent(msg.RequestId, msg.Content)
		return nil

	case "edit":
		room := client.Room()
		if room == nil {
			return NewNotFoundError("connection %s is not in a room", client.Id())
		}
		return room.RecordAction(client.Role(), msg.ActionId)

	case MessageTypeMessage:
		room := client.Room()
		if room == nil {
			return NewNotFoundError("connection %s is not in a room", client.Id())
		}
		relay := &Message{
			Type:    MessageTypeMessage,
			DstId:   msg.DstId,
			MsgType: msg.MsgType,
			Content: msg.Body,
		}
		if relay.DstId == "" || relay.DstId == Everyone {
			room.SendToEveryone(relay)
		} else {
			room.SendFrom(client, relay)
		}
		return nil

	default:
		glog.V(2).Infof("[ws]%s<- other=%s\n", client.Id(), msg.Type)
		return nil
	}
}

type wsTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	sendLock sync.Mutex
}

func (self *wsTransport) Send(msg *Message) error {
	self.sendLock.Lock()
	defer self.sendLock.Unlock()

	self.ws.SetWriteDeadline(time.Now().Add(self.writeTimeout))
	return self.ws.WriteJSON(msg)
}

func (self *wsTransport) Close() {
	self.ws.Close()
}
