package collab

// message types sent to clients
const (
	MessageTypeRoomRoles          = "room-roles"
	MessageTypeProjectClosed      = "project-closed"
	MessageTypeProjectFork        = "project-fork"
	MessageTypeMessage            = "message"
	MessageTypeRoleContentRequest = "role-content-request"
)

type Occupant struct {
	ConnectionId Id `json:"uuid"`
	// nil when the client has not identified with a username
	Username *string `json:"username"`
}

// wire message for client delivery. Only the fields relevant to `Type`
// are set.
type Message struct {
	Type          string                `json:"type"`
	DstId         string                `json:"dstId,omitempty"`
	MsgType       string                `json:"msgType,omitempty"`
	Content       any                   `json:"content,omitempty"`
	Room          string                `json:"room,omitempty"`
	RequestId     string                `json:"requestId,omitempty"`
	Owner         string                `json:"owner,omitempty"`
	Name          string                `json:"name,omitempty"`
	Collaborators []string              `json:"collaborators,omitempty"`
	Occupants     map[string][]Occupant `json:"occupants,omitempty"`
}
