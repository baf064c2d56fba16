package collab

import (
	"flag"
	"sync"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

// testTransport records outgoing messages and answers content requests
// with a canned role content, standing in for a live client.
type testTransport struct {
	stateLock sync.Mutex
	client    *Client
	content   *RoleContent
	closed    bool
	messages  []*Message
}

func newTestClient(username string) (*Client, *testTransport) {
	transport := &testTransport{}
	client := NewClient(username, transport)
	transport.client = client
	return client, transport
}

func (self *testTransport) setContent(content *RoleContent) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.content = content
}

func (self *testTransport) Send(msg *Message) error {
	self.stateLock.Lock()
	self.messages = append(self.messages, msg)
	client := self.client
	content := self.content
	self.stateLock.Unlock()

	if msg.Type == MessageTypeRoleContentRequest && content != nil {
		go client.ResolveContent(msg.RequestId, content.Clone())
	}
	return nil
}

func (self *testTransport) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
}

func (self *testTransport) messagesOfType(messageType string) []*Message {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	matches := []*Message{}
	for _, msg := range self.messages {
		if msg.Type == messageType {
			matches = append(matches, msg)
		}
	}
	return matches
}

func (self *testTransport) lastOfType(messageType string) *Message {
	matches := self.messagesOfType(messageType)
	if len(matches) == 0 {
		return nil
	}
	return matches[len(matches)-1]
}
