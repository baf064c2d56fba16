package collab

import (
	"fmt"
	"regexp"
	"strconv"
)

// NoActionId is the watermark of a role with no recorded edits.
const NoActionId = int64(-1)

// editable content held by one role of a project
type RoleContent struct {
	Name       string `json:"name"`
	SourceCode string `json:"sourceCode"`
	SourceSize int    `json:"sourceSize"`
	Media      string `json:"media"`
	MediaSize  int    `json:"mediaSize"`
}

func NewRoleContent(name string, sourceCode string, media string) *RoleContent {
	return &RoleContent{
		Name:       name,
		SourceCode: sourceCode,
		SourceSize: len(sourceCode),
		Media:      media,
		MediaSize:  len(media),
	}
}

func (self *RoleContent) Clone() *RoleContent {
	content := *self
	return &content
}

func EmptyRoleContent(name string) *RoleContent {
	sourceCode := fmt.Sprintf(
		`<project name="%s" app="%s"><notes></notes><blocks></blocks></project>`,
		Escape(name),
		Escape(App),
	)
	return NewRoleContent(name, sourceCode, "<media></media>")
}

var actionIdRe = regexp.MustCompile(`actionId="(\d+)"`)

// ParseActionId extracts the edit-sequence watermark embedded in role
// source code. Returns `NoActionId` when the source carries none.
func ParseActionId(sourceCode string) int64 {
	m := actionIdRe.FindStringSubmatch(sourceCode)
	if m == nil {
		return NoActionId
	}
	actionId, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return NoActionId
	}
	return actionId
}
