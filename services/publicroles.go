package services

import (
	"fmt"

	"github.com/blocshub/collab/collab"
)

// NewPublicRolesService exposes the caller's globally addressable role
// id, usable as a message destination from outside the room.
func NewPublicRolesService() *collab.Service {
	getPublicRoleId := func(call *collab.ServiceCall) (any, error) {
		return fmt.Sprintf(
			"%s@%s@%s",
			call.Caller.Role(),
			call.Room.Name(),
			call.Room.Owner(),
		), nil
	}

	return &collab.Service{
		Name:              "public-roles",
		CompatibilityPath: "PublicRoles",
		Actions: []*collab.ServiceAction{
			{
				Name:    "getPublicRoleId",
				Handler: getPublicRoleId,
			},
			{
				// legacy name kept for old clients
				Name:       "requestPublicRoleId",
				Handler:    getPublicRoleId,
				Deprecated: true,
			},
		},
	}
}
