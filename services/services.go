package services

import (
	"github.com/blocshub/collab/collab"
)

// RegisterAll registers every built-in service with the registry.
func RegisterAll(registry *collab.ServiceRegistry) error {
	for _, service := range []*collab.Service{
		NewPublicRolesService(),
		NewBattleshipService(),
		NewGeolocationService(),
	} {
		if err := registry.Register(service); err != nil {
			return err
		}
	}
	return nil
}
