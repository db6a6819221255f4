// Package auth answers advisory capability questions inside guards. It is
// not the access-control layer for the system as a whole.
package auth

import (
	"scopeline/internal/config"
)

// Service resolves (capability, actor) against the configured role map.
type Service struct {
	Roles map[string]config.Role
}

func New(cfg *config.Config) Service {
	if cfg == nil {
		return Service{}
	}
	return Service{Roles: cfg.Roles}
}

// Allowed reports whether the actor holds the capability through any role.
func (s Service) Allowed(capability, actorID string) bool {
	if capability == "" || actorID == "" {
		return false
	}
	for _, role := range s.Roles {
		if !contains(role.Capabilities, capability) {
			continue
		}
		if contains(role.Members, actorID) {
			return true
		}
	}
	return false
}

// CheckerFor returns the closure guards call.
func (s Service) CheckerFor(actorID string) func(string) bool {
	return func(capability string) bool {
		return s.Allowed(capability, actorID)
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
