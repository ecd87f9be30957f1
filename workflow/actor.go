package workflow

import (
	"context"

	"github.com/mmdatafocus/routesync_backend/utils"
)

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	Username    string
	Role        string
	RouteNumber int
}

func (a Actor) IsAdmin() bool {
	return a.Role == utils.RoleAdmin
}

// CanAccessRoute reports whether the actor may read, stage or validate route.
func (a Actor) CanAccessRoute(route int) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == utils.RoleDriver && a.RouteNumber > 0 && a.RouteNumber == route
}

// Name is recorded as admin_user, validated_by and event actor.
func (a Actor) Name() string {
	if a.Username == "" {
		return "unknown"
	}
	return a.Username
}

// ActorFromContext reads the caller set by the auth middleware.
func ActorFromContext(ctx context.Context) Actor {
	id, _ := utils.IdentityFromContext(ctx)
	return Actor{Username: id.Username, Role: id.Role, RouteNumber: id.RouteNumber}
}

func requireAdmin(a Actor, action string) error {
	if !a.IsAdmin() {
		return &utils.AuthorizationError{Action: action}
	}
	return nil
}

func requireRoute(a Actor, route int, action string) error {
	if !a.CanAccessRoute(route) {
		return &utils.AuthorizationError{Action: action}
	}
	return nil
}

// requireStaff admits admins and drivers bound to a route.
func requireStaff(a Actor, action string) error {
	if a.IsAdmin() || (a.Role == utils.RoleDriver && a.RouteNumber > 0) {
		return nil
	}
	return &utils.AuthorizationError{Action: action}
}
