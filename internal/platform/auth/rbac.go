package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleVeterinarian = "veterinarian"
	RoleTechnician   = "technician"
	RoleReceptionist = "receptionist"
)

const (
	ModuleEMR = "emr"

	ActionView    = "view"
	ActionEdit    = "edit"
	ActionCorrect = "correct"
)

// grants maps role -> module -> allowed actions. Admin is handled separately.
var grants = map[string]map[string][]string{
	RoleVeterinarian: {ModuleEMR: {ActionView, ActionEdit, ActionCorrect}},
	RoleTechnician:   {ModuleEMR: {ActionView, ActionEdit}},
	RoleReceptionist: {ModuleEMR: {ActionView, ActionEdit}},
}

// CanPerform reports whether actor may execute action on module.
func CanPerform(actor Actor, module, action string) bool {
	for _, role := range actor.Roles {
		if role == RoleAdmin {
			return true
		}
		for _, allowed := range grants[role][module] {
			if allowed == action {
				return true
			}
		}
	}
	return false
}

// RequirePermission gates a route group on CanPerform.
func RequirePermission(module, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, err := RequireActor(c)
			if err != nil {
				return err
			}
			if !CanPerform(actor, module, action) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("permission required: %s.%s", module, action))
			}
			return next(c)
		}
	}
}
