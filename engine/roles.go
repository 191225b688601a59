/*
roles.go - Capability table

One closed table mapping engine actions to the roles allowed to perform
them, checked once at the engine boundary. Screens and the bridge layer do
not re-implement permission logic.
*/
package engine

type Action string

const (
	ActionCreateCustomer  Action = "create_customer"
	ActionCreateLoan      Action = "create_loan"
	ActionMarkPaid        Action = "mark_paid"
	ActionUnmarkPaid      Action = "unmark_paid"
	ActionArchive         Action = "archive"
	ActionOverrideField   Action = "field_override"
	ActionManageUsers     Action = "manage_users"
	ActionVerifyIntegrity Action = "verify_integrity"
	ActionViewFullID      Action = "view_full_id"
)

// capabilities maps each action to the roles that may perform it. Absence
// means any active staff member is allowed.
var capabilities = map[Action][]Role{
	ActionArchive:         {RoleAdmin},
	ActionManageUsers:     {RoleAdmin},
	ActionVerifyIntegrity: {RoleAdmin},
	ActionOverrideField:   {RoleManager, RoleAdmin},
	ActionViewFullID:      {RoleManager, RoleAdmin},
}

// Allowed reports whether the role carries the capability for the action.
func Allowed(role Role, action Action) bool {
	roles, restricted := capabilities[action]
	if !restricted {
		return role.Valid()
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// requireCapability converts a missing capability into a typed error.
func requireCapability(actor Actor, action Action) error {
	if !Allowed(actor.Role, action) {
		return &ForbiddenError{Action: action, Role: actor.Role}
	}
	return nil
}
