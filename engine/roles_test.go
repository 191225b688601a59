package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kasigo/loanbook/engine"
)

func TestAllowed_CapabilityTable(t *testing.T) {
	cases := []struct {
		action   engine.Action
		employee bool
		manager  bool
		admin    bool
	}{
		{engine.ActionCreateCustomer, true, true, true},
		{engine.ActionCreateLoan, true, true, true},
		{engine.ActionMarkPaid, true, true, true},
		{engine.ActionUnmarkPaid, true, true, true},
		{engine.ActionOverrideField, false, true, true},
		{engine.ActionViewFullID, false, true, true},
		{engine.ActionArchive, false, false, true},
		{engine.ActionManageUsers, false, false, true},
		{engine.ActionVerifyIntegrity, false, false, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.employee, engine.Allowed(engine.RoleEmployee, tc.action), "%s/employee", tc.action)
		assert.Equal(t, tc.manager, engine.Allowed(engine.RoleManager, tc.action), "%s/manager", tc.action)
		assert.Equal(t, tc.admin, engine.Allowed(engine.RoleAdmin, tc.action), "%s/admin", tc.action)
	}
}

func TestAllowed_InvalidRole(t *testing.T) {
	assert.False(t, engine.Allowed(engine.Role("intern"), engine.ActionCreateCustomer))
	assert.False(t, engine.Allowed(engine.Role(""), engine.ActionMarkPaid))
}
