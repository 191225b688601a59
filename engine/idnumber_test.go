package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kasigo/loanbook/engine"
)

func TestValidateIDNumber_ValidChecksum(t *testing.T) {
	assert.NoError(t, engine.ValidateIDNumber("8001015009087"))
	assert.NoError(t, engine.ValidateIDNumber("9001015009086"))
	assert.NoError(t, engine.ValidateIDNumber("7001015009088"))
}

func TestValidateIDNumber_BadChecksum(t *testing.T) {
	// Same structure as a valid ID with the check digit off by one.
	err := engine.ValidateIDNumber("8001015009088")
	assert.ErrorIs(t, err, engine.ErrValidation)

	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "id_number", verr.Field)
}

func TestValidateIDNumber_Structure(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"too short", "800101500908"},
		{"too long", "80010150090877"},
		{"empty", ""},
		{"letters", "80010150O9087"},
		{"embedded space", "8001015 09087"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, engine.ValidateIDNumber(tc.id), engine.ErrValidation)
		})
	}
}

func TestMaskIDNumber(t *testing.T) {
	// First 4 and last 3 digits stay visible; the serial portion does not.
	assert.Equal(t, "8001******087", engine.MaskIDNumber("8001015009087"))

	// Anything not 13 characters long is masked entirely.
	assert.Equal(t, "***********", engine.MaskIDNumber("12345"))
	assert.Equal(t, "***********", engine.MaskIDNumber(""))
}
