package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"same state", StatusActive, StatusActive, true},

		{"provisioning to active", StatusProvisioning, StatusActive, true},
		{"provisioning to deprovisioning", StatusProvisioning, StatusDeprovisioning, true},
		{"active to suspended", StatusActive, StatusSuspended, true},
		{"active to deprovisioning", StatusActive, StatusDeprovisioning, true},
		{"suspended to active", StatusSuspended, StatusActive, true},
		{"suspended to deprovisioning", StatusSuspended, StatusDeprovisioning, true},
		{"deprovisioning to deleted", StatusDeprovisioning, StatusDeleted, true},

		{"provisioning to suspended", StatusProvisioning, StatusSuspended, false},
		{"active to deleted", StatusActive, StatusDeleted, false},
		{"deprovisioning to active", StatusDeprovisioning, StatusActive, false},
		{"deleted to active", StatusDeleted, StatusActive, false},
		{"deleted to provisioning", StatusDeleted, StatusProvisioning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCheckTransitionFromDeleted(t *testing.T) {
	// deleted is terminal; even deleted->deleted is an error, not a no-op
	err := CheckTransition(StatusDeleted, StatusDeleted)
	assert.ErrorIs(t, err, ErrDeleted)

	err = CheckTransition(StatusDeleted, StatusActive)
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestCheckTransitionInvalid(t *testing.T) {
	err := CheckTransition(StatusActive, StatusDeleted)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeleted)
}

func TestForwarderDestinations(t *testing.T) {
	dests := []string{"a@x.test", "b@y.test", "c@z.test"}

	stored := JoinDestinations(dests)
	assert.Equal(t, "a@x.test,b@y.test,c@z.test", stored)
	assert.Equal(t, dests, SplitDestinations(stored))

	assert.Nil(t, SplitDestinations(""))
	assert.Equal(t, []string{"solo@x.test"}, SplitDestinations("solo@x.test"))
}
