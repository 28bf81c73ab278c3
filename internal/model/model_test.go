package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{name: "requested to priced", from: BookingRequested, to: BookingPriced, want: true},
		{name: "priced to confirmed", from: BookingPriced, to: BookingConfirmed, want: true},
		{name: "priced to rejected", from: BookingPriced, to: BookingRejected, want: true},
		{name: "confirmed to completed", from: BookingConfirmed, to: BookingCompleted, want: true},
		{name: "completed to closed", from: BookingCompleted, to: BookingClosed, want: true},

		{name: "requested to confirmed skips pricing", from: BookingRequested, to: BookingConfirmed, want: false},
		{name: "requested to closed", from: BookingRequested, to: BookingClosed, want: false},
		{name: "confirmed to rejected", from: BookingConfirmed, to: BookingRejected, want: false},
		{name: "rejected is terminal", from: BookingRejected, to: BookingPriced, want: false},
		{name: "closed is terminal", from: BookingClosed, to: BookingClosed, want: false},
		{name: "repeated pricing", from: BookingPriced, to: BookingPriced, want: false},
		{name: "repeated payment", from: BookingClosed, to: BookingCompleted, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsValidRegistrationRole(t *testing.T) {
	assert.True(t, IsValidRegistrationRole(RoleCustomer))
	assert.True(t, IsValidRegistrationRole(RoleProvider))
	assert.False(t, IsValidRegistrationRole(RoleAdmin))
	assert.False(t, IsValidRegistrationRole(Role("manager")))
}

func TestIsValidRequestKind(t *testing.T) {
	assert.True(t, IsValidRequestKind(RequestDeposit))
	assert.True(t, IsValidRequestKind(RequestWithdrawal))
	assert.False(t, IsValidRequestKind(RequestKind("transfer")))
}
