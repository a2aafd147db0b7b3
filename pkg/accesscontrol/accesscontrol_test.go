package accesscontrol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	e, err := NewDefaultEnforcer()
	require.NoError(t, err)

	cases := []struct {
		role, obj, act string
		allowed        bool
	}{
		{"participant", ObjEnrollment, ActWrite, true},
		{"participant", ObjLicense, ActRead, false},
		{"company", ObjEnrollment, ActWrite, true},
		{"company", ObjCompany, ActWrite, true},
		{"company", ObjLicense, ActWrite, false},
		{"admin", ObjLicense, ActWrite, true},
		{"admin", ObjEnrollment, ActRead, true},
		{"admin", ObjSweep, ActWrite, true},
		{"anonymous", ObjSession, ActRead, false},
	}

	for _, tc := range cases {
		ok, err := e.Enforce(tc.role, tc.obj, tc.act)
		require.NoError(t, err)
		require.Equal(t, tc.allowed, ok, "%s %s %s", tc.role, tc.act, tc.obj)
	}
}
