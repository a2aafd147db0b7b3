package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"smallbiznis-academy/pkg/errutil"
)

type light string
type signal string

func newLights() *Table[light, signal] {
	return New("light",
		Edge[light, signal]{From: []light{"red"}, Event: "go", To: "green"},
		Edge[light, signal]{From: []light{"green"}, Event: "slow", To: "amber"},
		Edge[light, signal]{From: []light{"amber", "green"}, Event: "stop", To: "red"},
	)
}

func TestNext(t *testing.T) {
	table := newLights()

	to, err := table.Next("red", "go")
	require.NoError(t, err)
	require.Equal(t, light("green"), to)

	to, err = table.Next("amber", "stop")
	require.NoError(t, err)
	require.Equal(t, light("red"), to)
}

func TestNextInvalid(t *testing.T) {
	table := newLights()

	_, err := table.Next("red", "slow")
	require.Error(t, err)
	require.True(t, errutil.IsReason(err, errutil.ReasonInvalidTransition))
	require.False(t, table.Can("red", "stop"))
}

func TestEvents(t *testing.T) {
	require.Equal(t, []signal{"slow", "stop"}, newLights().Events("green"))
}

func TestDuplicateEdgePanics(t *testing.T) {
	require.Panics(t, func() {
		New("dup",
			Edge[light, signal]{From: []light{"red"}, Event: "go", To: "green"},
			Edge[light, signal]{From: []light{"red"}, Event: "go", To: "amber"},
		)
	})
}
