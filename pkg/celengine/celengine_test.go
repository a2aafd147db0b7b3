package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func attrs(companyID string) map[string]any {
	return map[string]any{
		"person_id":       "p-1",
		"email":           "ana@acme.io",
		"company_id":      companyID,
		"has_company":     companyID != "",
		"session_id":      "s-1",
		"capacity":        int64(10),
		"confirmed_count": int64(3),
	}
}

func TestEvaluate(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	ok, err := e.Evaluate(`has_company`, attrs("acme"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Evaluate(`has_company`, attrs(""))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.Evaluate(`email.endsWith("@acme.io") && confirmed_count < capacity`, attrs(""))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Evaluate("", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidate(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	require.NoError(t, e.Validate(`company_id in ["acme", "globex"]`))
	require.Error(t, e.Validate(`capacity + 1`))
	require.Error(t, e.Validate(`unknown_var == 1`))
	require.Error(t, e.Validate(`has_company &&`))
}
