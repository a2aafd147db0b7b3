package sequence

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"smallbiznis-academy/pkg/rediskey"
)

func TestFormat(t *testing.T) {
	code, err := Format("ENR", "260317", 1)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^ENR-260317-001[A-Z2-9]{2}$`), code)

	code, err = Format("SES", "260317", 36*36)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^SES-260317-100[A-Z2-9]{2}$`), code)
}

func TestDailySequenceKey(t *testing.T) {
	require.Equal(t, "seq:ENR:260317", rediskey.BuildDailySequenceKey("ENR", "260317"))
}
