package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smallbiznis-academy/pkg/errutil"
)

func ptr[T any](v T) *T { return &v }

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	valid := func(status Status) *License {
		return &License{
			Status:          status,
			StartDate:       now.AddDate(0, -1, 0),
			EndDate:         now.AddDate(0, 1, 0),
			GracePeriodDays: 7,
		}
	}

	cases := []struct {
		name    string
		license *License
		action  Action
		reason  errutil.Reason
	}{
		{
			name:    "active without caps",
			license: valid(Active),
			action:  Action{Kind: AddEnrollment, CompanyID: "c", Current: 1000},
		},
		{
			name:    "trial below enrollment cap",
			license: func() *License { l := valid(Trial); l.MaxEnrollments = ptr[int64](5); return l }(),
			action:  Action{Kind: AddEnrollment, CompanyID: "c", Current: 4},
		},
		{
			name:    "enrollment cap reached",
			license: func() *License { l := valid(Active); l.MaxEnrollments = ptr[int64](5); return l }(),
			action:  Action{Kind: AddEnrollment, CompanyID: "c", Current: 5},
			reason:  errutil.ReasonEnrollmentCapExceeded,
		},
		{
			name:    "user cap reached",
			license: func() *License { l := valid(Active); l.MaxUsers = ptr[int64](2); return l }(),
			action:  Action{Kind: AddUser, CompanyID: "c", Current: 2},
			reason:  errutil.ReasonUserCapExceeded,
		},
		{
			name:    "user cap does not gate enrollments",
			license: func() *License { l := valid(Active); l.MaxUsers = ptr[int64](0); return l }(),
			action:  Action{Kind: AddEnrollment, CompanyID: "c", Current: 3},
		},
		{
			name:    "suspended below cap",
			license: func() *License { l := valid(Suspended); l.MaxEnrollments = ptr[int64](5); return l }(),
			action:  Action{Kind: AddEnrollment, CompanyID: "c", Current: 0},
			reason:  errutil.ReasonLicenseNotActive,
		},
		{
			name:    "cancelled",
			license: valid(Cancelled),
			action:  Action{Kind: AddUser, CompanyID: "c"},
			reason:  errutil.ReasonLicenseNotActive,
		},
		{
			name:    "stored expired",
			license: valid(Expired),
			action:  Action{Kind: AddEnrollment, CompanyID: "c"},
			reason:  errutil.ReasonLicenseNotActive,
		},
		{
			name: "active past grace is read as expired",
			license: func() *License {
				l := valid(Active)
				l.EndDate = now.AddDate(0, 0, -10)
				l.GracePeriodDays = 3
				return l
			}(),
			action: Action{Kind: AddEnrollment, CompanyID: "c"},
			reason: errutil.ReasonLicenseNotActive,
		},
		{
			name: "active inside grace",
			license: func() *License {
				l := valid(Active)
				l.EndDate = now.AddDate(0, 0, -2)
				l.GracePeriodDays = 3
				return l
			}(),
			action: Action{Kind: AddEnrollment, CompanyID: "c"},
		},
		{
			name:   "missing license",
			action: Action{Kind: AddEnrollment, CompanyID: "c"},
			reason: errutil.ReasonLicenseNotActive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(tc.license, tc.action, now)
			if tc.reason == errutil.ReasonNone {
				require.True(t, d.Allowed)
				require.NoError(t, d.Err())
				return
			}
			require.False(t, d.Allowed)
			require.Equal(t, tc.reason, d.Reason)
			require.True(t, errutil.IsReason(d.Err(), tc.reason))
		})
	}
}

func TestEffectiveStatusGraceBoundary(t *testing.T) {
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	l := &License{Status: Trial, EndDate: end, GracePeriodDays: 1}

	require.Equal(t, Trial, EffectiveStatus(l, end.AddDate(0, 0, 1)))
	require.Equal(t, Expired, EffectiveStatus(l, end.AddDate(0, 0, 1).Add(time.Second)))

	l.Status = Suspended
	require.Equal(t, Suspended, EffectiveStatus(l, end.AddDate(1, 0, 0)))
}

func TestLifecycleTable(t *testing.T) {
	_, err := Lifecycle.Next(Cancelled, EventCancel)
	require.True(t, errutil.IsReason(err, errutil.ReasonInvalidTransition))

	_, err = Lifecycle.Next(Active, EventResume)
	require.True(t, errutil.IsReason(err, errutil.ReasonInvalidTransition))

	_, err = Lifecycle.Next(Cancelled, EventUpdate)
	require.True(t, errutil.IsReason(err, errutil.ReasonInvalidTransition))

	to, err := Lifecycle.Next(Expired, EventResume)
	require.NoError(t, err)
	require.Equal(t, Active, to)
}
