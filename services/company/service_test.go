package company

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/services/license"
	"smallbiznis-academy/services/notification"
	"smallbiznis-academy/services/person"
	"smallbiznis-academy/services/seat"
	"smallbiznis-academy/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Company{}, &person.Person{}, &license.License{}, &license.LicenseEvent{},
		&seat.CourseSession{}, &seat.Enrollment{},
	)
	node := testutil.NewNode(t)

	licenses := license.NewService(license.ServiceParams{DB: db, Node: node, Publisher: notification.NopPublisher{}})
	return NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Licenses:  licenses,
		Persons:   person.NewService(person.ServiceParams{DB: db, Node: node}),
		Allocator: seat.NewAllocator(seat.AllocatorParams{DB: db, Entitlements: licenses}),
	})
}

func licenseTerms(maxUsers int64) license.CreateRequest {
	now := time.Now().UTC()
	return license.CreateRequest{
		Status:    license.Active,
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now.AddDate(1, 0, 0),
		MaxUsers:  &maxUsers,
	}
}

func TestCreateCompany(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateCompany(ctx, CreateRequest{Name: "Acme Logistics", License: licenseTerms(5)})
	require.NoError(t, err)
	require.Equal(t, "acme-logistics", resp.Company.Slug)
	require.Equal(t, resp.Company.ID, resp.License.CompanyID)
	require.Equal(t, license.Active, resp.License.EffectiveStatus)

	_, err = svc.CreateCompany(ctx, CreateRequest{Name: "ACME logistics", License: licenseTerms(5)})
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestCreateCompanyRollsBackOnInvalidLicense(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	terms := licenseTerms(5)
	terms.EndDate = terms.StartDate.AddDate(0, 0, -1)

	_, err := svc.CreateCompany(ctx, CreateRequest{Name: "Globex", License: terms})
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusValidationFailed, be.Code)

	n, err := svc.companies.Count(ctx, &Company{Slug: "globex"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAddUserWithinCap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateCompany(ctx, CreateRequest{Name: "Initech", License: licenseTerms(2)})
	require.NoError(t, err)
	id := resp.Company.ID

	_, err = svc.AddUser(ctx, id, person.Draft{Name: "Peter", Email: "peter@initech.com"})
	require.NoError(t, err)
	_, err = svc.AddUser(ctx, id, person.Draft{Name: "Samir", Email: "samir@initech.com"})
	require.NoError(t, err)

	// adding an existing user again is not a new seat on the license
	_, err = svc.AddUser(ctx, id, person.Draft{Email: "peter@initech.com"})
	require.NoError(t, err)

	_, err = svc.AddUser(ctx, id, person.Draft{Name: "Michael", Email: "michael@initech.com"})
	require.True(t, errutil.IsReason(err, errutil.ReasonUserCapExceeded))

	usage, err := svc.Usage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(2), usage.Users)
	require.Equal(t, int64(0), *usage.UsersLeft)
	require.Nil(t, usage.EnrollmentsLeft)
	require.True(t, usage.Decisions[license.AddEnrollment].Allowed)
	require.Equal(t, errutil.ReasonUserCapExceeded, usage.Decisions[license.AddUser].Reason)
}

func TestAddUserToSuspendedCompany(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateCompany(ctx, CreateRequest{Name: "Hooli", License: licenseTerms(10)})
	require.NoError(t, err)
	_, err = svc.licenses.Suspend(ctx, resp.Company.ID, "audit")
	require.NoError(t, err)

	_, err = svc.AddUser(ctx, resp.Company.ID, person.Draft{Email: "gavin@hooli.com"})
	require.True(t, errutil.IsReason(err, errutil.ReasonLicenseNotActive))

	_, err = svc.AddUser(ctx, "missing", person.Draft{Email: "x@y.io"})
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}
