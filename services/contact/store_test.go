package contact

import (
	"context"
	"testing"
	"time"

	"pulsecrm/services/tag"
	"pulsecrm/services/tenant"
	"pulsecrm/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var tn = tenant.Tenant{AgencyID: "ag_1", UserID: "u_1"}

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &Contact{}, &Activity{}, &tag.ContactTag{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewStore(StoreParams{DB: db, Node: node}), db
}

func seed(t *testing.T, db *gorm.DB, id string, birthday time.Time, tags ...string) {
	t.Helper()
	require.NoError(t, db.Create(&Contact{
		ID: id, AgencyID: tn.AgencyID, UserID: tn.UserID,
		FirstName: "Ana", Number: "628111",
		Birthday: &birthday, Status: StatusActive,
	}).Error)
	for _, tagID := range tags {
		require.NoError(t, db.Create(&tag.ContactTag{ContactID: id, TagID: tagID}).Error)
	}
}

func TestBeforeSaveDenormalizesMonthDay(t *testing.T) {
	_, db := newTestStore(t)
	birthday := time.Date(1996, time.February, 29, 0, 0, 0, 0, time.UTC)
	seed(t, db, "c_1", birthday)

	var c Contact
	require.NoError(t, db.First(&c, "id = ?", "c_1").Error)
	require.Equal(t, 2, c.BirthMonth)
	require.Equal(t, 29, c.BirthDay)
	require.Zero(t, c.AnniversaryMonth)
}

func TestFindEligibleMatchesTargets(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	seed(t, db, "c_jun10", time.Date(1990, time.June, 10, 0, 0, 0, 0, time.UTC))
	seed(t, db, "c_jun11", time.Date(1991, time.June, 11, 0, 0, 0, 0, time.UTC))
	seed(t, db, "c_feb29", time.Date(1996, time.February, 29, 0, 0, 0, 0, time.UTC))

	got, err := store.FindEligible(ctx, tn, EligibleQuery{
		Field:   FieldBirthday,
		Targets: []MonthDay{{Month: 6, Day: 10}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c_jun10", got[0].ID)

	// Multiple targets cover the leap-day fallback.
	got, err = store.FindEligible(ctx, tn, EligibleQuery{
		Field:   FieldBirthday,
		Targets: []MonthDay{{Month: 2, Day: 28}, {Month: 2, Day: 29}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c_feb29", got[0].ID)
}

func TestFindEligibleTagConstraints(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	day := time.Date(1990, time.June, 10, 0, 0, 0, 0, time.UTC)

	seed(t, db, "c_vip", day, "vip")
	seed(t, db, "c_churned", day, "vip", "churned")
	seed(t, db, "c_plain", day)

	got, err := store.FindEligible(ctx, tn, EligibleQuery{
		Field:   FieldBirthday,
		Targets: []MonthDay{{Month: 6, Day: 10}},
		HasTags: []string{"vip"},
		NotTags: []string{"churned"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c_vip", got[0].ID)
}

func TestFindEligibleExcludesIDs(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	day := time.Date(1990, time.June, 10, 0, 0, 0, 0, time.UTC)

	seed(t, db, "c_1", day)
	seed(t, db, "c_2", day)

	got, err := store.FindEligible(ctx, tn, EligibleQuery{
		Field:      FieldBirthday,
		Targets:    []MonthDay{{Month: 6, Day: 10}},
		ExcludeIDs: []string{"c_1"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c_2", got[0].ID)
}

func TestOptOut(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	seed(t, db, "c_1", time.Date(1990, time.June, 10, 0, 0, 0, 0, time.UTC))

	require.NoError(t, store.OptOut(ctx, tn, "c_1"))

	var c Contact
	require.NoError(t, db.First(&c, "id = ?", "c_1").Error)
	require.Equal(t, StatusUnsubscribed, c.Status)

	require.ErrorIs(t, store.OptOut(ctx, tn, "c_missing"), gorm.ErrRecordNotFound)
}

func TestGetTags(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	seed(t, db, "c_1", time.Date(1990, time.June, 10, 0, 0, 0, 0, time.UTC), "vip", "newsletter")

	tags, err := store.GetTags(ctx, "c_1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"vip", "newsletter"}, tags)
}
