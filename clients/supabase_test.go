package clients

import (
	"context"
	"testing"
	"time"

	apperrors "teedops/errors"
	"teedops/logger"
	"teedops/models"
	"teedops/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*SupabaseClient, *testutil.FakeSupabase) {
	t.Helper()
	fs := testutil.NewFakeSupabase(t)
	cfg := testutil.Config(t, fs)
	c := NewSupabaseClient(cfg, cfg.Supabase.ServiceRoleKey, logger.NewNop())
	c = c.WithRetryConfig(&apperrors.RetryConfig{
		MaxRetries:      2,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: apperrors.DefaultRetryConfig().RetryableErrors,
	})
	return c, fs
}

func seedEquipment(fs *testutil.FakeSupabase) {
	fs.Seed(models.TableEquipment,
		testutil.Row{"id": "e1", "brand": "TaylorMade", "model": "Qi10", "category": "driver", "msrp": 599.99},
		testutil.Row{"id": "e2", "brand": "Titleist", "model": "Pro V1", "category": "ball", "msrp": 54.99},
		testutil.Row{"id": "e3", "brand": "Ping", "model": "G430", "category": "driver", "msrp": nil, "image_url": "https://img/g430.jpg"},
	)
}

func TestSelect(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)
	ctx := context.Background()

	var drivers []models.Equipment
	err := c.Select(ctx, models.TableEquipment, NewQuery().Eq("category", "driver").Order("brand", true), &drivers)
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	assert.Equal(t, "Ping", drivers[0].Brand)
	assert.Equal(t, "TaylorMade", drivers[1].Brand)
	assert.False(t, drivers[0].MSRP.Valid)
	assert.Equal(t, 599.99, drivers[1].MSRP.Float64)

	var noImage []models.Equipment
	require.NoError(t, c.Select(ctx, models.TableEquipment, NewQuery().Is("image_url", "null"), &noImage))
	assert.Len(t, noImage, 2)

	var byBrand []models.Equipment
	require.NoError(t, c.Select(ctx, models.TableEquipment, NewQuery().ILike("brand", "taylormade"), &byBrand))
	require.Len(t, byBrand, 1)
	assert.Equal(t, "e1", byBrand[0].ID)
}

func TestSelect_UnknownTable(t *testing.T) {
	c, _ := newTestClient(t)

	var rows []map[string]interface{}
	err := c.Select(context.Background(), "nope", NewQuery(), &rows)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestCount(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)
	fs.EnsureTable(models.TableBadges)
	ctx := context.Background()

	n, err := c.Count(ctx, models.TableEquipment, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Count(ctx, models.TableEquipment, NewQuery().Eq("category", "driver"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Count(ctx, models.TableBadges, NewQuery())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsertAndUpsert(t *testing.T) {
	c, fs := newTestClient(t)
	fs.EnsureTable(models.TableEquipmentPrices)
	fs.Unique(models.TableEquipmentPrices, "equipment_id", "retailer")
	ctx := context.Background()

	var inserted []models.EquipmentPrice
	err := c.Insert(ctx, models.TableEquipmentPrices, []models.EquipmentPrice{
		{EquipmentID: "e1", Retailer: "Golf Galaxy", Price: 549.99},
	}, &inserted)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.NotEmpty(t, inserted[0].ID)

	err = c.Insert(ctx, models.TableEquipmentPrices, models.EquipmentPrice{EquipmentID: "e1", Retailer: "Golf Galaxy", Price: 1}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUniqueViolation))

	err = c.Upsert(ctx, models.TableEquipmentPrices, []models.EquipmentPrice{
		{EquipmentID: "e1", Retailer: "Golf Galaxy", Price: 529.99},
		{EquipmentID: "e1", Retailer: "PGA Tour Superstore", Price: 569.99},
	}, "equipment_id,retailer", nil)
	require.NoError(t, err)

	rows := fs.Rows(models.TableEquipmentPrices)
	require.Len(t, rows, 2)
	assert.Equal(t, 529.99, rows[0]["price"])
	assert.Equal(t, inserted[0].ID, rows[0]["id"])
}

func TestUpdate(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)
	ctx := context.Background()

	var updated []models.Equipment
	err := c.Update(ctx, models.TableEquipment, NewQuery().Eq("id", "e1"), map[string]interface{}{"image_url": "https://img/qi10.jpg"}, &updated)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "https://img/qi10.jpg", updated[0].ImageURL.String)

	err = c.Update(ctx, models.TableEquipment, NewQuery(), map[string]interface{}{"image_url": nil}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	assert.Equal(t, "https://img/g430.jpg", fs.Rows(models.TableEquipment)[2]["image_url"])
}

func TestDelete(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)
	ctx := context.Background()

	_, err := c.Delete(ctx, models.TableEquipment, nil)
	require.Error(t, err)
	assert.Len(t, fs.Rows(models.TableEquipment), 3)

	n, err := c.Delete(ctx, models.TableEquipment, NewQuery().Eq("category", "driver"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, fs.Rows(models.TableEquipment), 1)
}

func TestRPC(t *testing.T) {
	c, fs := newTestClient(t)
	ctx := context.Background()
	fs.HandleRPC("approve_user_by_email_if_capacity", func(p map[string]interface{}) (interface{}, *testutil.RPCError) {
		return map[string]interface{}{"approved": true, "reason": "approved", "remaining": 9, "email": p["p_email"]}, nil
	})

	var out struct {
		Approved  bool   `json:"approved"`
		Remaining int    `json:"remaining"`
		Email     string `json:"email"`
	}
	require.NoError(t, c.RPC(ctx, "approve_user_by_email_if_capacity", map[string]string{"p_email": "a@b.co"}, &out))
	assert.True(t, out.Approved)
	assert.Equal(t, 9, out.Remaining)
	assert.Equal(t, "a@b.co", out.Email)
}

func TestRPC_NotFound(t *testing.T) {
	c, fs := newTestClient(t)

	err := c.RPC(context.Background(), "exec_sql", map[string]string{"sql": "select 1"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound))
	assert.Equal(t, 1, fs.RPCCalls("exec_sql"))
}

func TestRPC_NotRetried(t *testing.T) {
	c, fs := newTestClient(t)
	fs.HandleRPC("generate_invite_codes", func(map[string]interface{}) (interface{}, *testutil.RPCError) {
		return nil, &testutil.RPCError{Status: 500, Code: "XX000", Message: "boom"}
	})

	err := c.RPC(context.Background(), "generate_invite_codes", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, fs.RPCCalls("generate_invite_codes"))
}

func TestRetryOnServerError(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)
	fs.FailNext("GET /rest/v1/equipment", 2)

	n, err := c.Count(context.Background(), models.TableEquipment, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRetryGivesUp(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)
	fs.FailNext("GET /rest/v1/equipment", 5)

	_, err := c.Count(context.Background(), models.TableEquipment, nil)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 503, appErr.StatusCode)
	assert.Equal(t, "failed after 3 attempts", appErr.Details)
}

func TestBadKey(t *testing.T) {
	c, fs := newTestClient(t)
	seedEquipment(fs)

	err := c.WithKey("wrong").HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidCredentials))

	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestAnonKeySeesRLSFilteredRows(t *testing.T) {
	c, fs := newTestClient(t)
	fs.Seed(models.TableWaitlist, testutil.Row{"email": "a@b.co", "status": "pending"})
	fs.HideFromAnon(models.TableWaitlist)

	n, err := c.WithKey(testutil.AnonKey).Count(context.Background(), models.TableWaitlist, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = c.Count(context.Background(), models.TableWaitlist, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSelectAll(t *testing.T) {
	c, fs := newTestClient(t)
	for i := 0; i < 7; i++ {
		fs.Seed(models.TableBadges, testutil.Row{"id": string(rune('a' + i)), "name": string(rune('a' + i))})
	}

	rows, err := SelectAll[models.Badge](context.Background(), c, models.TableBadges, NewQuery().Order("id", true), 3)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "g", rows[6].ID)
}

func TestSelectAll_ServerCapsPageSize(t *testing.T) {
	c, fs := newTestClient(t)
	fs.SetMaxRows(2)
	for i := 0; i < 7; i++ {
		fs.Seed(models.TableBadges, testutil.Row{"id": string(rune('a' + i)), "name": string(rune('a' + i))})
	}

	rows, err := SelectAll[models.Badge](context.Background(), c, models.TableBadges, NewQuery().Order("id", true), 1000)
	require.NoError(t, err)
	require.Len(t, rows, 7)
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, ids)
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, Chunk([]string{"a", "b", "c"}, 2))
	assert.Nil(t, Chunk(nil, 2))
	assert.Equal(t, []interface{}{"a"}, Strings([]string{"a"}))
}
