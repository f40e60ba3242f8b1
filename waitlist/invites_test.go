package waitlist

import (
	"context"
	"fmt"
	"testing"

	apperrors "teedops/errors"
	"teedops/models"
	"teedops/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "AB12CD34", NormalizeCode(" ab12 cd34\t"))
	assert.Equal(t, "TEED-2025", NormalizeCode("teed-2025"))
	assert.Equal(t, "", NormalizeCode("  \n"))
}

func TestGenerateInvites(t *testing.T) {
	s, fs := newService(t)
	var got map[string]interface{}
	fs.HandleRPC(GenerateFunction, func(p map[string]interface{}) (interface{}, *testutil.RPCError) {
		got = p
		n := int(p["p_count"].(float64))
		out := make([]map[string]interface{}, n)
		for i := range out {
			out[i] = map[string]interface{}{
				"id": fmt.Sprintf("i%d", i), "code": fmt.Sprintf("CODE%04d", i),
				"max_uses": p["p_max_uses"], "uses": 0, "is_active": true, "created_by": p["p_created_by"],
			}
		}
		return out, nil
	})

	codes, err := s.GenerateInvites(context.Background(), 3, testUser, 2)
	require.NoError(t, err)
	require.Len(t, codes, 3)
	assert.Equal(t, "CODE0000", codes[0].Code)
	assert.Equal(t, 2, codes[0].MaxUses)
	assert.Equal(t, testUser, codes[0].CreatedBy.String)
	assert.Equal(t, testUser, got["p_created_by"])

	codes, err = s.GenerateInvites(context.Background(), 1, "", 1)
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.False(t, codes[0].CreatedBy.Valid)
	assert.Nil(t, got["p_created_by"])
}

func TestGenerateInvites_Validation(t *testing.T) {
	s, fs := newService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		count     int
		createdBy string
		maxUses   int
		code      string
	}{
		{"zero", 0, "", 1, apperrors.ErrCodeInvalidRange},
		{"too many", MaxInviteBatch + 1, "", 1, apperrors.ErrCodeInvalidRange},
		{"zero uses", 5, "", 0, apperrors.ErrCodeInvalidRange},
		{"bad creator", 5, "admin", 1, apperrors.ErrCodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.GenerateInvites(ctx, tt.count, tt.createdBy, tt.maxUses)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), err.Error())
		})
	}
	assert.Equal(t, 0, fs.RPCCalls(GenerateFunction))
}

func TestRedeem(t *testing.T) {
	s, fs := newService(t)
	fs.HandleRPC(RedeemFunction, func(p map[string]interface{}) (interface{}, *testutil.RPCError) {
		switch p["p_code"] {
		case "GOOD1234":
			return map[string]interface{}{"success": true, "reason": RedeemRedeemed, "remaining_uses": 0}, nil
		case "USEDUP99":
			return map[string]interface{}{"success": false, "reason": RedeemExhausted}, nil
		}
		return map[string]interface{}{"success": false, "reason": RedeemNotFound}, nil
	})
	ctx := context.Background()

	res, err := s.Redeem(ctx, " good 1234 ", testUser)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "GOOD1234", res.Code)
	assert.True(t, res.RemainingUses.Valid)
	assert.Equal(t, int64(0), res.RemainingUses.Int64)

	res, err = s.Redeem(ctx, "usedup99", testUser)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInvite))
	assert.Contains(t, err.Error(), "no uses left")
	require.NotNil(t, res)
	assert.Equal(t, RedeemExhausted, res.Reason)

	_, err = s.Redeem(ctx, "nope", testUser)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInvite))
}

func TestRedeem_Validation(t *testing.T) {
	s, fs := newService(t)
	ctx := context.Background()

	_, err := s.Redeem(ctx, "   ", testUser)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	_, err = s.Redeem(ctx, "GOOD1234", "not-a-uuid")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidFormat))

	_, err = s.Redeem(ctx, "GOOD1234", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidFormat))

	assert.Equal(t, 0, fs.RPCCalls(RedeemFunction))
}

func TestListInvites(t *testing.T) {
	s, fs := newService(t)
	fs.Seed(models.TableInviteCodes,
		testutil.Row{"id": "1", "code": "AAAA", "max_uses": 1, "uses": 0, "is_active": true, "created_at": "2025-02-01T00:00:00Z"},
		testutil.Row{"id": "2", "code": "BBBB", "max_uses": 1, "uses": 1, "is_active": true, "created_at": "2025-02-02T00:00:00Z"},
		testutil.Row{"id": "3", "code": "CCCC", "max_uses": 5, "uses": 0, "is_active": false, "created_at": "2025-02-03T00:00:00Z"},
		testutil.Row{"id": "4", "code": "DDDD", "max_uses": 5, "uses": 0, "is_active": true, "created_at": "2025-02-04T00:00:00Z"},
	)
	ctx := context.Background()

	all, err := s.ListInvites(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "DDDD", all[0].Code)
	assert.True(t, all[2].Exhausted())

	unused, err := s.ListInvites(ctx, true)
	require.NoError(t, err)
	require.Len(t, unused, 2)
	assert.Equal(t, "DDDD", unused[0].Code)
	assert.Equal(t, "AAAA", unused[1].Code)
}
