package waitlist

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"teedops/clients"
	apperrors "teedops/errors"
	"teedops/logger"
	"teedops/models"

	"github.com/guregu/null/v5"
)

// MaxInviteBatch is the most codes generate_invite_codes creates per call.
const MaxInviteBatch = 500

// Redeem reasons returned by redeem_invite_code_atomic.
const (
	RedeemRedeemed        = "redeemed"
	RedeemAlreadyRedeemed = "already_redeemed"
	RedeemNotFound        = "not_found"
	RedeemInactive        = "inactive"
	RedeemExpired         = "expired"
	RedeemExhausted       = "exhausted"
)

var redeemMessages = map[string]string{
	RedeemNotFound:  "invite code does not exist",
	RedeemInactive:  "invite code has been deactivated",
	RedeemExpired:   "invite code has expired",
	RedeemExhausted: "invite code has no uses left",
}

// RedeemResult is the decoded response of one redemption.
type RedeemResult struct {
	Code          string   `json:"code"`
	Success       bool     `json:"success"`
	Reason        string   `json:"reason"`
	RemainingUses null.Int `json:"remaining_uses"`
}

// NormalizeCode upper-cases a code and strips every whitespace character.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// GenerateInvites creates count codes with maxUses each. createdBy may be empty.
func (s *Service) GenerateInvites(ctx context.Context, count int, createdBy string, maxUses int) ([]models.InviteCode, error) {
	if count < 1 || count > MaxInviteBatch {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidRange,
			fmt.Sprintf("count must be between 1 and %d, got %d", MaxInviteBatch, count), nil)
	}
	if maxUses < 1 {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidRange,
			fmt.Sprintf("max uses must be at least 1, got %d", maxUses), nil)
	}

	params := map[string]interface{}{"p_count": count, "p_max_uses": maxUses, "p_created_by": nil}
	if createdBy != "" {
		if err := s.validate.Var(createdBy, "uuid"); err != nil {
			return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
				fmt.Sprintf("created-by %q is not a UUID", createdBy), err)
		}
		params["p_created_by"] = createdBy
	}

	var codes []models.InviteCode
	if err := s.client.RPC(ctx, GenerateFunction, params, &codes); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound) {
			return nil, apperrors.NewNotFoundError(apperrors.ErrCodeRPCNotFound,
				GenerateFunction+" is not installed; apply migration 0003_invite_functions", err)
		}
		return nil, err
	}
	s.log.Info("invites: generated", logger.Int("count", len(codes)), logger.Int("max_uses", maxUses))
	return codes, nil
}

// Redeem redeems code for userID. A refused redemption returns the decoded
// result together with an INVALID_INVITE error.
func (s *Service) Redeem(ctx context.Context, code, userID string) (*RedeemResult, error) {
	c := NormalizeCode(code)
	if c == "" {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeMissingField, "invite code is required", nil)
	}
	if err := s.validate.Var(userID, "required,uuid"); err != nil {
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
			fmt.Sprintf("user %q is not a UUID", userID), err)
	}

	var res RedeemResult
	params := map[string]string{"p_code": c, "p_user_id": userID}
	if err := s.client.RPC(ctx, RedeemFunction, params, &res); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound) {
			return nil, apperrors.NewNotFoundError(apperrors.ErrCodeRPCNotFound,
				RedeemFunction+" is not installed; apply migration 0003_invite_functions", err)
		}
		return nil, err
	}
	res.Code = c
	if !res.Success {
		msg, ok := redeemMessages[res.Reason]
		if !ok {
			msg = "invite code refused: " + res.Reason
		}
		return &res, apperrors.NewValidationError(apperrors.ErrCodeInvalidInvite, msg, nil)
	}
	return &res, nil
}

// ListInvites returns invite codes, newest first. unusedOnly keeps active codes
// that were never redeemed.
func (s *Service) ListInvites(ctx context.Context, unusedOnly bool) ([]models.InviteCode, error) {
	q := clients.NewQuery().Order("created_at", false).Order("code", true)
	if unusedOnly {
		q.Eq("uses", 0).Is("is_active", "true")
	}
	return clients.SelectAll[models.InviteCode](ctx, s.client, models.TableInviteCodes, q, 1000)
}
