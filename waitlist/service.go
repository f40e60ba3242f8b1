package waitlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"teedops/clients"
	apperrors "teedops/errors"
	"teedops/logger"
	"teedops/models"
	"teedops/output"

	"github.com/go-playground/validator/v10"
	"github.com/guregu/null/v5"
	"github.com/spf13/cast"
)

// RPC names and the app_settings key holding the approval capacity.
const (
	ApproveFunction  = "approve_user_by_email_if_capacity"
	GenerateFunction = "generate_invite_codes"
	RedeemFunction   = "redeem_invite_code_atomic"
	CapacitySetting  = "waitlist_capacity"

	// ApproveMigration installs the current ApproveFunction signature.
	ApproveMigration = "0008_approval_capacity_fallback"
)

// Capacity sources reported by Capacity.
const (
	SourceSettings     = "app_settings"
	SourceFallback     = "WAITLIST_CAPACITY"
	SourceUnconfigured = "unconfigured"
)

// Approval reasons returned by approve_user_by_email_if_capacity.
const (
	ReasonApproved        = "approved"
	ReasonAlreadyApproved = "already_approved"
	ReasonCapacityReached = "capacity_reached"
	ReasonNotFound        = "not_found"
	ReasonNotConfigured   = "capacity_not_configured"
)

// ApprovalResult is the decoded response of one approval.
type ApprovalResult struct {
	Email     string   `json:"email"`
	Approved  bool     `json:"approved"`
	Reason    string   `json:"reason"`
	Remaining null.Int `json:"remaining"`
}

// Service runs waitlist and invite operations against PostgREST with the service role key.
type Service struct {
	client   *clients.SupabaseClient
	capacity int
	validate *validator.Validate
	log      logger.Logger
}

// NewService creates a Service. capacity is sent with every approval and used
// when app_settings has no capacity; zero leaves it unset.
func NewService(client *clients.SupabaseClient, capacity int, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		client:   client,
		capacity: capacity,
		validate: validator.New(),
		log:      log,
	}
}

// NormalizeEmail trims and lower-cases an address and rejects malformed ones.
func (s *Service) NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return "", apperrors.NewValidationError(apperrors.ErrCodeMissingField, "email is required", nil)
	}
	if err := s.validate.Var(e, "email"); err != nil {
		return "", apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
			fmt.Sprintf("invalid email %q", email), err)
	}
	return e, nil
}

// Approve approves one application if the capacity allows it. The capacity
// check and the status change happen in one database transaction.
func (s *Service) Approve(ctx context.Context, email string) (*ApprovalResult, error) {
	e, err := s.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{"p_email": e, "p_capacity": nil}
	if s.capacity > 0 {
		params["p_capacity"] = s.capacity
	}
	var res ApprovalResult
	if err := s.client.RPC(ctx, ApproveFunction, params, &res); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound) {
			return nil, apperrors.NewNotFoundError(apperrors.ErrCodeRPCNotFound,
				ApproveFunction+"(p_email, p_capacity) is not installed; apply migration "+ApproveMigration, err)
		}
		return nil, err
	}
	res.Email = e
	s.log.Debug("waitlist: approval",
		logger.String("email", e),
		logger.String("reason", res.Reason),
		logger.Any("approved", res.Approved))
	return &res, nil
}

// BatchResult is the outcome of ApproveBatch.
type BatchResult struct {
	Results []ApprovalResult    `json:"results"`
	Failed  map[string]string   `json:"failed,omitempty"`
	Stopped bool                `json:"stopped"`
	Summary output.BatchSummary `json:"summary"`
}

// ApproveBatch approves emails one at a time, in order. Duplicates are skipped.
// It stops at the first capacity_reached answer and counts the emails it did not
// try as skipped. Invalid emails and per-email failures are counted as errors.
func (s *Service) ApproveBatch(ctx context.Context, emails []string) (*BatchResult, error) {
	start := time.Now()
	br := &BatchResult{Failed: map[string]string{}}
	br.Summary.Task = "waitlist approve"
	seen := map[string]bool{}

	for i, raw := range emails {
		if ctx.Err() != nil {
			br.Summary.Skipped += len(emails) - i
			br.Stopped = true
			break
		}
		e, err := s.NormalizeEmail(raw)
		if err != nil {
			br.Failed[raw] = err.Error()
			br.Summary.Errors++
			continue
		}
		if seen[e] {
			br.Summary.Skipped++
			continue
		}
		seen[e] = true

		res, err := s.Approve(ctx, e)
		if err != nil {
			if apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound) {
				br.Summary.Duration = time.Since(start)
				return br, err
			}
			br.Failed[e] = err.Error()
			br.Summary.Errors++
			continue
		}
		br.Results = append(br.Results, *res)

		switch {
		case res.Approved && res.Reason != ReasonAlreadyApproved:
			br.Summary.Success++
		case res.Reason == ReasonCapacityReached:
			br.Summary.Skipped += len(emails) - i
			br.Stopped = true
		case res.Reason == ReasonNotConfigured:
			br.Summary.Errors++
			br.Summary.Skipped += len(emails) - i - 1
			br.Stopped = true
		default:
			br.Summary.Skipped++
		}
		if br.Stopped {
			s.log.Warn("waitlist: stopping batch", logger.String("reason", res.Reason), logger.String("email", e))
			break
		}
	}

	br.Summary.Duration = time.Since(start)
	return br, nil
}

// StatusReport counts applications by status.
type StatusReport struct {
	Pending        int    `json:"pending"`
	Approved       int    `json:"approved"`
	Rejected       int    `json:"rejected"`
	Capacity       int    `json:"capacity"`
	CapacitySource string `json:"capacity_source"`
	Remaining      int    `json:"remaining"`
}

// Status counts applications per status and reads the capacity.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	r := &StatusReport{}
	counts := []struct {
		status string
		dst    *int
	}{
		{models.WaitlistPending, &r.Pending},
		{models.WaitlistApproved, &r.Approved},
		{models.WaitlistRejected, &r.Rejected},
	}
	for _, c := range counts {
		n, err := s.client.Count(ctx, models.TableWaitlist, clients.NewQuery().Eq("status", c.status))
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}

	capacity, source, err := Capacity(ctx, s.client, s.capacity)
	if err != nil {
		return nil, err
	}
	r.Capacity, r.CapacitySource = capacity, source
	if capacity > r.Approved {
		r.Remaining = capacity - r.Approved
	}
	return r, nil
}

// Capacity reads the approval capacity the way ApproveFunction does: the
// app_settings capacity key when set, else fallback. A missing table, row or
// key all mean the setting is absent. With neither available source is
// SourceUnconfigured and every approval will be refused.
func Capacity(ctx context.Context, client *clients.SupabaseClient, fallback int) (capacity int, source string, err error) {
	var rows []struct {
		Value map[string]interface{} `json:"value"`
	}
	q := clients.NewQuery().Select("value").Eq("key", CapacitySetting).Limit(1)
	if err := client.Select(ctx, models.TableAppSettings, q, &rows); err != nil && !apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound) {
		return 0, "", err
	}
	if len(rows) > 0 {
		if v, ok := rows[0].Value["capacity"]; ok && v != nil {
			n, err := cast.ToIntE(v)
			if err != nil {
				return 0, "", apperrors.NewValidationError(apperrors.ErrCodeInvalidFormat,
					fmt.Sprintf("app_settings.%s has a non-numeric capacity %v", CapacitySetting, v), err)
			}
			if n > 0 {
				return n, SourceSettings, nil
			}
		}
	}
	if fallback > 0 {
		return fallback, SourceFallback, nil
	}
	return 0, SourceUnconfigured, nil
}

// Export writes every application to an xlsx sheet and returns the row count.
func (s *Service) Export(ctx context.Context, path string) (int, error) {
	apps, err := clients.SelectAll[models.WaitlistApplication](ctx, s.client, models.TableWaitlist,
		clients.NewQuery().Order("created_at", true).Order("id", true), 1000)
	if err != nil {
		return 0, err
	}

	rows := make([][]interface{}, 0, len(apps))
	for _, a := range apps {
		var score interface{}
		if a.Score.Valid {
			score = a.Score.Int64
		}
		rows = append(rows, []interface{}{
			a.Email, a.Name.ValueOrZero(), a.Status, score, formatTime(a.CreatedAt), formatTime(a.ApprovedAt),
		})
	}
	headers := []string{"email", "name", "status", "score", "created_at", "approved_at"}
	if err := output.WriteXLSX(path, "applications", headers, rows); err != nil {
		return 0, err
	}
	s.log.Info("waitlist: exported applications", logger.Int("rows", len(rows)), logger.String("path", path))
	return len(rows), nil
}

func formatTime(t null.Time) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339)
}
