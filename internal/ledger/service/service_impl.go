package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/renderbank/renderbank/internal/clock"
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	obsmetrics "github.com/renderbank/renderbank/internal/observability/metrics"
	"github.com/renderbank/renderbank/pkg/db"
	"github.com/renderbank/renderbank/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Service implements the ledger store. Every operation runs as one
// transaction combining the token-dedup check with the balance
// read-modify-write, so concurrent callers sharing a token race safely to
// exactly one effect.
type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Grant(ctx context.Context, req ledgerdomain.GrantRequest) (ledgerdomain.Result, error) {
	if err := validateCommon(req.AccountKey, req.Token, req.Amount, req.Reason); err != nil {
		return ledgerdomain.Result{}, err
	}

	var res ledgerdomain.Result
	run := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if done, err := s.findApplied(ctx, tx, req.Token, &res); done || err != nil {
				return err
			}

			account, err := s.ensureAccount(ctx, tx, req)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			updates := map[string]any{
				"balance":    gorm.Expr("balance + ?", req.Amount),
				"updated_at": now,
			}
			if req.Reason == ledgerdomain.ReasonDailyBonus {
				updates["last_daily_claim_at"] = now
			}
			if req.Email != "" && account.Email == "" {
				updates["email"] = req.Email
			}
			if req.CustomerRef != "" && account.CustomerRef == "" {
				updates["customer_ref"] = req.CustomerRef
			}
			if err := tx.Model(&ledgerdomain.Account{}).
				Where("id = ?", account.ID).
				Updates(updates).Error; err != nil {
				return err
			}

			if err := s.appendEvent(ctx, tx, account.ID, req.Token, req.Amount, req.Reason, req.Metadata); err != nil {
				return err
			}
			return s.readBalance(ctx, tx, account.ID, &res)
		})
	}

	err := s.withDuplicateRecovery(ctx, run, req.Token, &res)
	s.record("grant", req.Reason, err, res.Already)
	return res, err
}

func (s *Service) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) (ledgerdomain.Result, error) {
	if err := validateCommon(req.AccountKey, req.Token, req.Cost, req.Reason); err != nil {
		return ledgerdomain.Result{}, err
	}

	var res ledgerdomain.Result
	run := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if done, err := s.findApplied(ctx, tx, req.Token, &res); done || err != nil {
				return err
			}

			account, err := s.findAccount(ctx, tx, req.AccountKey)
			if err != nil {
				if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
					return ledgerdomain.ErrInsufficientBalance
				}
				return err
			}

			// Conditional decrement: the WHERE guard makes the balance check
			// and the write one atomic statement, so a failed check leaves no
			// trace and the whole transaction rolls back on any later error.
			result := tx.Model(&ledgerdomain.Account{}).
				Where("id = ? AND balance >= ?", account.ID, req.Cost).
				Updates(map[string]any{
					"balance":    gorm.Expr("balance - ?", req.Cost),
					"updated_at": s.clock.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ledgerdomain.ErrInsufficientBalance
			}

			if err := s.appendEvent(ctx, tx, account.ID, req.Token, -req.Cost, req.Reason, req.Metadata); err != nil {
				return err
			}
			return s.readBalance(ctx, tx, account.ID, &res)
		})
	}

	err := s.withDuplicateRecovery(ctx, run, req.Token, &res)
	s.record("consume", req.Reason, err, res.Already)
	return res, err
}

func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (ledgerdomain.Result, error) {
	refundToken := ledgerdomain.RefundToken(req.ChargeToken)
	if err := validateCommon(req.AccountKey, strings.TrimSpace(req.ChargeToken), req.Amount, req.Reason); err != nil {
		return ledgerdomain.Result{}, err
	}

	var res ledgerdomain.Result
	run := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if done, err := s.findApplied(ctx, tx, refundToken, &res); done || err != nil {
				return err
			}

			account, err := s.findAccount(ctx, tx, req.AccountKey)
			if err != nil {
				if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
					return ledgerdomain.ErrNoMatchingCharge
				}
				return err
			}

			// A refund only reverses a recorded charge. Without one there is
			// nothing to compensate and the call is a deliberate no-op.
			var charges int64
			if err := tx.Model(&ledgerdomain.Event{}).
				Where("token = ? AND account_id = ?", req.ChargeToken, account.ID).
				Count(&charges).Error; err != nil {
				return err
			}
			if charges == 0 {
				res = ledgerdomain.Result{Balance: account.Balance}
				return ledgerdomain.ErrNoMatchingCharge
			}

			if err := tx.Model(&ledgerdomain.Account{}).
				Where("id = ?", account.ID).
				Updates(map[string]any{
					"balance":    gorm.Expr("balance + ?", req.Amount),
					"updated_at": s.clock.Now(),
				}).Error; err != nil {
				return err
			}

			if err := s.appendEvent(ctx, tx, account.ID, refundToken, req.Amount, req.Reason, req.Metadata); err != nil {
				return err
			}
			return s.readBalance(ctx, tx, account.ID, &res)
		})
	}

	err := s.withDuplicateRecovery(ctx, run, refundToken, &res)
	s.record("refund", req.Reason, err, res.Already)
	return res, err
}

func (s *Service) Balance(ctx context.Context, accountKey string) (int64, error) {
	account, err := s.findAccount(ctx, s.db, accountKey)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) Account(ctx context.Context, accountKey string) (*ledgerdomain.Account, error) {
	return s.findAccount(ctx, s.db, accountKey)
}

func (s *Service) ListEvents(ctx context.Context, req ledgerdomain.ListEventsRequest) (ledgerdomain.ListEventsResponse, error) {
	account, err := s.findAccount(ctx, s.db, req.AccountKey)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			return ledgerdomain.ListEventsResponse{Events: []ledgerdomain.Event{}}, nil
		}
		return ledgerdomain.ListEventsResponse{}, err
	}

	limit := req.PageSize
	if limit < 1 || limit > 250 {
		limit = 25
	}

	query := s.db.WithContext(ctx).
		Where("account_id = ?", account.ID).
		Order("id DESC").
		Limit(limit + 1)
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListEventsResponse{}, err
		}
		cursorID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return ledgerdomain.ListEventsResponse{}, err
		}
		query = query.Where("id < ?", cursorID)
	}

	var rows []*ledgerdomain.Event
	if err := query.Find(&rows).Error; err != nil {
		return ledgerdomain.ListEventsResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, limit, func(e *ledgerdomain.Event) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})

	events := make([]ledgerdomain.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, *row)
	}
	return ledgerdomain.ListEventsResponse{PageInfo: *pageInfo, Events: events}, nil
}

// findApplied resolves the fast path: the token already has an event, so the
// call is a replay and must return the current balance untouched.
func (s *Service) findApplied(ctx context.Context, tx *gorm.DB, token string, res *ledgerdomain.Result) (bool, error) {
	var event ledgerdomain.Event
	err := tx.WithContext(ctx).Where("token = ?", token).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var account ledgerdomain.Account
	if err := tx.WithContext(ctx).Where("id = ?", event.AccountID).First(&account).Error; err != nil {
		return false, err
	}
	*res = ledgerdomain.Result{Balance: account.Balance, Already: true}
	return true, nil
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, req ledgerdomain.GrantRequest) (*ledgerdomain.Account, error) {
	account := ledgerdomain.Account{}
	err := tx.WithContext(ctx).
		Where(ledgerdomain.Account{ExternalID: req.AccountKey}).
		Attrs(ledgerdomain.Account{
			ID:          s.genID.Generate(),
			ExternalID:  req.AccountKey,
			Email:       req.Email,
			CustomerRef: req.CustomerRef,
			Balance:     0,
			CreatedAt:   s.clock.Now(),
			UpdatedAt:   s.clock.Now(),
		}).
		FirstOrCreate(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) findAccount(ctx context.Context, tx *gorm.DB, accountKey string) (*ledgerdomain.Account, error) {
	accountKey = strings.TrimSpace(accountKey)
	if accountKey == "" {
		return nil, ledgerdomain.ErrInvalidAccount
	}

	var account ledgerdomain.Account
	err := tx.WithContext(ctx).Where("external_id = ?", accountKey).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, token string, delta int64, reason ledgerdomain.Reason, metadata map[string]any) error {
	event := ledgerdomain.Event{
		ID:        s.genID.Generate(),
		Token:     token,
		AccountID: accountID,
		Delta:     delta,
		Reason:    reason,
		Metadata:  datatypes.JSONMap(metadata),
		CreatedAt: s.clock.Now(),
	}
	return tx.WithContext(ctx).Create(&event).Error
}

func (s *Service) readBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, res *ledgerdomain.Result) error {
	var account ledgerdomain.Account
	if err := tx.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return err
	}
	*res = ledgerdomain.Result{Balance: account.Balance, Already: false}
	return nil
}

// withDuplicateRecovery absorbs a lost same-token race. The loser's insert
// hits the unique token index, its transaction rolls back, and the original
// outcome is re-read instead.
func (s *Service) withDuplicateRecovery(ctx context.Context, run func() error, token string, res *ledgerdomain.Result) error {
	err := run()
	if err == nil || !db.IsDuplicateKeyErr(err) {
		return err
	}

	var done bool
	var resolveErr error
	for attempt := 0; attempt < 2; attempt++ {
		done, resolveErr = s.findApplied(ctx, s.db, token, res)
		if resolveErr != nil {
			return resolveErr
		}
		if done {
			return nil
		}
		// The conflict came from concurrent account creation, not the token.
		// Rerun once; the account row now exists.
		if rerunErr := run(); rerunErr == nil {
			return nil
		} else if !db.IsDuplicateKeyErr(rerunErr) {
			return rerunErr
		}
	}
	return err
}

func validateCommon(accountKey, token string, amount int64, reason ledgerdomain.Reason) error {
	if strings.TrimSpace(accountKey) == "" {
		return ledgerdomain.ErrInvalidAccount
	}
	if strings.TrimSpace(token) == "" {
		return ledgerdomain.ErrInvalidToken
	}
	if amount < 1 {
		return ledgerdomain.ErrInvalidAmount
	}
	if !reason.Valid() {
		return ledgerdomain.ErrInvalidReason
	}
	return nil
}

func (s *Service) record(op string, reason ledgerdomain.Reason, err error, already bool) {
	outcome := obsmetrics.OutcomeApplied
	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance), errors.Is(err, ledgerdomain.ErrNoMatchingCharge):
		outcome = obsmetrics.OutcomeRejected
	case err != nil:
		outcome = obsmetrics.OutcomeError
	case already:
		outcome = obsmetrics.OutcomeDuplicate
	}
	s.metrics.RecordLedgerOp(op, string(reason), outcome)

	if err != nil && !errors.Is(err, ledgerdomain.ErrInsufficientBalance) && !errors.Is(err, ledgerdomain.ErrNoMatchingCharge) {
		s.log.Error("ledger operation failed", zap.String("op", op), zap.String("reason", string(reason)), zap.Error(err))
	}
}
