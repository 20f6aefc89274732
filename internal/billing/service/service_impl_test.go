package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingdomain "github.com/renderbank/renderbank/internal/billing/domain"
	"github.com/renderbank/renderbank/internal/clock"
	"github.com/renderbank/renderbank/internal/config"
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	ledgerservice "github.com/renderbank/renderbank/internal/ledger/service"
	rendererdomain "github.com/renderbank/renderbank/internal/renderer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// rendererStub plays back canned submission and status payloads.
type rendererStub struct {
	mu        sync.Mutex
	jobID     string
	submitRes string
	submitErr error
	statuses  []string
	statusErr error
	calls     int
}

func (r *rendererStub) Submit(ctx context.Context, req rendererdomain.SubmitRequest) (rendererdomain.Submission, error) {
	if r.submitErr != nil {
		return rendererdomain.Submission{}, r.submitErr
	}
	return rendererdomain.Submission{JobID: r.jobID, Payload: json.RawMessage(r.submitRes)}, nil
}

func (r *rendererStub) Status(ctx context.Context, jobID string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusErr != nil {
		return nil, r.statusErr
	}
	payload := r.statuses[len(r.statuses)-1]
	if r.calls < len(r.statuses) {
		payload = r.statuses[r.calls]
	}
	r.calls++
	return json.RawMessage(payload), nil
}

func setupBilling(t *testing.T, stub *rendererStub) (billingdomain.Service, ledgerdomain.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Account{}, &ledgerdomain.Event{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
	})

	pricing := config.NewStaticPricingHolder(config.PricingConfig{
		Costs:       map[string]int64{"image": 1, "video": 2},
		DefaultKind: "image",
	})

	svc := NewService(Params{
		Cfg: config.Config{
			PollInterval: time.Millisecond,
			PollHorizon:  25 * time.Millisecond,
		},
		Log:      zap.NewNop(),
		Pricing:  pricing,
		Ledger:   ledgerSvc,
		Renderer: stub,
	})
	return svc, ledgerSvc
}

func grant(t *testing.T, ledger ledgerdomain.Service, account string, amount int64) {
	t.Helper()
	_, err := ledger.Grant(context.Background(), ledgerdomain.GrantRequest{
		AccountKey: account,
		Token:      "signup:" + account,
		Amount:     amount,
		Reason:     ledgerdomain.ReasonSignupBonus,
	})
	require.NoError(t, err)
}

func TestScenarioChargeOnceOnCompletion(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J1",
		submitRes: `{"id": "J1", "status": "IN_QUEUE"}`,
		statuses: []string{
			`{"status": "IN_PROGRESS"}`,
			`{"status": "COMPLETED", "output": {"image": "img.png"}}`,
		},
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-a", 3)

	obs, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-a",
		Kind:       "image",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StateSubmitted, obs.State)
	assert.False(t, obs.Charged)
	assert.Equal(t, int64(3), obs.Balance)

	poll := billingdomain.PollRequest{AccountKey: "acct-a", JobID: "J1", Kind: "image"}

	obs, err = svc.Poll(ctx, poll)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatePending, obs.State)
	assert.Equal(t, int64(3), obs.Balance)

	obs, err = svc.Poll(ctx, poll)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StateCompleted, obs.State)
	assert.True(t, obs.Charged)
	assert.Equal(t, int64(2), obs.Balance)

	// Re-polling the completed job never charges again.
	for i := 0; i < 3; i++ {
		obs, err = svc.Poll(ctx, poll)
		require.NoError(t, err)
		assert.Equal(t, billingdomain.StateCompleted, obs.State)
		assert.Equal(t, int64(2), obs.Balance)
	}
}

func TestScenarioRefundAfterCharge(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J2",
		submitRes: `{"id": "J2", "status": "COMPLETED", "output": {"video": "v.mp4"}}`,
		statuses:  []string{`{"status": "FAILED"}`},
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-b", 2)

	// Success on the submission response itself charges immediately.
	obs, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-b",
		Kind:       "video",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StateCompleted, obs.State)
	assert.True(t, obs.Charged)
	assert.Equal(t, int64(0), obs.Balance)

	poll := billingdomain.PollRequest{AccountKey: "acct-b", JobID: "J2", Kind: "video"}

	// A later failure observation refunds exactly once.
	obs, err = svc.Poll(ctx, poll)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StateFailed, obs.State)
	assert.True(t, obs.Refunded)
	assert.Equal(t, int64(2), obs.Balance)

	for i := 0; i < 3; i++ {
		obs, err = svc.Poll(ctx, poll)
		require.NoError(t, err)
		assert.Equal(t, int64(2), obs.Balance)
	}

	balance, err := ledger.Balance(ctx, "acct-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestFailureBeforeChargeTouchesNothing(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J3",
		submitRes: `{"id": "J3", "status": "IN_QUEUE"}`,
		statuses:  []string{`{"status": "FAILED", "error": "oom"}`},
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-c", 3)

	_, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-c",
		Kind:       "image",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)

	obs, err := svc.Poll(ctx, billingdomain.PollRequest{AccountKey: "acct-c", JobID: "J3", Kind: "image"})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StateFailed, obs.State)
	assert.False(t, obs.Refunded)
	assert.Equal(t, int64(3), obs.Balance)
}

func TestInsufficientBalanceBlocksSubmission(t *testing.T) {
	stub := &rendererStub{jobID: "J4", submitRes: `{"id": "J4"}`}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-d", 1)

	_, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-d",
		Kind:       "video", // costs 2
		Input:      map[string]any{"workflow": "w"},
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	balance, err := ledger.Balance(ctx, "acct-d")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)
}

func TestUnknownKindRejected(t *testing.T) {
	svc, _ := setupBilling(t, &rendererStub{})

	_, err := svc.Submit(context.Background(), billingdomain.SubmitRequest{
		AccountKey: "acct-e",
		Kind:       "hologram",
		Input:      map[string]any{"workflow": "w"},
	})
	require.ErrorIs(t, err, billingdomain.ErrUnknownKind)
}

func TestUpstreamUnavailableRefundsAfterCharge(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J5",
		submitRes: `{"id": "J5", "status": "COMPLETED", "images": ["x"]}`,
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-f", 3)

	obs, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-f",
		Kind:       "image",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)
	require.True(t, obs.Charged)
	require.Equal(t, int64(2), obs.Balance)

	stub.statusErr = rendererdomain.ErrUpstreamUnavailable

	obs, err = svc.Poll(ctx, billingdomain.PollRequest{AccountKey: "acct-f", JobID: "J5", Kind: "image"})
	require.ErrorIs(t, err, rendererdomain.ErrUpstreamUnavailable)
	assert.True(t, obs.Refunded)
	assert.Equal(t, int64(3), obs.Balance)

	// The compensation is idempotent across repeated outages.
	obs, err = svc.Poll(ctx, billingdomain.PollRequest{AccountKey: "acct-f", JobID: "J5", Kind: "image"})
	require.ErrorIs(t, err, rendererdomain.ErrUpstreamUnavailable)
	assert.Equal(t, int64(3), obs.Balance)
}

func TestUpstreamUnavailableWithoutChargeIsNoop(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J6",
		submitRes: `{"id": "J6", "status": "IN_QUEUE"}`,
		statusErr: rendererdomain.ErrUpstreamUnavailable,
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-g", 3)

	_, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-g",
		Kind:       "image",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)

	_, err = svc.Poll(ctx, billingdomain.PollRequest{AccountKey: "acct-g", JobID: "J6", Kind: "image"})
	require.ErrorIs(t, err, rendererdomain.ErrUpstreamUnavailable)

	balance, err := ledger.Balance(ctx, "acct-g")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestAwaitTimesOutWithoutCharging(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J7",
		submitRes: `{"id": "J7", "status": "IN_QUEUE"}`,
		statuses:  []string{`{"status": "IN_PROGRESS"}`},
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-h", 3)

	_, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-h",
		Kind:       "image",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)

	_, err = svc.Await(ctx, billingdomain.PollRequest{AccountKey: "acct-h", JobID: "J7", Kind: "image"})
	require.ErrorIs(t, err, billingdomain.ErrPollTimeout)

	balance, err := ledger.Balance(ctx, "acct-h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestAwaitReturnsTerminalState(t *testing.T) {
	stub := &rendererStub{
		jobID:     "J8",
		submitRes: `{"id": "J8", "status": "IN_QUEUE"}`,
		statuses: []string{
			`{"status": "IN_PROGRESS"}`,
			`{"status": "IN_PROGRESS"}`,
			`{"status": "COMPLETED", "images": ["x"]}`,
		},
	}
	svc, ledger := setupBilling(t, stub)
	ctx := context.Background()
	grant(t, ledger, "acct-i", 3)

	_, err := svc.Submit(ctx, billingdomain.SubmitRequest{
		AccountKey: "acct-i",
		Kind:       "image",
		Input:      map[string]any{"workflow": "w"},
	})
	require.NoError(t, err)

	obs, err := svc.Await(ctx, billingdomain.PollRequest{AccountKey: "acct-i", JobID: "J8", Kind: "image"})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StateCompleted, obs.State)
	assert.True(t, obs.Charged)
	assert.Equal(t, int64(2), obs.Balance)
}
