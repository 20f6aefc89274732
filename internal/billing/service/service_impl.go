package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	billingdomain "github.com/renderbank/renderbank/internal/billing/domain"
	"github.com/renderbank/renderbank/internal/cache"
	"github.com/renderbank/renderbank/internal/classifier"
	"github.com/renderbank/renderbank/internal/config"
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	obsmetrics "github.com/renderbank/renderbank/internal/observability/metrics"
	rendererdomain "github.com/renderbank/renderbank/internal/renderer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Pricing  *config.PricingHolder
	Ledger   ledgerdomain.Service
	Renderer rendererdomain.Client
	Cache    *cache.BalanceCache `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

// Service is the billing orchestrator. It holds no per-job state: every
// decision is derived from the current observation plus the ledger, so any
// number of concurrent submissions and polls stay consistent.
type Service struct {
	log          *zap.Logger
	pricing      *config.PricingHolder
	ledger       ledgerdomain.Service
	renderer     rendererdomain.Client
	cache        *cache.BalanceCache
	metrics      *obsmetrics.Metrics
	pollInterval time.Duration
	pollHorizon  time.Duration
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		log:          p.Log.Named("billing.service"),
		pricing:      p.Pricing,
		ledger:       p.Ledger,
		renderer:     p.Renderer,
		cache:        p.Cache,
		metrics:      p.Metrics,
		pollInterval: p.Cfg.PollInterval,
		pollHorizon:  p.Cfg.PollHorizon,
	}
}

func (s *Service) Submit(ctx context.Context, req billingdomain.SubmitRequest) (billingdomain.Observation, error) {
	kind, cost, err := s.costFor(req.Kind)
	if err != nil {
		return billingdomain.Observation{}, err
	}
	if len(req.Input) == 0 {
		return billingdomain.Observation{}, billingdomain.ErrInvalidInput
	}

	// Reserve check: read-only. Nothing is held; the charge happens only
	// when an observation classifies Success.
	balance, err := s.ledger.Balance(ctx, req.AccountKey)
	if err != nil {
		return billingdomain.Observation{}, err
	}
	if balance < cost {
		return billingdomain.Observation{Balance: balance}, ledgerdomain.ErrInsufficientBalance
	}

	sub, err := s.renderer.Submit(ctx, rendererdomain.SubmitRequest{Kind: kind, Input: req.Input})
	if err != nil {
		return billingdomain.Observation{Balance: balance}, err
	}

	s.log.Info("job submitted",
		zap.String("job_id", sub.JobID),
		zap.String("kind", kind),
		zap.String("account", req.AccountKey),
	)
	return s.observe(ctx, req.AccountKey, sub.JobID, kind, cost, sub.Payload, billingdomain.SourceSubmission)
}

func (s *Service) Poll(ctx context.Context, req billingdomain.PollRequest) (billingdomain.Observation, error) {
	kind, cost, err := s.costFor(req.Kind)
	if err != nil {
		return billingdomain.Observation{}, err
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		return billingdomain.Observation{}, rendererdomain.ErrMissingJobID
	}

	payload, err := s.renderer.Status(ctx, jobID)
	if err != nil {
		if errors.Is(err, rendererdomain.ErrUpstreamUnavailable) {
			// The renderer is unreachable or talking garbage. If a charge
			// already landed for this job, compensate it now, same as an
			// explicit failure observation would.
			obs := s.compensate(ctx, req.AccountKey, jobID, kind, cost, billingdomain.SourceStatusPoll)
			return obs, err
		}
		return billingdomain.Observation{}, err
	}

	return s.observe(ctx, req.AccountKey, jobID, kind, cost, payload, billingdomain.SourceStatusPoll)
}

// Await polls on the configured interval until the job leaves Pending or
// the horizon passes. A job still pending at the horizon costs nothing.
func (s *Service) Await(ctx context.Context, req billingdomain.PollRequest) (billingdomain.Observation, error) {
	deadline := time.Now().Add(s.pollHorizon)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last billingdomain.Observation
	for {
		obs, err := s.Poll(ctx, req)
		if err != nil {
			return obs, err
		}
		if obs.State == billingdomain.StateCompleted || obs.State == billingdomain.StateFailed {
			return obs, nil
		}
		last = obs

		if time.Now().After(deadline) {
			return last, billingdomain.ErrPollTimeout
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// observe runs one classification and applies its ledger consequence. It is
// the only place a charge or refund is ever issued.
func (s *Service) observe(ctx context.Context, accountKey, jobID, kind string, cost int64, payload json.RawMessage, source string) (billingdomain.Observation, error) {
	outcome := classifier.Classify(payload)
	s.metrics.RecordClassification(string(outcome), source)

	obs := billingdomain.Observation{
		JobID:   jobID,
		Kind:    kind,
		Payload: payload,
	}

	switch outcome {
	case classifier.Success:
		res, err := s.ledger.Consume(ctx, ledgerdomain.ConsumeRequest{
			AccountKey: accountKey,
			Token:      billingdomain.BillingToken(jobID),
			Cost:       cost,
			Reason:     ledgerdomain.ReasonGenerate,
			Metadata:   eventMetadata(jobID, kind, cost, source),
		})
		if err != nil {
			return obs, err
		}
		obs.State = billingdomain.StateCompleted
		obs.Charged = true
		obs.Balance = res.Balance
		if !res.Already {
			s.log.Info("job charged",
				zap.String("job_id", jobID),
				zap.Int64("cost", cost),
				zap.String("source", source),
			)
		}

	case classifier.Failure:
		failed := s.compensate(ctx, accountKey, jobID, kind, cost, source)
		obs.State = billingdomain.StateFailed
		obs.Refunded = failed.Refunded
		obs.Balance = failed.Balance

	default:
		if source == billingdomain.SourceSubmission {
			obs.State = billingdomain.StateSubmitted
		} else {
			obs.State = billingdomain.StatePending
		}
		balance, err := s.ledger.Balance(ctx, accountKey)
		if err != nil {
			return obs, err
		}
		obs.Balance = balance
	}

	s.invalidateBalance(ctx, accountKey)
	return obs, nil
}

// compensate reverses a charge if one was recorded for the job. Calling it
// with no charge on file is a deliberate no-op.
func (s *Service) compensate(ctx context.Context, accountKey, jobID, kind string, cost int64, source string) billingdomain.Observation {
	obs := billingdomain.Observation{
		JobID: jobID,
		Kind:  kind,
		State: billingdomain.StateFailed,
	}

	res, err := s.ledger.Refund(ctx, ledgerdomain.RefundRequest{
		AccountKey:  accountKey,
		ChargeToken: billingdomain.BillingToken(jobID),
		Amount:      cost,
		Reason:      ledgerdomain.ReasonRefund,
		Metadata:    eventMetadata(jobID, kind, cost, source),
	})
	switch {
	case err == nil:
		obs.Refunded = true
		obs.Balance = res.Balance
		if !res.Already {
			s.log.Info("job refunded",
				zap.String("job_id", jobID),
				zap.Int64("amount", cost),
				zap.String("source", source),
			)
		}
	case errors.Is(err, ledgerdomain.ErrNoMatchingCharge):
		// Nothing was charged, nothing to reverse.
		obs.Balance = res.Balance
	default:
		s.log.Error("refund failed", zap.String("job_id", jobID), zap.Error(err))
		if balance, berr := s.ledger.Balance(ctx, accountKey); berr == nil {
			obs.Balance = balance
		}
	}

	s.invalidateBalance(ctx, accountKey)
	return obs
}

func (s *Service) costFor(kind string) (string, int64, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	pricing := s.pricing.Get()
	if kind == "" {
		kind = pricing.DefaultKind
	}
	cost, ok := pricing.CostFor(kind)
	if !ok {
		return "", 0, billingdomain.ErrUnknownKind
	}
	return kind, cost, nil
}

func (s *Service) invalidateBalance(ctx context.Context, accountKey string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, accountKey)
	}
}

func eventMetadata(jobID, kind string, cost int64, source string) map[string]any {
	return map[string]any{
		"job_id": jobID,
		"kind":   kind,
		"cost":   cost,
		"source": source,
	}
}
