package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/renderbank/renderbank/internal/payment/domain"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{webhookSecret: strings.TrimSpace(webhookSecret)}
}

func (a *Adapter) Provider() string {
	return "stripe"
}

// Verify checks the Stripe-Signature header: HMAC-SHA256 of
// "<timestamp>.<payload>" keyed with the endpoint's webhook secret.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.PurchaseEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return a.parseCheckoutSession(event, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeCheckoutSession struct {
	ID                string               `json:"id"`
	Customer          string               `json:"customer"`
	ClientReferenceID string               `json:"client_reference_id"`
	PaymentStatus     string               `json:"payment_status"`
	Created           int64                `json:"created"`
	CustomerDetails   stripeCustomerDetail `json:"customer_details"`
	Metadata          map[string]any       `json:"metadata"`
}

type stripeCustomerDetail struct {
	Email string `json:"email"`
}

func (a *Adapter) parseCheckoutSession(event stripeEvent, payload []byte) (*domain.PurchaseEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if status := strings.TrimSpace(session.PaymentStatus); status != "" && status != "paid" {
		return nil, domain.ErrEventIgnored
	}

	accountKey := readMetadataValue(session.Metadata, "account_id")
	if accountKey == "" {
		accountKey = strings.TrimSpace(session.ClientReferenceID)
	}
	if accountKey == "" {
		return nil, domain.ErrInvalidAccount
	}

	tickets, err := strconv.ParseInt(readMetadataValue(session.Metadata, "tickets"), 10, 64)
	if err != nil || tickets < 1 {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := timestamp(session.Created, event.Created)
	return &domain.PurchaseEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		AccountKey:      accountKey,
		Email:           strings.TrimSpace(session.CustomerDetails.Email),
		CustomerRef:     strings.TrimSpace(session.Customer),
		Tickets:         tickets,
		Plan:            readMetadataValue(session.Metadata, "plan"),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
