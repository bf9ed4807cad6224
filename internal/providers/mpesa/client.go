package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jijenga/referral/internal/config"
	"go.uber.org/zap"
)

type client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	httpClient     *http.Client
	log            *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg config.MpesaConfig, log *zap.Logger) Gateway {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		httpClient:     &http.Client{Timeout: timeout},
		log:            log.Named("mpesa.client"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	CommandID                string `json:"CommandID"`
	Amount                   string `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
	TransactionID            string `json:"TransactionID"`
	ResultCode               string `json:"ResultCode"`
	ResultDesc               string `json:"ResultDesc"`
}

func (c *client) Disburse(ctx context.Context, req DisburseRequest) (DisburseResult, error) {
	body := b2cRequest{
		OriginatorConversationID: req.IdempotencyToken,
		InitiatorName:            c.shortCode,
		CommandID:                "BusinessPayment",
		Amount:                   fmt.Sprintf("%d.%02d", req.AmountCents/100, req.AmountCents%100),
		PartyA:                   c.shortCode,
		PartyB:                   req.PhoneNumber,
		Remarks:                  req.Remarks,
	}

	var resp b2cResponse
	if err := c.doJSON(ctx, http.MethodPost, "/mpesa/b2c/v3/paymentrequest", body, &resp); err != nil {
		// Network failures and 5xx leave the payout in an unknown state.
		return DisburseResult{Outcome: OutcomePending}, nil
	}
	return classify(resp), nil
}

func (c *client) QueryStatus(ctx context.Context, idempotencyToken string) (DisburseResult, error) {
	body := map[string]string{
		"OriginatorConversationID": idempotencyToken,
		"PartyA":                   c.shortCode,
		"IdentifierType":           "4",
	}

	var resp b2cResponse
	if err := c.doJSON(ctx, http.MethodPost, "/mpesa/transactionstatus/v1/query", body, &resp); err != nil {
		return DisburseResult{}, ErrGatewayUnavailable
	}
	if resp.ResultCode == "" && resp.ResponseCode == "" {
		return DisburseResult{}, ErrUnknownToken
	}
	return classify(resp), nil
}

// classify maps Daraja result codes onto the three-way outcome. Code "0"
// settles the payout; anything else definitive is a failure; a missing
// result means the gateway is still processing.
func classify(resp b2cResponse) DisburseResult {
	code := resp.ResultCode
	if code == "" {
		code = resp.ResponseCode
	}
	switch code {
	case "0":
		return DisburseResult{Outcome: OutcomeSuccess, TransactionID: resp.TransactionID}
	case "":
		return DisburseResult{Outcome: OutcomePending}
	default:
		reason := resp.ResultDesc
		if reason == "" {
			reason = resp.ResponseDescription
		}
		return DisburseResult{Outcome: OutcomeFailed, FailureReason: reason}
	}
}

func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ErrGatewayUnavailable
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.consumerKey + ":" + c.consumerSecret))
	req.Header.Set("Authorization", "Basic "+creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrGatewayUnavailable
	}
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	// Daraja tokens last an hour; refresh a minute early.
	c.tokenExpiry = time.Now().Add(59 * time.Minute)
	return c.accessToken, nil
}

var _ Gateway = (*client)(nil)
