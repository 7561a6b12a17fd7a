// Package rln is a typed HTTP facade over the RGB-Lightning node this
// engine settles HODL invoices through: decode, pay, status polling,
// and HODL-invoice create/settle/cancel.
package rln

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thunder-swap/engine/swaperr"
)

const (
	pathDecodeInvoice = "/decodelninvoice"
	pathSendPayment   = "/sendpayment"
	pathGetPayment    = "/getpayment"
	pathGetPreimage   = "/getpaymentpreimage"
	pathInvoiceHodl   = "/invoice/hodl"
	pathInvoiceSettle = "/invoice/settle"
	pathInvoiceCancel = "/invoice/cancel"
	pathInvoiceStatus = "/invoicestatus"
)

// PaymentStatus mirrors the RLN's payment/invoice status enum.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "Pending"
	StatusClaimable PaymentStatus = "Claimable"
	StatusSucceeded PaymentStatus = "Succeeded"
	StatusCancelled PaymentStatus = "Cancelled"
	StatusFailed    PaymentStatus = "Failed"
	StatusTimeout   PaymentStatus = "Timeout"
	StatusExpired   PaymentStatus = "Expired"
)

// Client is the HTTP adapter over one RLN base URL.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logrus.Entry
}

// New builds a Client. apiKey may be empty; when set it is attached
// as a bearer Authorization header on every request.
func New(baseURL, apiKey string, log *logrus.Entry) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot marshal rln request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot build rln request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.WithFields(logrus.Fields{"path": path}).Debug("rln request")

	resp, err := c.http.Do(req)
	if err != nil {
		return swaperr.Wrap(swaperr.NetworkTimeout, fmt.Sprintf("rln request to %s failed", path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return swaperr.Wrap(swaperr.RlnError, "cannot read rln response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return swaperr.Newf(swaperr.RlnError, "rln %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return swaperr.Wrap(swaperr.RlnError, fmt.Sprintf("cannot decode rln response from %s", path), err)
	}
	return nil
}

// DecodeResult is the decoded shape of an RLN invoice.
type DecodeResult struct {
	PaymentHash string `json:"paymentHash"`
	AmtMsat     uint64 `json:"amtMsat"`
	ExpiresAt   *int64 `json:"expiresAt,omitempty"`
}

// Decode decodes a Lightning invoice string via the RLN.
func (c *Client) Decode(ctx context.Context, invoice string) (*DecodeResult, error) {
	var out DecodeResult
	if err := c.post(ctx, pathDecodeInvoice, map[string]string{"invoice": invoice}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PayResult is the outcome of attempting to pay an invoice.
type PayResult struct {
	Status        PaymentStatus `json:"status"`
	PaymentHash   string        `json:"paymentHash"`
	PaymentSecret string        `json:"paymentSecret"`
}

// Pay sends a payment for invoice. A Pending status on return is
// logged as a warning: the RLN may settle it asynchronously, and the
// caller's PAYMENT_SETTLED poll will resolve it.
func (c *Client) Pay(ctx context.Context, invoice string) (*PayResult, error) {
	var out PayResult
	if err := c.post(ctx, pathSendPayment, map[string]string{"invoice": invoice}, &out); err != nil {
		return nil, err
	}
	if out.Status == StatusPending {
		c.log.WithField("paymentHash", out.PaymentHash).Warn("rln payment returned Pending status")
	}
	return &out, nil
}

// Payment is the detail shape getPayment returns.
type Payment struct {
	Inbound  bool          `json:"inbound"`
	Status   PaymentStatus `json:"status"`
	Preimage string        `json:"preimage,omitempty"`
}

// GetPaymentResult wraps a single Payment, matching the RLN's envelope.
type GetPaymentResult struct {
	Payment Payment `json:"payment"`
}

// GetPayment fetches payment status by payment hash.
func (c *Client) GetPayment(ctx context.Context, paymentHash string) (*GetPaymentResult, error) {
	var out GetPaymentResult
	if err := c.post(ctx, pathGetPayment, map[string]string{"paymentHash": paymentHash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PreimageResult is the outcome of polling for a payment's preimage.
type PreimageResult struct {
	Status   PaymentStatus `json:"status"`
	Preimage string        `json:"preimage,omitempty"`
}

// GetPaymentPreimage polls for the preimage of an inbound HODL payment.
func (c *Client) GetPaymentPreimage(ctx context.Context, paymentHash string) (*PreimageResult, error) {
	var out PreimageResult
	if err := c.post(ctx, pathGetPreimage, map[string]string{"paymentHash": paymentHash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HodlInvoiceResult is returned by InvoiceHodl.
type HodlInvoiceResult struct {
	Invoice       string `json:"invoice"`
	PaymentSecret string `json:"paymentSecret"`
}

// InvoiceHodl creates a new HODL invoice held against paymentHash.
func (c *Client) InvoiceHodl(ctx context.Context, paymentHash string, expirySec uint64, amtMsat uint64) (*HodlInvoiceResult, error) {
	body := map[string]any{
		"paymentHash": paymentHash,
		"expirySec":   expirySec,
		"amtMsat":     amtMsat,
	}
	var out HodlInvoiceResult
	if err := c.post(ctx, pathInvoiceHodl, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvoiceSettle releases a held HODL invoice by revealing the preimage.
func (c *Client) InvoiceSettle(ctx context.Context, paymentHash string, preimage string) error {
	body := map[string]string{"paymentHash": paymentHash, "paymentPreimage": preimage}
	return c.post(ctx, pathInvoiceSettle, body, nil)
}

// InvoiceCancel cancels a held HODL invoice.
func (c *Client) InvoiceCancel(ctx context.Context, paymentHash string) error {
	body := map[string]string{"paymentHash": paymentHash}
	return c.post(ctx, pathInvoiceCancel, body, nil)
}

// InvoiceStatusResult is returned by InvoiceStatus.
type InvoiceStatusResult struct {
	Status PaymentStatus `json:"status"`
}

// InvoiceStatus fetches the terminal/non-terminal status of an invoice.
func (c *Client) InvoiceStatus(ctx context.Context, invoice string) (*InvoiceStatusResult, error) {
	body := map[string]string{"invoice": invoice}
	var out InvoiceStatusResult
	if err := c.post(ctx, pathInvoiceStatus, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
