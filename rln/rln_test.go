package rln

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunder-swap/engine/swaperr"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestDecode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathDecodeInvoice, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(DecodeResult{PaymentHash: "ab", AmtMsat: 1000})
	}))
	defer ts.Close()

	c := New(ts.URL, "secret", testLog())
	res, err := c.Decode(context.Background(), "lnbc1...")
	require.NoError(t, err)
	assert.Equal(t, "ab", res.PaymentHash)
	assert.Equal(t, uint64(1000), res.AmtMsat)
}

func TestPayWarnsOnPending(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PayResult{Status: StatusPending, PaymentHash: "ab"})
	}))
	defer ts.Close()

	l, hook := logtest.NewNullLogger()
	c := New(ts.URL, "", logrus.NewEntry(l))
	res, err := c.Pay(context.Background(), "lnbc1...")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestGetPayment(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathGetPayment, r.URL.Path)
		_ = json.NewEncoder(w).Encode(GetPaymentResult{Payment: Payment{Inbound: true, Status: StatusSucceeded, Preimage: "cc"}})
	}))
	defer ts.Close()

	c := New(ts.URL, "", testLog())
	res, err := c.GetPayment(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Payment.Status)
	assert.Equal(t, "cc", res.Payment.Preimage)
}

func TestGetPaymentPreimage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathGetPreimage, r.URL.Path)
		_ = json.NewEncoder(w).Encode(PreimageResult{Status: StatusSucceeded, Preimage: "deadbeef"})
	}))
	defer ts.Close()

	c := New(ts.URL, "", testLog())
	res, err := c.GetPaymentPreimage(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", res.Preimage)
}

func TestInvoiceHodlSettleCancel(t *testing.T) {
	var gotSettle, gotCancel bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathInvoiceHodl:
			_ = json.NewEncoder(w).Encode(HodlInvoiceResult{Invoice: "lnbc1hodl", PaymentSecret: "s"})
		case pathInvoiceSettle:
			gotSettle = true
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(struct{}{})
		case pathInvoiceCancel:
			gotCancel = true
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(struct{}{})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	c := New(ts.URL, "", testLog())

	hodl, err := c.InvoiceHodl(context.Background(), "ab", 3600, 1000)
	require.NoError(t, err)
	assert.Equal(t, "lnbc1hodl", hodl.Invoice)

	require.NoError(t, c.InvoiceSettle(context.Background(), "ab", "deadbeef"))
	assert.True(t, gotSettle)

	require.NoError(t, c.InvoiceCancel(context.Background(), "ab"))
	assert.True(t, gotCancel)
}

func TestInvoiceStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathInvoiceStatus, r.URL.Path)
		_ = json.NewEncoder(w).Encode(InvoiceStatusResult{Status: StatusClaimable})
	}))
	defer ts.Close()

	c := New(ts.URL, "", testLog())
	res, err := c.InvoiceStatus(context.Background(), "lnbc1...")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimable, res.Status)
}

func TestNonOKStatusReturnsRlnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer ts.Close()

	c := New(ts.URL, "", testLog())
	_, err := c.Decode(context.Background(), "lnbc1...")
	assert.True(t, swaperr.Is(err, swaperr.RlnError))
}
