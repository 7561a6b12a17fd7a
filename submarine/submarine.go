// Package submarine implements the minimal publish/fetch channel
// between USER and LP: USER exposes the submarine-data record over
// HTTP once funding is confirmed, and LP polls for it.
package submarine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thunder-swap/engine/swaperr"
)

const routeSubmarineData = "/submarine-data"

// Data is the exact wire shape USER publishes and LP fetches.
type Data struct {
	Invoice                   string `json:"invoice"`
	FundingTxid               string `json:"fundingTxid"`
	FundingVout               uint32 `json:"fundingVout"`
	UserRefundPubkeyHex       string `json:"userRefundPubkeyHex"`
	TLock                     uint32 `json:"tLock"`
}

// Validate checks the shape the wire contract promises: a 32-byte hex
// txid and a well-formed compressed pubkey hex.
func (d *Data) Validate() error {
	if len(d.FundingTxid) != 64 {
		return swaperr.Newf(swaperr.InvalidInput, "fundingTxid must be 64 hex chars, got %d", len(d.FundingTxid))
	}
	if _, err := hex.DecodeString(d.FundingTxid); err != nil {
		return swaperr.Wrap(swaperr.InvalidInput, "fundingTxid is not valid hex", err)
	}
	if len(d.UserRefundPubkeyHex) != 66 {
		return swaperr.Newf(swaperr.InvalidInput, "userRefundPubkeyHex must be 66 hex chars, got %d", len(d.UserRefundPubkeyHex))
	}
	pub, err := hex.DecodeString(d.UserRefundPubkeyHex)
	if err != nil {
		return swaperr.Wrap(swaperr.InvalidInput, "userRefundPubkeyHex is not valid hex", err)
	}
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return swaperr.Newf(swaperr.InvalidInput, "userRefundPubkeyHex prefix must be 0x02 or 0x03, got 0x%02x", pub[0])
	}
	return nil
}

// Server is the USER-side publisher: a single record, published once,
// fetched any number of times.
type Server struct {
	mu   sync.RWMutex
	data *Data
	log  *logrus.Entry
}

// NewServer constructs an empty publisher; Publish fills it in later.
func NewServer(log *logrus.Entry) *Server {
	return &Server{log: log}
}

// Publish sets the record to be served. Called exactly once, after
// FUNDING_CONFIRMED.
func (s *Server) Publish(data *Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.log.WithField("fundingTxid", data.FundingTxid).Info("submarine data published")
}

// SetupRouter hooks up the fetch route, matching the teacher's
// HttpReporter gin wiring.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.Default()
	router.GET(routeSubmarineData, s.handleFetch)
	return router
}

// Run starts the gin server on port, blocking.
func (s *Server) Run(port string) error {
	router := s.SetupRouter()
	if err := router.Run(":" + port); err != nil {
		return swaperr.Wrap(swaperr.InternalError, "submarine-data server failed", err)
	}
	return nil
}

func (s *Server) handleFetch(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		c.JSON(http.StatusNotFound, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "data": s.data})
}

type fetchEnvelope struct {
	Ready bool  `json:"ready"`
	Data  *Data `json:"data"`
}

// Client is the LP-side fetcher, polling USER's server.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// NewClient builds a Client against baseURL (USER_COMM_URL).
func NewClient(baseURL string, log *logrus.Entry) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}, log: log}
}

// Fetch performs a single fetch attempt; returns (nil, nil) when the
// record is not yet published.
func (c *Client) Fetch(ctx context.Context) (*Data, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+routeSubmarineData, nil)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot build fetch request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.NetworkTimeout, "submarine-data fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, swaperr.Newf(swaperr.RpcError, "submarine-data fetch returned status %d", resp.StatusCode)
	}

	var env fetchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, swaperr.Wrap(swaperr.RpcError, "cannot decode submarine-data response", err)
	}
	if !env.Ready || env.Data == nil {
		return nil, nil
	}
	if err := env.Data.Validate(); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// PollUntilReady polls Fetch at interval until a record arrives or
// maxAttempts is exhausted, returning a Timeout.
func (c *Client) PollUntilReady(ctx context.Context, maxAttempts int, interval time.Duration) (*Data, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, err := c.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		if data != nil {
			return data, nil
		}
		select {
		case <-ctx.Done():
			return nil, swaperr.Wrap(swaperr.NetworkTimeout, "submarine-data poll cancelled", ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, swaperr.New(swaperr.NetworkTimeout, "submarine-data poll exhausted max attempts")
}
