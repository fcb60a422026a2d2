// Package tokenmover dispatches outbound fungible-token transfers to the
// external token service and feeds each terminal outcome back into the node.
package tokenmover

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/metastagejustin/MetaStage/native/funding"
)

const defaultQueueDepth = 32

// TransferPayload is the request body posted to the token service.
type TransferPayload struct {
	DeliveryID string `json:"deliveryId"`
	Epoch      uint64 `json:"epoch"`
	Token      string `json:"token"`
	Payee      string `json:"payee"`
	Amount     string `json:"amount"`
	SentAt     int64  `json:"sentAt"`
}

// Mover posts transfer requests to the configured token service endpoint and
// delivers exactly one outcome per dispatch to its sink. A failed dispatch is
// reported and never retried here; retrying is an explicit, later settlement.
type Mover struct {
	endpoint string
	secret   []byte
	client   *http.Client
	sink     funding.OutcomeSink

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan funding.TransferRequest
	wg     sync.WaitGroup
}

// Option mutates mover configuration.
type Option func(*Mover)

// WithHTTPClient overrides the HTTP client used for transfers.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Mover) {
		if client != nil {
			m.client = client
		}
	}
}

// WithSigningSecret enables HMAC-SHA256 signing of request bodies.
func WithSigningSecret(secret []byte) Option {
	return func(m *Mover) {
		if len(secret) > 0 {
			m.secret = append([]byte(nil), secret...)
		}
	}
}

// WithQueueDepth overrides the dispatch queue depth.
func WithQueueDepth(depth int) Option {
	return func(m *Mover) {
		if depth > 0 {
			m.queue = make(chan funding.TransferRequest, depth)
		}
	}
}

// NewMover constructs a mover and spawns the worker goroutine.
func NewMover(endpoint string, sink funding.OutcomeSink, opts ...Option) (*Mover, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("tokenmover: endpoint required")
	}
	if sink == nil {
		return nil, errors.New("tokenmover: outcome sink required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	mover := &Mover{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		sink:     sink,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan funding.TransferRequest, defaultQueueDepth),
	}
	for _, opt := range opts {
		opt(mover)
	}
	mover.wg.Add(1)
	go mover.worker()
	return mover, nil
}

// Close stops the mover and waits for the inflight dispatch to complete.
// Queued but unsent dispatches are reported as failed so the exactly-one
// outcome contract holds across shutdown.
func (m *Mover) Close() {
	if m == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	for {
		select {
		case req := <-m.queue:
			m.deliver(req, funding.TransferFailed, nil)
		default:
			return
		}
	}
}

// Transfer implements funding.TokenMover. The dispatch is queued without
// blocking: callers hold the node lock the sink needs, so a full queue reports
// the transfer failed from a fresh goroutine instead of waiting for drain.
func (m *Mover) Transfer(req funding.TransferRequest) {
	if m == nil {
		return
	}
	select {
	case m.queue <- req:
	default:
		go m.deliver(req, funding.TransferFailed, nil)
	}
}

func (m *Mover) worker() {
	defer m.wg.Done()
	for {
		select {
		case req := <-m.queue:
			m.process(req)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Mover) process(req funding.TransferRequest) {
	ctx, cancel := context.WithTimeout(m.ctx, m.client.Timeout)
	payload, err := m.send(ctx, req)
	cancel()
	if err != nil {
		m.deliver(req, funding.TransferFailed, nil)
		return
	}
	m.deliver(req, funding.TransferSuccess, payload)
}

func (m *Mover) deliver(req funding.TransferRequest, status funding.TransferStatus, payload []byte) {
	m.sink.DeliverTransferOutcome(req.Pending, []funding.TransferOutcome{{Status: status, Payload: payload}})
}

func (m *Mover) send(ctx context.Context, req funding.TransferRequest) ([]byte, error) {
	amount := "0"
	if req.Amount != nil {
		amount = req.Amount.String()
	}
	body := TransferPayload{
		Token:  req.Token,
		Payee:  "0x" + hex.EncodeToString(req.Payee[:]),
		Amount: amount,
		SentAt: time.Now().Unix(),
	}
	if req.Pending != nil {
		body.DeliveryID = req.Pending.ID
		body.Epoch = req.Pending.Epoch
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if len(m.secret) > 0 {
		httpReq.Header.Set("X-MetaStage-Signature", m.sign(data))
	}
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload, nil
	}
	return nil, fmt.Errorf("tokenmover: transfer failed with status %d", resp.StatusCode)
}

func (m *Mover) sign(body []byte) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
