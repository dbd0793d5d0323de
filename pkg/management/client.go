package management

import (
	"context"
	"fmt"
	"net"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/messaging"
	"github.com/backkem/thread/pkg/tlv"
)

// Client issues management commands over a messaging.Service.
type Client struct {
	svc     *messaging.Service
	timeout messaging.TimeoutParams
	retry   messaging.RetryPolicy
}

// NewClient creates a Client using the default confirmable retry policy.
func NewClient(svc *messaging.Service) *Client {
	return &Client{
		svc:     svc,
		timeout: messaging.DefaultTimeoutParams(),
		retry:   messaging.DefaultRetryPolicy(),
	}
}

// WithRetry returns a copy of c using the given transmission parameters.
func (c *Client) WithRetry(timeout messaging.TimeoutParams, retry messaging.RetryPolicy) *Client {
	cc := *c
	cc.timeout = timeout
	cc.retry = retry
	return &cc
}

func (c *Client) post(ctx context.Context, dest net.Addr, path string, payload []byte) ([]byte, error) {
	resp, err := c.svc.Do(ctx, &messaging.Message{Code: messaging.POST, Path: path, Payload: payload}, dest, c.timeout, c.retry)
	if err != nil {
		return nil, err
	}
	if !resp.Code.IsSuccess() {
		return nil, fmt.Errorf("%w: %s %s", ErrBadResponse, path, resp.Code)
	}
	return resp.Payload, nil
}

// ActiveGet fetches the active dataset, restricted to types when given.
func (c *Client) ActiveGet(ctx context.Context, dest net.Addr, types ...tlv.Type) ([]byte, error) {
	return c.post(ctx, dest, PathActiveGet, getTLV(types))
}

// PendingGet fetches the pending dataset, restricted to types when given.
func (c *Client) PendingGet(ctx context.Context, dest net.Addr, types ...tlv.Type) ([]byte, error) {
	return c.post(ctx, dest, PathPendingGet, getTLV(types))
}

// ActiveSet proposes active dataset TLVs. It returns ErrRejected when the
// peer refuses them.
func (c *Client) ActiveSet(ctx context.Context, dest net.Addr, tlvs []byte) error {
	return c.set(ctx, dest, PathActiveSet, tlvs)
}

// PendingSet proposes a pending dataset. tlvs must carry the active and
// pending timestamps and a delay timer.
func (c *Client) PendingSet(ctx context.Context, dest net.Addr, tlvs []byte) error {
	return c.set(ctx, dest, PathPendingSet, tlvs)
}

func (c *Client) set(ctx context.Context, dest net.Addr, path string, tlvs []byte) error {
	payload, err := c.post(ctx, dest, path, tlvs)
	if err != nil {
		return err
	}
	state, err := parseState(payload)
	if err != nil {
		return err
	}
	if state != StateAccept {
		return fmt.Errorf("%w: %s", ErrRejected, dataset.TypeName(dataset.TypeState))
	}
	return nil
}

// PanIDQuery starts a PAN id conflict search on dest.
func (c *Client) PanIDQuery(ctx context.Context, dest net.Addr, q PanIDQuery) error {
	_, err := c.post(ctx, dest, PathPanIDQuery, q.encode())
	return err
}

// EnergyScan starts an energy scan on dest.
func (c *Client) EnergyScan(ctx context.Context, dest net.Addr, e EnergyScan) error {
	_, err := c.post(ctx, dest, PathEnergyScan, e.encode())
	return err
}

// AnnounceBegin asks dest to announce its dataset.
func (c *Client) AnnounceBegin(ctx context.Context, dest net.Addr, a AnnounceBegin) error {
	_, err := c.post(ctx, dest, PathAnnounceBegin, a.encode())
	return err
}

// ReportPanIDConflict sends a PAN id query result to a commissioner.
func (c *Client) ReportPanIDConflict(ctx context.Context, dest net.Addr, r PanIDConflict) error {
	_, err := c.post(ctx, dest, PathPanIDConflict, r.encode())
	return err
}

// ReportEnergy sends an energy scan result to a commissioner.
func (c *Client) ReportEnergy(ctx context.Context, dest net.Addr, r EnergyReport) error {
	_, err := c.post(ctx, dest, PathEnergyReport, r.encode())
	return err
}
