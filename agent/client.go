package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/go-resty/resty/v2"
)

// ErrBusy is returned when the server is handling another request for the
// device; the next poll retries.
var ErrBusy = errors.New("server busy")

// Client talks to the device facing API of the server.
type Client struct {
	http     *resty.Client
	deviceID string
}

func NewClient(serverURL, deviceID string) *Client {
	client := resty.New().
		SetBaseURL(serverURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:     client,
		deviceID: deviceID,
	}
}

// NextPlan asks for the next pending plan; nil means nothing is pending.
func (c *Client) NextPlan(ctx context.Context) (*model.PlanPayload, error) {
	var payload model.PlanPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", c.deviceID).
		SetResult(&payload).
		Get("/api/v1/device/{id}/plan")
	if err != nil {
		return nil, fmt.Errorf("poll plan: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return &payload, nil
	case http.StatusNoContent:
		return nil, nil
	case http.StatusConflict:
		return nil, ErrBusy
	default:
		return nil, fmt.Errorf("poll plan: %s", resp.Status())
	}
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.report(ctx, model.ExecutionReport{
		Device:           c.deviceID,
		ExecutionStatus:  true,
		ExecutionMessage: model.HealthCheckMessage,
	})
}

// Report sends the outcome of a watering run.
func (c *Client) Report(ctx context.Context, executed bool, message string) error {
	return c.report(ctx, model.ExecutionReport{
		Device:           c.deviceID,
		ExecutionStatus:  model.FlexBool(executed),
		ExecutionMessage: message,
	})
}

func (c *Client) report(ctx context.Context, report model.ExecutionReport) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(report).
		Post("/api/v1/device/report")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("report: %s", resp.Status())
	}
	return nil
}

func (c *Client) Telemetry(ctx context.Context, t model.Telemetry) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", c.deviceID).
		SetBody(t).
		Post("/api/v1/device/{id}/telemetry")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telemetry: %s", resp.Status())
	}
	return nil
}
