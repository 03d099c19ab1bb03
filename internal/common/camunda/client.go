// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"readiness-workers/internal/common/config"
	"readiness-workers/internal/common/errors"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client owns the Zeebe gateway connection shared by every assessment worker.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	Retry                  RetryPolicy
}

// RetryPolicy bounds the exponential backoff applied to transient gateway errors.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   10 * time.Second,
}

// ConfigFrom maps the camunda config section; timeouts are in milliseconds.
func ConfigFrom(cfg config.CamundaConfig) *ClientConfig {
	return &ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: cfg.UsePlaintext,
		ConnectionTimeout:      config.GetDuration(cfg.RequestTimeout),
		RequestTimeout:         config.GetDuration(cfg.RequestTimeout),
		Retry:                  DefaultRetryPolicy,
	}
}

// NewClientWithConfig dials the gateway and fails unless a topology request
// succeeds within ConnectionTimeout.
func NewClientWithConfig(cfg *ClientConfig) (*Client, error) {
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	if _, err := zeebeClient.NewTopologyCommand().Send(ctx); err != nil {
		zeebeClient.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", cfg.GatewayAddress, err)
	}

	return &Client{client: zeebeClient, config: cfg}, nil
}

// GetClient exposes the raw client for opening job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// BrokerStatus is the gateway's view of the cluster, reported on /ready.
type BrokerStatus struct {
	Brokers        int    `json:"brokers"`
	ClusterSize    int    `json:"clusterSize"`
	GatewayVersion string `json:"gatewayVersion"`
}

// Ready requests the cluster topology, retrying transient failures. A
// cluster that reports no brokers is BROKER_UNAVAILABLE.
func (c *Client) Ready(ctx context.Context) (*BrokerStatus, error) {
	var status BrokerStatus
	err := c.withRetry(ctx, "topology", func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		topology, err := c.client.NewTopologyCommand().Send(reqCtx)
		if err != nil {
			return err
		}
		status = BrokerStatus{
			Brokers:        len(topology.GetBrokers()),
			ClusterSize:    int(topology.GetClusterSize()),
			GatewayVersion: topology.GetGatewayVersion(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if status.Brokers == 0 {
		return &status, errors.NewBrokerUnavailableError("topology", fmt.Errorf("no brokers in topology"))
	}
	return &status, nil
}

// withRetry runs fn with exponential backoff. Permanent errors and the last
// transient error are classified into broker error codes.
func (c *Client) withRetry(ctx context.Context, operation string, fn func(context.Context) error) error {
	policy := c.config.Retry
	delay := policy.BaseDelay

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= policy.MaxRetries {
			return classify(err, operation, attempt+1)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return classify(ctx.Err(), operation, attempt+1)
		}
		if delay *= 2; delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}

var transientPhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func classify(err error, operation string, attempts int) error {
	wrapped := fmt.Errorf("zeebe %s failed after %d attempt(s): %w", operation, attempts, err)

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errors.NewBrokerTimeoutError(operation, wrapped)
	}
	return errors.NewBrokerUnavailableError(operation, wrapped)
}
