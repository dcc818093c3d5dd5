// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nats provides the optional remote-subscriber transport used by the
// driver adapter's report fan-out (see internal/adapter) and by the trace
// context registry's span exporter (see internal/tracectx).
//
// A subscriber app is ordinarily reached over a local UNIX datagram socket
// (TRANS_DATA messages), but a subscriber record may instead name a NATS
// subject, in which case the adapter publishes the same payload shape here
// instead. The package wraps nats.go with connection management and
// subscription bookkeeping; it does not know about tag values or reports.
package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgehaus/iiot-gateway-core/pkg/log"
	"github.com/nats-io/nats.go"
)

var (
	clientOnce     sync.Once
	clientInstance *Client
)

// Client wraps a NATS connection with subscription management.
type Client struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
}

// MessageHandler is a callback function for processing received messages.
type MessageHandler func(subject string, data []byte)

// Connect initializes the singleton NATS client using the global Keys config.
// If Keys.Address is empty, the gateway runs without a remote-subscriber
// transport: local UNIX-datagram subscribers still work.
func Connect() {
	clientOnce.Do(func() {
		if Keys.Address == "" {
			log.Info("NATS: no address configured, remote subscriber transport disabled")
			return
		}

		client, err := NewClient(nil)
		if err != nil {
			log.Warnf("NATS connection failed: %v", err)
			return
		}

		clientInstance = client
	})
}

// GetClient returns the singleton NATS client instance, or nil if Connect
// was never called or the configured address was empty.
func GetClient() *Client {
	return clientInstance
}

// NewClient creates a new NATS client. If cfg is nil, uses the global Keys config.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Keys
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("NATS address is required")
	}

	var opts []nats.Option

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}

	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			log.Warnf("NATS disconnected: %v", err)
		}
	}))

	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
	}))

	opts = append(opts, nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
		log.Errorf("NATS error: %v", err)
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("NATS connect failed: %w", err)
	}

	log.Infof("NATS connected to %s", cfg.Address)

	return &Client{
		conn:          nc,
		subscriptions: make([]*nats.Subscription, 0),
	}, nil
}

// Subscribe registers a handler for messages on the given subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("NATS subscribe to '%s' failed: %w", subject, err)
	}

	c.subscriptions = append(c.subscriptions, sub)
	log.Infof("NATS subscribed to '%s'", subject)
	return nil
}

// PublishReport sends one TRANS_DATA payload to subject. The adapter's
// DatagramSender calls it once per remote subscriber, passing the
// subscriber's address as the subject (see internal/adapter/transdata.go).
func (c *Client) PublishReport(subject string, payload []byte) error {
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("NATS publish to '%s' failed: %w", subject, err)
	}
	return nil
}

// Request sends a request and waits for a response with the given context timeout.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("NATS request to '%s' failed: %w", subject, err)
	}
	return msg.Data, nil
}

// Close unsubscribes all subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			log.Warnf("NATS unsubscribe failed: %v", err)
		}
	}
	c.subscriptions = nil

	if c.conn != nil {
		c.conn.Close()
		log.Info("NATS connection closed")
	}
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// ReportSubject builds the NATS subject a remote subscriber's reports are
// published on from its (app,driver,group) triple.
func ReportSubject(appName, driverName, groupName string) string {
	return fmt.Sprintf("neuron.report.%s.%s.%s", driverName, groupName, appName)
}
