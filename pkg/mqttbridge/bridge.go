// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttbridge publishes decoded frames to an MQTT broker and
// relays request frames from the broker to the link.
//
// Topics, below the configured prefix and the bridge id:
//
//	<prefix>/<id>/rx/<cmd>   JSON for every frame received from the drive
//	<prefix>/<id>/tx         hex request frames to forward to the drive
//	<prefix>/<id>/status     "online" (retained), "offline" as the will
package mqttbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/tcscope/pkg/tcproto"
)

const (
	appID          = "tcscope"
	publishTimeout = 2 * time.Second
)

// Link is the part of tclink.Client the bridge needs.
type Link interface {
	SendView(v tcproto.View) error
	Unsolicited() <-chan tcproto.View
}

// Options configures a Bridge.
type Options struct {
	Broker   string // Broker URL, see ClientOptionsFromURL
	Prefix   string // Topic prefix; overrides a prefix in the URL path
	ClientID string // Defaults to an id derived from the machine id
}

// Bridge connects a link to an MQTT broker.
type Bridge struct {
	client paho.Client
	prefix string
	id     string
	link   Link
	log    zerolog.Logger
}

// DefaultID returns a stable per-host id. The raw machine id is hashed
// with the application name so it is never published.
func DefaultID() (string, error) {
	id, err := machineid.ProtectedID(appID)
	if err != nil {
		return "", fmt.Errorf("mqttbridge: machine id: %w", err)
	}
	return appID + "-" + id[:12], nil
}

// New creates a bridge. Call Run to connect.
func New(opts Options, link Link) (*Bridge, error) {
	clientOpts, urlPrefix, err := ClientOptionsFromURL(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("mqttbridge: broker url: %w", err)
	}

	id := opts.ClientID
	if id == "" {
		id = clientOpts.ClientID
	}
	if id == "" {
		if id, err = DefaultID(); err != nil {
			return nil, err
		}
	}
	clientOpts.SetClientID(id)

	prefix := urlPrefix
	if opts.Prefix != "" {
		prefix = strings.Trim(opts.Prefix, "/")
	}

	clientOpts.SetWill(Topic(prefix, id, "status"), "offline", 1, true)
	b := newBridge(nil, prefix, id, link)
	clientOpts.SetOnConnectHandler(b.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.Warn().Err(err).Msg("mqtt connection lost")
	})
	b.client = paho.NewClient(clientOpts)
	return b, nil
}

func newBridge(client paho.Client, prefix, id string, link Link) *Bridge {
	return &Bridge{
		client: client,
		prefix: prefix,
		id:     id,
		link:   link,
		log:    log.Logger.With().Str("bridge", id).Logger(),
	}
}

// ID returns the client id used in topics.
func (b *Bridge) ID() string {
	return b.id
}

// Run connects and relays frames until ctx is done or the link's
// unsolicited channel closes.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqttbridge: connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	defer func() {
		b.publish(Topic(b.prefix, b.id, "status"), 1, true, []byte("offline"))
		b.client.Disconnect(250)
	}()

	b.log.Info().Str("prefix", b.prefix).Msg("bridge running")
	frames := b.link.Unsolicited()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-frames:
			if !ok {
				return fmt.Errorf("mqttbridge: link closed")
			}
			b.PublishFrame(v, time.Now())
		}
	}
}

// PublishFrame publishes one frame under rx/<cmd>.
func (b *Bridge) PublishFrame(v tcproto.View, ts time.Time) {
	payload, err := EncodeFrame(v, ts)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to encode frame")
		return
	}
	topic := Topic(b.prefix, b.id, "rx", strings.ToLower(tcproto.FormatCommand(v.Opcode())))
	b.publish(topic, 0, false, payload)
}

func (b *Bridge) publish(topic string, qos byte, retained bool, payload []byte) {
	token := b.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		b.log.Warn().Str("topic", topic).Msg("publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
	}
}

// onConnect runs on every (re)connect.
func (b *Bridge) onConnect(c paho.Client) {
	b.log.Info().Msg("mqtt connected")
	c.Subscribe(Topic(b.prefix, b.id, "tx"), 1, b.handleTx)
	b.publish(Topic(b.prefix, b.id, "status"), 1, true, []byte("online"))
}

func (b *Bridge) handleTx(_ paho.Client, msg paho.Message) {
	v, err := ParseTxPayload(msg.Payload())
	if err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("rejected tx frame")
		return
	}
	if err := b.link.SendView(v); err != nil {
		b.log.Warn().Err(err).Msg("failed to forward tx frame")
		return
	}
	b.log.Debug().
		Str("cmd", tcproto.FormatCommand(v.Opcode())).
		Uint8("seq", v.Seq()).
		Msg("forwarded tx frame")
}
