// Package broker runs an embedded MQTT broker so the scheduler can publish
// events on a network without one.
package broker

import (
	"fmt"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
)

// Broker is a running embedded MQTT broker.
type Broker struct {
	server *mqttv2.Server
	log    *zap.Logger
	addr   string
}

// Start listens on addr (e.g. ":1883") and serves in the background.
func Start(addr string, log *zap.Logger) (*Broker, error) {
	if log == nil {
		log = zap.NewNop()
	}

	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
	})

	// Allow all connections.
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	if err := server.Serve(); err != nil {
		server.Close()
		return nil, fmt.Errorf("serve: %w", err)
	}

	log.Info("embedded mqtt broker listening", zap.String("addr", addr))
	return &Broker{server: server, log: log, addr: addr}, nil
}

// Addr returns the configured listen address.
func (b *Broker) Addr() string {
	return b.addr
}

// Subscribe delivers messages matching filter to fn through the inline client.
func (b *Broker) Subscribe(filter string, id int, fn func(topic string, payload []byte)) error {
	return b.server.Subscribe(filter, id, func(_ *mqttv2.Client, _ packets.Subscription, pk packets.Packet) {
		fn(pk.TopicName, pk.Payload)
	})
}

// Close stops the broker.
func (b *Broker) Close() error {
	b.log.Info("embedded mqtt broker stopping")
	return b.server.Close()
}
