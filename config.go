// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coapbridge holds the configuration of the CoAP/radio gateway.
package coapbridge

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/absmach/coapbridge/pkg/breaker"
	"github.com/absmach/coapbridge/pkg/bridge"
	"github.com/absmach/coapbridge/pkg/gateway"
	"github.com/caarlos0/env/v11"
)

// Radio transports.
const (
	RadioSerial = "serial"
	RadioUDP    = "udp"
)

// Config holds the gateway configuration.
type Config struct {
	// CoAP endpoint
	Host          string        `env:"HOST"           envDefault:""`
	Port          string        `env:"PORT"           envDefault:"5683"`
	PeerAddress   string        `env:"PEER_ADDRESS"   envDefault:""`
	PingInterval  time.Duration `env:"PING_INTERVAL"  envDefault:"0s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1s"`
	PeerTimeout   time.Duration `env:"PEER_TIMEOUT"   envDefault:"5m"`
	MaxPeers      int           `env:"MAX_PEERS"      envDefault:"1000"`
	BufferSize    int           `env:"BUFFER_SIZE"    envDefault:"1280"`

	// Bridge
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	MaxPending     int           `env:"MAX_PENDING"     envDefault:"256"`

	// InitialMessageID seeds ping message ids; negative picks a random one.
	InitialMessageID int `env:"INITIAL_MESSAGE_ID" envDefault:"-1"`

	// Radio side
	RadioTransport string `env:"RADIO_TRANSPORT" envDefault:"serial"`
	SerialPort     string `env:"SERIAL_PORT"     envDefault:"/dev/ttyUSB0"`
	SerialBaud     int    `env:"SERIAL_BAUD"     envDefault:"115200"`
	RadioAddress   string `env:"RADIO_ADDRESS"   envDefault:""`

	// Rate Limiting
	RateLimitCapacity int64 `env:"RATE_LIMIT_CAPACITY" envDefault:"100"`
	RateLimitRefill   int64 `env:"RATE_LIMIT_REFILL"   envDefault:"10"`

	// Circuit Breaker
	BreakerMaxFailures      int           `env:"BREAKER_MAX_FAILURES"      envDefault:"5"`
	BreakerResetTimeout     time.Duration `env:"BREAKER_RESET_TIMEOUT"     envDefault:"30s"`
	BreakerSuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"1"`

	// Observability
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// NewConfig parses the configuration from the environment.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks settings that env tags cannot express.
func (c Config) Validate() error {
	switch c.RadioTransport {
	case RadioSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("serial radio transport requires a serial port")
		}
	case RadioUDP:
		if c.RadioAddress == "" {
			return fmt.Errorf("udp radio transport requires a radio address")
		}
	default:
		return fmt.Errorf("unknown radio transport %q", c.RadioTransport)
	}
	if c.Port == "" {
		return fmt.Errorf("port not configured")
	}
	if c.InitialMessageID > math.MaxUint16 {
		return fmt.Errorf("invalid initial message id: %d", c.InitialMessageID)
	}
	if c.MaxPending < 0 {
		return fmt.Errorf("invalid max pending: %d", c.MaxPending)
	}

	return nil
}

// Address returns the CoAP listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// GatewayConfig maps the configuration onto gateway settings.
func (c Config) GatewayConfig(logger *slog.Logger) gateway.Config {
	mid := c.InitialMessageID
	if mid < 0 {
		mid = rand.Intn(math.MaxUint16 + 1)
	}

	return gateway.Config{
		Address:       c.Address(),
		PeerAddress:   c.PeerAddress,
		PingInterval:  c.PingInterval,
		SweepInterval: c.SweepInterval,
		PeerTimeout:   c.PeerTimeout,
		MaxPeers:      c.MaxPeers,
		BufferSize:    c.BufferSize,
		RateCapacity:  c.RateLimitCapacity,
		RateRefill:    c.RateLimitRefill,
		Bridge: bridge.Config{
			Timeout:          c.RequestTimeout,
			MaxPending:       c.MaxPending,
			InitialMessageID: uint16(mid),
			Logger:           logger,
		},
		Breaker: breaker.Config{
			MaxFailures:      c.BreakerMaxFailures,
			ResetTimeout:     c.BreakerResetTimeout,
			SuccessThreshold: c.BreakerSuccessThreshold,
		},
		Logger: logger,
	}
}
