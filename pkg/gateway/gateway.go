// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/coapbridge/pkg/breaker"
	"github.com/absmach/coapbridge/pkg/bridge"
	"github.com/absmach/coapbridge/pkg/coap"
	"github.com/absmach/coapbridge/pkg/metrics"
	"github.com/absmach/coapbridge/pkg/radio"
	"github.com/absmach/coapbridge/pkg/ratelimit"
	"github.com/absmach/coapbridge/pkg/resource"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSweepInterval is the default period of the pending request sweep.
	DefaultSweepInterval = time.Second

	// DefaultPeerTimeout is the default idle timeout for CoAP peers.
	DefaultPeerTimeout = 5 * time.Minute

	// MaxDatagramSize is the maximum size of a UDP datagram.
	MaxDatagramSize = 65535

	// DefaultBufferSize is the default buffer size for CoAP datagrams.
	DefaultBufferSize = 1280

	reconnectDelay = time.Second
)

// ErrNoRoute is returned when an outbound CoAP message has no destination.
var ErrNoRoute = errors.New("no peer to route message to")

// Config holds the gateway configuration.
type Config struct {
	// Address is the CoAP listen address (host:port)
	Address string

	// PeerAddress receives the gateway's own pings and responses whose
	// requester is unknown. Empty disables pings.
	PeerAddress string

	// PingInterval is the period of liveness pings. Zero disables them.
	PingInterval time.Duration

	// SweepInterval is the period of the pending request sweep.
	SweepInterval time.Duration

	// PeerTimeout is the idle time after which a peer is forgotten.
	PeerTimeout time.Duration

	// MaxPeers limits tracked peers. Zero means no limit.
	MaxPeers int

	// BufferSize is the size of datagram read buffers in bytes.
	BufferSize int

	// RateCapacity and RateRefill configure the per-peer token bucket.
	// Zero capacity disables rate limiting.
	RateCapacity int64
	RateRefill   int64

	Bridge  bridge.Config
	Breaker breaker.Config

	Logger *slog.Logger
}

// Gateway runs a Bridge between a UDP CoAP endpoint and a radio transport.
// Every bridge entry point runs under one mutex.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	radio    radio.Transport
	metrics  *metrics.Metrics
	peers    *PeerTable
	limiter  *ratelimit.Limiter
	breaker  *breaker.CircuitBreaker
	peerAddr *net.UDPAddr

	bufferPool *sync.Pool

	mu     sync.Mutex
	bridge *bridge.Bridge
	// sender is the peer whose datagram the bridge is handling, if any.
	sender *Peer

	conn  *net.UDPConn
	ready chan struct{}
}

// New creates a gateway that forwards remote requests over tr. A nil m
// records metrics into a private registry.
func New(cfg Config, tr radio.Transport, m *metrics.Metrics) (*Gateway, error) {
	if m == nil {
		m = metrics.New("", prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.Bridge.Logger == nil {
		cfg.Bridge.Logger = cfg.Logger
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "gateway"),
		radio:   tr,
		metrics: m,
		peers:   NewPeerTable(cfg.Logger, cfg.MaxPeers),
		breaker: breaker.New(cfg.Breaker),
		ready:   make(chan struct{}),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, cfg.BufferSize)
				return &buf
			},
		},
	}

	if cfg.RateCapacity > 0 {
		g.limiter = ratelimit.NewLimiter(cfg.RateCapacity, cfg.RateRefill, cfg.MaxPeers)
	}

	if cfg.PeerAddress != "" {
		addr, err := net.ResolveUDPAddr("udp", cfg.PeerAddress)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve peer address %s: %w", cfg.PeerAddress, err)
		}
		g.peerAddr = addr
	}

	g.breaker.OnStateChange(func(from, to breaker.State) {
		g.metrics.CircuitBreakerState.WithLabelValues(tr.Name()).Set(float64(to))
		if to == breaker.StateOpen {
			g.metrics.CircuitBreakerTrips.WithLabelValues(tr.Name()).Inc()
		}
		g.logger.Warn("radio circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	g.bridge = bridge.New(cfg.Bridge, g, bridge.RadioSinkFunc(g.sendRadio))

	return g, nil
}

// Ready is closed once the UDP endpoint is listening.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Addr returns the UDP listen address, or nil before Ready.
func (g *Gateway) Addr() net.Addr {
	select {
	case <-g.ready:
		return g.conn.LocalAddr()
	default:
		return nil
	}
}

// Pending returns the number of requests waiting for a radio reply.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.Pending()
}

// RadioConnected reports whether the radio link is up.
func (g *Gateway) RadioConnected() bool {
	return g.radio.Connected()
}

// Telemetry returns a snapshot of the bridge telemetry.
func (g *Gateway) Telemetry() bridge.Telemetry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bridge.Telemetry()
}

// RegisterResource maps an additional path to a resource id.
func (g *Gateway) RegisterResource(path []string, id resource.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bridge.RegisterResource(path, id)
}

// Listen serves CoAP on the configured address until ctx is cancelled.
func (g *Gateway) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", g.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address %s: %w", g.cfg.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.cfg.Address, err)
	}
	g.conn = conn
	close(g.ready)

	g.logger.Info("CoAP gateway started",
		slog.String("address", conn.LocalAddr().String()),
		slog.String("radio", g.radio.Name()),
		slog.Duration("ping_interval", g.cfg.PingInterval),
		slog.Duration("sweep_interval", g.cfg.SweepInterval))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return g.readCoAP(ctx)
	})
	eg.Go(func() error {
		return g.readRadio(ctx)
	})
	eg.Go(func() error {
		return g.tick(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		g.logger.Info("shutdown signal received, closing listener")
		if err := conn.Close(); err != nil {
			g.logger.Error("error closing listener", slog.String("error", err.Error()))
		}
		return g.radio.Close()
	})

	return eg.Wait()
}

// readCoAP is the UDP read loop.
func (g *Gateway) readCoAP(ctx context.Context) error {
	for {
		bufPtr := g.bufferPool.Get().(*[]byte)
		buffer := *bufPtr

		n, clientAddr, err := g.conn.ReadFromUDP(buffer)
		if err != nil {
			g.bufferPool.Put(bufPtr)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			g.metrics.TransportErrors.WithLabelValues("coap", "read").Inc()
			g.logger.Error("failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		// Unmarshal copies what it keeps, so the buffer can go back right away.
		g.handleDatagram(clientAddr, buffer[:n])
		g.bufferPool.Put(bufPtr)
	}
}

func (g *Gateway) handleDatagram(addr *net.UDPAddr, data []byte) {
	if g.limiter != nil && !g.limiter.Allow(addr.String()) {
		g.metrics.RateLimitedRequests.Inc()
		g.logger.Debug("dropping datagram",
			slog.String("client", addr.String()),
			slog.String("error", ratelimit.ErrRateLimitExceeded.Error()))
		return
	}

	msg, err := coap.Unmarshal(data)
	if err != nil {
		g.metrics.MalformedMessages.WithLabelValues("coap").Inc()
		g.logger.Debug("dropping malformed datagram",
			slog.String("client", addr.String()),
			slog.String("error", err.Error()))
		return
	}
	g.metrics.CoAPMessages.WithLabelValues("in", msg.Type.String(), codeLabel(msg.Code)).Inc()

	peer, _, err := g.peers.Touch(addr)
	if err != nil {
		g.logger.Warn("rejecting peer", slog.String("error", err.Error()))
		return
	}

	err = g.dispatch("coap", func() error {
		// An id already awaiting the radio belongs to its requester.
		claimed := g.bridge.Awaiting(msg.MessageID)

		g.sender = peer
		err := g.bridge.HandleCoAP(msg)
		g.sender = nil

		if !claimed && g.bridge.Awaiting(msg.MessageID) {
			g.peers.Route(msg.MessageID, peer)
		}
		return err
	})
	if err != nil {
		g.logger.Warn("failed to handle CoAP message",
			slog.String("session", peer.ID),
			slog.String("message", msg.String()),
			slog.String("error", err.Error()))
	}
}

// readRadio feeds radio replies to the bridge, reconnecting the transport
// when it fails.
func (g *Gateway) readRadio(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !g.radio.Connected() {
			if err := g.radio.Connect(ctx); err != nil {
				g.metrics.TransportErrors.WithLabelValues("radio", "connect").Inc()
				g.logger.Warn("radio connect failed", slog.String("error", err.Error()))
				if !sleep(ctx, reconnectDelay) {
					return nil
				}
				continue
			}
		}

		msg, err := g.radio.ReadMessage(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, radio.ErrInvalidRecord):
			g.metrics.MalformedMessages.WithLabelValues("radio").Inc()
			g.logger.Debug("dropping malformed radio record", slog.String("error", err.Error()))
			continue
		default:
			g.metrics.TransportErrors.WithLabelValues("radio", "read").Inc()
			g.logger.Warn("radio read failed, reconnecting", slog.String("error", err.Error()))
			if err := g.radio.Close(); err != nil {
				g.logger.Warn("failed to close radio", slog.String("error", err.Error()))
			}
			if !sleep(ctx, reconnectDelay) {
				return nil
			}
			continue
		}

		g.metrics.RadioMessages.WithLabelValues("in", msg.Code.String()).Inc()
		if err := g.dispatch("radio", func() error { return g.bridge.HandleRadio(msg) }); err != nil {
			g.logger.Warn("failed to handle radio message",
				slog.Int("message_id", int(msg.MessageID)),
				slog.String("error", err.Error()))
		}
	}
}

// tick runs the ping and sweep timers.
func (g *Gateway) tick(ctx context.Context) error {
	sweep := time.NewTicker(g.cfg.SweepInterval)
	defer sweep.Stop()

	var pingC <-chan time.Time
	if g.cfg.PingInterval > 0 && g.peerAddr != nil {
		ping := time.NewTicker(g.cfg.PingInterval)
		defer ping.Stop()
		pingC = ping.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingC:
			if err := g.dispatch("ping", g.bridge.SendPing); err != nil {
				g.logger.Warn("failed to send ping", slog.String("error", err.Error()))
			}
		case <-sweep.C:
			g.dispatch("sweep", func() error {
				if n := g.bridge.DeleteTimedOut(); n > 0 {
					g.logger.Debug("swept timed out requests", slog.Int("count", n))
				}
				g.peers.Retain(g.bridge.Awaiting)
				return nil
			})
			g.peers.Cleanup(g.cfg.PeerTimeout)
			if g.limiter != nil {
				g.limiter.Prune(g.cfg.PeerTimeout)
			}
			g.metrics.ActivePeers.Set(float64(g.peers.Count()))
		}
	}
}

// dispatch runs fn under the bridge lock and publishes telemetry.
func (g *Gateway) dispatch(source string, fn func() error) error {
	g.mu.Lock()
	err := g.metrics.ObserveDispatch(source, fn)
	tel, pending := g.bridge.Telemetry(), g.bridge.Pending()
	g.mu.Unlock()

	g.metrics.ObserveTelemetry(tel, pending)
	return err
}

// SendCoAP writes msg to the peer that is waiting for it: the sender of the
// datagram being handled, or the peer routed for a radio reply. Pings and
// unrouted replies go to the configured peer address. It runs under the
// bridge lock.
func (g *Gateway) SendCoAP(msg *coap.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	dest := g.peerAddr
	switch {
	case g.sender != nil:
		dest = g.sender.Addr
	case !isPing(msg):
		if p, ok := g.peers.Resolve(msg.MessageID); ok {
			dest = p.Addr
		}
	}
	if dest == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, msg)
	}

	if _, err := g.conn.WriteToUDP(data, dest); err != nil {
		g.metrics.TransportErrors.WithLabelValues("coap", "write").Inc()
		return err
	}
	g.metrics.CoAPMessages.WithLabelValues("out", msg.Type.String(), codeLabel(msg.Code)).Inc()

	return nil
}

// sendRadio writes msg through the circuit breaker. It runs under the
// bridge lock.
func (g *Gateway) sendRadio(msg radio.Message) error {
	err := g.breaker.Call(func() error {
		return g.radio.SendRadio(msg)
	})
	if err != nil {
		g.metrics.TransportErrors.WithLabelValues("radio", "write").Inc()
		return err
	}
	g.metrics.RadioMessages.WithLabelValues("out", msg.Code.String()).Inc()
	return nil
}

func isPing(msg *coap.Message) bool {
	return msg.Type == coap.Confirmable && msg.Code == coap.Empty
}

func codeLabel(c coap.Code) string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
