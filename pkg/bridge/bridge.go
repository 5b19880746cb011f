// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/coapbridge/pkg/coap"
	bridgeerrors "github.com/absmach/coapbridge/pkg/errors"
	"github.com/absmach/coapbridge/pkg/radio"
	"github.com/absmach/coapbridge/pkg/resource"
)

// DefaultTimeout is the age after which a pending request is swept.
const DefaultTimeout = 5 * time.Second

// Config holds Bridge configuration.
type Config struct {
	// Timeout is the pending request age swept by DeleteTimedOut.
	Timeout time.Duration
	// MaxPending bounds the pending table. Zero means unbounded.
	MaxPending int
	// InitialMessageID is the first message id used for pings.
	InitialMessageID uint16
	Clock            Clock
	Logger           *slog.Logger
}

// Bridge translates between CoAP requests and radio messages. It is not
// safe for concurrent use: callers serialize every method.
type Bridge struct {
	cfg       Config
	coapSink  CoAPSink
	radioSink RadioSink
	clock     Clock
	logger    *slog.Logger

	resources *resource.Trie
	pending   *pendingTable
	telemetry telemetry
	nextID    uint16
}

// New creates a Bridge with the default resources registered.
func New(cfg Config, coapSink CoAPSink, radioSink RadioSink) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Bridge{
		cfg:       cfg,
		coapSink:  coapSink,
		radioSink: radioSink,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "bridge"),
		resources: resource.NewTrie(),
		pending:   newPendingTable(cfg.MaxPending),
		nextID:    cfg.InitialMessageID,
	}
	for _, r := range defaultResources {
		b.resources.Insert(r.path, r.id)
	}

	return b
}

// RegisterResource maps path to id, replacing any previous mapping.
func (b *Bridge) RegisterResource(path []string, id resource.ID) {
	b.resources.Insert(path, id)
}

// Telemetry returns a snapshot of the bridge counters.
func (b *Bridge) Telemetry() Telemetry {
	return b.telemetry.Telemetry
}

// Awaiting reports whether a client request with messageID is waiting for
// a radio reply. Pings do not count.
func (b *Bridge) Awaiting(messageID uint16) bool {
	p, ok := b.pending.get(messageID)
	return ok && !p.ping
}

// Pending returns the number of requests waiting for a reply.
func (b *Bridge) Pending() int {
	return b.pending.len()
}

// HandleCoAP dispatches an inbound CoAP message. Requests that cannot be
// served are answered with an error response and return nil. A non-nil
// error means a sink failed or the message id is already pending for another
// client request, in which case nothing was emitted. Responses (ACK or RST)
// are never answered.
func (b *Bridge) HandleCoAP(msg *coap.Message) error {
	switch {
	case msg.Code == coap.Empty && (msg.Type == coap.Acknowledgement || msg.Type == coap.Reset):
		b.handlePong(msg)
		return nil
	case msg.Code == coap.Empty && msg.Type == coap.Confirmable:
		return b.handlePing(msg)
	case msg.Type == coap.Acknowledgement || msg.Type == coap.Reset:
		// A response has no requester to answer.
		b.telemetry.Stray++
		b.logger.Debug("dropping unexpected response",
			slog.String("type", msg.Type.String()),
			slog.String("code", msg.Code.String()),
			slog.Int("message_id", int(msg.MessageID)))
		return nil
	case msg.Code == coap.GET:
		return b.handleGet(msg)
	case msg.Code == coap.PUT:
		return b.handlePut(msg)
	default:
		b.logger.Debug("unsupported method",
			slog.String("code", msg.Code.String()),
			slog.Int("message_id", int(msg.MessageID)))
		return b.respond(msg, coap.BadRequest, nil)
	}
}

// HandleRadio matches a radio reply against the pending table and answers
// the original requester. Replies without a pending request are dropped.
func (b *Bridge) HandleRadio(msg radio.Message) error {
	p, ok := b.pending.take(msg.MessageID)
	if !ok {
		b.telemetry.Stray++
		b.logger.Debug("dropping radio reply",
			slog.Int("message_id", int(msg.MessageID)),
			slog.String("code", msg.Code.String()),
			slog.String("error", bridgeerrors.ErrStrayReply.Error()))
		return nil
	}

	b.telemetry.observe(b.clock.Now().Sub(p.sent))
	if p.ping {
		return nil
	}

	res := p.response()
	switch {
	case msg.Code == radio.CodeGet && p.method == coap.GET:
		res.Code = coap.Content
	case msg.Code == radio.CodePut && p.method == coap.PUT:
		res.Code = coap.Changed
	case msg.Code == radio.CodeNotFound:
		res.Code = coap.NotFound
	default:
		res.Code = coap.BadGateway
	}
	if res.Code == coap.Content || res.Code == coap.Changed {
		res.AddOption(coap.NewUintOption(coap.ContentFormat, uint32(coap.TextPlain)))
		res.Payload = []byte(strconv.FormatUint(uint64(msg.Value), 10))
	}

	return b.send(res)
}

// SendPing emits a Confirmable empty message with a fresh message id and
// tracks it like any other pending request.
func (b *Bridge) SendPing() error {
	p := pendingRequest{
		messageID: b.freeMessageID(),
		typ:       coap.Confirmable,
		method:    coap.Empty,
		ping:      true,
		sent:      b.clock.Now(),
	}
	if err := b.pending.insert(p); err != nil {
		return bridgeerrors.New("ping", "coap", p.messageID, err)
	}

	if err := b.coapSink.SendCoAP(coap.NewMessage(coap.Confirmable, coap.Empty, p.messageID)); err != nil {
		b.pending.take(p.messageID)
		return bridgeerrors.New("ping", "coap", p.messageID, err)
	}
	b.telemetry.PingCount++

	return nil
}

// DeleteTimedOut removes every pending request older than the configured
// timeout and returns how many were removed. No response is emitted.
func (b *Bridge) DeleteTimedOut() int {
	expired := b.pending.expire(b.clock.Now(), b.cfg.Timeout)
	for _, p := range expired {
		b.logger.Debug("dropping pending request",
			slog.Int("message_id", int(p.messageID)),
			slog.Bool("ping", p.ping),
			slog.String("error", bridgeerrors.ErrRequestTimedOut.Error()))
	}
	b.telemetry.TimedOut += uint64(len(expired))
	return len(expired)
}

func (b *Bridge) handlePing(msg *coap.Message) error {
	b.telemetry.PingCount++
	return b.send(coap.NewMessage(coap.Reset, coap.Empty, msg.MessageID))
}

func (b *Bridge) handlePong(msg *coap.Message) {
	p, ok := b.pending.get(msg.MessageID)
	if !ok || !p.ping {
		b.telemetry.Stray++
		return
	}
	b.pending.take(msg.MessageID)
	b.telemetry.observe(b.clock.Now().Sub(p.sent))
}

func (b *Bridge) handleGet(msg *coap.Message) error {
	id, ok := b.resources.Search(msg.Path())
	if !ok {
		return b.respond(msg, coap.NotFound, nil)
	}
	if !IsLocal(id) {
		return b.forward(msg, id, radio.CodeGet, 0)
	}

	payload, format, ok := b.localValue(id)
	if !ok {
		return b.respond(msg, coap.NotFound, nil)
	}
	res := newResponse(msg, coap.Content)
	res.AddOption(coap.NewUintOption(coap.ContentFormat, uint32(format)))
	res.Payload = payload

	return b.send(res)
}

func (b *Bridge) handlePut(msg *coap.Message) error {
	value, err := parseValue(msg)
	if err != nil {
		b.logger.Debug("rejecting put payload",
			slog.Int("message_id", int(msg.MessageID)),
			slog.String("error", err.Error()))
		return b.respond(msg, coap.BadRequest, nil)
	}

	id, ok := b.resources.Search(msg.Path())
	switch {
	case !ok:
		return b.respond(msg, coap.NotFound, nil)
	case IsLocal(id):
		return b.respond(msg, coap.MethodNotAllowed, nil)
	default:
		return b.forward(msg, id, radio.CodePut, value)
	}
}

// forward records msg as pending and sends the radio request for it.
func (b *Bridge) forward(msg *coap.Message, id resource.ID, code radio.Code, value uint16) error {
	p := pendingRequest{
		messageID: msg.MessageID,
		token:     msg.Token(),
		typ:       msg.Type,
		method:    msg.Code,
		resource:  id,
		sent:      b.clock.Now(),
	}
	// Pings draw ids from the same space as clients. A client request wins
	// and the ping's acknowledgement will be counted as stray.
	if existing, ok := b.pending.get(msg.MessageID); ok && existing.ping {
		b.pending.take(msg.MessageID)
		b.logger.Debug("dropping ping for colliding request",
			slog.Int("message_id", int(msg.MessageID)))
	}
	if err := b.pending.insert(p); err != nil {
		if errors.Is(err, bridgeerrors.ErrDuplicateRequest) {
			return bridgeerrors.New("dispatch", "coap", msg.MessageID, err)
		}
		b.logger.Warn("pending table full", slog.Int("message_id", int(msg.MessageID)))
		return b.respond(msg, coap.ServiceUnavailable, nil)
	}

	req := radio.Message{
		MessageID: msg.MessageID,
		Code:      code,
		Resource:  uint16(id),
		Value:     value,
	}
	if err := b.radioSink.SendRadio(req); err != nil {
		b.pending.take(msg.MessageID)
		radioErr := bridgeerrors.New("forward", "radio", msg.MessageID,
			fmt.Errorf("%w: %w", bridgeerrors.ErrRadioUnavailable, err))
		return errors.Join(radioErr, b.respond(msg, coap.ServiceUnavailable, nil))
	}

	return nil
}

func (b *Bridge) localValue(id resource.ID) ([]byte, coap.MediaType, bool) {
	t := b.telemetry.Telemetry
	switch id {
	case RTT:
		return formatInt(t.MeanRTT.Milliseconds()), coap.TextPlain, true
	case Jitter:
		return formatInt(t.LastJitter.Milliseconds()), coap.TextPlain, true
	case TimedOut:
		return []byte(strconv.FormatUint(t.TimedOut, 10)), coap.TextPlain, true
	case WellKnownCore:
		return b.linkFormat(), coap.AppLinkFormat, true
	default:
		return nil, 0, false
	}
}

// linkFormat lists every registered resource except discovery itself in
// CoRE link format.
func (b *Bridge) linkFormat() []byte {
	var links []string
	b.resources.Walk(func(path []string, id resource.ID) {
		if id == WellKnownCore {
			return
		}
		links = append(links, "</"+strings.Join(path, "/")+">")
	})
	return []byte(strings.Join(links, ","))
}

// freeMessageID returns the next message id that is not pending.
func (b *Bridge) freeMessageID() uint16 {
	for i := 0; i <= 0xFFFF; i++ {
		id := b.nextID
		b.nextID++
		if _, ok := b.pending.get(id); !ok {
			return id
		}
	}
	return b.nextID
}

func (b *Bridge) respond(req *coap.Message, code coap.Code, payload []byte) error {
	res := newResponse(req, code)
	res.Payload = payload
	return b.send(res)
}

func (b *Bridge) send(msg *coap.Message) error {
	if err := b.coapSink.SendCoAP(msg); err != nil {
		return bridgeerrors.New("respond", "coap", msg.MessageID, err)
	}
	return nil
}

// newResponse builds a response echoing the message id and token of req.
func newResponse(req *coap.Message, code coap.Code) *coap.Message {
	return responseFor(req.Type, req.MessageID, req.Token(), code)
}

func (p pendingRequest) response() *coap.Message {
	return responseFor(p.typ, p.messageID, p.token, coap.Empty)
}

func responseFor(reqType coap.Type, messageID uint16, token []byte, code coap.Code) *coap.Message {
	typ := coap.Acknowledgement
	if reqType == coap.NonConfirmable {
		typ = coap.NonConfirmable
	}
	res := coap.NewMessage(typ, code, messageID)
	// Tokens were validated when the request was decoded.
	_ = res.SetToken(token)
	return res
}

// parseValue reads a PUT payload as a uint16. Text payloads are decimal,
// octet-stream payloads are one or two big-endian bytes.
func parseValue(msg *coap.Message) (uint16, error) {
	format, present, err := msg.ContentFormat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", bridgeerrors.ErrBadPayload, err)
	}
	if !present {
		format = coap.TextPlain
	}

	switch format {
	case coap.TextPlain:
		v, err := strconv.ParseUint(string(msg.Payload), 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", bridgeerrors.ErrBadPayload, err)
		}
		return uint16(v), nil
	case coap.AppOctetStream:
		switch len(msg.Payload) {
		case 1:
			return uint16(msg.Payload[0]), nil
		case 2:
			return uint16(msg.Payload[0])<<8 | uint16(msg.Payload[1]), nil
		}
		return 0, fmt.Errorf("%w: %d byte octet-stream value", bridgeerrors.ErrBadPayload, len(msg.Payload))
	default:
		return 0, fmt.Errorf("%w: content format %d", bridgeerrors.ErrBadPayload, format)
	}
}

func formatInt(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}
