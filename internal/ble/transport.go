package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/ble/protocol"
)

// PayloadKind selects the write profile for a payload.
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadImage
)

func (k PayloadKind) String() string {
	if k == PayloadImage {
		return "image"
	}
	return "text"
}

// Profile controls how a payload is cut and paced on the link.
type Profile struct {
	ChunkSize    int           // bytes per GATT write
	WriteGap     time.Duration // sleep between unacknowledged writes
	WithResponse bool          // wait for the peripheral's acknowledgement per write
}

// Options configures the BLE transport.
type Options struct {
	WriteCharUUID  string // empty selects a characteristic automatically
	ScanTimeout    time.Duration
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	Retries        int // extra session attempts after a pre-write failure
	RetryDelay     time.Duration
	Text           Profile
	Image          Profile
}

// DefaultOptions returns the defaults for a typical 58mm BLE printer.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    8 * time.Second,
		ProbeTimeout:   3 * time.Second,
		ConnectTimeout: 20 * time.Second,
		Retries:        2,
		RetryDelay:     time.Second,
		Text:           Profile{ChunkSize: protocol.DefaultMTUPayload, WriteGap: 30 * time.Millisecond},
		Image:          Profile{ChunkSize: 100, WriteGap: 10 * time.Millisecond},
	}
}

// State is a point in a single send session's lifecycle.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnected
	StateWriting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transport sends rendered ESC/POS payloads to a BLE printer. Each Send
// opens its own connection and tears it down before returning.
type Transport struct {
	adapter Adapter
	opts    Options
	log     *zap.Logger
	sleep   func(time.Duration)
}

// NewTransport creates a transport over adapter. Zero option values fall
// back to DefaultOptions.
func NewTransport(adapter Adapter, opts Options, log *zap.Logger) *Transport {
	def := DefaultOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Text.ChunkSize <= 0 {
		opts.Text.ChunkSize = def.Text.ChunkSize
	}
	if opts.Image.ChunkSize <= 0 {
		opts.Image.ChunkSize = def.Image.ChunkSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		adapter: adapter,
		opts:    opts,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Options returns the effective options.
func (t *Transport) Options() Options {
	return t.opts
}

func (t *Transport) profile(kind PayloadKind) Profile {
	if kind == PayloadImage {
		return t.opts.Image
	}
	return t.opts.Text
}

// Send delivers payload to the printer at address. A failed session is
// retried only while nothing has been written, so a payload never prints
// twice. Once writing starts, ctx no longer interrupts the session.
func (t *Transport) Send(ctx context.Context, address string, payload []byte, kind PayloadKind) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: empty address", ErrDeviceNotFound)
	}
	profile := t.profile(kind)
	log := t.log.With(zap.String("address", address), zap.Stringer("kind", kind), zap.Int("bytes", len(payload)))

	var lastErr error
	for attempt := 0; attempt <= t.opts.Retries; attempt++ {
		if attempt > 0 {
			log.Info("retrying send", zap.Int("attempt", attempt+1), zap.Duration("delay", t.opts.RetryDelay))
			t.sleep(t.opts.RetryDelay)
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", lastErr, ctx.Err())
			}
		}

		s := &session{transport: t, address: address, log: log.With(zap.Int("attempt", attempt+1))}
		err := s.run(ctx, payload, profile)
		if err == nil {
			return nil
		}
		lastErr = err
		if s.written || !IsPreWrite(err) {
			return err
		}
		log.Warn("send attempt failed before writing", zap.Error(err))
	}
	return lastErr
}

// IsAvailable reports whether the printer is advertising. It scans for
// ProbeTimeout and never connects.
func (t *Transport) IsAvailable(ctx context.Context, address string) bool {
	if strings.TrimSpace(address) == "" {
		return false
	}
	if err := t.adapter.Enable(); err != nil {
		t.log.Debug("probe: adapter unavailable", zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.ProbeTimeout)
	defer cancel()

	found := false
	_, err := t.adapter.Scan(ctx, func(d Device) bool {
		if SameAddress(d.Address, address) {
			found = true
		}
		return found
	})
	if err != nil {
		t.log.Debug("probe: scan failed", zap.String("address", address), zap.Error(err))
		return false
	}
	return found
}

// session is one scan-connect-write attempt.
type session struct {
	transport *Transport
	address   string
	log       *zap.Logger
	state     State
	written   bool // set before the first chunk is handed to the link
}

func (s *session) transition(to State) {
	s.log.Debug("state", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
}

func (s *session) run(ctx context.Context, payload []byte, profile Profile) (err error) {
	t := s.transport
	defer func() {
		if err != nil {
			s.transition(StateFailed)
		} else {
			s.transition(StateDone)
		}
	}()

	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	s.transition(StateScanning)
	if err := s.find(ctx); err != nil {
		return err
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if derr := conn.Disconnect(); derr != nil {
			s.log.Debug("disconnect", zap.Error(derr))
		}
	}()
	s.transition(StateConnected)

	char, err := selectCharacteristic(conn, t.opts.WriteCharUUID)
	if err != nil {
		return err
	}
	s.log.Info("using characteristic", zap.String("uuid", char.UUID()), zap.Stringer("properties", char.Properties()))

	s.transition(StateWriting)
	return s.write(char, payload, profile)
}

func (s *session) find(ctx context.Context) error {
	t := s.transport
	ctx, cancel := context.WithTimeout(ctx, t.opts.ScanTimeout)
	defer cancel()

	found := false
	_, err := t.adapter.Scan(ctx, func(d Device) bool {
		if SameAddress(d.Address, s.address) {
			found = true
		}
		return found
	})
	if found {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: scan for %s: %v", ErrDeviceNotFound, s.address, err)
	}
	return fmt.Errorf("%w: %s not seen within %s", ErrDeviceNotFound, s.address, t.opts.ScanTimeout)
}

func (s *session) connect(ctx context.Context) (Connection, error) {
	t := s.transport
	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	conn, err := t.adapter.Connect(ctx, s.address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, s.address, err)
	}
	if !conn.Connected() {
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: %s reports not connected", ErrConnect, s.address)
	}
	return conn, nil
}

func (s *session) write(char Characteristic, payload []byte, profile Profile) error {
	chunks := protocol.Chunk(payload, profile.ChunkSize)
	sent := 0
	for i, chunk := range chunks {
		s.written = true
		if err := char.Write(chunk, profile.WithResponse); err != nil {
			return &WriteError{Chunk: i, Sent: sent, Err: err}
		}
		sent += len(chunk)
		// Acknowledged writes pace themselves.
		if !profile.WithResponse && profile.WriteGap > 0 && i < len(chunks)-1 {
			s.transport.sleep(profile.WriteGap)
		}
	}
	s.log.Info("payload written", zap.Int("chunks", len(chunks)), zap.Int("bytes", sent))
	return nil
}

// selectCharacteristic picks the characteristic to write to. A configured
// UUID must be exposed. Otherwise write-without-response beats write, and
// when no flags are known the first well-known printer UUID wins.
func selectCharacteristic(conn Connection, configured string) (Characteristic, error) {
	chars, err := conn.Characteristics()
	if err != nil {
		return nil, fmt.Errorf("%w: discover: %v", ErrNoWritableCharacteristic, err)
	}

	if configured = strings.TrimSpace(configured); configured != "" {
		for _, c := range chars {
			if strings.EqualFold(c.UUID(), configured) {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: %s not exposed", ErrNoWritableCharacteristic, configured)
	}

	var firstWrite Characteristic
	flagsKnown := false
	for _, c := range chars {
		p := c.Properties()
		if p != 0 {
			flagsKnown = true
		}
		if p&PropWriteWithoutResponse != 0 {
			return c, nil
		}
		if p&PropWrite != 0 && firstWrite == nil {
			firstWrite = c
		}
	}
	if firstWrite != nil {
		return firstWrite, nil
	}

	if !flagsKnown {
		for _, known := range KnownWriteCharUUIDs {
			for _, c := range chars {
				if strings.EqualFold(c.UUID(), known) {
					return c, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %d characteristics inspected", ErrNoWritableCharacteristic, len(chars))
}

// errNotScanned is returned by adapters asked to connect to an address they
// have not seen advertising.
var errNotScanned = errors.New("device has not been scanned")
