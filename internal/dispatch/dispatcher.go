// Package dispatch sends rendered mail artifacts one at a time with enforced
// pauses between messages and between waves.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/foxzi/chainmail/internal/artifact"
	"github.com/foxzi/chainmail/internal/mailer"
	"github.com/foxzi/chainmail/internal/metrics"
)

var (
	// ErrMissingTestAddress is returned when test mode has no destination
	ErrMissingTestAddress = errors.New("test mode requires a test address (TEST_EMAIL)")
	// ErrVerifyFailed wraps the transport verification error
	ErrVerifyFailed = errors.New("outbound channel verification failed")
	// ErrNoMessages is returned when there is nothing to send
	ErrNoMessages = errors.New("no mails to send")
)

// Mode selects where messages go
type Mode string

const (
	// ModeTest routes every message to the test address
	ModeTest Mode = "test"
	// ModeProduction sends to the real recipients
	ModeProduction Mode = "production"
)

// State is the dispatcher lifecycle state
type State int

const (
	StateIdle State = iota
	StateVerifying
	StateSending
	StatePausing
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVerifying:
		return "verifying"
	case StateSending:
		return "sending"
	case StatePausing:
		return "pausing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transport delivers one message. mailer.Client and sandbox.Transport
// implement it.
type Transport interface {
	Verify(ctx context.Context) error
	Send(ctx context.Context, msg *mailer.Message) error
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options controls addressing and pacing
type Options struct {
	Mode         Mode
	TestAddress  string
	From         string
	MessageDelay time.Duration
	WaveDelay    time.Duration
	// GraceDelay is waited once before a production run
	GraceDelay time.Duration
}

// Failure describes one message that could not be sent
type Failure struct {
	Wave     int
	Position int
	To       string
	Err      error
}

// Result holds the counters of a run
type Result struct {
	Sent     int
	Failed   int
	Total    int
	Failures []Failure
}

// Dispatcher sends mails strictly sequentially
type Dispatcher struct {
	transport Transport
	opts      Options
	sleep     SleepFunc
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	onState func(State)
}

// New creates a dispatcher
func New(transport Transport, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Mode == "" {
		opts.Mode = ModeTest
	}
	return &Dispatcher{
		transport: transport,
		opts:      opts,
		sleep:     Sleep,
		logger:    logger.With("component", "dispatch", "mode", string(opts.Mode)),
	}
}

// SetSleep replaces the pause implementation
func (d *Dispatcher) SetSleep(fn SleepFunc) {
	d.sleep = fn
}

// OnState registers a callback invoked on every state change
func (d *Dispatcher) OnState(fn func(State)) {
	d.mu.Lock()
	d.onState = fn
	d.mu.Unlock()
}

// State returns the current state
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	fn := d.onState
	d.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// Run sends mails in (wave, position) order. Fatal conditions abort the run
// before the first send; per-message failures are counted and skipped.
func (d *Dispatcher) Run(ctx context.Context, mails []artifact.Mail) (*Result, error) {
	if err := d.checkConfig(mails); err != nil {
		d.abort()
		return nil, err
	}

	queue := make([]artifact.Mail, len(mails))
	copy(queue, mails)
	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Wave != queue[j].Wave {
			return queue[i].Wave < queue[j].Wave
		}
		return queue[i].Position < queue[j].Position
	})

	if d.opts.Mode == ModeProduction && d.opts.GraceDelay > 0 {
		d.logger.Warn("production run, real recipients will receive mail",
			"mails", len(queue),
			"grace", d.opts.GraceDelay,
		)
		if err := d.pause(ctx, "grace", d.opts.GraceDelay); err != nil {
			d.abort()
			return nil, err
		}
	}

	d.setState(StateVerifying)
	if err := d.transport.Verify(ctx); err != nil {
		d.logger.Error("outbound channel verification failed", "error", err)
		d.abort()
		return nil, fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	d.logger.Info("outbound channel verified", "mails", len(queue))

	result := &Result{}
	first := true
	currentWave := 0

	for _, mail := range queue {
		if err := ctx.Err(); err != nil {
			d.abort()
			d.finish(result, false)
			return result, err
		}

		if first || mail.Wave != currentWave {
			if !first {
				d.logger.Info("pausing between waves", "next_wave", mail.Wave, "delay", d.opts.WaveDelay)
				if err := d.pause(ctx, "wave", d.opts.WaveDelay); err != nil {
					d.abort()
					d.finish(result, false)
					return result, err
				}
			}
			currentWave = mail.Wave
			first = false
			d.logger.Info("starting wave", "wave", mail.Wave)
		}

		d.setState(StateSending)
		d.send(ctx, mail, result)

		if err := d.pause(ctx, "message", d.opts.MessageDelay); err != nil {
			d.abort()
			d.finish(result, false)
			return result, err
		}
	}

	d.setState(StateDone)
	d.finish(result, true)
	return result, nil
}

func (d *Dispatcher) checkConfig(mails []artifact.Mail) error {
	if d.opts.Mode != ModeTest && d.opts.Mode != ModeProduction {
		return fmt.Errorf("invalid dispatch mode: %s", d.opts.Mode)
	}
	if d.opts.Mode == ModeTest && d.opts.TestAddress == "" {
		return ErrMissingTestAddress
	}
	if d.opts.From == "" {
		return fmt.Errorf("sender address is required")
	}
	if len(mails) == 0 {
		return ErrNoMessages
	}
	return nil
}

// send attempts one delivery and records the outcome
func (d *Dispatcher) send(ctx context.Context, mail artifact.Mail, result *Result) {
	result.Total++

	to := mail.Email
	if d.opts.Mode == ModeTest {
		to = d.opts.TestAddress
	}
	logger := d.logger.With("wave", mail.Wave, "position", mail.Position, "to", to)

	if to == "" {
		err := &mailer.DeliveryError{Temporary: false, Message: "recipient address is missing"}
		d.fail(logger, mail, to, err, result)
		return
	}

	err := d.transport.Send(ctx, d.message(mail, to))
	if err != nil {
		d.fail(logger, mail, to, err, result)
		return
	}

	result.Sent++
	metrics.IncMessagesSent(string(d.opts.Mode))
	logger.Info("message sent", "code", mail.TrackingCode)
}

func (d *Dispatcher) fail(logger *slog.Logger, mail artifact.Mail, to string, err error, result *Result) {
	result.Failed++
	result.Failures = append(result.Failures, Failure{
		Wave:     mail.Wave,
		Position: mail.Position,
		To:       to,
		Err:      err,
	})
	metrics.IncMessagesFailed(string(d.opts.Mode), mailer.ErrorType(err))
	logger.Error("message failed", "error", err)
}

func (d *Dispatcher) message(mail artifact.Mail, to string) *mailer.Message {
	headers := map[string]string{
		mailer.HeaderWave:      strconv.Itoa(mail.Wave),
		mailer.HeaderRecipient: strconv.Itoa(mail.Position),
		mailer.HeaderNoReply:   "true",
	}
	if mail.TrackingCode != "" {
		headers[mailer.HeaderTracking] = mail.TrackingCode
	}

	return &mailer.Message{
		From:    d.opts.From,
		To:      to,
		Subject: mail.Subject,
		HTML:    mail.HTML,
		Text:    mail.Text,
		Headers: headers,
	}
}

func (d *Dispatcher) pause(ctx context.Context, kind string, delay time.Duration) error {
	if kind != "grace" {
		d.setState(StatePausing)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	metrics.AddPause(kind, delay.Seconds())
	return d.sleep(ctx, delay)
}

func (d *Dispatcher) abort() {
	d.setState(StateAborted)
	metrics.SetDispatchResult(false)
}

func (d *Dispatcher) finish(result *Result, ok bool) {
	if ok {
		metrics.SetDispatchResult(result.Failed == 0)
	}
	d.logger.Info("dispatch finished",
		"sent", result.Sent,
		"failed", result.Failed,
		"total", result.Total,
	)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
