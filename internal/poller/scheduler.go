// Package poller drives the poll cycle: one summary query followed by one
// query per battery in ascending id order, strictly request/response.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/pytes-bridge/internal/protocol"
	"github.com/shaunagostinho/pytes-bridge/internal/record"
	"github.com/shaunagostinho/pytes-bridge/internal/transport"
)

// readSlice caps a single transport read so cancellation stays responsive.
const readSlice = 100 * time.Millisecond

// Config controls cycle timing and fault reporting.
type Config struct {
	Batteries      int
	Interval       time.Duration
	RequestTimeout time.Duration
	CommandDelay   time.Duration // pause between exchanges
	LinkDownAfter  int           // consecutive failed cycles before link-down
	DeriveSummary  bool
	Wanted         *record.Wanted // fields some consumer asked for; nil keeps all
}

// Publisher receives each completed cycle.
type Publisher interface {
	Publish(res record.CycleResult)
	SetAvailable(up bool)
}

// State is the scheduler's position within a cycle.
type State int

const (
	StateIdle State = iota
	StateSummary
	StateBattery
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSummary:
		return "summary"
	case StateBattery:
		return "battery"
	case StatePublishing:
		return "publishing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State               string     `json:"state"`
	Target              int        `json:"target,omitempty"` // battery id while querying batteries
	Connected           bool       `json:"connected"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LinkDown            bool       `json:"linkDown"`
	Cycles              uint64     `json:"cycles"`
	LastCycle           *time.Time `json:"lastCycle,omitempty"` // nil until a cycle completes
	LastError           string     `json:"lastError,omitempty"`
}

// Scheduler owns the transport and runs at most one cycle at a time.
type Scheduler struct {
	cfg    Config
	tr     transport.Transport
	issuer *protocol.Issuer
	asm    *protocol.Assembler
	pub    Publisher

	trigger chan struct{}
	buf     []byte

	mu        sync.RWMutex
	state     State
	target    int
	last      *record.CycleResult
	failures  int
	linkDown  bool
	cycles    uint64
	lastError string
	packCount int
}

// New validates cfg and returns a Scheduler. The transport need not be
// connected yet; each cycle connects it on demand.
func New(cfg Config, tr transport.Transport, codec protocol.Codec, pub Publisher) (*Scheduler, error) {
	if cfg.Batteries < 1 || cfg.Batteries > 16 {
		return nil, fmt.Errorf("poller: battery count %d outside 1..16", cfg.Batteries)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, errors.New("poller: request timeout must be > 0")
	}
	if cfg.LinkDownAfter <= 0 {
		cfg.LinkDownAfter = 3
	}
	if tr == nil || pub == nil {
		return nil, errors.New("poller: transport and publisher are required")
	}
	return &Scheduler{
		cfg:       cfg,
		tr:        tr,
		issuer:    protocol.NewIssuer(codec, cfg.Batteries),
		asm:       protocol.NewAssembler(codec),
		pub:       pub,
		trigger:   make(chan struct{}, 1),
		buf:       make([]byte, 512),
		packCount: -1,
	}, nil
}

// Trigger requests a cycle. Requests made while one is already pending
// collapse into it.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run polls immediately and then on every interval tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[poller] polling %d batteries every %v via %s", s.cfg.Batteries, s.cfg.Interval, s.tr.Name())
	s.Trigger()

	for {
		select {
		case <-ctx.Done():
			s.tr.Close()
			return nil
		case <-ticker.C:
			s.Trigger()
		case <-s.trigger:
			if _, err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[poller] cycle aborted: %v", err)
			}
		}
	}
}

// PollOnce runs one complete cycle and publishes its result. It returns an
// error, and publishes nothing, only when the transport fails or ctx is
// cancelled. Individual target failures are reported in the result.
func (s *Scheduler) PollOnce(ctx context.Context) (record.CycleResult, error) {
	defer s.setState(StateIdle, 0)

	if !s.tr.IsConnected() {
		if err := s.tr.Connect(); err != nil {
			return record.CycleResult{}, s.abort(err)
		}
		log.Printf("[poller] connected to %s", s.tr.Name())
	}

	n := s.cfg.Batteries
	agg := record.Begin(n)
	agg.Restrict(s.cfg.Wanted)
	s.asm.TakeCorrupt()

	s.setState(StateSummary, 0)
	dec, err := s.exchange(ctx, s.issuer.SummaryRequest())
	if err := s.check(ctx, err); err != nil {
		return record.CycleResult{}, err
	}
	if err == nil {
		agg.ApplySummary(dec.Partial)
		s.noteWarnings(agg, dec)
		s.notePackCount(agg, dec.PackCount)
	} else {
		log.Printf("[poller] summary failed (%s): %v", classify(err), err)
	}

	for id := 1; id <= n; id++ {
		if err := s.pause(ctx); err != nil {
			return record.CycleResult{}, err
		}
		s.setState(StateBattery, id)

		req, err := s.issuer.BatteryRequest(id)
		if err != nil {
			return record.CycleResult{}, err
		}
		dec, err := s.exchange(ctx, req)
		if err := s.check(ctx, err); err != nil {
			return record.CycleResult{}, err
		}
		if err != nil {
			log.Printf("[poller] battery %d failed (%s): %v", id, classify(err), err)
			continue
		}
		if err := agg.ApplyBattery(id, dec.Partial); err != nil {
			log.Printf("[poller] battery %d: %v", id, err)
			continue
		}
		s.noteWarnings(agg, dec)
	}

	if s.cfg.DeriveSummary {
		agg.DeriveSummary()
	}
	agg.AddCorrupt(s.asm.TakeCorrupt())
	res := agg.Finish()

	s.setState(StatePublishing, 0)
	s.pub.Publish(res)
	s.complete(res)

	log.Printf("[poller] cycle done: summary=%v batteries %d/%d failed=%v corrupt=%d (%v)",
		res.SummaryOK, res.SucceededCount, n, res.FailedIDs, res.CorruptFrames,
		res.Finished.Sub(res.Started).Round(time.Millisecond))
	return res, nil
}

// check turns cycle-ending errors into the value PollOnce returns.
func (s *Scheduler) check(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil && fatal(err) {
		return s.abort(err)
	}
	return nil
}

func (s *Scheduler) abort(err error) error {
	s.tr.Close()
	if !errors.Is(err, ErrTransportUnavailable) {
		err = fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	s.recordFailure(err)
	return err
}

func (s *Scheduler) pause(ctx context.Context) error {
	if s.cfg.CommandDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.CommandDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// exchange sends one request and waits for its correlated reply. The
// response window closes on the first complete frame that is not the
// echo of the request, or on the request timeout.
func (s *Scheduler) exchange(ctx context.Context, req protocol.Request) (protocol.Decoded, error) {
	if err := s.tr.Flush(); err != nil {
		return protocol.Decoded{}, err
	}
	s.asm.Reset()
	if err := s.tr.Write(req.Bytes); err != nil {
		return protocol.Decoded{}, err
	}

	deadline := time.Now().Add(s.cfg.RequestTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return protocol.Decoded{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		n, err := s.tr.Read(s.buf, min(remaining, readSlice))
		if err != nil {
			return protocol.Decoded{}, err
		}
		for _, f := range s.asm.Feed(s.buf[:n]) {
			switch {
			case req.IsEcho(f):
				continue
			case !f.Valid:
				return protocol.Decoded{}, f.Err
			case !req.Matches(f):
				return protocol.Decoded{}, fmt.Errorf("%w: got %s while waiting for %s", ErrRequestTimeout, f.Kind, req.Kind)
			}
			return protocol.Decode(f)
		}
	}

	return protocol.Decoded{}, fmt.Errorf("%w: no reply for %s within %v", ErrRequestTimeout, req.Kind, s.cfg.RequestTimeout)
}

func (s *Scheduler) noteWarnings(agg *record.Aggregator, dec protocol.Decoded) {
	for _, w := range dec.Warnings {
		log.Printf("[poller] %v", w)
		agg.Warn(w.Error())
	}
}

func (s *Scheduler) notePackCount(agg *record.Aggregator, packs int) {
	if packs < 0 {
		return
	}
	s.mu.Lock()
	changed := packs != s.packCount
	s.packCount = packs
	s.mu.Unlock()

	if packs != s.cfg.Batteries {
		agg.Warn(fmt.Sprintf("controller reports %d packs, configured %d", packs, s.cfg.Batteries))
		if changed {
			log.Printf("[poller] controller reports %d packs online, configured for %d", packs, s.cfg.Batteries)
		}
	}
}

func (s *Scheduler) setState(st State, target int) {
	s.mu.Lock()
	s.state = st
	s.target = target
	s.mu.Unlock()
}

// complete stores res and updates the failure counter: a cycle in which no
// target answered counts as a failure.
func (s *Scheduler) complete(res record.CycleResult) {
	if res.SucceededCount == 0 && !res.SummaryOK {
		s.recordFailure(errors.New("no target answered"))
	} else {
		s.recordSuccess()
	}

	s.mu.Lock()
	s.last = &res
	s.cycles++
	s.mu.Unlock()
}

func (s *Scheduler) recordFailure(err error) {
	s.mu.Lock()
	s.failures++
	s.lastError = err.Error()
	down := !s.linkDown && s.failures >= s.cfg.LinkDownAfter
	if down {
		s.linkDown = true
	}
	failures := s.failures
	s.mu.Unlock()

	if down {
		log.Printf("[poller] link down after %d failed cycles: %v", failures, err)
		s.pub.SetAvailable(false)
	}
}

func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	wasDown := s.linkDown
	s.failures = 0
	s.linkDown = false
	s.lastError = ""
	s.mu.Unlock()

	if wasDown {
		log.Printf("[poller] link recovered")
		s.pub.SetAvailable(true)
	}
}

// Latest returns the most recent completed cycle.
func (s *Scheduler) Latest() (record.CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return record.CycleResult{}, false
	}
	return *s.last, true
}

func (s *Scheduler) Status() Status {
	connected := s.tr.IsConnected()

	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:               s.state.String(),
		Target:              s.target,
		Connected:           connected,
		ConsecutiveFailures: s.failures,
		LinkDown:            s.linkDown,
		Cycles:              s.cycles,
		LastError:           s.lastError,
	}
	if s.last != nil {
		finished := s.last.Finished
		st.LastCycle = &finished
	}
	return st
}
