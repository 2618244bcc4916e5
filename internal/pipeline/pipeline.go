// Package pipeline ties the audio bridge together: it resolves a capture
// source, drives the encoder supervisor, retries restarts with exponential
// backoff, and fans status snapshots out to subscribers.
package pipeline

import (
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/btaudio/bridge/internal/apperrors"
	"github.com/btaudio/bridge/internal/audio"
	"github.com/btaudio/bridge/internal/encoder"
	"github.com/btaudio/bridge/internal/state"
)

// DefaultSettleDelay is how long a restart waits between stopping the old
// encoder and launching the first new attempt, letting the audio stack
// release the capture source.
const DefaultSettleDelay = 1 * time.Second

// RetryPolicy bounds a restart request. The effective delay before retry
// attempt n (0-indexed) is BaseDelay * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the backoff delay after failed attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

// Outcome reports how a restart request ended.
type Outcome struct {
	Success      bool
	AttemptsUsed int
}

// Pipeline is the top-level supervisor exposed to the HTTP/CLI boundary.
// All lifecycle controls are idempotent.
type Pipeline struct {
	resolver *audio.Resolver
	sup      *encoder.Supervisor
	ps       *state.PipelineState
	bc       *Broadcaster

	mu        sync.Mutex
	preferred string // manual source override; config preferred at startup
	params    encoder.Params
	policy    RetryPolicy
	settle    time.Duration
}

// Options configure a Pipeline.
type Options struct {
	// Preferred, when non-empty, is used verbatim as the capture source.
	Preferred string

	// Params is the encoder parameter template; Source is filled in per
	// start from the resolver's selection.
	Params encoder.Params

	// Policy is the default retry policy for Restart requests that don't
	// carry their own.
	Policy RetryPolicy

	// SettleDelay overrides DefaultSettleDelay; zero keeps the default.
	SettleDelay time.Duration

	// StatusInterval overrides the broadcaster tick; zero keeps the default.
	StatusInterval time.Duration
}

// New wires a pipeline from its components.
func New(resolver *audio.Resolver, sup *encoder.Supervisor, ps *state.PipelineState, opts Options) *Pipeline {
	settle := opts.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	return &Pipeline{
		resolver:  resolver,
		sup:       sup,
		ps:        ps,
		bc:        NewBroadcaster(ps, opts.StatusInterval),
		preferred: opts.Preferred,
		params:    opts.Params,
		policy:    opts.Policy,
		settle:    settle,
	}
}

// Broadcaster exposes the status fan-out for subscriber wiring.
func (p *Pipeline) Broadcaster() *Broadcaster { return p.bc }

// Snapshot returns a read-only view of the current pipeline state.
func (p *Pipeline) Snapshot() state.Snapshot { return p.ps.Snapshot() }

// Subscribe registers a status subscriber.
func (p *Pipeline) Subscribe(sub Subscriber) SubscriptionID { return p.bc.Subscribe(sub) }

// Unsubscribe removes and closes a status subscriber.
func (p *Pipeline) Unsubscribe(id SubscriptionID) { p.bc.Unsubscribe(id) }

// RecordExternalEvent lets the boundary layer inject events (pairing
// outcomes, cast selections) into the shared connection history.
func (p *Pipeline) RecordExternalEvent(category, detail string) {
	p.ps.RecordConnectionEvent(category, detail)
}

// SetPreferredSource overrides source resolution with a manual choice.
// An empty string restores automatic resolution.
func (p *Pipeline) SetPreferredSource(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferred = source
}

// DefaultPolicy returns the configured retry policy.
func (p *Pipeline) DefaultPolicy() RetryPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// Start resolves a source and launches the encoder. Starting a running
// pipeline is a safe no-op. A resolution failure is recorded and returned;
// it is not fatal to the process.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	preferred := p.preferred
	params := p.params
	p.mu.Unlock()

	sel, err := p.resolver.Resolve(preferred)
	if err != nil {
		p.ps.RecordError(apperrors.GetCode(err), apperrors.GetMessage(err))
		return err
	}
	if sel.Degraded {
		p.ps.RecordConnectionEvent("fallback_source", "using system default input "+sel.Source)
		log.Printf("pipeline: no bluetooth source, degraded to default input %s", sel.Source)
	}

	params.Source = sel.Source
	return p.sup.Start(params)
}

// Stop terminates the encoder. Stopping a stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	return p.sup.Stop()
}

// Restart stops the encoder if running, waits the settle delay, then
// attempts to start up to policy.MaxAttempts times with exponential
// backoff between failures. Exhaustion is recorded as restart.exhausted
// and returned; the process keeps running and accepts further requests.
func (p *Pipeline) Restart(policy RetryPolicy) (Outcome, error) {
	if policy.MaxAttempts < 1 {
		policy = p.DefaultPolicy()
	}
	// The default can itself be zero for a pipeline built with zero
	// options; a single attempt is the floor.
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	if err := p.sup.Stop(); err != nil {
		log.Printf("pipeline: stop before restart failed: %v", err)
	}
	time.Sleep(p.settle)

	attempts := 0
	op := func() error {
		attempts++
		return p.Start()
	}

	// Exponential backoff with no jitter so the delay sequence is exactly
	// base, 2*base, 4*base, ...
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = policy.Delay(policy.MaxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()

	err := backoff.Retry(op, backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)))
	if err != nil {
		coded := apperrors.RestartExhausted(attempts)
		p.ps.RecordError(apperrors.CodeRestartExhausted, coded.Message)
		log.Printf("pipeline: %s", coded.Message)
		return Outcome{Success: false, AttemptsUsed: attempts}, coded
	}

	return Outcome{Success: true, AttemptsUsed: attempts}, nil
}

// StartBackground launches the status broadcaster.
func (p *Pipeline) StartBackground() {
	p.bc.Start()
}

// Shutdown stops the encoder and the broadcaster. Idempotent and tolerant
// of partial startup.
func (p *Pipeline) Shutdown() {
	if err := p.sup.Stop(); err != nil {
		log.Printf("pipeline: shutdown stop failed: %v", err)
	}
	p.bc.Stop()
}

// ReadOutputChunk relays a blocking read of the encoder's output stream,
// for the HTTP stream endpoint.
func (p *Pipeline) ReadOutputChunk(buf []byte) (int, error) {
	return p.sup.ReadOutputChunk(buf)
}

// Streaming reports whether the encoder is currently running.
func (p *Pipeline) Streaming() bool {
	return p.ps.Streaming()
}
