package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kendryte/nncase-sub001/internal/util"
	"github.com/kendryte/nncase-sub001/paged"
)

// Config controls a simulation run.
type Config struct {
	Seed        int64
	Workload    WorkloadConfig
	ShardPolicy string // "all", "round-robin" or "random"
	MaxRunning  int    // max concurrently running sequences; 0 means unlimited
	MaxSteps    int64  // stop after this many steps; 0 means run to completion
	Workers     int    // concurrent evaluator calls per step; 0 means 1
	Verify      bool   // gather and check history every step (needs pool storage)
}

// Simulator runs a synthetic decode workload against a KVCache. Each step
// decodes one token for every running sequence in admission order, then
// admits waiting sequences in FIFO order while their prefill fits.
//
// When a running sequence cannot grow, the most recently admitted running
// sequence sharing a core with it is preempted and put back at the front of
// the wait queue; this repeats until the step fits or the sequence preempts
// itself. Sequences whose final length exceeds one core's pool are dropped.
type Simulator struct {
	cache   *paged.KVCache
	cfg     Config
	seeds   *Seeds
	policy  ShardPolicy
	eval    *SyntheticEvaluator
	log     *logrus.Entry
	waitQ   WaitQueue
	running *orderedmap.OrderedMap[paged.SequenceID, *Request]

	requests []*Request
	step     int64
	Metrics  *Metrics
}

// NewSimulator generates the workload and queues every request.
func NewSimulator(cache *paged.KVCache, cfg Config) (*Simulator, error) {
	if err := cfg.Workload.Validate(); err != nil {
		return nil, err
	}
	if !IsValidShardPolicy(cfg.ShardPolicy) {
		return nil, fmt.Errorf("unknown shard policy %q", cfg.ShardPolicy)
	}
	if cfg.Verify && cache.Config().MetadataOnly {
		return nil, errors.New("verification needs pool storage; disable metadata_only")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	s := &Simulator{
		cache:   cache,
		cfg:     cfg,
		seeds:   NewSeeds(cfg.Seed),
		eval:    &SyntheticEvaluator{Verify: cfg.Verify},
		log:     logrus.WithField("session", cache.ID().String()),
		running: orderedmap.New[paged.SequenceID, *Request](),
		Metrics: NewMetrics(cache.Topology(), cache.Config().BlocksPerCore),
	}
	s.policy = NewShardPolicy(cfg.ShardPolicy, s.seeds.Stream(StreamSharding))
	s.requests = GenerateRequests(cfg.Workload, s.seeds.Stream(StreamWorkload))
	for _, r := range s.requests {
		r.Shards = s.policy.Assign(r, cache.Topology())
		s.waitQ.Push(r)
	}
	return s, nil
}

// Requests returns every generated request.
func (s *Simulator) Requests() []*Request { return s.requests }

// Run steps until every request has completed or been dropped, MaxSteps is
// reached, or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	for s.waitQ.Len() > 0 || s.running.Len() > 0 {
		if s.cfg.MaxSteps > 0 && s.step >= s.cfg.MaxSteps {
			s.log.Warnf("stopping at step limit %d with %d waiting and %d running", s.cfg.MaxSteps, s.waitQ.Len(), s.running.Len())
			break
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	s.Metrics.TokensVerified = s.eval.TokensVerified()
	if s.cfg.Verify {
		if err := s.cache.CheckInvariants(); err != nil {
			return fmt.Errorf("after step %d: %w", s.step, err)
		}
	}
	return nil
}

// scheduled is a request that was granted cache space this step.
type scheduled struct {
	req     *Request
	plan    *paged.StepPlan
	prefill bool
}

// Step runs one scheduling step.
func (s *Simulator) Step(ctx context.Context) error {
	s.step++
	s.Metrics.Steps++
	var batch []scheduled

	// decode: snapshot first, since preemption removes from running
	for _, req := range s.runningRequests() {
		if req.State != StateRunning {
			continue
		}
		plan, err := s.extendOrPreempt(ctx, req, 1)
		if err != nil {
			return err
		}
		if plan != nil {
			batch = append(batch, scheduled{req: req, plan: plan})
		}
	}

	admitted, err := s.admitWaiting(ctx)
	if err != nil {
		return err
	}
	batch = append(batch, admitted...)
	s.Metrics.sampleUsage(s.cache.Usage())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, b := range batch {
		g.Go(func() error { return s.eval.Forward(gctx, b.plan) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}

	for _, b := range batch {
		if err := s.commit(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) runningRequests() []*Request {
	reqs := make([]*Request, 0, s.running.Len())
	for pair := s.running.Oldest(); pair != nil; pair = pair.Next() {
		reqs = append(reqs, pair.Value)
	}
	return reqs
}

// extendOrPreempt grows a running request by tokens, preempting newer
// requests on a shared core until it fits. Returns a nil plan if req itself
// was preempted.
func (s *Simulator) extendOrPreempt(ctx context.Context, req *Request, tokens int) (*paged.StepPlan, error) {
	for {
		plan, err := s.cache.BeginStep(ctx, req.ID, tokens)
		if err == nil {
			return plan, nil
		}
		if !paged.IsRetryable(err) {
			return nil, fmt.Errorf("step %d: %w", s.step, err)
		}
		s.Metrics.ExhaustedSteps++
		victim := s.pickVictim(req)
		s.log.Warnf("[step %06d] preemption: evicting %s to make room for %s", s.step, victim.ID, req.ID)
		if err := s.preempt(victim); err != nil {
			return nil, err
		}
		if victim == req {
			return nil, nil
		}
	}
}

// pickVictim returns the most recently admitted running request that shares
// a core with req. req itself is always a candidate.
func (s *Simulator) pickVictim(req *Request) *Request {
	for pair := s.running.Newest(); pair != nil; pair = pair.Prev() {
		if sharesCore(pair.Value.Shards, req.Shards) {
			return pair.Value
		}
	}
	return req
}

func sharesCore(a, b []paged.DeviceID) bool {
	for _, d := range a {
		if slices.Contains(b, d) {
			return true
		}
	}
	return false
}

func (s *Simulator) preempt(req *Request) error {
	if err := s.cache.Preempt(req.ID); err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}
	s.running.Delete(req.ID)
	req.State = StateQueued
	req.Preemptions++
	s.Metrics.Preemptions++
	s.waitQ.Requeue(req)
	return nil
}

// admitWaiting admits queued requests in FIFO order until one does not fit.
func (s *Simulator) admitWaiting(ctx context.Context) ([]scheduled, error) {
	var out []scheduled
	for s.waitQ.Len() > 0 {
		if s.cfg.MaxRunning > 0 && s.running.Len() >= s.cfg.MaxRunning {
			break
		}
		req := s.waitQ.Head()
		if !s.fits(req) {
			s.waitQ.Pop()
			s.drop(req)
			continue
		}

		if !req.Admitted {
			if _, err := s.cache.Admit(req.ID, req.Shards, 0); err != nil {
				return nil, fmt.Errorf("step %d: %w", s.step, err)
			}
			req.Admitted = true
		}
		seq, _ := s.cache.Sequence(req.ID)
		if seq.State() == paged.StatePreempted {
			n, err := s.cache.Resume(req.ID)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", s.step, err)
			}
			s.log.Debugf("[step %06d] resuming %s: recomputing %d cached tokens", s.step, req.ID, n)
		}

		plan, err := s.cache.BeginStep(ctx, req.ID, req.PromptTokens+req.Generated)
		if paged.IsRetryable(err) {
			s.Metrics.ExhaustedSteps++
			break
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", s.step, err)
		}
		s.waitQ.Pop()
		req.State = StateRunning
		req.ScheduledStep = s.step
		s.running.Set(req.ID, req)
		out = append(out, scheduled{req: req, plan: plan, prefill: true})
	}
	return out, nil
}

// fits is the circuit breaker: a request whose peak length needs more blocks
// than one core holds can never run. It depends only on the request, so a
// request is dropped before it is ever admitted to the cache.
func (s *Simulator) fits(req *Request) bool {
	cfg := s.cache.Config()
	return util.CeilDiv(req.PeakTokens(), cfg.BlockSize) <= cfg.BlocksPerCore
}

func (s *Simulator) drop(req *Request) {
	cfg := s.cache.Config()
	s.log.Warnf("[step %06d] dropping %s: needs %d tokens, a core holds %d",
		s.step, req.ID, req.PeakTokens(), cfg.TokensPerCore())
	req.State = StateDropped
	req.FinishedStep = s.step
	s.Metrics.DroppedSequences++
}

// commit records the token produced by a scheduled request and retires it
// if it is done.
func (s *Simulator) commit(b scheduled) error {
	req := b.req
	if b.prefill {
		s.Metrics.PrefillTokens += int64(req.PromptTokens)
		s.Metrics.RecomputedTokens += int64(req.Generated)
	} else {
		s.Metrics.DecodeTokens++
	}
	req.Generated++
	if !req.Done() {
		return nil
	}
	if err := s.cache.Release(req.ID); err != nil {
		return fmt.Errorf("step %d: release %s: %w", s.step, req.ID, err)
	}
	s.running.Delete(req.ID)
	req.State = StateCompleted
	req.FinishedStep = s.step
	s.Metrics.CompletedSequences++
	s.log.Debugf("[step %06d] completed %s after %d preemptions", s.step, req.ID, req.Preemptions)
	return nil
}
