// Package scan drives the fingerprint pipeline over capture files:
// frames in, detection results and verification runs out. Capture
// files are independent and are processed on parallel workers; the
// signature store is the only shared state.
package scan

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ccie14019/shadow-ai-signatures/internal/capture"
	"github.com/ccie14019/shadow-ai-signatures/internal/clienthello"
	"github.com/ccie14019/shadow-ai-signatures/internal/fingerprint"
	"github.com/ccie14019/shadow-ai-signatures/internal/logger"
	"github.com/ccie14019/shadow-ai-signatures/internal/matcher"
	"github.com/ccie14019/shadow-ai-signatures/internal/reassembly"
	"github.com/ccie14019/shadow-ai-signatures/internal/signature"
)

// SessionResult is the outcome for one TLS session in a capture. Err
// is set for sessions that never produced a fingerprint; such failures
// are localized, never fatal to the batch.
type SessionResult struct {
	Session   capture.FlowKey
	Signature string
	Result    matcher.DetectionResult
	Err       error
}

// TargetReport summarizes a verification campaign for one
// framework/version pair.
type TargetReport struct {
	Framework  string
	Version    string
	Runs       int
	Signatures []string // unique signatures observed, sorted
	Consistent bool
	Errors     []string
}

// Report is the outcome of a whole campaign.
type Report struct {
	Started  time.Time
	Finished time.Time
	Targets  []TargetReport
}

// Runner wires the pipeline stages together.
type Runner struct {
	cfg   Config
	store *signature.Store
	match *matcher.Matcher
	log   *logger.Logger
}

// New creates a runner. The logger may be nil for callers that only
// want returned results.
func New(cfg Config, store *signature.Store, log *logger.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Runner{
		cfg:   cfg,
		store: store,
		match: matcher.New(store),
		log:   log,
	}
}

// ScanFile runs the full pipeline over one capture file and classifies
// every session in it against the store.
func (r *Runner) ScanFile(path string) ([]SessionResult, error) {
	frames, err := capture.ReadFile(path, r.cfg.Port)
	if err != nil {
		return nil, err
	}
	return r.scanFrames(frames, path), nil
}

// ScanReader is ScanFile over an in-memory pcap stream.
func (r *Runner) ScanReader(src io.Reader, name string) ([]SessionResult, error) {
	reader, err := capture.NewReader(src, r.cfg.Port)
	if err != nil {
		return nil, err
	}
	var frames []capture.Frame
	for {
		f, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return r.scanFrames(frames, name), nil
}

func (r *Runner) scanFrames(frames []capture.Frame, captureName string) []SessionResult {
	reasm := reassembly.New(r.cfg.Reassembly)
	var results []SessionResult

	emit := func(res SessionResult) {
		results = append(results, res)
		if r.log == nil {
			return
		}
		if res.Err != nil {
			_ = r.log.LogSessionError(res.Session.String(), captureName, res.Err)
		} else {
			_ = r.log.LogResult(res.Result, res.Session.String(), captureName)
		}
	}

	for _, frame := range frames {
		handshake, err := reasm.Feed(frame)
		if err != nil {
			var serr reassembly.SessionError
			if errors.As(err, &serr) {
				emit(SessionResult{Session: serr.Key, Err: serr.Err})
			} else {
				emit(SessionResult{Session: frame.Key, Err: err})
			}
			continue
		}
		if handshake == nil {
			continue
		}
		emit(r.fingerprintSession(handshake))
	}

	for _, serr := range reasm.Flush() {
		emit(SessionResult{Session: serr.Key, Err: serr.Err})
	}
	return results
}

func (r *Runner) fingerprintSession(h *reassembly.Handshake) SessionResult {
	rec, err := clienthello.Parse(h.Raw)
	if err != nil {
		return SessionResult{Session: h.Key, Err: err}
	}

	sig := fingerprint.JA4(rec)
	return SessionResult{
		Session:   h.Key,
		Signature: sig,
		Result:    r.match.Match(sig),
	}
}

// RunPlan executes a verification campaign: every target's captures
// are fingerprinted, each successful session is recorded as a
// verification run for its framework/version pair, and per-target
// consistency is reported. A port or worker count set in the plan
// overrides the runner's own for the duration of the campaign.
// Targets run on parallel workers; Record is serialized per key by
// the store.
func (r *Runner) RunPlan(plan *Plan) (*Report, error) {
	if plan.Port != 0 || plan.Workers > 0 {
		cfg := r.cfg
		if plan.Port != 0 {
			cfg.Port = plan.Port
		}
		if plan.Workers > 0 {
			cfg.Workers = plan.Workers
		}
		r = New(cfg, r.store, r.log)
	}

	report := &Report{Started: time.Now().UTC()}

	jobs := make(chan Target)
	out := make(chan TargetReport)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				out <- r.verifyTarget(target)
			}
		}()
	}
	go func() {
		for _, target := range plan.Targets {
			jobs <- target
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	for tr := range out {
		report.Targets = append(report.Targets, tr)
	}
	sort.Slice(report.Targets, func(i, j int) bool {
		if report.Targets[i].Framework != report.Targets[j].Framework {
			return report.Targets[i].Framework < report.Targets[j].Framework
		}
		return report.Targets[i].Version < report.Targets[j].Version
	})

	report.Finished = time.Now().UTC()
	return report, nil
}

func (r *Runner) verifyTarget(target Target) TargetReport {
	tr := TargetReport{Framework: target.Framework, Version: target.Version}
	seen := make(map[string]bool)

	for _, path := range target.Captures {
		results, err := r.ScanFile(path)
		if err != nil {
			tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		recorded := false
		for _, res := range results {
			if res.Err != nil {
				tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %v", path, res.Err))
				continue
			}
			r.store.Record(target.Framework, target.Version, res.Signature)
			tr.Runs++
			recorded = true
			if !seen[res.Signature] {
				seen[res.Signature] = true
				tr.Signatures = append(tr.Signatures, res.Signature)
			}
		}
		if !recorded {
			tr.Errors = append(tr.Errors, fmt.Sprintf("%s: no client hello fingerprinted", path))
		}
	}

	sort.Strings(tr.Signatures)
	tr.Consistent, _ = r.store.Consistency(target.Framework, target.Version)
	return tr
}
