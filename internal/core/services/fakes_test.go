package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
)

// testPollPolicy polls fast so tests finish quickly.
func testPollPolicy() domain.PollPolicy {
	return domain.PollPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      1.5,
		QuietChecks:     2,
		StatusInterval:  time.Hour,
	}
}

// --- Source fakes ---

// fakeHandle implements driven.SourceHandle and counts every read.
type fakeHandle struct {
	mu          sync.Mutex
	layers      []domain.LayerDescriptor
	schemas     map[string]*domain.LayerSchema
	coded       map[string]map[int64]string
	codedErr    error
	layerCalls  int
	schemaCalls int
	codedCalls  int
	closed      bool
}

func (h *fakeHandle) Layers(_ context.Context) ([]domain.LayerDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layerCalls++
	return h.layers, nil
}

func (h *fakeHandle) Schema(_ context.Context, layer string) (*domain.LayerSchema, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.schemaCalls++
	s, ok := h.schemas[layer]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (h *fakeHandle) CodedDomains(_ context.Context) (map[string]map[int64]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.codedCalls++
	return h.coded, h.codedErr
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// fakeOpener implements driven.SourceOpener.
type fakeOpener struct {
	handle *fakeHandle
	err    error
	opens  int
}

func (o *fakeOpener) Open(_ context.Context, _ string) (driven.SourceHandle, error) {
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	return o.handle, nil
}

// fakeParser implements driven.DomainCatalogParser with a call counter.
type fakeParser struct {
	mu      sync.Mutex
	domains map[string]map[int64]string
	err     error
	calls   int
}

func (p *fakeParser) ParseDomains(_ context.Context, _ string) (map[string]map[int64]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.domains, p.err
}

// parcelsSource is a small source with one aliased, domain-bound layer.
func parcelsSource() *fakeHandle {
	return &fakeHandle{
		layers: []domain.LayerDescriptor{
			{Name: "Parcels", FeatureCount: 1200, HasGeometry: true},
			{Name: "Owners", FeatureCount: 0},
		},
		schemas: map[string]*domain.LayerSchema{
			"Parcels": {
				Layer:     domain.LayerDescriptor{Name: "Parcels", FeatureCount: 1200, HasGeometry: true},
				FIDColumn: "OBJECTID",
				Fields: []domain.FieldDef{
					{Name: "OBJECTID", Unique: true},
					{Name: "PARCEL_ID", Alias: "Parcel identifier", Unique: true},
					{Name: "LANDUSE", Alias: "Land use", DomainName: "LandUse"},
					{Name: "AREA", Alias: "AREA"},
				},
			},
			"Owners": {
				Layer:  domain.LayerDescriptor{Name: "Owners"},
				Fields: []domain.FieldDef{{Name: "NAME"}},
			},
		},
	}
}

// --- Process fakes ---

// processScript describes how a fake process behaves.
type processScript struct {
	duration time.Duration
	exitCode int
	output   []string
	startErr error

	// exitDelay keeps the process running this long after an interrupt.
	exitDelay time.Duration

	// ignoreInterrupt keeps the process running until it is killed.
	ignoreInterrupt bool
}

// windowRecorder tracks how many processes run per destination.
type windowRecorder struct {
	mu        sync.Mutex
	active    map[string]int
	maxActive map[string]int
	global    int
	maxGlobal int
	order     []string
}

func newWindowRecorder() *windowRecorder {
	return &windowRecorder{active: make(map[string]int), maxActive: make(map[string]int)}
}

func (r *windowRecorder) begin(dest, layer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[dest]++
	r.maxActive[dest] = max(r.maxActive[dest], r.active[dest])
	r.global++
	r.maxGlobal = max(r.maxGlobal, r.global)
	r.order = append(r.order, layer)
}

func (r *windowRecorder) end(dest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[dest]--
	r.global--
}

func (r *windowRecorder) maxFor(dest string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive[dest]
}

func (r *windowRecorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// fakeRunner implements driven.ProcessRunner with scripted processes.
type fakeRunner struct {
	mu       sync.Mutex
	scripts  map[string]processScript
	fallback processScript
	checkErr error
	version  string
	rec      *windowRecorder
	started  []*fakeProcess
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		scripts:  make(map[string]processScript),
		fallback: processScript{duration: 5 * time.Millisecond},
		version:  "GDAL 3.8.4, released 2024/02/08",
		rec:      newWindowRecorder(),
	}
}

func (r *fakeRunner) Check(_ context.Context) (string, error) {
	if r.checkErr != nil {
		return "", r.checkErr
	}
	return r.version, nil
}

func (r *fakeRunner) Start(_ context.Context, job domain.ConversionJob) (driven.ProcessHandle, error) {
	r.mu.Lock()
	script, ok := r.scripts[job.Layer.Name]
	if !ok {
		script = r.fallback
	}
	r.mu.Unlock()

	if script.startErr != nil {
		return nil, script.startErr
	}

	dest := job.DestinationKey()
	r.rec.begin(dest, job.Layer.Name)
	p := &fakeProcess{
		finishAt:        time.Now().Add(script.duration),
		exitCode:        script.exitCode,
		output:          script.output,
		exitDelay:       script.exitDelay,
		ignoreInterrupt: script.ignoreInterrupt,
		onDone:          func() { r.rec.end(dest) },
	}

	r.mu.Lock()
	r.started = append(r.started, p)
	r.mu.Unlock()
	return p, nil
}

func (r *fakeRunner) processes() []*fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeProcess(nil), r.started...)
}

// fakeProcess implements driven.ProcessHandle. It terminates once its
// deadline passes and the supervisor polls it.
type fakeProcess struct {
	mu        sync.Mutex
	finishAt  time.Time
	exitCode  int
	output    []string
	activity  int64
	polls     int
	done      bool
	state     domain.ProcessState
	cancelled bool
	killed    bool
	onDone    func()

	exitDelay       time.Duration
	ignoreInterrupt bool
}

func (p *fakeProcess) Poll() domain.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if !p.done && !time.Now().Before(p.finishAt) {
		if p.cancelled && !p.ignoreInterrupt {
			p.finish(domain.ProcessState{Phase: domain.ProcessSignaled, ExitCode: -1, Signal: "interrupt"})
		} else {
			p.finish(domain.ProcessState{Phase: domain.ProcessExited, ExitCode: p.exitCode})
		}
	}
	if p.done {
		return p.state
	}
	return domain.ProcessState{Phase: domain.ProcessRunning}
}

func (p *fakeProcess) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
	switch {
	case p.done || p.ignoreInterrupt:
	case p.exitDelay > 0:
		p.finishAt = time.Now().Add(p.exitDelay)
	default:
		p.finish(domain.ProcessState{Phase: domain.ProcessSignaled, ExitCode: -1, Signal: "interrupt"})
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	if !p.done {
		p.finish(domain.ProcessState{Phase: domain.ProcessSignaled, ExitCode: -1, Signal: "killed"})
	}
	return nil
}

func (p *fakeProcess) Activity() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activity
}

func (p *fakeProcess) Tail(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.output) <= n {
		return append([]string(nil), p.output...)
	}
	return append([]string(nil), p.output[len(p.output)-n:]...)
}

func (p *fakeProcess) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) isDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *fakeProcess) wasCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// finish must be called with mu held.
func (p *fakeProcess) finish(state domain.ProcessState) {
	p.done = true
	p.state = state
	if p.onDone != nil {
		p.onDone()
	}
}

// --- Applier and sink fakes ---

// fakeApplier implements metadataApplier.
type fakeApplier struct {
	mu     sync.Mutex
	result domain.ApplyResult
	err    error
	calls  []string
}

func (a *fakeApplier) Apply(_ context.Context, job domain.ConversionJob) (domain.ApplyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, job.Layer.Name)
	return a.result, a.err
}

func (a *fakeApplier) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// fakeSink implements driven.MetadataSink.
type fakeSink struct {
	mu        sync.Mutex
	applied   []domain.LayerMetadata
	tables    []string
	applyErr  error
	optimized map[string]domain.Tuning
}

func (s *fakeSink) Apply(_ context.Context, _ string, table string, md domain.LayerMetadata) (domain.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return domain.ApplyResult{}, s.applyErr
	}
	s.applied = append(s.applied, md)
	s.tables = append(s.tables, table)
	res := domain.ApplyResult{
		Table:             table,
		AliasesApplied:    len(md.Aliases),
		DomainRowsApplied: len(md.Domains),
		PrimaryKeyApplied: md.PrimaryKey != nil,
	}
	return res, nil
}

func (s *fakeSink) Optimize(_ context.Context, destFile string, tuning domain.Tuning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.optimized == nil {
		s.optimized = make(map[string]domain.Tuning)
	}
	s.optimized[destFile] = tuning
	return nil
}

// recordingObserver implements driving.JobObserver.
type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []domain.JobOutcome
}

func (o *recordingObserver) JobStarted(job domain.ConversionJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, job.Layer.Name)
}

func (o *recordingObserver) JobFinished(outcome domain.JobOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, outcome)
}

// fakeHistory implements driven.HistoryStore in memory.
type fakeHistory struct {
	mu     sync.Mutex
	runs   []domain.RunRecord
	pruned int
	err    error
}

func (h *fakeHistory) RecordRun(_ context.Context, run *domain.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.runs = append(h.runs, *run)
	return nil
}

func (h *fakeHistory) GetRun(_ context.Context, id string) (*domain.RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.runs {
		if h.runs[i].ID == id {
			return &h.runs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (h *fakeHistory) ListRuns(_ context.Context, _ int) ([]domain.RunRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.RunRecord(nil), h.runs...), nil
}

func (h *fakeHistory) PruneHistory(_ context.Context, keep int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruned = keep
	return nil
}

func newJob(layer, dest string) domain.ConversionJob {
	return domain.ConversionJob{
		Layer:              domain.LayerDescriptor{Name: layer, HasGeometry: true},
		SourcePath:         "/data/city.gdb",
		DestinationFile:    dest,
		DestinationTable:   layer,
		PreserveAliases:    true,
		PreserveDomains:    true,
		PreservePrimaryKey: true,
	}
}
