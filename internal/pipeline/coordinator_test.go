package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eloisaabril01/emailscrap/internal/export"
	"github.com/eloisaabril01/emailscrap/internal/extract"
	"github.com/eloisaabril01/emailscrap/internal/listing"
	"github.com/eloisaabril01/emailscrap/internal/mocksite"
	"github.com/eloisaabril01/emailscrap/internal/pipeline"
	"github.com/eloisaabril01/emailscrap/internal/progress"
	"github.com/eloisaabril01/emailscrap/internal/shown"
	"github.com/eloisaabril01/emailscrap/internal/source"
	"github.com/eloisaabril01/emailscrap/pkg/pipeline/core"
)

type fakeExtractor struct {
	emails map[string][]string
	gates  map[string]chan struct{}
	fail   map[string]int

	mu    sync.Mutex
	calls map[string]int
	total atomic.Int32
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		emails: make(map[string][]string),
		gates:  make(map[string]chan struct{}),
		fail:   make(map[string]int),
		calls:  make(map[string]int),
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, url string) ([]string, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[url]++
	n := f.calls[url]
	gate := f.gates[url]
	fails := f.fail[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= fails {
		return nil, &core.TransientError{Err: errors.New("503 Service Unavailable")}
	}
	return f.emails[url], nil
}

func (f *fakeExtractor) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type fakeSink struct {
	mu       sync.Mutex
	appended [][]listing.VerifiedResult
	err      error
}

func (s *fakeSink) Append(_ context.Context, query string, results []listing.VerifiedResult) (export.Destination, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dest := export.Destination{Slug: export.Slug(query), Filename: export.Slug(query) + ".xlsx"}
	if s.err != nil {
		return dest, 0, s.err
	}
	s.appended = append(s.appended, append([]listing.VerifiedResult(nil), results...))
	return dest, len(results), nil
}

func site(i int) string { return fmt.Sprintf("https://biz%d.test", i) }

func listings(n int) []listing.Listing {
	out := make([]listing.Listing, n)
	for i := range out {
		out[i] = listing.Listing{
			Name:    fmt.Sprintf("Biz %d", i),
			Address: fmt.Sprintf("%d Main St", i),
			Phone:   "555-0100",
			Website: site(i),
			Key:     fmt.Sprintf("maps/%d", i),
		}
	}
	return out
}

func testOptions() pipeline.Options {
	return pipeline.Options{
		BatchSize:      5,
		Workers:        5,
		RequestTimeout: 5 * time.Second,
		RetryDelay:     time.Millisecond,
		MaxRetries:     1,
		ExcludeHosts:   []string{"google.com"},
	}
}

type harness struct {
	extractor *fakeExtractor
	sink      *fakeSink
	store     *shown.FileStore
	tracker   *progress.Tracker
	coord     *pipeline.Coordinator
}

func newHarness(t *testing.T, ls []listing.Listing, opts pipeline.Options) *harness {
	t.Helper()
	h := &harness{
		extractor: newFakeExtractor(),
		sink:      &fakeSink{},
		store:     shown.NewFileStore(filepath.Join(t.TempDir(), "database.json")),
		tracker:   progress.NewTracker(),
	}
	h.coord = pipeline.New(pipeline.Deps{
		Sources:   source.StaticFactory(ls),
		Extractor: h.extractor,
		Store:     h.store,
		Sink:      h.sink,
		Tracker:   h.tracker,
	}, opts)
	return h
}

func identities(rs []listing.VerifiedResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Identity
	}
	return out
}

func TestRun_StopsAtExactlyTarget(t *testing.T) {
	for _, withEmails := range []int{3, 5} {
		t.Run(fmt.Sprintf("%d_with_emails", withEmails), func(t *testing.T) {
			ls := listings(10)
			h := newHarness(t, ls, testOptions())
			for i := 0; i < withEmails; i++ {
				h.extractor.emails[site(i*2)] = []string{fmt.Sprintf("info@biz%d.test", i*2)}
			}

			summary, err := h.coord.Run(context.Background(), "plumbers in Austin", 3)
			require.NoError(t, err)
			assert.Len(t, summary.Results, 3)
			assert.False(t, summary.Cancelled)
			assert.Equal(t, 3, summary.Exported)
			assert.Equal(t, "plumbers_in_Austin.xlsx", summary.Destination.Filename)

			state := h.tracker.Snapshot()
			assert.Equal(t, progress.PhaseCompleted, state.Phase)
			assert.Equal(t, 3, state.Current)
			assert.Equal(t, "Complete! Saved 3 results to plumbers_in_Austin.xlsx", state.Status)
			assert.Len(t, h.tracker.Results(), 3)

			ids, err := h.store.Load(context.Background(), "plumbers in Austin")
			require.NoError(t, err)
			assert.ElementsMatch(t, identities(summary.Results), ids)
		})
	}
}

func TestRun_DeduplicatesByIdentity(t *testing.T) {
	ls := []listing.Listing{
		{Name: "Acme", Address: "1 Main St", Website: "https://acme.test", Key: "maps/a"},
		{Name: "Acme", Address: "1 Main St", Website: "https://acme-two.test", Key: "maps/b"},
		{Name: "acme", Address: "1 Main St", Website: "https://acme-three.test", Key: "maps/c"},
	}
	h := newHarness(t, ls, testOptions())
	for _, l := range ls {
		h.extractor.emails[l.Website] = []string{"info@acme.com"}
	}

	summary, err := h.coord.Run(context.Background(), "acme", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Acme|1 Main St", "acme|1 Main St"}, identities(summary.Results))
	assert.Zero(t, h.extractor.Calls("https://acme-two.test"))
}

func TestRun_SkipsShownExcludedAndSiteless(t *testing.T) {
	ls := []listing.Listing{
		{Name: "Shown", Address: "1", Website: "https://shown.test"},
		{Name: "Maps Only", Address: "2", Website: "https://www.google.com/maps/place/x"},
		{Name: "No Site", Address: "3"},
		{Name: "Fresh", Address: "4", Website: "https://fresh.test"},
	}
	h := newHarness(t, ls, testOptions())
	require.NoError(t, h.store.MarkShown(context.Background(), "Shown|1", "q"))
	for _, l := range ls {
		h.extractor.emails[l.Website] = []string{"hello@" + l.Address + ".io"}
	}
	h.extractor.emails["https://fresh.test"] = []string{"hello@fresh.io"}

	summary, err := h.coord.Run(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "Fresh|4", summary.Results[0].Identity)
	assert.EqualValues(t, 1, h.extractor.total.Load())
}

func TestRun_CancelMidBatchExportsMerged(t *testing.T) {
	ls := listings(5)
	h := newHarness(t, ls, testOptions())
	release := make(chan struct{})
	for i, l := range ls {
		h.extractor.emails[l.Website] = []string{fmt.Sprintf("info@biz%d.test", i)}
		if i >= 2 {
			h.extractor.gates[l.Website] = release
		}
	}

	type outcome struct {
		summary pipeline.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := h.coord.Run(context.Background(), "bakeries", 10)
		done <- outcome{s, err}
	}()

	require.Eventually(t, func() bool { return h.tracker.Snapshot().Current == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.tracker.RequestCancel())
	close(release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}
	require.NoError(t, out.err)
	assert.True(t, out.summary.Cancelled)
	assert.Len(t, out.summary.Results, 2)

	require.Len(t, h.sink.appended, 1)
	assert.Len(t, h.sink.appended[0], 2)

	state := h.tracker.Snapshot()
	assert.Equal(t, progress.PhaseCancelled, state.Phase)
	assert.True(t, state.Cancelled)
	assert.Equal(t, 2, state.Current)
	assert.Equal(t, "Stopped. Saved 2 results to bakeries.xlsx", state.Status)
}

func TestRun_CancelledContextStillExports(t *testing.T) {
	ls := listings(3)
	h := newHarness(t, ls, testOptions())
	h.extractor.emails[site(0)] = []string{"a@biz0.test"}

	ctx, cancel := context.WithCancel(context.Background())
	h.extractor.gates[site(1)] = make(chan struct{})
	go func() {
		assert.Eventually(t, func() bool { return h.tracker.Snapshot().Current == 1 }, 2*time.Second, 5*time.Millisecond)
		cancel()
	}()

	summary, err := h.coord.Run(ctx, "q", 5)
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Exported)
	assert.Equal(t, progress.PhaseCancelled, h.tracker.Snapshot().Phase)
}

func TestRun_ExportFailureIsDegradedCompletion(t *testing.T) {
	ls := listings(2)
	h := newHarness(t, ls, testOptions())
	h.sink.err = errors.New("disk full")
	for _, l := range ls {
		h.extractor.emails[l.Website] = []string{"a@b.io"}
	}

	summary, err := h.coord.Run(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Error(t, summary.ExportErr)
	assert.Len(t, summary.Results, 2)

	state := h.tracker.Snapshot()
	assert.Equal(t, progress.PhaseCompleted, state.Phase)
	assert.Equal(t, "Complete! Found 2 results (export failed: disk full)", state.Status)
}

func TestRun_CorruptShownRecordFailsFast(t *testing.T) {
	ls := listings(2)
	h := newHarness(t, ls, testOptions())
	require.NoError(t, os.WriteFile(h.store.Path(), []byte(`{"shown_q": "oops"`), 0o644))

	_, err := h.coord.Run(context.Background(), "q", 5)
	assert.ErrorIs(t, err, shown.ErrCorruptRecord)
	assert.Zero(t, h.extractor.total.Load())
	assert.Empty(t, h.sink.appended)

	state := h.tracker.Snapshot()
	assert.Equal(t, progress.PhaseFailed, state.Phase)
	assert.Contains(t, state.Status, "Error:")
}

type emptySource struct{ calls atomic.Int32 }

func (s *emptySource) NextBatch(context.Context, int) ([]listing.Listing, bool, error) {
	s.calls.Add(1)
	return nil, false, nil
}

func (s *emptySource) Open(context.Context, string) (listing.Source, error) { return s, nil }

func TestRun_ConsecutiveEmptyBatchesEndDiscovery(t *testing.T) {
	src := &emptySource{}
	opts := testOptions()
	opts.MaxEmptyBatches = 4
	coord := pipeline.New(pipeline.Deps{
		Sources:   src,
		Extractor: newFakeExtractor(),
		Store:     shown.NewFileStore(filepath.Join(t.TempDir(), "database.json")),
		Sink:      &fakeSink{},
	}, opts)

	summary, err := coord.Run(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	assert.EqualValues(t, 4, src.calls.Load())
	assert.Equal(t, "Complete! Found 0 verified results", coord.Tracker().Snapshot().Status)
}

type failingSource struct {
	calls atomic.Int32
	err   error
}

func (s *failingSource) NextBatch(context.Context, int) ([]listing.Listing, bool, error) {
	s.calls.Add(1)
	return nil, false, s.err
}

func (s *failingSource) Open(context.Context, string) (listing.Source, error) { return s, nil }

func TestRun_DiscoveryRetryRespectsErrorCap(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{name: "transient", err: &core.TransientError{Err: errors.New("503")}, wantCalls: 2},
		{name: "capped", err: &core.LimitedTransientError{Err: errors.New("quota"), ExtraRetries: 0}, wantCalls: 1},
		{name: "permanent", err: errors.New("bad key"), wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &failingSource{err: tt.err}
			coord := pipeline.New(pipeline.Deps{
				Sources:   src,
				Extractor: newFakeExtractor(),
				Store:     shown.NewFileStore(filepath.Join(t.TempDir(), "database.json")),
				Sink:      &fakeSink{},
			}, testOptions())

			summary, err := coord.Run(context.Background(), "q", 3)
			require.NoError(t, err)
			assert.Empty(t, summary.Results)
			assert.Equal(t, tt.wantCalls, src.calls.Load())
		})
	}
}

func TestRun_ScanBudget(t *testing.T) {
	src := &emptySource{}
	opts := testOptions()
	opts.MaxEmptyBatches = 100
	opts.MaxScans = 7
	coord := pipeline.New(pipeline.Deps{
		Sources:   src,
		Extractor: newFakeExtractor(),
		Store:     shown.NewFileStore(filepath.Join(t.TempDir(), "database.json")),
		Sink:      &fakeSink{},
	}, opts)

	_, err := coord.Run(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 7, src.calls.Load())
}

func TestRun_TransientFetchRetriedOnce(t *testing.T) {
	ls := listings(2)
	h := newHarness(t, ls, testOptions())
	h.extractor.emails[site(0)] = []string{"a@biz0.test"}
	h.extractor.fail[site(0)] = 1
	h.extractor.emails[site(1)] = []string{"a@biz1.test"}
	h.extractor.fail[site(1)] = 2

	summary, err := h.coord.Run(context.Background(), "q", 5)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "Biz 0|0 Main St", summary.Results[0].Identity)
	assert.Equal(t, 2, h.extractor.Calls(site(0)))
	assert.Equal(t, 2, h.extractor.Calls(site(1)))
}

func TestRun_RejectsBadInput(t *testing.T) {
	h := newHarness(t, nil, testOptions())
	_, err := h.coord.Run(context.Background(), "  ", 3)
	assert.Error(t, err)
	_, err = h.coord.Run(context.Background(), "q", 0)
	assert.Error(t, err)
	assert.Equal(t, progress.PhaseIdle, h.tracker.Snapshot().Phase)
}

func TestRun_EndToEndAcrossRuns(t *testing.T) {
	ms := mocksite.New()
	ms.HTML("/acme", `<a href="mailto:Info@Acme.com">Info@Acme.com</a> info@acme.com`)
	ms.HTML("/bolt", `sales@bolt.io <img src="logo@2x.png">`)
	ms.HTML("/empty", `no contact here`)
	srv := httptest.NewServer(ms.Handler())
	defer srv.Close()

	ls := []listing.Listing{
		{Name: "Acme", Address: "1 Main St", Website: srv.URL + "/acme"},
		{Name: "Bolt", Address: "2 Main St", Website: srv.URL + "/bolt"},
		{Name: "Empty", Address: "3 Main St", Website: srv.URL + "/empty"},
	}
	dir := t.TempDir()
	sink, err := export.NewSink(filepath.Join(dir, "exports"), "csv")
	require.NoError(t, err)
	store := shown.NewFileStore(filepath.Join(dir, "database.json"))
	coord := pipeline.New(pipeline.Deps{
		Sources:   source.StaticFactory(ls),
		Extractor: extract.New(extract.Options{}),
		Store:     store,
		Sink:      sink,
	}, testOptions())

	first, err := coord.Run(context.Background(), "shops", 5)
	require.NoError(t, err)
	require.Len(t, first.Results, 2)
	for _, r := range first.Results {
		if r.Name == "Acme" {
			assert.Equal(t, []string{"info@acme.com"}, r.Emails)
		}
	}
	assert.Equal(t, 2, first.Exported)

	second, err := coord.Run(context.Background(), "shops", 5)
	require.NoError(t, err)
	assert.Empty(t, second.Results)

	rows, err := export.CSV{}.Read(first.Destination.Path)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
