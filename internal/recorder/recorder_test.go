package recorder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/fusecapture/internal/artifact"
	"github.com/audiolibrelab/fusecapture/internal/flush"
	"github.com/audiolibrelab/fusecapture/internal/label"
	"github.com/audiolibrelab/fusecapture/internal/source"
	"github.com/audiolibrelab/fusecapture/internal/testutil"
	"github.com/audiolibrelab/fusecapture/internal/window"
)

const testChannels = 2

func fastFlush() flush.Config {
	return flush.Config{Retry: flush.RetryPolicy{
		MaxRetries: 1,
		Backoff:    flush.ConstantBackoff{Delay: time.Millisecond},
		Cooldown:   10 * time.Millisecond,
	}}
}

func newTestRecorder(t *testing.T, fs afero.Fs, mutate func(*Options)) *Recorder {
	t.Helper()
	opts := Options{
		Directory: "/data",
		Channels:  testChannels,
		Flush:     fastFlush(),
		Fs:        fs,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func sample(ts float64) source.Sample {
	return source.Sample{Timestamp: ts, Channels: []float32{float32(ts), float32(-ts)}}
}

// filled returns a closed channel holding n samples at 1 ms spacing
func filled(n int) chan source.Sample {
	ch := make(chan source.Sample, n)
	for i := 0; i < n; i++ {
		ch <- sample(float64(i) / 1000)
	}
	close(ch)
	return ch
}

func waitRecorded(t *testing.T, r *Recorder, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Stats().Recorded == n }, 2*time.Second, time.Millisecond,
		"expected %d recorded rows", n)
}

func readArtifact(t *testing.T, fs afero.Fs, name string) ([]artifact.Record, *artifact.Summary) {
	t.Helper()
	path := "/data/" + name + ".csv"
	records, err := artifact.ReadAll(fs, path)
	require.NoError(t, err)
	sum, err := artifact.Summarize(fs, path)
	require.NoError(t, err)
	return records, sum
}

func TestStartNotReady(t *testing.T) {
	r := newTestRecorder(t, afero.NewMemMapFs(), nil)
	assert.False(t, r.Ready())

	err := r.Start("session")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, r.Recording())

	status, info := r.Status()
	assert.Equal(t, StatusStandby, status)
	assert.Nil(t, info)

	r.SetSources(source.NewChanSamples(filled(0)), nil)
	assert.False(t, r.Ready())
	assert.ErrorIs(t, r.Start("session"), ErrNotReady)

	r.SetSources(source.NewChanSamples(filled(0)), source.NewEventQueue())
	assert.True(t, r.Ready())
}

func TestRecordsEverySampleInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	r.SetSources(source.NewChanSamples(filled(1000)), source.NewEventQueue())

	require.NoError(t, r.Start("ordered"))
	require.NoError(t, r.Wait())

	records, sum := readArtifact(t, fs, "ordered")
	require.Len(t, records, 1000)
	assert.Equal(t, 1, sum.HeaderCount)
	assert.True(t, sum.Ordered)
	for i, rec := range records {
		assert.Equal(t, float64(i)/1000, rec.Timestamp)
		assert.Equal(t, label.StatusTransition, rec.Status)
		assert.Equal(t, label.ImageNone, rec.Image)
	}

	status, info := r.Status()
	assert.Equal(t, StatusStandby, status)
	require.NotNil(t, info)
	assert.NotEmpty(t, info.ID)
	assert.NotNil(t, info.StopTime)
	assert.Equal(t, int64(1000), r.Stats().Flush.RowsWritten)
}

func TestStartWhileRecordingIsNoop(t *testing.T) {
	r := newTestRecorder(t, afero.NewMemMapFs(), nil)
	r.SetSources(source.NewChanSamples(make(chan source.Sample)), source.NewEventQueue())

	require.NoError(t, r.Start("first"))
	_, before := r.Status()
	require.NoError(t, r.Start("second"))
	_, after := r.Status()
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "first", after.Name)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop(), "stopping twice is harmless")
}

func TestLabelsNeverApplyRetroactively(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	ch := make(chan source.Sample)
	events := source.NewEventQueue()
	r.SetSources(source.NewChanSamples(ch), events)
	require.NoError(t, r.Start("relabel"))

	for i := 0; i < 10; i++ {
		ch <- sample(float64(i))
	}
	waitRecorded(t, r, 10)

	events.Push(label.Event{HasStatus: true, Status: label.StatusBaseline, HasImage: true, Image: 4})
	for i := 10; i < 20; i++ {
		ch <- sample(float64(i))
	}
	waitRecorded(t, r, 20)

	events.Push(label.ImageEvent(5))
	ch <- sample(20)
	close(ch)
	require.NoError(t, r.Wait())

	records, _ := readArtifact(t, fs, "relabel")
	require.Len(t, records, 21)
	for i := 0; i < 10; i++ {
		assert.Equal(t, label.StatusTransition, records[i].Status, "row %d", i)
		assert.Equal(t, label.ImageNone, records[i].Image, "row %d", i)
	}
	for i := 10; i < 20; i++ {
		assert.Equal(t, label.StatusBaseline, records[i].Status, "row %d", i)
		assert.Equal(t, int32(4), records[i].Image, "row %d", i)
	}
	// An image-only event leaves the status untouched
	assert.Equal(t, label.StatusBaseline, records[20].Status)
	assert.Equal(t, int32(5), records[20].Image)
}

func TestRolloverAtCapacity(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	r.SetSources(source.NewChanSamples(filled(window.DefaultCapacity+1)), source.NewEventQueue())

	require.NoError(t, r.Start("rollover"))
	require.NoError(t, r.Wait())

	_, sum := readArtifact(t, fs, "rollover")
	assert.Equal(t, window.DefaultCapacity+1, sum.Rows)
	assert.Equal(t, 1, sum.HeaderCount)
	assert.True(t, sum.Ordered)

	st := r.Stats()
	assert.Equal(t, int64(2), st.Windows)
	assert.Equal(t, 2, st.Flush.WindowsWritten)
	assert.Equal(t, int64(window.DefaultCapacity+1), st.Flush.RowsWritten)
}

func TestRolloverSmallCapacityRecyclesWindows(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, func(o *Options) { o.Capacity = 4 })
	r.SetSources(source.NewChanSamples(filled(10)), source.NewEventQueue())

	require.NoError(t, r.Start("small"))
	require.NoError(t, r.Wait())

	records, sum := readArtifact(t, fs, "small")
	require.Len(t, records, 10)
	assert.Equal(t, 1, sum.HeaderCount)
	assert.Equal(t, 3, r.Stats().Flush.WindowsWritten)
}

func TestPauseResume(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	ch := make(chan source.Sample)
	events := source.NewEventQueue()
	r.SetSources(source.NewChanSamples(ch), events)
	require.NoError(t, r.Start("paused"))

	for i := 0; i < 10; i++ {
		ch <- sample(float64(i))
	}
	waitRecorded(t, r, 10)

	r.Pause()
	assert.True(t, r.Paused())
	_, info := r.Status()
	assert.True(t, info.Paused)

	events.Push(label.StatusEvent(label.StatusLook))
	for i := 10; i < 15; i++ {
		ch <- sample(float64(i))
	}
	require.Eventually(t, func() bool { return r.Stats().Discarded == 5 }, 2*time.Second, time.Millisecond)

	r.Resume()
	assert.False(t, r.Paused())
	for i := 15; i < 25; i++ {
		ch <- sample(float64(i))
	}
	waitRecorded(t, r, 20)
	require.NoError(t, r.Stop())

	records, _ := readArtifact(t, fs, "paused")
	require.Len(t, records, 20)
	assert.Equal(t, 9.0, records[9].Timestamp)
	assert.Equal(t, 15.0, records[10].Timestamp)
	for _, rec := range records {
		assert.Equal(t, label.StatusTransition, rec.Status, "events polled while paused are discarded")
	}
	st := r.Stats()
	assert.Equal(t, int64(25), st.Acquired)
	assert.Equal(t, int64(1), st.DiscardedEvents)
}

func TestResumeFlushesBacklog(t *testing.T) {
	r := newTestRecorder(t, afero.NewMemMapFs(), nil)
	ch := make(chan source.Sample, 8)
	events := source.NewEventQueue()
	r.SetSources(source.NewChanSamples(ch), events)
	require.NoError(t, r.Start("backlog"))
	r.Pause()

	events.Push(label.StatusEvent(label.StatusImagine))
	r.Resume()
	assert.Equal(t, 0, events.Len())

	require.NoError(t, r.Stop())
}

func TestStopMidWindow(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	ch := make(chan source.Sample, 5000)
	for i := 0; i < 5000; i++ {
		ch <- sample(float64(i))
	}
	r.SetSources(source.NewChanSamples(ch), source.NewEventQueue())

	require.NoError(t, r.Start("stopped"))
	waitRecorded(t, r, 5000)
	require.NoError(t, r.Stop())
	assert.False(t, r.Recording())

	_, sum := readArtifact(t, fs, "stopped")
	assert.Equal(t, 5000, sum.Rows)
	assert.Equal(t, 1, sum.HeaderCount)

	status, _ := r.Status()
	assert.Equal(t, StatusStandby, status)
	assert.NoError(t, r.LastError())
}

func TestDefaultRateScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, func(o *Options) { o.Channels = 8 })

	samples := source.NewSynthetic(source.SyntheticConfig{Channels: 8, RateHz: 256, Duration: 2 * time.Second})
	script := source.NewScript(samples, []source.TimedEvent{{
		At:    1.0,
		Event: label.Event{HasStatus: true, Status: label.StatusImagine, HasImage: true, Image: 3, Timestamp: 1.0},
	}})
	r.SetSources(samples, script)

	require.NoError(t, r.Start("scenario"))
	require.NoError(t, r.Wait())

	records, sum := readArtifact(t, fs, "scenario")
	require.Len(t, records, 512)
	assert.Equal(t, 8, sum.Channels)
	for i, rec := range records {
		if rec.Timestamp < 1.0 {
			assert.Equal(t, label.StatusTransition, rec.Status, "row %d", i)
			assert.Equal(t, label.ImageNone, rec.Image, "row %d", i)
		} else {
			assert.Equal(t, label.StatusImagine, rec.Status, "row %d", i)
			assert.Equal(t, int32(3), rec.Image, "row %d", i)
		}
	}
	assert.Equal(t, 256, sum.StatusRows[label.StatusTransition])
	assert.Equal(t, 256, sum.StatusRows[label.StatusImagine])
}

func TestMalformedSamplesAreSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	ch := make(chan source.Sample, 4)
	ch <- sample(0)
	ch <- source.Sample{Timestamp: 1, Channels: []float32{1}}
	ch <- source.Sample{Timestamp: math.NaN(), Channels: []float32{1, 2}}
	ch <- sample(3)
	close(ch)
	r.SetSources(source.NewChanSamples(ch), source.NewEventQueue())

	require.NoError(t, r.Start("malformed"))
	require.NoError(t, r.Wait())

	records, _ := readArtifact(t, fs, "malformed")
	require.Len(t, records, 2)
	assert.Equal(t, 3.0, records[1].Timestamp)
	assert.Equal(t, int64(2), r.Stats().Skipped)
}

func TestSeveralPendingEventsLastWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	ch := make(chan source.Sample)
	events := source.NewEventQueue()
	r.SetSources(source.NewChanSamples(ch), events)
	require.NoError(t, r.Start("protocol"))

	ch <- sample(0)
	waitRecorded(t, r, 1)
	events.Push(label.StatusEvent(label.StatusBaseline))
	events.Push(label.StatusEvent(label.StatusImagine))
	ch <- sample(1)
	close(ch)
	require.NoError(t, r.Wait())

	records, _ := readArtifact(t, fs, "protocol")
	require.Len(t, records, 2)
	assert.Equal(t, label.StatusImagine, records[1].Status)
	assert.Equal(t, int64(1), r.Stats().ProtocolWarnings)
}

func TestEmptySessionWritesHeaderOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)

	for i := 0; i < 2; i++ {
		r.SetSources(source.NewChanSamples(filled(0)), source.NewEventQueue())
		require.NoError(t, r.Start("empty"))
		require.NoError(t, r.Wait())
	}

	_, sum := readArtifact(t, fs, "empty")
	assert.Equal(t, 0, sum.Rows)
	assert.Equal(t, 1, sum.HeaderCount)
}

func TestTransientFlushFailureIsRetried(t *testing.T) {
	fs := testutil.NewFlakyFs()
	fs.FailNext(1)
	r := newTestRecorder(t, fs, func(o *Options) { o.Capacity = 8 })
	r.SetSources(source.NewChanSamples(filled(20)), source.NewEventQueue())

	require.NoError(t, r.Start("transient"))
	require.NoError(t, r.Wait())

	_, sum := readArtifact(t, fs, "transient")
	assert.Equal(t, 20, sum.Rows)
	assert.Equal(t, 1, sum.HeaderCount)
	assert.Equal(t, 1, r.Stats().Flush.FailedAttempts)
}

func TestFlushFailureOnStopIsReported(t *testing.T) {
	fs := testutil.NewFlakyFs()
	fs.SetFailing(true)
	var ended error
	r := newTestRecorder(t, fs, func(o *Options) {
		o.OnSessionEnd = func(_ SessionInfo, _ Stats, err error) { ended = err }
	})
	r.SetSources(source.NewChanSamples(filled(10)), source.NewEventQueue())

	require.NoError(t, r.Start("failing"))
	err := r.Wait()
	require.Error(t, err)

	var ferr *flush.FlushError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, 10, ferr.Rows)
	assert.ErrorIs(t, err, testutil.ErrInjected)

	status, _ := r.Status()
	assert.Equal(t, StatusFailed, status)
	assert.Error(t, r.LastError())
	assert.Equal(t, err, ended)

	exists, _ := afero.Exists(fs, "/data/failing.csv")
	assert.False(t, exists, "a failed append leaves no partial artifact")
}

func TestMemoryCeilingFailsSession(t *testing.T) {
	fs := testutil.NewFlakyFs()
	fs.SetFailing(true)
	r := newTestRecorder(t, fs, func(o *Options) {
		o.Capacity = 4
		o.Flush.MemoryCeiling = window.SizeBytes(4, testChannels)
		o.Flush.Retry.Cooldown = time.Hour
	})
	ch := make(chan source.Sample, 32)
	for i := 0; i < 32; i++ {
		ch <- sample(float64(i))
	}
	r.SetSources(source.NewChanSamples(ch), source.NewEventQueue())

	require.NoError(t, r.Start("ceiling"))
	err := r.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, flush.ErrMemoryCeiling)

	status, _ := r.Status()
	assert.Equal(t, StatusFailed, status)
	assert.False(t, r.Recording())

	st := r.Stats()
	assert.Equal(t, int64(8), st.Recorded, "acquisition stops at the window that crossed the ceiling")
	assert.Equal(t, 2, st.Flush.AbandonedWindows)
}

func TestSessionEndHook(t *testing.T) {
	var (
		startID  string
		gotInfo  SessionInfo
		gotStats Stats
		called   bool
	)
	r := newTestRecorder(t, afero.NewMemMapFs(), func(o *Options) {
		o.OnSessionStart = func(info SessionInfo) {
			assert.False(t, called, "start hook runs before the end hook")
			startID = info.ID
		}
		o.OnSessionEnd = func(info SessionInfo, stats Stats, err error) {
			gotInfo, gotStats, called = info, stats, true
			assert.NoError(t, err)
		}
	})
	r.SetSources(source.NewChanSamples(filled(3)), source.NewEventQueue())

	require.NoError(t, r.Start("hooked"))
	require.NoError(t, r.Wait())

	require.True(t, called)
	assert.Equal(t, startID, gotInfo.ID)
	assert.Equal(t, "hooked", gotInfo.Name)
	assert.Equal(t, "/data/hooked.csv", gotInfo.Artifact)
	assert.Equal(t, int64(3), gotStats.Recorded)
	assert.Equal(t, int64(3), gotStats.Flush.RowsWritten)
}

// gatedSamples holds every read until the gate is closed
type gatedSamples struct {
	source.SampleSource
	gate chan struct{}
}

func (g *gatedSamples) Next(ctx context.Context) (source.Sample, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return source.Sample{}, ctx.Err()
	}
	return g.SampleSource.Next(ctx)
}

type read struct {
	sample source.Sample
	err    error
}

// scriptedSamples replays a fixed list of reads, then reports exhaustion
type scriptedSamples struct {
	reads []read
	// onRead runs before the read at the same index is returned
	onRead map[int]func()
	n      int
}

func (s *scriptedSamples) Next(_ context.Context) (source.Sample, error) {
	if s.n >= len(s.reads) {
		return source.Sample{}, source.ErrExhausted
	}
	i := s.n
	s.n++
	if fn := s.onRead[i]; fn != nil {
		fn()
	}
	return s.reads[i].sample, s.reads[i].err
}

func (s *scriptedSamples) FlushBacklog() {}

func TestResumeWithoutPauseKeepsQueuedSamples(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)
	gated := &gatedSamples{SampleSource: source.NewChanSamples(filled(5)), gate: make(chan struct{})}
	events := source.NewEventQueue()
	r.SetSources(gated, events)
	require.NoError(t, r.Start("unpaused"))

	events.Push(label.StatusEvent(label.StatusLook))
	r.Resume()
	assert.False(t, r.Paused())
	assert.Equal(t, 1, events.Len())

	close(gated.gate)
	require.NoError(t, r.Wait())

	records, _ := readArtifact(t, fs, "unpaused")
	require.Len(t, records, 5)
	assert.Equal(t, label.StatusLook, records[0].Status)
	assert.Equal(t, int64(0), r.Stats().Discarded)
}

func TestSampleReadDuringStopIsRecorded(t *testing.T) {
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, nil)

	stopped := make(chan error, 1)
	samples := &scriptedSamples{
		reads: []read{{sample: sample(0)}, {sample: sample(1)}, {sample: sample(2)}, {sample: sample(3)}},
		onRead: map[int]func(){
			2: func() {
				r.mutex.RLock()
				s := r.current
				r.mutex.RUnlock()
				go func() { stopped <- r.Stop() }()
				for !s.stop.Load() {
					time.Sleep(time.Millisecond)
				}
			},
		},
	}
	r.SetSources(samples, source.NewEventQueue())

	require.NoError(t, r.Start("racing"))
	require.NoError(t, r.Wait())
	require.NoError(t, <-stopped)

	records, _ := readArtifact(t, fs, "racing")
	require.Len(t, records, 3, "the read that saw the stop signal is kept, nothing after it is read")
	assert.Equal(t, 2.0, records[2].Timestamp)
	st := r.Stats()
	assert.Equal(t, int64(3), st.Acquired)
	assert.Equal(t, int64(3), st.Recorded)
}

func TestPersistentSourceErrorFailsSession(t *testing.T) {
	unplugged := errors.New("device unplugged")
	reads := make([]read, 10)
	for i := range reads {
		reads[i] = read{err: unplugged}
	}

	r := newTestRecorder(t, afero.NewMemMapFs(), func(o *Options) {
		o.SourceErrorLimit = 3
		o.SourceBackoff = flush.ConstantBackoff{Delay: time.Millisecond}
	})
	r.SetSources(&scriptedSamples{reads: reads}, source.NewEventQueue())

	require.NoError(t, r.Start("unplugged"))
	err := r.Wait()
	require.ErrorIs(t, err, unplugged)
	assert.Contains(t, err.Error(), "3 times in a row")

	status, _ := r.Status()
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, r.LastError(), unplugged)
	assert.Equal(t, int64(3), r.Stats().Skipped)
}

func TestSourceErrorCountResetsOnSuccess(t *testing.T) {
	glitch := errors.New("glitch")
	fs := afero.NewMemMapFs()
	r := newTestRecorder(t, fs, func(o *Options) {
		o.SourceErrorLimit = 3
		o.SourceBackoff = flush.ConstantBackoff{Delay: time.Millisecond}
	})
	r.SetSources(&scriptedSamples{reads: []read{
		{err: glitch}, {err: glitch}, {sample: sample(0)},
		{err: glitch}, {err: glitch}, {sample: sample(1)},
	}}, source.NewEventQueue())

	require.NoError(t, r.Start("glitchy"))
	require.NoError(t, r.Wait())

	records, _ := readArtifact(t, fs, "glitchy")
	assert.Len(t, records, 2)
	assert.Equal(t, int64(4), r.Stats().Skipped)
}

func TestSessionStatsSurviveNextStart(t *testing.T) {
	var (
		ended []Stats
		first *session
		r     *Recorder
	)
	r = newTestRecorder(t, afero.NewMemMapFs(), func(o *Options) {
		o.OnSessionStart = func(info SessionInfo) {
			if info.Name == "first" {
				first = r.current
			}
		}
		o.OnSessionEnd = func(info SessionInfo, stats Stats, err error) {
			assert.NoError(t, err)
			ended = append(ended, stats)
			if info.Name == "first" {
				// The next session may start as soon as this one is done
				r.SetSources(source.NewChanSamples(filled(4)), source.NewEventQueue())
				assert.NoError(t, r.Start("second"))
			}
		}
	})

	ch := make(chan source.Sample, 4)
	ch <- sample(0)
	ch <- source.Sample{Timestamp: 1, Channels: []float32{1}}
	ch <- source.Sample{Timestamp: 2, Channels: []float32{1}}
	ch <- sample(3)
	close(ch)
	r.SetSources(source.NewChanSamples(ch), source.NewEventQueue())

	require.NoError(t, r.Start("first"))
	require.NoError(t, r.Wait())
	require.NoError(t, r.Wait())

	_, info := r.Status()
	require.NotNil(t, info)
	assert.Equal(t, "second", info.Name)
	require.NotNil(t, first)

	require.Len(t, ended, 2)
	assert.Equal(t, int64(2), ended[0].Skipped)
	assert.Equal(t, int64(2), ended[0].Recorded)
	assert.Equal(t, int64(0), ended[1].Skipped)
	assert.Equal(t, int64(4), ended[1].Recorded)

	st := first.stats.snapshot()
	assert.Equal(t, int64(2), st.Skipped)
	assert.Equal(t, int64(2), st.Recorded)
	assert.Equal(t, int64(4), r.Stats().Recorded)
}

func TestCloseFailureDoesNotDuplicateRows(t *testing.T) {
	fs := testutil.NewFlakyFs()
	fs.FailNextClose(1)
	r := newTestRecorder(t, fs, func(o *Options) { o.Capacity = 3 })
	r.SetSources(source.NewChanSamples(filled(3)), source.NewEventQueue())

	require.NoError(t, r.Start("closing"))
	require.NoError(t, r.Wait())

	_, sum := readArtifact(t, fs, "closing")
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 1, sum.HeaderCount)
	assert.Equal(t, int64(3), r.Stats().Flush.RowsWritten)
}
