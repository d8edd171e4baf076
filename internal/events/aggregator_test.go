package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/dlqueue/internal/domain"
)

type jobMap map[string]*domain.Job

func (m jobMap) Get(id string) (*domain.Job, bool) {
	j, ok := m[id]
	return j, ok
}

func (m jobMap) All() []*domain.Job {
	out := make([]*domain.Job, 0, len(m))
	for _, j := range m {
		out = append(out, j)
	}
	return out
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Publish(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) byCommand(cmd string) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Update
	for _, u := range r.updates {
		if u.Command() == cmd {
			out = append(out, u)
		}
	}
	return out
}

func TestAggregator_CoalescesProgress(t *testing.T) {
	job := domain.NewJob(domain.JobView{Name: "a.bin", Folder: "/tmp", TotalSize: 1000})
	rec := &recorder{}
	agg := NewAggregator(Config{}, jobMap{job.ID(): job}, rec, nil)
	job.Attach(agg.Notify)

	job.AddDownloaded(100)
	job.AddDownloaded(150)

	assert.Equal(t, 1, agg.Flush())

	updates := rec.byCommand(CommandUpdate)
	require.Len(t, updates, 1)
	u := updates[0]
	assert.Equal(t, job.ID(), u.ID())
	assert.Equal(t, int64(250), u["downloaded"])
	assert.Equal(t, 25.0, u["progress"])
	assert.Contains(t, u, "speed")
	assert.Contains(t, u, "eta")
}

func TestAggregator_LaterEventsDoNotEraseKeys(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(Config{}, nil, rec, nil)

	agg.Notify("a", map[string]any{"status": "downloading", "errors": 1})
	agg.Notify("a", map[string]any{"errors": 2})

	agg.Flush()

	updates := rec.byCommand(CommandUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "downloading", updates[0]["status"])
	assert.Equal(t, 2, updates[0]["errors"])
	assert.NotContains(t, updates[0], "progress", "derived fields only accompany downloaded")
}

func TestAggregator_FirstSeenOrder(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(Config{}, nil, rec, nil)

	agg.Notify("b", map[string]any{"status": "pending"})
	agg.Notify("a", map[string]any{"status": "pending"})
	agg.Notify("b", map[string]any{"status": "downloading"})

	require.Equal(t, 2, agg.Flush())

	updates := rec.byCommand(CommandUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, "b", updates[0].ID())
	assert.Equal(t, "downloading", updates[0]["status"])
	assert.Equal(t, "a", updates[1].ID())
}

func TestAggregator_KeepsExplicitCommand(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(Config{}, nil, rec, nil)

	agg.Notify("a", map[string]any{"command": CommandNew, "name": "x"})
	agg.Flush()

	assert.Len(t, rec.byCommand(CommandNew), 1)
}

func TestAggregator_TotalSpeed(t *testing.T) {
	job := domain.NewJob(domain.JobView{Name: "a.bin", Folder: "/tmp", Status: domain.StatusDownloading})
	rec := &recorder{}
	agg := NewAggregator(Config{}, jobMap{job.ID(): job}, rec, nil)

	agg.Notify(job.ID(), map[string]any{"status": "downloading"})
	agg.Flush()
	require.Len(t, rec.byCommand(CommandTotalSpeed), 1)
	assert.Equal(t, 0.0, rec.byCommand(CommandTotalSpeed)[0]["total_speed"])

	// an idle flush still reports the total
	assert.Equal(t, 0, agg.Flush())
	assert.Len(t, rec.byCommand(CommandTotalSpeed), 2)
	assert.Len(t, rec.byCommand(CommandUpdate), 1)
}

func TestAggregator_EmitBypassesQueue(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(Config{}, nil, rec, nil)

	agg.Emit(New(CommandList, "", map[string]any{"jobs": []string{}}))

	assert.Len(t, rec.byCommand(CommandList), 1)
	assert.Equal(t, 0, agg.Flush())
}

func TestAggregator_RunFlushesOnTick(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(Config{FlushInterval: 10 * time.Millisecond}, nil, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(done)
	}()

	agg.Notify("a", map[string]any{"status": "pending"})
	require.Eventually(t, func() bool {
		return len(rec.byCommand(CommandUpdate)) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestAggregator_NotifyIsConcurrent(t *testing.T) {
	rec := &recorder{}
	agg := NewAggregator(Config{}, nil, rec, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				agg.Notify("a", map[string]any{"downloaded": int64(n)})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, agg.Flush())
}
