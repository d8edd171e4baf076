package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/dlqueue/internal/domain"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

func TestSubmit_RejectsInvalidJobs(t *testing.T) {
	tests := []struct {
		name   string
		view   func(dir string) domain.JobView
		tools  fakeTools
		reason error
	}{
		{
			name:   "missing folder",
			view:   func(dir string) domain.JobView { return domain.JobView{URL: "http://x/a", Name: "a", Folder: filepath.Join(dir, "nope")} },
			reason: domain.ErrInvalidDestination,
		},
		{
			name:   "empty name",
			view:   func(dir string) domain.JobView { return domain.JobView{URL: "http://x/a", Name: "  ", Folder: dir} },
			reason: domain.ErrEmptyName,
		},
		{
			name:   "empty url",
			view:   func(dir string) domain.JobView { return domain.JobView{Name: "a", Folder: dir} },
			reason: domain.ErrEmptyURL,
		},
		{
			name: "f4m manifest",
			view: func(dir string) domain.JobView {
				return domain.JobView{URL: "http://x/a", Name: "a", Folder: dir, Kind: domain.KindMedia, Protocol: "f4m"}
			},
			reason: domain.ErrUnsupportedProtocol,
		},
		{
			name: "media without ffmpeg",
			view: func(dir string) domain.JobView {
				return domain.JobView{URL: "http://x/a", Name: "a.mp4", Folder: dir, Kind: domain.KindMedia, Protocol: "https"}
			},
			tools:  fakeTools{missing: true},
			reason: domain.ErrMissingTool,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := NewItemStore()
			m := NewManager(Config{}, logger.Nop(), Deps{Items: items, Engine: newGateEngine(), Tools: tt.tools})

			job, err := m.Submit(context.Background(), domain.NewJob(tt.view(t.TempDir())), SubmitOptions{RunNow: true, Silent: true})
			require.Error(t, err)
			assert.Nil(t, job)
			assert.ErrorIs(t, err, tt.reason)

			var verr *domain.ValidationError
			assert.True(t, errors.As(err, &verr))
			assert.Zero(t, items.Len(), "a rejected job is never registered")
		})
	}
}

func TestSubmit_RejectionSignalsUnlessSilent(t *testing.T) {
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)
	bad := domain.NewJob(domain.JobView{URL: "http://x/a", Name: "a", Folder: filepath.Join(h.dir, "missing")})

	_, err := h.m.Submit(context.Background(), bad, SubmitOptions{Silent: true})
	require.Error(t, err)
	assert.Empty(t, h.sink.byCommand("signal"))

	_, err = h.m.Submit(context.Background(), bad, SubmitOptions{})
	require.Error(t, err)
	assert.Len(t, h.sink.byCommand("signal"), 1)
}

func TestSubmit_ConflictPolicies(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)
		require.NoError(t, os.WriteFile(filepath.Join(h.dir, "a.bin"), []byte("old"), 0o644))
		return h
	}

	t.Run("rename", func(t *testing.T) {
		h := setup(t)
		job, err := h.m.Submit(context.Background(), h.template("a.bin", 10), SubmitOptions{OnConflict: domain.ConflictRename})
		require.NoError(t, err)
		assert.Equal(t, "a_2.bin", job.Name())
		assert.Equal(t, domain.JobID(h.dir, "a_2.bin"), job.ID())
	})

	t.Run("rename skips taken candidates", func(t *testing.T) {
		h := setup(t)
		require.NoError(t, os.WriteFile(filepath.Join(h.dir, "a_2.bin"), nil, 0o644))
		job, err := h.m.Submit(context.Background(), h.template("a.bin", 10), SubmitOptions{OnConflict: domain.ConflictRename})
		require.NoError(t, err)
		assert.Equal(t, "a_3.bin", job.Name())
	})

	t.Run("overwrite", func(t *testing.T) {
		h := setup(t)
		job, err := h.m.Submit(context.Background(), h.template("a.bin", 10), SubmitOptions{OnConflict: domain.ConflictOverwrite})
		require.NoError(t, err)
		assert.Equal(t, "a.bin", job.Name())
		assert.NoFileExists(t, filepath.Join(h.dir, "a.bin"))
	})

	t.Run("abort", func(t *testing.T) {
		h := setup(t)
		_, err := h.m.Submit(context.Background(), h.template("a.bin", 10), SubmitOptions{OnConflict: domain.ConflictAbort, Silent: true})
		assert.ErrorIs(t, err, domain.ErrAborted)
		assert.Zero(t, h.items.Len())
		assert.FileExists(t, filepath.Join(h.dir, "a.bin"))
	})

	t.Run("decider is asked", func(t *testing.T) {
		items := NewItemStore()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), nil, 0o644))
		m := NewManager(Config{}, logger.Nop(), Deps{Items: items, Engine: newGateEngine(), Decider: fixedDecider(domain.ConflictAbort)})

		tmpl := domain.NewJob(domain.JobView{URL: "http://x/a.bin", Name: "a.bin", Folder: dir})
		_, err := m.Submit(context.Background(), tmpl, SubmitOptions{})
		assert.ErrorIs(t, err, domain.ErrAborted)
	})

	t.Run("auto rename skips the decider", func(t *testing.T) {
		items := NewItemStore()
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), nil, 0o644))
		m := NewManager(Config{AutoRename: true}, logger.Nop(), Deps{Items: items, Engine: newGateEngine(), Decider: fixedDecider(domain.ConflictAbort)})

		tmpl := domain.NewJob(domain.JobView{URL: "http://x/a.bin", Name: "a.bin", Folder: dir})
		job, err := m.Submit(context.Background(), tmpl, SubmitOptions{})
		require.NoError(t, err)
		assert.Equal(t, "a_2.bin", job.Name())
	})
}

func TestSubmit_SameIDSameSizeResumes(t *testing.T) {
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)
	ctx := context.Background()

	first, err := h.m.Submit(ctx, h.template("a.bin", 100), SubmitOptions{})
	require.NoError(t, err)
	first.SetDownloaded(40)

	second, err := h.m.Submit(ctx, h.template("a.bin", 100), SubmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, int64(40), second.Downloaded())
	assert.Equal(t, 1, h.items.Len())

	got, ok := h.m.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestSubmit_SameIDOtherSizeRenames(t *testing.T) {
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)
	ctx := context.Background()

	first, err := h.m.Submit(ctx, h.template("a.bin", 100), SubmitOptions{})
	require.NoError(t, err)

	second, err := h.m.Submit(ctx, h.template("a.bin", 200), SubmitOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, "a_2.bin", second.Name())
	assert.Equal(t, 2, h.items.Len())
}

func TestStart_RegisteredJobIsNeverRenamed(t *testing.T) {
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)
	ctx := context.Background()

	job, err := h.m.Submit(ctx, h.template("a.bin", 10), SubmitOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(job.TargetPath(), nil, 0o644))

	err = h.m.Start(ctx, job.ID(), SubmitOptions{RunNow: true, Silent: true})
	assert.ErrorIs(t, err, domain.ErrAborted)
	assert.Equal(t, "a.bin", job.Name())
}

func TestItemStore_PutRefusesDuplicate(t *testing.T) {
	s := NewItemStore()
	a := domain.NewJob(domain.JobView{URL: "http://x/a", Name: "a", Folder: "/tmp"})
	b := domain.NewJob(domain.JobView{URL: "http://y/a", Name: "a", Folder: "/tmp"})

	require.NoError(t, s.Put(a))
	assert.ErrorIs(t, s.Put(b), ErrDuplicateID)

	got, ok := s.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)

	prev := s.Resume(b)
	assert.Same(t, a, prev)
	got, _ = s.Get(a.ID())
	assert.Same(t, b, got)
}

func TestSubmit_DashedDestinationsStaySeparate(t *testing.T) {
	h := newHarness(t, fastConfig(1, 0), newGateEngine(), nil)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(h.dir, "a-b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(h.dir, "a"), 0o755))

	first := domain.NewJob(domain.JobView{URL: "http://x/c", Name: "c", Folder: filepath.Join(h.dir, "a-b"), TotalSize: 10})
	second := domain.NewJob(domain.JobView{URL: "http://x/b-c", Name: "b-c", Folder: filepath.Join(h.dir, "a"), TotalSize: 10})

	a, err := h.m.Submit(ctx, first, SubmitOptions{})
	require.NoError(t, err)
	b, err := h.m.Submit(ctx, second, SubmitOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, h.items.Len())
	assert.Equal(t, "c", a.Name())
	got, ok := h.m.Get(a.ID())
	require.True(t, ok)
	assert.Same(t, a, got)
}
