package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIngestor struct {
	mu       sync.Mutex
	ingested []knowledge.Resource
	removed  []string
	scopes   []tenant.Scope
}

func (f *fakeIngestor) Ingest(ctx context.Context, res knowledge.Resource) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if scope, err := tenant.ScopeFromContext(ctx); err == nil {
		f.scopes = append(f.scopes, scope)
	}
	f.ingested = append(f.ingested, res)
	return "id", nil
}

func (f *fakeIngestor) Remove(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, uri)
	return nil
}

func (f *fakeIngestor) ingestedURIs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	uris := make([]string, len(f.ingested))
	for i, r := range f.ingested {
		uris[i] = r.URI
	}
	return uris
}

func (f *fakeIngestor) removedURIs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func startWatcher(t *testing.T, dir string, svc Ingestor) {
	t.Helper()
	w, err := New(Config{
		Dir:       dir,
		Debounce:  50 * time.Millisecond,
		Workspace: "acme",
		Agent:     "planner",
	}, svc, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
}

func TestWatcherIngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeIngestor{}
	startWatcher(t, dir, svc)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# redis notes"), 0o644))

	require.Eventually(t, func() bool {
		return len(svc.ingestedURIs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	res := svc.ingested[0]
	assert.Equal(t, "drop://notes.md", res.URI)
	assert.Equal(t, knowledge.KindResource, res.Kind)
	assert.Equal(t, "text/markdown", res.ContentType)
	assert.Equal(t, []byte("# redis notes"), res.Data)
	require.NotEmpty(t, svc.scopes)
	assert.Equal(t, tenant.Scope{Workspace: "acme", Agent: "planner"}, svc.scopes[0])
}

func TestWatcherDebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeIngestor{}
	startWatcher(t, dir, svc)

	path := filepath.Join(dir, "burst.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.WriteString("line\n")
		require.NoError(t, err)
		require.NoError(t, f.Sync())
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return len(svc.ingestedURIs()) >= 1
	}, 5*time.Second, 20*time.Millisecond)

	// Let any stray timers fire, then confirm the burst collapsed.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, svc.ingestedURIs(), 1)
}

func TestWatcherRemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeIngestor{}
	startWatcher(t, dir, svc)

	path := filepath.Join(dir, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("temp"), 0o644))
	require.Eventually(t, func() bool {
		return len(svc.ingestedURIs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return len(svc.removedURIs()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{"drop://gone.md"}, svc.removedURIs())
}

func TestWatcherIgnoresHiddenAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeIngestor{}
	startWatcher(t, dir, svc)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.bin"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.md"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		return len(svc.ingestedURIs()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"drop://kept.md"}, svc.ingestedURIs())
}

func TestWatcherConfigValidation(t *testing.T) {
	_, err := New(Config{Workspace: "acme"}, &fakeIngestor{}, nil)
	require.Error(t, err)

	_, err = New(Config{Dir: t.TempDir()}, &fakeIngestor{}, nil)
	require.Error(t, err)
}
