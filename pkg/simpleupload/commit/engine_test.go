package commit_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/commit"
	"github.com/tendant/simple-upload/pkg/simpleupload/stage"
	fsstorage "github.com/tendant/simple-upload/pkg/simpleupload/storage/fs"
	"github.com/tendant/simple-upload/pkg/simpleupload/storage/memory"
	"github.com/tendant/simple-upload/pkg/simpleupload/variant"
)

var avatar = simpleupload.AttributeConfig{
	Name:           "avatar",
	Path:           "avatars",
	Policy:         simpleupload.PolicyImage,
	Unique:         true,
	DeleteOnSave:   true,
	DeleteOnDelete: true,
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{G: 0xff, A: 0xff})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	tempDir string
	store   simpleupload.BlobStore
	stager  *stage.Stager
	engine  *commit.Engine
}

func newFixture(t *testing.T, store simpleupload.BlobStore, opts ...commit.Option) *fixture {
	t.Helper()
	tempDir := filepath.Join(t.TempDir(), "tmp")
	settings := simpleupload.Settings{
		TempDir:          tempDir,
		Layout:           simpleupload.LayoutFlat,
		TransmitOriginal: true,
		Transforms:       map[string]simpleupload.Transform{"thumb": {MaxWidth: 8}},
	}
	set, err := variant.Resolve(settings)
	require.NoError(t, err)

	stager, err := stage.New(stage.Config{
		TempDir:   tempDir,
		Layout:    settings.Layout,
		Attribute: avatar,
		Variants:  set,
	})
	require.NoError(t, err)

	engine, err := commit.NewEngine(store, settings, set, opts...)
	require.NoError(t, err)

	return &fixture{tempDir: tempDir, store: store, stager: stager, engine: engine}
}

// stageGroup stages the given variants and returns the shared base filename
// together with the staged bytes per variant.
func (f *fixture) stageGroup(t *testing.T, variants ...string) (string, map[string][]byte) {
	t.Helper()
	g := f.stager.NewGroup()
	data := make(map[string][]byte)
	for i, v := range variants {
		b := pngBytes(t, 16-i*4, 16-i*4)
		_, err := g.Stage(context.Background(), simpleupload.NewBlobFromBytes("photo.png", "image/png", b), v)
		require.NoError(t, err)
		data[v] = b
	}
	return g.BaseName(), data
}

func (f *fixture) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func readObject(t *testing.T, store simpleupload.BlobStore, path string) []byte {
	t.Helper()
	r, err := store.Read(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

// failingStore rejects writes to paths containing substr.
type failingStore struct {
	*memory.Backend
	substr string
}

func (f *failingStore) Write(ctx context.Context, path string, r io.Reader, meta simpleupload.WriteMeta) error {
	if strings.Contains(path, f.substr) {
		return errors.New("disk full")
	}
	return f.Backend.Write(ctx, path, r, meta)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []simpleupload.CommitState
}

func (r *stateRecorder) hooks() *simpleupload.Hooks {
	return &simpleupload.Hooks{
		OnCommitState: []simpleupload.CommitStateHook{
			func(hctx *simpleupload.HookContext, attribute string, from, to simpleupload.CommitState, elapsed time.Duration) {
				r.mu.Lock()
				defer r.mu.Unlock()
				if len(r.states) == 0 {
					r.states = append(r.states, from)
				}
				r.states = append(r.states, to)
			},
		},
	}
}

func TestPromoteCommitsCompleteSet(t *testing.T) {
	rec := &stateRecorder{}
	store := memory.New()
	f := newFixture(t, store, commit.WithHooks(rec.hooks()))
	base, data := f.stageGroup(t, "original", "thumb")

	result, err := f.engine.Promote(context.Background(), avatar, base)
	require.NoError(t, err)

	assert.Equal(t, simpleupload.CommitCommitted, result.State)
	assert.Equal(t, base, result.Filename)
	assert.Equal(t, []string{"original", "thumb"}, result.Written)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "avatars/"+base, result.Files[0].Path)
	assert.Equal(t, "avatars/thumb/"+base, result.Files[1].Path)

	assert.Equal(t, data["original"], readObject(t, store, "avatars/"+base))
	assert.Equal(t, data["thumb"], readObject(t, store, "avatars/thumb/"+base))

	meta, err := store.Stat(context.Background(), "avatars/thumb/"+base)
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)

	assert.Empty(t, f.tempFiles(t), "no temp file survives a commit")
	assert.Equal(t, []simpleupload.CommitState{
		simpleupload.CommitIdle, simpleupload.CommitChecking, simpleupload.CommitWriting, simpleupload.CommitCommitted,
	}, rec.states)
}

func TestPromoteAbortsOnMissingVariant(t *testing.T) {
	rec := &stateRecorder{}
	store := memory.New()
	f := newFixture(t, store, commit.WithHooks(rec.hooks()))
	base, _ := f.stageGroup(t, "original")

	result, err := f.engine.Promote(context.Background(), avatar, base)
	var merr *simpleupload.MissingVariantError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, []string{"thumb"}, merr.Variants)
	assert.Equal(t, "avatar", merr.Attribute)

	assert.Equal(t, simpleupload.CommitAborted, result.State)
	assert.Zero(t, store.Len(), "nothing is written when a variant is missing")
	assert.Len(t, f.tempFiles(t), 1)
	assert.Equal(t, []simpleupload.CommitState{
		simpleupload.CommitIdle, simpleupload.CommitChecking, simpleupload.CommitAborted,
	}, rec.states)
}

func TestCheck(t *testing.T) {
	rec := &stateRecorder{}
	store := memory.New()
	f := newFixture(t, store, commit.WithHooks(rec.hooks()))
	ctx := context.Background()

	complete, _ := f.stageGroup(t, "original", "thumb")
	require.NoError(t, f.engine.Check(ctx, avatar, complete))
	assert.Empty(t, rec.states, "a passing check is not a commit attempt")
	assert.Len(t, f.tempFiles(t), 2)
	assert.Zero(t, store.Len())

	partial, _ := f.stageGroup(t, "thumb")
	err := f.engine.Check(ctx, avatar, partial)
	var merr *simpleupload.MissingVariantError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, []string{"original"}, merr.Variants)
	assert.Equal(t, []simpleupload.CommitState{
		simpleupload.CommitIdle, simpleupload.CommitChecking, simpleupload.CommitAborted,
	}, rec.states)

	var verr *simpleupload.ValidationError
	assert.True(t, errors.As(f.engine.Check(ctx, avatar, "../x.png"), &verr))
}

func TestPromoteOnlyThumbPresent(t *testing.T) {
	store := memory.New()
	f := newFixture(t, store)
	base, _ := f.stageGroup(t, "thumb")

	result, err := f.engine.Promote(context.Background(), avatar, base)
	var merr *simpleupload.MissingVariantError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, []string{"original"}, merr.Variants)
	assert.Equal(t, simpleupload.CommitAborted, result.State)
	assert.Zero(t, store.Len())
}

func TestPromotePartialWriteFailure(t *testing.T) {
	rec := &stateRecorder{}
	store := &failingStore{Backend: memory.New(), substr: "/thumb/"}
	f := newFixture(t, store, commit.WithHooks(rec.hooks()))
	base, data := f.stageGroup(t, "original", "thumb")

	result, err := f.engine.Promote(context.Background(), avatar, base)
	require.Error(t, err)
	assert.ErrorIs(t, err, simpleupload.ErrCannotUpload)

	var wf *simpleupload.WriteFailure
	require.True(t, errors.As(err, &wf))
	assert.Contains(t, wf.Failed, "thumb")
	assert.Equal(t, []string{"original"}, wf.Written)

	assert.Equal(t, simpleupload.CommitPartiallyWritten, result.State)
	assert.Equal(t, data["original"], readObject(t, store, "avatars/"+base), "written variants are not rolled back")
	assert.Len(t, f.tempFiles(t), 2, "temp copies are kept for a retry")

	// The retry succeeds once the backend recovers.
	store.substr = "\x00never"
	result, err = f.engine.Promote(context.Background(), avatar, base)
	require.NoError(t, err)
	assert.Equal(t, simpleupload.CommitCommitted, result.State)
	assert.Empty(t, f.tempFiles(t))
}

func TestPromoteRejectsInvalidFilename(t *testing.T) {
	f := newFixture(t, memory.New())
	for _, name := range []string{"", "../etc/passwd", "a/b.png", "x!_!y"} {
		result, err := f.engine.Promote(context.Background(), avatar, name)
		var verr *simpleupload.ValidationError
		assert.True(t, errors.As(err, &verr), name)
		assert.Equal(t, simpleupload.CommitAborted, result.State)
	}
}

func TestPromoteWithSharder(t *testing.T) {
	store, err := fsstorage.New(fsstorage.Config{
		BaseDir: t.TempDir(),
		Shard:   fsstorage.ShardPolicy{MaxFilesPerDir: 1},
	})
	require.NoError(t, err)
	f := newFixture(t, store, commit.WithSharder(store))
	ctx := context.Background()

	first, _ := f.stageGroup(t, "original", "thumb")
	result, err := f.engine.Promote(ctx, avatar, first)
	require.NoError(t, err)
	assert.Equal(t, "0/"+first, result.Filename)
	assert.FileExists(t, filepath.Join(store.BaseDir(), "avatars", "0", first))
	assert.FileExists(t, filepath.Join(store.BaseDir(), "avatars", "thumb", "0", first))

	second, _ := f.stageGroup(t, "original", "thumb")
	result, err = f.engine.Promote(ctx, avatar, second)
	require.NoError(t, err)
	assert.Equal(t, "1/"+second, result.Filename)

	assert.Equal(t, 2, f.engine.Remove(ctx, avatar, "0/"+first))
	assert.NoDirExists(t, filepath.Join(store.BaseDir(), "avatars", "0"))
}

func TestRemove(t *testing.T) {
	var removed []int
	hooks := &simpleupload.Hooks{
		AfterRemove: []simpleupload.AfterRemoveHook{
			func(hctx *simpleupload.HookContext, attribute, filename string, n int) {
				removed = append(removed, n)
			},
		},
	}
	store := memory.New()
	f := newFixture(t, store, commit.WithHooks(hooks))
	ctx := context.Background()

	base, _ := f.stageGroup(t, "original", "thumb")
	_, err := f.engine.Promote(ctx, avatar, base)
	require.NoError(t, err)

	// The thumbnail is already gone; the original is still removed.
	require.NoError(t, store.Delete(ctx, "avatars/thumb/"+base))
	assert.Equal(t, 1, f.engine.Remove(ctx, avatar, base))
	assert.Zero(t, store.Len())

	assert.Equal(t, 0, f.engine.Remove(ctx, avatar, base))
	assert.Equal(t, 0, f.engine.Remove(ctx, avatar, "../secret"))
	assert.Equal(t, []int{1, 0}, removed)
}

func TestNewEngineConfiguration(t *testing.T) {
	_, err := commit.NewEngine(nil, simpleupload.Settings{TempDir: "/tmp"}, nil)
	var cerr *simpleupload.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "store", cerr.Field)

	_, err = commit.NewEngine(memory.New(), simpleupload.Settings{}, nil)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "temp_dir", cerr.Field)

	_, err = commit.NewEngine(memory.New(), simpleupload.Settings{
		TempDir:    "/tmp",
		Transforms: map[string]simpleupload.Transform{"thumb": {}},
	}, nil)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "transforms", cerr.Field)

	engine, err := commit.NewEngine(memory.New(), simpleupload.Settings{TempDir: "/tmp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"original"}, engine.Variants().Required())
}
