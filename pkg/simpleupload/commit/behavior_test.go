package commit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/commit"
	repomemory "github.com/tendant/simple-upload/pkg/simpleupload/repo/memory"
	"github.com/tendant/simple-upload/pkg/simpleupload/storage/memory"
)

type urlBuilder struct{}

func (urlBuilder) URL(attr simpleupload.AttributeConfig, variant, filename string) string {
	return "https://cdn.example.com/" + simpleupload.DurablePath(attr.Path, variant, filename)
}

type recordingSink struct {
	simpleupload.NoopEventSink
	committed []string
	removed   []string
}

func (s *recordingSink) FilesCommitted(ctx context.Context, attribute string, files []simpleupload.DurableFile) error {
	s.committed = append(s.committed, attribute+":"+files[0].Filename)
	return nil
}

func (s *recordingSink) FilesRemoved(ctx context.Context, attribute, filename string) error {
	s.removed = append(s.removed, attribute+":"+filename)
	return nil
}

type behaviorFixture struct {
	*fixture
	store    *memory.Backend
	failing  *failingStore
	behavior *commit.Behavior
	sink     *recordingSink
	service  simpleupload.Service
	uploads  []string
}

func newBehaviorFixture(t *testing.T, attrs ...simpleupload.AttributeConfig) *behaviorFixture {
	t.Helper()
	failing := &failingStore{Backend: memory.New(), substr: "\x00never"}
	bf := &behaviorFixture{store: failing.Backend, failing: failing, sink: &recordingSink{}}
	hooks := &simpleupload.Hooks{
		AfterUpload: []simpleupload.AfterUploadHook{
			func(hctx *simpleupload.HookContext, attribute string, files []simpleupload.DurableFile) error {
				bf.uploads = append(bf.uploads, attribute)
				return nil
			},
		},
	}
	bf.fixture = newFixture(t, bf.failing, commit.WithHooks(hooks))
	if len(attrs) == 0 {
		attrs = []simpleupload.AttributeConfig{avatar}
	}

	behavior, err := commit.NewBehavior(bf.engine, attrs,
		commit.WithURLBuilder(urlBuilder{}),
		commit.WithEventSink(bf.sink))
	require.NoError(t, err)
	bf.behavior = behavior

	bf.service, err = simpleupload.New(
		simpleupload.WithRepository(repomemory.New()),
		simpleupload.WithLifecycle(behavior))
	require.NoError(t, err)
	return bf
}

func TestBehaviorInsertCommits(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()
	base, data := bf.stageGroup(t, "original", "thumb")

	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", base)
	require.NoError(t, bf.service.Create(ctx, user))

	assert.Equal(t, base, user.Attribute("avatar"))
	assert.Equal(t, data["original"], readObject(t, bf.store, "avatars/"+base))
	assert.Equal(t, data["thumb"], readObject(t, bf.store, "avatars/thumb/"+base))
	assert.Empty(t, bf.tempFiles(t))
	assert.Equal(t, []string{"avatar"}, bf.uploads)
	assert.Equal(t, []string{"avatar:" + base}, bf.sink.committed)

	stored, err := bf.service.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, base, stored.Attribute("avatar"))
}

func TestBehaviorInsertWithoutValueSkipsCommit(t *testing.T) {
	bf := newBehaviorFixture(t)
	user := simpleupload.NewEntity("user")
	require.NoError(t, bf.service.Create(context.Background(), user))
	assert.Zero(t, bf.store.Len())
	assert.Empty(t, bf.uploads)
}

func TestBehaviorInsertVetoedOnMissingVariant(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()
	base, _ := bf.stageGroup(t, "original")

	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", base)
	err := bf.service.Create(ctx, user)

	var merr *simpleupload.MissingVariantError
	require.True(t, errors.As(err, &merr))
	assert.True(t, user.IsNew(), "record is not persisted")
	assert.Equal(t, "", user.Attribute("avatar"), "attribute is restored")
	assert.Zero(t, bf.store.Len())
	assert.Empty(t, bf.uploads)

	list, err := bf.service.List(ctx, "user")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBehaviorUpdateReplacesSet(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()

	oldBase, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", oldBase)
	require.NoError(t, bf.service.Create(ctx, user))

	newBase, data := bf.stageGroup(t, "original", "thumb")
	user.SetAttribute("avatar", newBase)
	require.NoError(t, bf.service.Update(ctx, user))

	assert.Equal(t, newBase, user.Attribute("avatar"))
	assert.Equal(t, data["original"], readObject(t, bf.store, "avatars/"+newBase))

	ok, err := bf.store.Has(ctx, "avatars/"+oldBase)
	require.NoError(t, err)
	assert.False(t, ok, "old original removed")
	ok, err = bf.store.Has(ctx, "avatars/thumb/"+oldBase)
	require.NoError(t, err)
	assert.False(t, ok, "old thumb removed")
	assert.Equal(t, 2, bf.store.Len())
	assert.Equal(t, []string{"avatar:" + oldBase}, bf.sink.removed)
}

func TestBehaviorUpdateUnchangedDoesNothing(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()

	base, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", base)
	require.NoError(t, bf.service.Create(ctx, user))

	user.SetAttribute("bio", "hello")
	require.NoError(t, bf.service.Update(ctx, user))

	assert.Equal(t, 2, bf.store.Len())
	assert.Equal(t, []string{"avatar"}, bf.uploads)
	assert.Empty(t, bf.sink.removed)
}

func TestBehaviorUpdateFailureKeepsOldSet(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()

	oldBase, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", oldBase)
	require.NoError(t, bf.service.Create(ctx, user))

	newBase, _ := bf.stageGroup(t, "thumb")
	user.SetAttribute("avatar", newBase)
	err := bf.service.Update(ctx, user)
	require.Error(t, err)

	assert.Equal(t, oldBase, user.Attribute("avatar"), "old value restored")
	ok, err := bf.store.Has(ctx, "avatars/"+oldBase)
	require.NoError(t, err)
	assert.True(t, ok, "old set is kept when the new one cannot be committed")
	assert.Empty(t, bf.sink.removed)

	stored, err := bf.service.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, oldBase, stored.Attribute("avatar"))
}

func TestBehaviorUpdateClearedValueRemovesOldSet(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()

	base, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", base)
	require.NoError(t, bf.service.Create(ctx, user))

	user.SetAttribute("avatar", "")
	require.NoError(t, bf.service.Update(ctx, user))
	assert.Zero(t, bf.store.Len())
}

func TestBehaviorKeepsOldSetWithoutDeleteOnSave(t *testing.T) {
	keep := avatar
	keep.DeleteOnSave = false
	bf := newBehaviorFixture(t, keep)
	ctx := context.Background()

	oldBase, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", oldBase)
	require.NoError(t, bf.service.Create(ctx, user))

	newBase, _ := bf.stageGroup(t, "original", "thumb")
	user.SetAttribute("avatar", newBase)
	require.NoError(t, bf.service.Update(ctx, user))
	assert.Equal(t, 4, bf.store.Len())
}

func TestBehaviorDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("DeleteOnDelete", func(t *testing.T) {
		bf := newBehaviorFixture(t)
		base, _ := bf.stageGroup(t, "original", "thumb")
		user := simpleupload.NewEntity("user")
		user.SetAttribute("avatar", base)
		require.NoError(t, bf.service.Create(ctx, user))

		require.NoError(t, bf.service.Delete(ctx, user.ID))
		assert.Zero(t, bf.store.Len())
	})

	t.Run("KeepFiles", func(t *testing.T) {
		keep := avatar
		keep.DeleteOnDelete = false
		bf := newBehaviorFixture(t, keep)
		base, _ := bf.stageGroup(t, "original", "thumb")
		user := simpleupload.NewEntity("user")
		user.SetAttribute("avatar", base)
		require.NoError(t, bf.service.Create(ctx, user))

		require.NoError(t, bf.service.Delete(ctx, user.ID))
		assert.Equal(t, 2, bf.store.Len())
	})
}

func TestBehaviorMultipleAttributesAllOrNothing(t *testing.T) {
	cover := avatar
	cover.Name = "cover"
	bf := newBehaviorFixture(t, avatar, cover)
	ctx := context.Background()

	a1, _ := bf.stageGroup(t, "original", "thumb")
	c1, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttributes(map[string]string{"avatar": a1, "cover": c1})
	require.NoError(t, bf.service.Create(ctx, user))

	a2, _ := bf.stageGroup(t, "original", "thumb")
	c2, _ := bf.stageGroup(t, "original")
	user.SetAttributes(map[string]string{"avatar": a2, "cover": c2})
	require.Error(t, bf.service.Update(ctx, user))

	assert.Equal(t, a1, user.Attribute("avatar"))
	assert.Equal(t, c1, user.Attribute("cover"))
	ok, err := bf.store.Has(ctx, "avatars/"+a1)
	require.NoError(t, err)
	assert.True(t, ok, "no old set is retired when the save is vetoed")
	ok, err = bf.store.Has(ctx, "avatars/"+a2)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is written when a group is incomplete")
	assert.Len(t, bf.tempFiles(t), 3, "staged groups stay for a retry")
}

func TestBehaviorRetryAfterVetoedSave(t *testing.T) {
	cover := avatar
	cover.Name = "cover"
	cover.Path = "covers"
	bf := newBehaviorFixture(t, avatar, cover)
	ctx := context.Background()

	a1, _ := bf.stageGroup(t, "original", "thumb")
	c1, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttributes(map[string]string{"avatar": a1, "cover": c1})
	require.NoError(t, bf.service.Create(ctx, user))

	a2, a2data := bf.stageGroup(t, "original", "thumb")
	c2, _ := bf.stageGroup(t, "original")
	user.SetAttributes(map[string]string{"avatar": a2, "cover": c2})
	require.Error(t, bf.service.Update(ctx, user))

	c3, _ := bf.stageGroup(t, "original", "thumb")
	user.SetAttributes(map[string]string{"avatar": a2, "cover": c3})
	require.NoError(t, bf.service.Update(ctx, user))

	assert.Equal(t, a2, user.Attribute("avatar"))
	assert.Equal(t, c3, user.Attribute("cover"))
	assert.Equal(t, a2data["thumb"], readObject(t, bf.store, "avatars/thumb/"+a2))
	ok, err := bf.store.Has(ctx, "avatars/"+a1)
	require.NoError(t, err)
	assert.False(t, ok, "old avatar set is retired")

	stored, err := bf.service.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, a2, stored.Attribute("avatar"))
	assert.Equal(t, c3, stored.Attribute("cover"))
}

func TestBehaviorWriteFailureRollsBackEarlierAttributes(t *testing.T) {
	cover := avatar
	cover.Name = "cover"
	cover.Path = "covers"
	bf := newBehaviorFixture(t, avatar, cover)
	ctx := context.Background()

	a1, _ := bf.stageGroup(t, "original", "thumb")
	c1, _ := bf.stageGroup(t, "original", "thumb")
	user := simpleupload.NewEntity("user")
	user.SetAttributes(map[string]string{"avatar": a1, "cover": c1})
	require.NoError(t, bf.service.Create(ctx, user))
	bf.uploads = nil
	bf.sink.committed = nil

	a2, _ := bf.stageGroup(t, "original", "thumb")
	c2, _ := bf.stageGroup(t, "original", "thumb")
	bf.failing.substr = "covers/thumb/"
	user.SetAttributes(map[string]string{"avatar": a2, "cover": c2})
	err := bf.service.Update(ctx, user)
	assert.ErrorIs(t, err, simpleupload.ErrCannotUpload)

	assert.Equal(t, a1, user.Attribute("avatar"))
	assert.Equal(t, c1, user.Attribute("cover"))
	for _, p := range []string{"avatars/" + a2, "avatars/thumb/" + a2} {
		ok, err := bf.store.Has(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
	for _, p := range []string{"avatars/" + a1, "covers/" + c1} {
		ok, err := bf.store.Has(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
	assert.Empty(t, bf.uploads, "no after-upload for a vetoed save")
	assert.Empty(t, bf.sink.committed)
	assert.Len(t, bf.tempFiles(t), 4)

	bf.failing.substr = "\x00never"
	user.SetAttributes(map[string]string{"avatar": a2, "cover": c2})
	require.NoError(t, bf.service.Update(ctx, user))
	assert.Equal(t, a2, user.Attribute("avatar"))
	assert.Equal(t, c2, user.Attribute("cover"))
	assert.Empty(t, bf.tempFiles(t))
	assert.ElementsMatch(t, []string{"avatar", "cover"}, bf.uploads)
}

func TestBehaviorAccessors(t *testing.T) {
	bf := newBehaviorFixture(t)
	ctx := context.Background()
	base, _ := bf.stageGroup(t, "original", "thumb")

	user := simpleupload.NewEntity("user")
	user.SetAttribute("avatar", base)
	require.NoError(t, bf.service.Create(ctx, user))

	assert.Equal(t, "https://cdn.example.com/avatars/"+base, bf.behavior.URL(user, "avatar", ""))
	assert.Equal(t, "https://cdn.example.com/avatars/thumb/"+base, bf.behavior.URL(user, "avatar", "thumb"))
	assert.Equal(t, "", bf.behavior.URL(user, "unknown", ""))
	assert.Equal(t, map[string]string{
		"original": "https://cdn.example.com/avatars/" + base,
		"thumb":    "https://cdn.example.com/avatars/thumb/" + base,
	}, bf.behavior.URLs(user, "avatar"))

	mimeType, err := bf.behavior.MimeType(ctx, user, "avatar")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)

	exists, err := bf.behavior.FileExists(ctx, user, "avatar")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := bf.behavior.RemoveAttribute(ctx, user, "avatar")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "", user.Attribute("avatar"))
	assert.Zero(t, bf.store.Len())

	exists, err = bf.behavior.FileExists(ctx, user, "avatar")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = bf.behavior.RemoveAttribute(ctx, user, "unknown")
	assert.Error(t, err)
}

func TestNewBehaviorConfiguration(t *testing.T) {
	f := newFixture(t, memory.New())
	var cerr *simpleupload.ConfigurationError

	_, err := commit.NewBehavior(nil, []simpleupload.AttributeConfig{avatar})
	assert.True(t, errors.As(err, &cerr))

	_, err = commit.NewBehavior(f.engine, nil)
	assert.True(t, errors.As(err, &cerr))

	_, err = commit.NewBehavior(f.engine, []simpleupload.AttributeConfig{avatar, avatar})
	assert.True(t, errors.As(err, &cerr))

	_, err = commit.NewBehavior(f.engine, []simpleupload.AttributeConfig{{Name: "x", Policy: "video"}})
	assert.True(t, errors.As(err, &cerr))
}
