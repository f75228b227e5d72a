package filters

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	Text string `json:"text"`
}

type otherMessage struct {
	Count int `json:"count"`
}

// namedFilter passes through and reports a fixed name
type namedFilter string

func (f namedFilter) Invoke(ctx context.Context, pc *pipeline.Context, next pipeline.Next) error {
	return next(ctx, pc)
}

func (f namedFilter) Name() string {
	return string(f)
}

func namedTemplate(prefix string) Template {
	return func(desc registry.Descriptor) pipeline.Filter {
		return namedFilter(prefix + ":" + desc.Name())
	}
}

func names(fs []pipeline.Filter) []string {
	result := make([]string, len(fs))
	for i, f := range fs {
		result[i] = pipeline.NameOf(f)
	}
	return result
}

func TestResolverResolve(t *testing.T) {
	desc := registry.Describe[testMessage]("")

	t.Run("closed beats open beats default and removal falls back", func(t *testing.T) {
		r := NewResolver()
		require.NoError(t, r.SetDefault(Serializer, namedFilter("default")))
		require.NoError(t, r.SetOpen(Serializer, namedTemplate("open")))
		require.NoError(t, r.SetClosed(Serializer, desc.Key(), namedFilter("closed")))

		f, err := r.Resolve(Serializer, desc)
		require.NoError(t, err)
		assert.Equal(t, "closed", pipeline.NameOf(f))

		require.NoError(t, r.RemoveClosed(Serializer, desc.Key()))
		f, err = r.Resolve(Serializer, desc)
		require.NoError(t, err)
		assert.Equal(t, "open:testMessage", pipeline.NameOf(f))

		require.NoError(t, r.RemoveOpen(Serializer))
		f, err = r.Resolve(Serializer, desc)
		require.NoError(t, err)
		assert.Equal(t, "default", pipeline.NameOf(f))

		require.NoError(t, r.RemoveDefault(Serializer))
		_, err = r.Resolve(Serializer, desc)
		var notFound *FilterNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.True(t, errors.Is(err, ErrFilterNotFound))
		assert.Equal(t, Serializer, notFound.Capability)
		assert.Equal(t, "testMessage", notFound.EventName)
	})

	t.Run("closed filters only apply to their type", func(t *testing.T) {
		r := NewResolver()
		require.NoError(t, r.SetDefault(Deserializer, namedFilter("default")))
		require.NoError(t, r.SetClosed(Deserializer, desc.Key(), namedFilter("closed")))

		f, err := r.Resolve(Deserializer, registry.Describe[otherMessage](""))
		require.NoError(t, err)
		assert.Equal(t, "default", pipeline.NameOf(f))
	})

	t.Run("set replaces in place", func(t *testing.T) {
		r := NewResolver()
		require.NoError(t, r.SetClosed(Serializer, desc.Key(), namedFilter("first")))
		require.NoError(t, r.SetClosed(Serializer, desc.Key(), namedFilter("second")))

		f, err := r.Resolve(Serializer, desc)
		require.NoError(t, err)
		assert.Equal(t, "second", pipeline.NameOf(f))
	})

	t.Run("template returning nil falls through", func(t *testing.T) {
		r := NewResolver()
		require.NoError(t, r.SetDefault(Serializer, namedFilter("default")))
		require.NoError(t, r.SetOpen(Serializer, func(registry.Descriptor) pipeline.Filter { return nil }))

		f, err := r.Resolve(Serializer, desc)
		require.NoError(t, err)
		assert.Equal(t, "default", pipeline.NameOf(f))
	})

	t.Run("ResolveDefault ignores other tiers", func(t *testing.T) {
		r := NewResolver()
		_, err := r.ResolveDefault(Deserializer)
		assert.True(t, errors.Is(err, ErrFilterNotFound))

		require.NoError(t, r.SetOpen(Deserializer, namedTemplate("open")))
		require.NoError(t, r.SetDefault(Deserializer, namedFilter("default")))
		f, err := r.ResolveDefault(Deserializer)
		require.NoError(t, err)
		assert.Equal(t, "default", pipeline.NameOf(f))
	})

	t.Run("single-slot operations reject collection capabilities", func(t *testing.T) {
		r := NewResolver()
		assert.True(t, errors.Is(r.SetDefault(PublishFilter, namedFilter("x")), ErrWrongSlotKind))
		_, err := r.Resolve(ConsumeFilter, desc)
		assert.True(t, errors.Is(err, ErrWrongSlotKind))
	})
}

func TestResolverResolveAll(t *testing.T) {
	desc := registry.Describe[testMessage]("")

	t.Run("orders defaults, open, then closed", func(t *testing.T) {
		r := NewResolver()
		require.NoError(t, r.AddClosed(PublishFilter, desc.Key(), namedFilter("closed-1")))
		require.NoError(t, r.AddOpen(PublishFilter, namedTemplate("open")))
		require.NoError(t, r.AddDefault(PublishFilter, namedFilter("default-1")))
		require.NoError(t, r.AddDefault(PublishFilter, namedFilter("default-2")))
		require.NoError(t, r.AddClosed(PublishFilter, desc.Key(), namedFilter("closed-2")))

		fs, err := r.ResolveAll(PublishFilter, desc)
		require.NoError(t, err)
		assert.Equal(t, []string{"default-1", "default-2", "open:testMessage", "closed-1", "closed-2"}, names(fs))
	})

	t.Run("other types skip closed filters", func(t *testing.T) {
		r := NewResolver()
		require.NoError(t, r.AddDefault(ConsumeFilter, namedFilter("default")))
		require.NoError(t, r.AddClosed(ConsumeFilter, desc.Key(), namedFilter("closed")))

		fs, err := r.ResolveAll(ConsumeFilter, registry.Describe[otherMessage](""))
		require.NoError(t, err)
		assert.Equal(t, []string{"default"}, names(fs))
	})

	t.Run("empty is not an error", func(t *testing.T) {
		fs, err := NewResolver().ResolveAll(ConsumeFilter, desc)
		assert.NoError(t, err)
		assert.Empty(t, fs)
	})

	t.Run("collection operations reject single-slot capabilities", func(t *testing.T) {
		r := NewResolver()
		assert.True(t, errors.Is(r.AddDefault(Serializer, namedFilter("x")), ErrWrongSlotKind))
		_, err := r.ResolveAll(Deserializer, desc)
		assert.True(t, errors.Is(err, ErrWrongSlotKind))
	})
}

func TestResolverFreeze(t *testing.T) {
	desc := registry.Describe[testMessage]("")
	r := NewResolver()
	require.NoError(t, r.SetDefault(Serializer, namedFilter("default")))
	r.Freeze()

	assert.True(t, errors.Is(r.SetDefault(Serializer, namedFilter("late")), ErrResolverFrozen))
	assert.True(t, errors.Is(r.AddDefault(PublishFilter, namedFilter("late")), ErrResolverFrozen))
	assert.True(t, errors.Is(r.RemoveDefault(Serializer), ErrResolverFrozen))

	f, err := r.Resolve(Serializer, desc)
	require.NoError(t, err)
	assert.Equal(t, "default", pipeline.NameOf(f))
	assert.True(t, r.HasDefault(Serializer))
	assert.False(t, r.HasOpen(Serializer))
}

func TestCapability(t *testing.T) {
	assert.Equal(t, "serializer", Serializer.String())
	assert.Equal(t, "publish filter", PublishFilter.String())
	assert.True(t, ConsumeFilter.Collection())
	assert.False(t, Deserializer.Collection())
}
