package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-eventbus/registry"
	"github.com/glimte/mmate-eventbus/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Text string
}

type farewell struct {
	Text string
}

type recorder struct {
	calls []string
}

func (r *recorder) filter(name string) Filter {
	return FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
		r.calls = append(r.calls, name)
		return next(ctx, pc)
	})
}

func (r *recorder) terminal(name string) Filter {
	return FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
		r.calls = append(r.calls, name)
		return nil
	})
}

type producing struct {
	Filter
	key registry.TypeKey
}

func (p producing) Produces() registry.TypeKey {
	return p.key
}

func publishContext(payload any) *Context {
	return NewPublishContext(payload, registry.Describe[greeting](""), routing.Route{Exchange: "ex", RoutingKey: "key"}, nil)
}

func TestBuilder(t *testing.T) {
	t.Run("Build requires a terminal", func(t *testing.T) {
		_, err := NewBuilder("p").Use(FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
			return next(ctx, pc)
		})).Build()

		assert.True(t, errors.Is(err, ErrNoTerminal))
	})

	t.Run("Build rejects more than one terminal", func(t *testing.T) {
		rec := &recorder{}
		_, err := NewBuilder("p").Terminal(rec.terminal("a")).Terminal(rec.terminal("b")).Build()

		assert.True(t, errors.Is(err, ErrMultipleTerminals))
	})

	t.Run("Build rejects a typed stage after an incompatible transform", func(t *testing.T) {
		rec := &recorder{}
		_, err := NewBuilder("publish").
			Expect(registry.KeyOf[greeting]()).
			Use(producing{Filter: rec.filter("serialize"), key: registry.KeyOf[[]byte]()}).
			Use(Typed[greeting]("late", func(ctx context.Context, tc *TypedContext[greeting], next Next) error {
				return next(ctx, tc.Base())
			})).
			Terminal(rec.terminal("send")).
			Build()

		var mismatch *TypeMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.True(t, errors.Is(err, ErrTypeMismatch))
		assert.Equal(t, "late", mismatch.Stage)
		assert.Equal(t, "publish", mismatch.Pipeline)
		assert.Equal(t, registry.KeyOf[greeting](), mismatch.Expected)
		assert.Equal(t, registry.KeyOf[[]byte](), mismatch.Actual)
	})

	t.Run("Build accepts a typed stage matching the flowing type", func(t *testing.T) {
		rec := &recorder{}
		p, err := NewBuilder("publish").
			Expect(registry.KeyOf[greeting]()).
			Use(Typed[greeting]("typed", func(ctx context.Context, tc *TypedContext[greeting], next Next) error {
				return next(ctx, tc.Base())
			})).
			Terminal(rec.terminal("send")).
			Build()

		require.NoError(t, err)
		assert.Equal(t, []string{"typed", "pipeline.FilterFunc"}, p.Stages())
	})

	t.Run("unknown flowing type skips the check", func(t *testing.T) {
		rec := &recorder{}
		_, err := NewBuilder("consume").
			First(producing{Filter: rec.filter("decode")}).
			Use(Typed[greeting]("typed", func(ctx context.Context, tc *TypedContext[greeting], next Next) error {
				return next(ctx, tc.Base())
			})).
			Terminal(rec.terminal("dispatch")).
			Build()

		assert.NoError(t, err)
	})
}

func TestPipelineExecute(t *testing.T) {
	t.Run("runs stages in order with the first stage leading", func(t *testing.T) {
		rec := &recorder{}
		p, err := NewBuilder("p").
			Use(rec.filter("b"), rec.filter("c")).
			First(rec.filter("a")).
			Terminal(rec.terminal("t")).
			Build()
		require.NoError(t, err)

		require.NoError(t, p.Execute(context.Background(), publishContext(greeting{})))
		assert.Equal(t, []string{"a", "b", "c", "t"}, rec.calls)
	})

	t.Run("short-circuit stops later stages", func(t *testing.T) {
		rec := &recorder{}
		stop := FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
			rec.calls = append(rec.calls, "stop")
			return nil
		})
		p, err := NewBuilder("p").Use(rec.filter("a"), stop, rec.filter("b")).Terminal(rec.terminal("t")).Build()
		require.NoError(t, err)

		require.NoError(t, p.Execute(context.Background(), publishContext(greeting{})))
		assert.Equal(t, []string{"a", "stop"}, rec.calls)
	})

	t.Run("replacement context is visible downstream", func(t *testing.T) {
		var seen any
		replace := FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
			return next(ctx, pc.Replace([]byte("encoded"), registry.Descriptor{}))
		})
		terminal := FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
			seen = pc.Payload()
			return nil
		})
		p, err := NewBuilder("p").Use(replace).Terminal(terminal).Build()
		require.NoError(t, err)

		original := publishContext(greeting{Text: "hi"})
		require.NoError(t, p.Execute(context.Background(), original))

		assert.Equal(t, []byte("encoded"), seen)
		assert.Equal(t, greeting{Text: "hi"}, original.Payload())
	})

	t.Run("errors abort and propagate unchanged", func(t *testing.T) {
		rec := &recorder{}
		boom := errors.New("boom")
		fail := FilterFunc(func(ctx context.Context, pc *Context, next Next) error {
			return boom
		})
		p, err := NewBuilder("p").Use(fail, rec.filter("after")).Terminal(rec.terminal("t")).Build()
		require.NoError(t, err)

		err = p.Execute(context.Background(), publishContext(greeting{}))
		assert.Same(t, boom, err)
		assert.Empty(t, rec.calls)
	})

	t.Run("typed stage fails at runtime on a foreign payload", func(t *testing.T) {
		rec := &recorder{}
		p, err := NewBuilder("p").
			Use(Typed[farewell]("bye", func(ctx context.Context, tc *TypedContext[farewell], next Next) error {
				return next(ctx, tc.Base())
			})).
			Terminal(rec.terminal("t")).
			Build()
		require.NoError(t, err)

		err = p.Execute(context.Background(), publishContext(greeting{}))
		var mismatch *TypeMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "bye", mismatch.Stage)
		assert.Empty(t, rec.calls)
	})

	t.Run("pipelines are reusable", func(t *testing.T) {
		rec := &recorder{}
		p, err := NewBuilder("p").Terminal(rec.terminal("t")).Build()
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, p.Execute(context.Background(), publishContext(greeting{})))
		}
		assert.Len(t, rec.calls, 3)
	})
}

func TestContext(t *testing.T) {
	t.Run("publish context carries event name header and route", func(t *testing.T) {
		pc := publishContext(greeting{Text: "hi"})

		assert.Equal(t, "greeting", pc.EventName())
		assert.Equal(t, "greeting", pc.Headers().EventName())
		assert.Equal(t, "ex", pc.Route().Exchange)
		_, ok := pc.DeliveryTag()
		assert.False(t, ok)
	})

	t.Run("consume context reads event name from headers", func(t *testing.T) {
		headers := HeadersFrom(map[string]any{HeaderEventName: []byte("greeting")})
		pc := NewConsumeContext([]byte(`{}`), headers, 7)

		assert.Equal(t, "greeting", pc.EventName())
		tag, ok := pc.DeliveryTag()
		assert.True(t, ok)
		assert.Equal(t, uint64(7), tag)
		assert.True(t, pc.Descriptor().IsZero())
		assert.Equal(t, registry.KeyOf[[]byte](), pc.PayloadKey())
	})

	t.Run("replacement shares headers and delivery tag", func(t *testing.T) {
		pc := NewConsumeContext([]byte(`{}`), NewHeaders(), 3)
		desc := registry.Describe[greeting]("")

		replaced := pc.Replace(greeting{Text: "x"}, desc)
		replaced.Headers().SetCorrelationID("abc")

		assert.Equal(t, "abc", pc.Headers().CorrelationID())
		tag, _ := replaced.DeliveryTag()
		assert.Equal(t, uint64(3), tag)
		assert.Equal(t, desc.Key(), replaced.Descriptor().Key())
	})

	t.Run("typed view writes through to the base context", func(t *testing.T) {
		pc := publishContext(greeting{Text: "a"})

		tc, err := Narrow[greeting](pc)
		require.NoError(t, err)
		tc.SetPayload(greeting{Text: "b"})
		tc.Headers().Set("x-trace", "1")

		assert.Equal(t, greeting{Text: "b"}, pc.Payload())
		assert.Equal(t, greeting{Text: "b"}, tc.Payload())
		v, ok := pc.Headers().Get("x-trace")
		assert.True(t, ok)
		assert.Equal(t, "1", v)
		assert.Same(t, pc, tc.Base())
	})

	t.Run("Narrow fails for other types", func(t *testing.T) {
		_, err := Narrow[farewell](publishContext(greeting{}))
		assert.True(t, errors.Is(err, ErrTypeMismatch))
	})
}

func TestHeaders(t *testing.T) {
	h := HeadersFrom(map[string]any{"a": 1})
	h.Set("b", "two")
	h.SetCorrelationID("c-1")

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, "c-1", h.CorrelationID())
	assert.Equal(t, "1", h.GetString("a"))
	assert.Equal(t, "", h.GetString("missing"))

	table := h.Table()
	h.Del("a")
	assert.Equal(t, 1, table["a"])
	assert.Equal(t, 2, h.Len())

	count := 0
	h.Range(func(name string, value any) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}
