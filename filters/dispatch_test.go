package filters

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-eventbus/contracts"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func consumeContext(payload testMessage, tag uint64) *pipeline.Context {
	desc := registry.Describe[testMessage]("")
	pc := pipeline.NewConsumeContext([]byte(`{}`), eventHeaders(desc.Name()), tag)
	return pc.Replace(payload, desc)
}

func recordingHandler(name string, calls *[]string, err error) registry.Handler {
	return registry.HandlerOf[testMessage](name, contracts.HandlerFunc[testMessage](func(ctx context.Context, e testMessage) error {
		*calls = append(*calls, name+":"+e.Text)
		return err
	}))
}

func TestDispatcher(t *testing.T) {
	desc := registry.Describe[testMessage]("")

	t.Run("invokes handlers in order then acknowledges", func(t *testing.T) {
		var calls []string
		handlers := registry.New()
		require.NoError(t, handlers.AddHandler(desc, recordingHandler("a", &calls, nil)))
		require.NoError(t, handlers.AddHandler(desc, recordingHandler("b", &calls, nil)))

		acker := &fakeAcker{}
		acker.On("Ack", uint64(9), false).Run(func(mock.Arguments) {
			calls = append(calls, "ack")
		}).Return(nil)

		err := NewDispatcher(handlers, acker).Invoke(context.Background(), consumeContext(testMessage{Text: "x"}, 9), nil)

		require.NoError(t, err)
		assert.Equal(t, []string{"a:x", "b:x", "ack"}, calls)
		acker.AssertExpectations(t)
	})

	t.Run("handler failure stops dispatch without acknowledging", func(t *testing.T) {
		var calls []string
		boom := errors.New("boom")
		handlers := registry.New()
		require.NoError(t, handlers.AddHandler(desc, recordingHandler("a", &calls, boom)))
		require.NoError(t, handlers.AddHandler(desc, recordingHandler("b", &calls, nil)))
		acker := &fakeAcker{}

		err := NewDispatcher(handlers, acker).Invoke(context.Background(), consumeContext(testMessage{Text: "x"}, 9), nil)

		var handlerErr *HandlerError
		require.ErrorAs(t, err, &handlerErr)
		assert.True(t, errors.Is(err, ErrHandlerFailure))
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 0, handlerErr.Index)
		assert.Equal(t, "a", handlerErr.Handler)
		assert.Equal(t, "testMessage", handlerErr.EventName)
		assert.Equal(t, []string{"a:x"}, calls)
		acker.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
	})

	t.Run("zero handlers still acknowledges", func(t *testing.T) {
		acker := &fakeAcker{}
		acker.On("Ack", uint64(3), false).Return(nil)

		err := NewDispatcher(registry.New(), acker).Invoke(context.Background(), consumeContext(testMessage{}, 3), nil)

		require.NoError(t, err)
		acker.AssertExpectations(t)
	})

	t.Run("dispatches on the type of a replaced payload", func(t *testing.T) {
		var calls []string
		handlers := registry.New()
		require.NoError(t, handlers.AddHandler(desc, recordingHandler("message", &calls, nil)))
		require.NoError(t, handlers.AddHandler(registry.Describe[otherMessage](""),
			registry.HandlerOf[otherMessage]("other", contracts.HandlerFunc[otherMessage](func(ctx context.Context, e otherMessage) error {
				calls = append(calls, "other")
				return nil
			}))))
		acker := &fakeAcker{}
		acker.On("Ack", uint64(4), false).Return(nil)

		pc := consumeContext(testMessage{Text: "x"}, 4).Replace(otherMessage{Count: 1}, registry.Descriptor{})
		err := NewDispatcher(handlers, acker).Invoke(context.Background(), pc, nil)

		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, calls)
		acker.AssertExpectations(t)
	})

	t.Run("ack failures are returned", func(t *testing.T) {
		acker := &fakeAcker{}
		acker.On("Ack", uint64(3), false).Return(errors.New("channel closed"))

		err := NewDispatcher(registry.New(), acker).Invoke(context.Background(), consumeContext(testMessage{}, 3), nil)
		assert.Error(t, err)
	})

	t.Run("is a terminal", func(t *testing.T) {
		acker := &fakeAcker{}
		acker.On("Ack", mock.Anything, false).Return(nil)

		err := NewDispatcher(registry.New(), acker).Invoke(context.Background(), consumeContext(testMessage{}, 1),
			func(context.Context, *pipeline.Context) error {
				t.Fatal("dispatcher must not continue")
				return nil
			})
		assert.NoError(t, err)
	})
}
