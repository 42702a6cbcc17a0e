package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inercia/go-toolloop/pkg/llm"
)

type store interface {
	Append(ctx context.Context, sessionID string, msg llm.ChatMessage) error
	List(ctx context.Context, sessionID string) ([]llm.ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
}

func parisConversation() []llm.ChatMessage {
	call := llm.ToolCall{
		ID:           "call_1",
		FunctionName: "get_current_weather",
		Arguments:    map[string]any{"location": "Paris, FR"},
	}
	return []llm.ChatMessage{
		llm.NewUserMessage("How is weather today in Paris?"),
		llm.NewAssistantMessage("", call),
		llm.NewToolMessage("call_1", "get_current_weather", `{"location":"Paris, FR","forecast":"sunny"}`),
		llm.NewAssistantMessage("It is sunny in Paris."),
	}
}

func testStore(t *testing.T, s store) {
	ctx := context.Background()

	for _, msg := range parisConversation() {
		require.NoError(t, s.Append(ctx, "1234", msg))
	}
	require.NoError(t, s.Append(ctx, "other", llm.NewUserMessage("hello")))

	got, err := s.List(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, parisConversation(), got)

	empty, err := s.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.ErrorIs(t, s.Append(ctx, "", llm.NewUserMessage("x")), ErrEmptySessionID)

	require.NoError(t, s.Clear(ctx, "1234"))
	got, err = s.List(ctx, "1234")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.List(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	testStore(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Append(ctx, "s", parisConversation()[1]))

	got, err := m.List(ctx, "s")
	require.NoError(t, err)
	got[0].ToolCalls[0].Arguments["location"] = "Berlin"

	again, err := m.List(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Paris, FR", again[0].ToolCalls[0].Arguments["location"])
}

func TestMemoryConcurrentAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Append(ctx, "s", llm.NewUserMessage("hi")))
		}()
	}
	wg.Wait()

	got, err := m.List(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.Equal(t, []string{"s"}, m.Sessions())
}

func TestMemoryCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, NewMemory().Append(ctx, "s", llm.NewUserMessage("hi")), context.Canceled)
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	testStore(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	for _, msg := range parisConversation() {
		require.NoError(t, s.Append(ctx, "1234", msg))
	}
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.List(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, parisConversation(), got)

	partial := llm.NewAssistantMessage("The weather in")
	partial.Incomplete = true
	require.NoError(t, reopened.Append(ctx, "1234", partial))

	got, err = reopened.List(ctx, "1234")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.True(t, got[4].Incomplete)
}
