package storage

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/topicgraph/internal/topicmap/model"
)

func testEntry(typeID string) *typeEntry {
	return &typeEntry{tt: model.NewTopicType(map[string]any{model.PropTypeID: typeID}, nil)}
}

func TestTypeCacheLoadsOnce(t *testing.T) {
	c := newTypeCache()
	var loads atomic.Int32
	release := make(chan struct{})

	load := func() (*typeEntry, error) {
		loads.Add(1)
		<-release
		return testEntry("person"), nil
	}

	const callers = 8
	results := make([]*typeEntry, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.getOrLoad("person", load)
			assert.NoError(t, err)
			results[i] = e
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int32(callers))
	for _, e := range results[1:] {
		assert.Same(t, results[0], e)
	}

	// Served from the cache from now on.
	e, err := c.getOrLoad("person", func() (*typeEntry, error) {
		t.Fatal("unexpected load")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, results[0], e)
}

func TestTypeCacheDoesNotStoreFailures(t *testing.T) {
	c := newTypeCache()
	boom := errors.New("boom")

	_, err := c.getOrLoad("person", func() (*typeEntry, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.get("person")
	assert.False(t, ok)
}

func TestTypeCachePublishReplaces(t *testing.T) {
	c := newTypeCache()
	first, err := c.getOrLoad("person", func() (*typeEntry, error) { return testEntry("person"), nil })
	require.NoError(t, err)

	second := testEntry("person")
	c.publish(map[string]*typeEntry{"person": second, "place": testEntry("place")})

	got, ok := c.get("person")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
	assert.Equal(t, []string{"person", "place"}, c.ids())
}
