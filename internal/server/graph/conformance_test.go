package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runConformance exercises the Tx contract against any backend.
func runConformance(t *testing.T, db Database) {
	t.Run("NodeLifecycle", func(t *testing.T) { testNodeLifecycle(t, db) })
	t.Run("EdgeOrdering", func(t *testing.T) { testEdgeOrdering(t, db) })
	t.Run("DeleteNodeWithEdges", func(t *testing.T) { testDeleteNodeWithEdges(t, db) })
	t.Run("ExactIndex", func(t *testing.T) { testExactIndex(t, db) })
	t.Run("FullText", func(t *testing.T) { testFullText(t, db) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, db) })
	t.Run("Meta", func(t *testing.T) { testMeta(t, db) })
}

// within runs fn in a committed transaction.
func within(t *testing.T, db Database, fn func(ctx context.Context, tx Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	fn(ctx, tx)
	tx.Success()
	require.NoError(t, tx.Finish(ctx))
}

func testNodeLifecycle(t *testing.T, db Database) {
	within(t, db, func(ctx context.Context, tx Tx) {
		node, err := tx.CreateNode(ctx, map[string]any{"name": "alpha", "size": 3})
		require.NoError(t, err)
		assert.Positive(t, node.ID)

		got, err := tx.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, "alpha", got.Props["name"])
		assert.Equal(t, float64(3), got.Props["size"])

		require.NoError(t, tx.SetNodeProperties(ctx, node.ID, map[string]any{"name": "beta", "size": nil}))
		got, err = tx.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "beta"}, got.Props)

		require.NoError(t, tx.DeleteNode(ctx, node.ID))
		_, err = tx.GetNode(ctx, node.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func testEdgeOrdering(t *testing.T, db Database) {
	within(t, db, func(ctx context.Context, tx Tx) {
		a, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)
		b, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)
		c, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)

		ab, err := tx.CreateEdge(ctx, "KNOWS", a.ID, b.ID, map[string]any{"w": 1})
		require.NoError(t, err)
		ca, err := tx.CreateEdge(ctx, "LIKES", c.ID, a.ID, nil)
		require.NoError(t, err)
		loop, err := tx.CreateEdge(ctx, "KNOWS", a.ID, a.ID, nil)
		require.NoError(t, err)

		all, err := tx.Edges(ctx, a.ID, Both)
		require.NoError(t, err)
		assert.Equal(t, []int64{ab.ID, ca.ID, loop.ID}, edgeIDs(all))

		out, err := tx.Edges(ctx, a.ID, Outgoing)
		require.NoError(t, err)
		assert.Equal(t, []int64{ab.ID, loop.ID}, edgeIDs(out))

		in, err := tx.Edges(ctx, a.ID, Incoming, "LIKES")
		require.NoError(t, err)
		assert.Equal(t, []int64{ca.ID}, edgeIDs(in))
		assert.Equal(t, a.ID, in[0].Other(c.ID))

		got, err := tx.GetEdge(ctx, ab.ID)
		require.NoError(t, err)
		assert.Equal(t, "KNOWS", got.Type)
		assert.Equal(t, a.ID, got.StartID)
		assert.Equal(t, b.ID, got.EndID)
		assert.Equal(t, float64(1), got.Props["w"])

		require.NoError(t, tx.SetEdgeProperties(ctx, ab.ID, map[string]any{"w": 2}))
		got, err = tx.GetEdge(ctx, ab.ID)
		require.NoError(t, err)
		assert.Equal(t, float64(2), got.Props["w"])

		for _, e := range []*Edge{ab, ca, loop} {
			require.NoError(t, tx.DeleteEdge(ctx, e.ID))
		}
		assert.ErrorIs(t, tx.DeleteEdge(ctx, ab.ID), ErrNotFound)
	})
}

func testDeleteNodeWithEdges(t *testing.T, db Database) {
	within(t, db, func(ctx context.Context, tx Tx) {
		a, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)
		b, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)
		e, err := tx.CreateEdge(ctx, "KNOWS", a.ID, b.ID, nil)
		require.NoError(t, err)

		assert.ErrorIs(t, tx.DeleteNode(ctx, a.ID), ErrNodeHasEdges)

		require.NoError(t, tx.DeleteEdge(ctx, e.ID))
		require.NoError(t, tx.DeleteNode(ctx, a.ID))
		require.NoError(t, tx.DeleteNode(ctx, b.ID))

		_, err = tx.CreateEdge(ctx, "KNOWS", a.ID, b.ID, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func testExactIndex(t *testing.T, db Database) {
	within(t, db, func(ctx context.Context, tx Tx) {
		a, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)
		b, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)

		require.NoError(t, tx.AddToIndex(ctx, "test", a.ID, "code", "x-1"))
		require.NoError(t, tx.AddToIndex(ctx, "test", b.ID, "code", "x-1"))
		require.NoError(t, tx.AddToIndex(ctx, "test", b.ID, "num", 42))
		// Adding the same entry twice is harmless.
		require.NoError(t, tx.AddToIndex(ctx, "test", a.ID, "code", "x-1"))

		ids, err := tx.FindNodes(ctx, "test", "code", "x-1")
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, b.ID}, ids)

		ids, err = tx.FindNodes(ctx, "test", "num", 42.0)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, ids)

		ids, err = tx.FindNodes(ctx, "other", "code", "x-1")
		require.NoError(t, err)
		assert.Empty(t, ids)

		require.NoError(t, tx.RemoveFromIndex(ctx, "test", a.ID, "code"))
		ids, err = tx.FindNodes(ctx, "test", "code", "x-1")
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, ids)

		require.NoError(t, tx.DeleteNode(ctx, b.ID))
		ids, err = tx.FindNodes(ctx, "test", "num", 42)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func testFullText(t *testing.T, db Database) {
	within(t, db, func(ctx context.Context, tx Tx) {
		a, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)
		b, err := tx.CreateNode(ctx, nil)
		require.NoError(t, err)

		require.NoError(t, tx.IndexText(ctx, a.ID, "ft.notes", "notes", "Zebra crossing near the river"))
		require.NoError(t, tx.IndexText(ctx, b.ID, "ft.notes", "notes", "River zebu"))

		ids, err := tx.SearchText(ctx, "ft.notes", TextQuery{Text: "zeb", Prefix: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, b.ID}, ids)

		ids, err = tx.SearchText(ctx, "ft.notes", TextQuery{Text: "zeb"})
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = tx.SearchText(ctx, "ft.notes", TextQuery{Text: "river zebr", Prefix: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, ids)

		ids, err = tx.SearchText(ctx, "ft.other", TextQuery{Text: "river"})
		require.NoError(t, err)
		assert.Empty(t, ids)

		// Reindexing replaces the old text.
		require.NoError(t, tx.IndexText(ctx, a.ID, "ft.notes", "notes", "quiet meadow"))
		ids, err = tx.SearchText(ctx, "ft.notes", TextQuery{Text: "river"})
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, ids)

		require.NoError(t, tx.RemoveText(ctx, b.ID, "ft.notes", "notes"))
		ids, err = tx.SearchText(ctx, "ft.notes", TextQuery{Text: "river"})
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = tx.SearchText(ctx, "ft.notes", TextQuery{Text: "  "})
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func testRollback(t *testing.T, db Database) {
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	node, err := tx.CreateNode(ctx, map[string]any{"name": "ghost"})
	require.NoError(t, err)
	require.NoError(t, tx.Finish(ctx))

	_, err = tx.GetNode(ctx, node.ID)
	assert.ErrorIs(t, err, ErrTxFinished)
	// Finishing twice is a no-op.
	assert.NoError(t, tx.Finish(ctx))

	within(t, db, func(ctx context.Context, tx Tx) {
		_, err := tx.GetNode(ctx, node.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func testMeta(t *testing.T, db Database) {
	key := "conformance_" + uuid.NewString()
	within(t, db, func(ctx context.Context, tx Tx) {
		_, ok, err := tx.Meta(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, tx.SetMeta(ctx, key, "1"))
		require.NoError(t, tx.SetMeta(ctx, key, "2"))
	})
	within(t, db, func(ctx context.Context, tx Tx) {
		value, ok, err := tx.Meta(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", value)
	})
}

func edgeIDs(edges []*Edge) []int64 {
	ids := make([]int64, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.ID)
	}
	return ids
}
