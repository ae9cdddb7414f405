package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChildRejectsDuplicateNames(t *testing.T) {
	tree, root := NewTree("/")
	a1 := tree.NewNode("a", File)
	a2 := tree.NewNode("a", File)
	require.NoError(t, tree.AddChild(root, a1))
	err := tree.AddChild(root, a2)
	assert.ErrorIs(t, err, ErrExists)
}

func TestChildrenPreservesInsertionOrder(t *testing.T) {
	tree, root := NewTree("/")
	names := []string{"z", "a", "m"}
	for _, n := range names {
		require.NoError(t, tree.AddChild(root, tree.NewNode(n, File)))
	}
	children := tree.Children(root)
	require.Len(t, children, 3)
	for i, n := range names {
		assert.Equal(t, n, children[i].Name)
	}
}

func TestRemoveChildUnlinksFromMiddleOfSiblingList(t *testing.T) {
	tree, root := NewTree("/")
	a := tree.NewNode("a", File)
	b := tree.NewNode("b", File)
	c := tree.NewNode("c", File)
	require.NoError(t, tree.AddChild(root, a))
	require.NoError(t, tree.AddChild(root, b))
	require.NoError(t, tree.AddChild(root, c))

	tree.RemoveChild(root, b)

	got := tree.Children(root)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
	assert.Nil(t, tree.Get(b.ID))
}

func TestClearChildrenEmptiesSiblingList(t *testing.T) {
	tree, root := NewTree("/")
	for _, n := range []string{"a", "b"} {
		require.NoError(t, tree.AddChild(root, tree.NewNode(n, File)))
	}
	tree.ClearChildren(root)
	assert.Empty(t, tree.Children(root))
}

func TestChildByNameFindsExactMatchOnly(t *testing.T) {
	tree, root := NewTree("/")
	require.NoError(t, tree.AddChild(root, tree.NewNode("thread1", File)))
	require.NoError(t, tree.AddChild(root, tree.NewNode("thread10", File)))
	n := tree.ChildByName(root, "thread1")
	require.NotNil(t, n)
	assert.Equal(t, "thread1", n.Name)
}

func TestTypeHasBitCombination(t *testing.T) {
	typ := Directory | MountPoint
	assert.True(t, typ.Has(Directory))
	assert.True(t, typ.Has(MountPoint))
	assert.False(t, typ.Has(File))
}
