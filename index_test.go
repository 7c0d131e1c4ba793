package instore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexFind(t *testing.T) {
	ix := newNamespaceIndex()
	ix.index("p1", "slack", Labels{"team": "eng", "region": "us"})
	ix.index("p2", "slack", Labels{"team": "ops", "region": "us"})
	ix.index("p3", "github", Labels{"team": "eng"})

	t.Run("no constraints yields nil, meaning all", func(t *testing.T) {
		assert.Nil(t, ix.find("", nil))
	})

	t.Run("guid only", func(t *testing.T) {
		assert.Equal(t, pkSet{"p1": {}, "p2": {}}, ix.find("slack", nil))
	})

	t.Run("label only", func(t *testing.T) {
		assert.Equal(t, pkSet{"p1": {}, "p3": {}}, ix.find("", Labels{"team": "eng"}))
	})

	t.Run("guid and labels are ANDed", func(t *testing.T) {
		assert.Equal(t, pkSet{"p1": {}}, ix.find("slack", Labels{"team": "eng"}))
		assert.Equal(t, pkSet{"p1": {}}, ix.find("slack", Labels{"team": "eng", "region": "us"}))
	})

	t.Run("absent buckets collapse the result", func(t *testing.T) {
		assert.Empty(t, ix.find("jira", nil))
		assert.Empty(t, ix.find("", Labels{"team": "sales"}))
		assert.Empty(t, ix.find("", Labels{"tier": "gold"}))
		assert.Empty(t, ix.find("slack", Labels{"tier": "gold"}))
	})

	t.Run("returned set is a copy", func(t *testing.T) {
		got := ix.find("slack", nil)
		delete(got, "p1")
		assert.Equal(t, pkSet{"p1": {}, "p2": {}}, ix.find("slack", nil))
	})
}

func TestIndexValueTypesAreDistinct(t *testing.T) {
	ix := newNamespaceIndex()
	ix.index("pInt", "g", Labels{"v": int64(2)})
	ix.index("pFloat", "g", Labels{"v": float64(2)})
	ix.index("pString", "g", Labels{"v": "2"})
	ix.index("pNil", "g", Labels{"v": nil})

	assert.Equal(t, pkSet{"pInt": {}}, ix.find("", Labels{"v": int64(2)}))
	assert.Equal(t, pkSet{"pFloat": {}}, ix.find("", Labels{"v": float64(2)}))
	assert.Equal(t, pkSet{"pString": {}}, ix.find("", Labels{"v": "2"}))
	assert.Equal(t, pkSet{"pNil": {}}, ix.find("", Labels{"v": nil}))
}

func TestIndexDeindexPrunesBuckets(t *testing.T) {
	ix := newNamespaceIndex()
	ix.index("p1", "slack", Labels{"team": "eng"})
	ix.index("p2", "slack", Labels{"team": "eng"})

	ix.deindex("p1", "slack", Labels{"team": "eng"})
	assert.Equal(t, pkSet{"p2": {}}, ix.find("slack", Labels{"team": "eng"}))

	ix.deindex("p2", "slack", Labels{"team": "eng"})
	assert.Empty(t, ix.guids)
	assert.Empty(t, ix.labels)

	// Deindexing something already gone is harmless.
	ix.deindex("p2", "slack", Labels{"team": "eng"})
}
