package objectcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/indexed"
	"github.com/erigontech/move-indexer/internal/objectcache"
)

func objWithVersion(id checkpoint.ObjectID, version uint64) checkpoint.Object {
	return checkpoint.Object{ID: id, Version: version}
}

func TestCache_InsertObject_VersionGuarded(t *testing.T) {
	id := checkpoint.ObjectID{1}
	c := objectcache.New()

	c.InsertObject(objWithVersion(id, 5))
	c.InsertObject(objWithVersion(id, 3))

	latest, ok := c.Get(id, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.Version, "an older insert must not regress by_id")

	exact3, ok := c.Get(id, ptr(uint64(3)))
	require.True(t, ok, "by_id_version must still retain the older snapshot")
	assert.Equal(t, uint64(3), exact3.Version)
}

func TestCache_InsertObject_NewerOverwrites(t *testing.T) {
	id := checkpoint.ObjectID{2}
	c := objectcache.New()

	c.InsertObject(objWithVersion(id, 1))
	c.InsertObject(objWithVersion(id, 9))

	latest, ok := c.Get(id, nil)
	require.True(t, ok)
	assert.Equal(t, uint64(9), latest.Version)
}

func TestCache_Get_Miss(t *testing.T) {
	c := objectcache.New()
	_, ok := c.Get(checkpoint.ObjectID{9}, nil)
	assert.False(t, ok)
}

func TestCache_Bounded_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := objectcache.NewBounded(1)
	require.NoError(t, err)

	a := checkpoint.ObjectID{0xAA}
	b := checkpoint.ObjectID{0xBB}

	c.InsertObject(objWithVersion(a, 1))
	c.InsertObject(objWithVersion(b, 1))

	_, ok := c.Get(a, nil)
	assert.False(t, ok, "capacity-1 bounded cache must evict the older entry")
	_, ok = c.Get(b, nil)
	assert.True(t, ok)
}

func TestCache_InsertPackages_AndGetModule(t *testing.T) {
	c := objectcache.New()
	pkgID := checkpoint.ObjectID{0x05}
	pkgs := []indexed.IndexedPackage{
		{
			PackageID: pkgID,
			MovePackage: checkpoint.MovePackage{
				Modules: map[string][]byte{"coin": {0x01, 0x02}},
				Version: 1,
			},
		},
	}
	c.InsertPackages(pkgs)

	m, ok := c.GetModule(objectcache.ModuleID{Package: pkgID, Module: "coin"})
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, m.Bytecode)

	_, ok = c.GetModule(objectcache.ModuleID{Package: pkgID, Module: "missing"})
	assert.False(t, ok)
}

func ptr(v uint64) *uint64 { return &v }
