package dynamicfield_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/move-indexer/internal/checkpoint"
	"github.com/erigontech/move-indexer/internal/dynamicfield"
	"github.com/erigontech/move-indexer/internal/indexed"
)

// bcsBytesField encodes a single BCS byte vector (ULEB128 length + bytes),
// matching what BCSReader.ReadBytes expects.
func bcsBytesField(b []byte) []byte {
	out := []byte{byte(len(b))}
	return append(out, b...)
}

func TestDeriver_NotAWrapper_ReturnsNil(t *testing.T) {
	obj := checkpoint.Object{
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>"},
		},
	}
	d := dynamicfield.New()
	info, err := d.Derive(obj, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestDeriver_InlineValueField(t *testing.T) {
	id := checkpoint.ObjectID{0x30}
	obj := checkpoint.Object{
		ID:      id,
		Version: 2,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:  "0x2::dynamic_field::Field<0x1::string::String, u64>",
				Contents: bcsBytesField([]byte("name")),
			},
		},
	}

	d := dynamicfield.New()
	info, err := d.Derive(obj, map[checkpoint.ObjectID]checkpoint.Object{}, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, indexed.DynamicField, info.Kind)
	assert.Equal(t, "0x1::string::String", info.NameType)
	assert.Equal(t, "u64", info.ObjectType)
	assert.Equal(t, []byte("name"), info.NameBCS)
	assert.NotEmpty(t, info.NameJSON, "NameJSON must be populated even when the name bytes don't decode as the name type and fall back to hex")
}

func TestDeriver_InlineValueField_U64NameDecodesToJSONNumber(t *testing.T) {
	id := checkpoint.ObjectID{0x35}
	nameBCS := []byte{0x2a, 0, 0, 0, 0, 0, 0, 0} // 42, little-endian u64
	obj := checkpoint.Object{
		ID:      id,
		Version: 1,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:  "0x2::dynamic_field::Field<u64, bool>",
				Contents: bcsBytesField(nameBCS),
			},
		},
	}

	d := dynamicfield.New()
	info, err := d.Derive(obj, map[checkpoint.ObjectID]checkpoint.Object{}, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.JSONEq(t, "42", string(info.NameJSON))
}

func TestDeriver_DynamicObjectField_ResolvesTarget(t *testing.T) {
	wrapperID := checkpoint.ObjectID{0x31}
	targetID := checkpoint.ObjectID{0x32}

	contents := bcsBytesField([]byte("key"))
	contents = append(contents, targetID[:]...)

	obj := checkpoint.Object{
		ID:      wrapperID,
		Version: 1,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:  "0x2::dynamic_field::Field<0x1::string::String, 0x2::dynamic_object_field::Wrapper<0x2::coin::Coin<0x2::sui::SUI>>>",
				Contents: contents,
			},
		},
	}
	target := checkpoint.Object{
		ID:      targetID,
		Version: 5,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{TypeTag: "0x2::coin::Coin<0x2::sui::SUI>"},
		},
	}

	d := dynamicfield.New()
	info, err := d.Derive(obj, map[checkpoint.ObjectID]checkpoint.Object{targetID: target}, nil)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, indexed.DynamicObject, info.Kind)
	assert.Equal(t, targetID, info.ObjectID)
	assert.Equal(t, uint64(5), info.Version)
	assert.NotEmpty(t, info.NameJSON)
}

func TestDeriver_DynamicObjectField_MissingTargetIsFatal(t *testing.T) {
	wrapperID := checkpoint.ObjectID{0x33}
	targetID := checkpoint.ObjectID{0x34}

	contents := bcsBytesField([]byte("key"))
	contents = append(contents, targetID[:]...)

	obj := checkpoint.Object{
		ID:      wrapperID,
		Version: 1,
		Data: checkpoint.ObjectData{
			Kind: checkpoint.DataMove,
			Move: &checkpoint.MoveObject{
				TypeTag:  "0x2::dynamic_field::Field<0x1::string::String, 0x2::dynamic_object_field::Wrapper<0x2::coin::Coin<0x2::sui::SUI>>>",
				Contents: contents,
			},
		},
	}

	d := dynamicfield.New()
	_, err := d.Derive(obj, map[checkpoint.ObjectID]checkpoint.Object{}, nil)
	require.Error(t, err)
}
