package osm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseChangesetUploadExample exercises seed scenario 5: three
// creates (one node, one way referencing it, one relation) parse into a
// tree with one element of each kind.
func TestParseChangesetUploadExample(t *testing.T) {
	doc := []byte(`<osmChange version="0.6">
		<create>
			<node id="-1" lat="1.0" lon="2.0" version="1"><tag k="amenity" v="cafe"/></node>
			<way id="-2" version="1"><nd ref="-1"/><nd ref="-1"/><tag k="highway" v="residential"/></way>
			<relation id="-3" version="1"><member type="way" ref="-2" role=""/><tag k="type" v="route"/></relation>
		</create>
	</osmChange>`)

	tree, err := ParseChangeset(doc)
	require.NoError(t, err)
	assert.Len(t, tree.Nodes, 1)
	assert.Len(t, tree.Ways, 1)
	assert.Len(t, tree.Rels, 1)
	assert.True(t, tree.HasParentWay(-1))
}

func TestParseChangesetRejectsIncompleteWay(t *testing.T) {
	doc := []byte(`<osmChange version="0.6">
		<create>
			<node id="-1" lat="1.0" lon="2.0" version="1"/>
			<way id="-2" version="1"><nd ref="-1"/></way>
		</create>
	</osmChange>`)

	_, err := ParseChangeset(doc)
	require.Error(t, err)
}

func TestTreeToFeatureCollectionSkipsUntaggedNodes(t *testing.T) {
	tree := NewTree()
	tree.Nodes[1] = &Node{ID: 1, Lon: 0, Lat: 0}
	tree.Nodes[2] = &Node{ID: 2, Lon: 1, Lat: 1, Tags: map[string]string{"amenity": "cafe"}}

	fc, err := tree.ToFeatureCollection()
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)
}

func TestEncodeTagValueCoercions(t *testing.T) {
	assert.Equal(t, "yes", EncodeTagValue(true))
	assert.Equal(t, "no", EncodeTagValue(false))
	assert.Equal(t, "", EncodeTagValue(nil))
	assert.Equal(t, "hello", EncodeTagValue("hello"))
}
