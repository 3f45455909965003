package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/canlidar/internal/catalog"
)

func dated(id string, y *int) catalog.TileRecord {
	return catalog.TileRecord{TileID: id, Year: y}
}

func TestNearestYear(t *testing.T) {
	records := []catalog.TileRecord{
		dated("a", intPtr(2012)),
		dated("b", intPtr(2015)),
		dated("c", intPtr(2019)),
		dated("d", intPtr(2019)),
		dated("e", nil),
	}

	tests := []struct {
		target  int
		want    int
		wantIDs []string
	}{
		{target: 2018, want: 2019, wantIDs: []string{"c", "d"}},
		{target: 2015, want: 2015, wantIDs: []string{"b"}},
		{target: 2000, want: 2012, wantIDs: []string{"a"}},
		{target: 2030, want: 2019, wantIDs: []string{"c", "d"}},
		{target: 2014, want: 2015, wantIDs: []string{"b"}},
	}
	for _, tt := range tests {
		kept, chosen, tied := NearestYear(records, tt.target)
		require.NotNil(t, chosen, "target %d", tt.target)
		assert.Equal(t, tt.want, *chosen, "target %d", tt.target)
		assert.Empty(t, tied, "target %d", tt.target)

		var ids []string
		for _, r := range kept {
			ids = append(ids, r.TileID)
		}
		assert.Equal(t, tt.wantIDs, ids, "target %d", tt.target)
	}
}

func TestNearestYear_Tie(t *testing.T) {
	records := []catalog.TileRecord{
		dated("old", intPtr(2016)),
		dated("new", intPtr(2020)),
	}
	kept, chosen, tied := NearestYear(records, 2018)
	require.NotNil(t, chosen)
	assert.Equal(t, 2020, *chosen)
	assert.Equal(t, []int{2016, 2020}, tied)
	require.Len(t, kept, 1)
	assert.Equal(t, "new", kept[0].TileID)
}

func TestNearestYear_TieThenExactMatch(t *testing.T) {
	records := []catalog.TileRecord{
		dated("a", intPtr(2014)),
		dated("b", intPtr(2016)),
		dated("c", intPtr(2017)),
	}
	_, chosen, tied := NearestYear(records, 2015)
	require.NotNil(t, chosen)
	assert.Equal(t, 2016, *chosen)
	assert.Equal(t, []int{2014, 2016}, tied)

	_, chosen, tied = NearestYear(records, 2017)
	assert.Equal(t, 2017, *chosen)
	assert.Empty(t, tied)
}

func TestNearestYear_NoDatedRecords(t *testing.T) {
	kept, chosen, tied := NearestYear([]catalog.TileRecord{dated("x", nil)}, 2018)
	assert.Nil(t, kept)
	assert.Nil(t, chosen)
	assert.Nil(t, tied)
}

func TestNearestYear_Idempotent(t *testing.T) {
	records := []catalog.TileRecord{
		dated("a", intPtr(2017)),
		dated("b", intPtr(2017)),
		dated("c", intPtr(2017)),
	}
	first, chosen, _ := NearestYear(records, 2017)
	require.NotNil(t, chosen)
	second, again, _ := NearestYear(first, *chosen)
	assert.Equal(t, *chosen, *again)
	assert.Equal(t, first, second)
	assert.Equal(t, records, first)
}
