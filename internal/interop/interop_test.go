package interop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paul/glienicke/pkg/event"
)

func TestToNostrEvent_RoundTrip(t *testing.T) {
	e := &event.Event{
		ID:        "a",
		PubKey:    "b",
		CreatedAt: 100,
		Kind:      1,
		Tags:      [][]string{{"e", "c"}},
		Content:   "hi",
		Sig:       "d",
	}

	ne := ToNostrEvent(e)
	require.NotNil(t, ne)

	back := FromNostrEvent(ne)
	assert.Equal(t, e, back)
}

func TestToNostrEvent_Nil(t *testing.T) {
	assert.Nil(t, ToNostrEvent(nil))
	assert.Nil(t, FromNostrEvent(nil))
}

func TestToNostrFilter_RoundTrip(t *testing.T) {
	since := int64(10)
	until := int64(20)
	limit := 5
	f := &event.Filter{
		IDs:     []string{"a"},
		Authors: []string{"b"},
		Kinds:   []int{1},
		Since:   &since,
		Until:   &until,
		Limit:   &limit,
		Tags:    map[string][]string{"e": {"c"}},
	}

	nf := ToNostrFilter(f)
	require.NotNil(t, nf)
	assert.Equal(t, []string{"a"}, nf.IDs)
	assert.Equal(t, 5, nf.Limit)

	back := FromNostrFilter(nf)
	assert.Equal(t, f, back)
}

func TestToNostrFilter_Nil(t *testing.T) {
	assert.Nil(t, ToNostrFilter(nil))
	assert.Nil(t, FromNostrFilter(nil))
}
