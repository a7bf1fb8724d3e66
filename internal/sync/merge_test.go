package sync

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitelink/chatsync/internal/model"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

func msg(id string, offsetSec int, sender string) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Content:        "content-" + id,
		Type:           model.MessageText,
		CreatedAt:      t0.Add(time.Duration(offsetSec) * time.Second),
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMergeIdempotent(t *testing.T) {
	s := []model.Message{msg("a", 0, "u1"), msg("b", 10, "u2")}
	b := []model.Message{msg("b", 10, "u2"), msg("c", 20, "u1")}

	once := Merge(s, b)
	twice := Merge(once, b)
	assert.Equal(t, once, twice)
}

func TestMergeCommutative(t *testing.T) {
	s := []model.Message{msg("a", 0, "u1")}
	b1 := []model.Message{msg("b", 10, "u2"), msg("c", 20, "u1")}
	b2 := []model.Message{msg("c", 20, "u1"), msg("d", 30, "u2")}

	left := Merge(Merge(s, b1), b2)
	right := Merge(Merge(s, b2), b1)
	assert.Equal(t, left, right)
}

func TestMergeOrderInvariant(t *testing.T) {
	cases := []struct {
		name     string
		existing []model.Message
		incoming []model.Message
		want     []string
	}{
		{"both empty", nil, nil, []string{}},
		{"empty existing", nil, []model.Message{msg("b", 10, "u1"), msg("a", 0, "u1")}, []string{"a", "b"}},
		{"empty incoming", []model.Message{msg("a", 0, "u1")}, nil, []string{"a"}},
		{
			"interleaved",
			[]model.Message{msg("a", 0, "u1"), msg("c", 20, "u1")},
			[]model.Message{msg("d", 30, "u2"), msg("b", 10, "u2")},
			[]string{"a", "b", "c", "d"},
		},
		{
			"same timestamp ties broken by id",
			[]model.Message{msg("z", 5, "u1")},
			[]model.Message{msg("m", 5, "u2"), msg("a", 5, "u2")},
			[]string{"a", "m", "z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.existing, tc.incoming)
			assert.Equal(t, tc.want, ids(got))
			for i := 1; i < len(got); i++ {
				assert.True(t, got[i-1].Before(&got[i]), "output not ascending at %d", i)
			}
		})
	}
}

func TestMergeLastWriteWins(t *testing.T) {
	stale := msg("a", 0, "u1")
	fresh := stale
	fresh.ReadBy = []string{"u2"}
	fresh.IsDeleted = true

	got := Merge([]model.Message{stale}, []model.Message{fresh})
	require.Len(t, got, 1)
	assert.True(t, got[0].IsDeleted)
	assert.Equal(t, []string{"u2"}, got[0].ReadBy)
}

func TestMergeOverlappingPages(t *testing.T) {
	// two pages sharing an edge message must not duplicate it
	page1 := make([]model.Message, 0, 50)
	for i := 0; i < 50; i++ {
		page1 = append(page1, msg(fmt.Sprintf("m%03d", i), i, "u1"))
	}
	page2 := make([]model.Message, 0, 50)
	for i := 49; i < 99; i++ {
		page2 = append(page2, msg(fmt.Sprintf("m%03d", i), i, "u1"))
	}

	got := Merge(Merge(nil, page1), page2)
	assert.Len(t, got, 99)
}
