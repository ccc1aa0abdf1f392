package comments

import (
	"testing"

	ljarchive "github.com/perpetuallyhorni/ljarchive/internal"
	"github.com/perpetuallyhorni/ljarchive/pkg/state"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func ids(list *state.CommentList) []int {
	if list == nil {
		return nil
	}
	out := make([]int, 0, len(list.Comments))
	for _, c := range list.Comments {
		out = append(out, c.ID)
	}
	return out
}

func docWith(comments ...*state.Comment) *state.PostDocument {
	return &state.PostDocument{Comments: &state.CommentList{Comments: comments}}
}

func TestInsertTopLevelKeepsIDOrder(t *testing.T) {
	doc := docWith(&state.Comment{ID: 1}, &state.Comment{ID: 2}, &state.Comment{ID: 18})
	tree := NewTree(doc)

	require.NoError(t, tree.Insert(&state.Comment{ID: 3}))
	assert.Equal(t, []int{1, 2, 3, 18}, ids(doc.Comments))
	assert.Equal(t, 3, doc.Comments.Comments[2].ID)

	require.NoError(t, tree.Insert(&state.Comment{ID: 40}))
	require.NoError(t, tree.Insert(&state.Comment{ID: 0}))
	assert.Equal(t, []int{0, 1, 2, 3, 18, 40}, ids(doc.Comments))
}

func TestInsertReplyAtDepth(t *testing.T) {
	doc := docWith(&state.Comment{ID: 1, Replies: &state.CommentList{Comments: []*state.Comment{
		{ID: 5, ParentID: intp(1)},
	}}})
	tree := NewTree(doc)

	require.NoError(t, tree.Insert(&state.Comment{ID: 9, ParentID: intp(5)}))
	require.NoError(t, tree.Insert(&state.Comment{ID: 7, ParentID: intp(5)}))
	require.NoError(t, tree.Insert(&state.Comment{ID: 3, ParentID: intp(1)}))

	assert.Equal(t, []int{3, 5}, ids(doc.Comments.Comments[0].Replies))
	assert.Equal(t, []int{7, 9}, ids(tree.Find(5).Replies))
	require.NoError(t, tree.Insert(&state.Comment{ID: 8, ParentID: intp(7)}))
	assert.Equal(t, []int{8}, ids(tree.Find(7).Replies))
}

func TestInsertMissingParent(t *testing.T) {
	tree := NewTree(docWith(&state.Comment{ID: 1}))
	err := tree.Insert(&state.Comment{ID: 4, ParentID: intp(3)})
	var structErr *StructureError
	require.True(t, errors.As(err, &structErr))
	assert.Equal(t, 3, structErr.MissingID)
	assert.Equal(t, "insert", structErr.Op)
}

func TestUpdateInPlaceKeepsReplies(t *testing.T) {
	reply := &state.Comment{ID: 4, ParentID: intp(2), Body: "reply"}
	doc := docWith(&state.Comment{ID: 1, Replies: &state.CommentList{Comments: []*state.Comment{
		{ID: 2, ParentID: intp(1), Body: "old", Replies: &state.CommentList{Comments: []*state.Comment{reply}}},
		{ID: 3, ParentID: intp(1)},
	}}})
	tree := NewTree(doc)

	require.NoError(t, tree.Update(&state.Comment{ID: 2, ParentID: intp(1), Body: "new"}))
	siblings := doc.Comments.Comments[0].Replies
	assert.Equal(t, []int{2, 3}, ids(siblings))
	assert.Equal(t, "new", siblings.Comments[0].Body)
	assert.Equal(t, []int{4}, ids(siblings.Comments[0].Replies))
	assert.Same(t, siblings.Comments[0], tree.Find(2))
}

func TestUpdateMissingTarget(t *testing.T) {
	tree := NewTree(&state.PostDocument{})
	err := tree.Update(&state.Comment{ID: 2})
	var structErr *StructureError
	require.True(t, errors.As(err, &structErr))
	assert.Equal(t, "update", structErr.Op)
}

func TestInsertKnownIDUpdates(t *testing.T) {
	doc := docWith(&state.Comment{ID: 1, Body: "a"}, &state.Comment{ID: 2})
	tree := NewTree(doc)
	require.NoError(t, tree.Insert(&state.Comment{ID: 1, Body: "b"}))
	assert.Equal(t, []int{1, 2}, ids(doc.Comments))
	assert.Equal(t, "b", doc.Comments.Comments[0].Body)
}

func TestRecord(t *testing.T) {
	rec := Record(&state.Comment{ID: 1, Subject: "s", Body: "b", Date: "2020-01-01 00:00:00"})
	assert.Equal(t, "A", rec.State)
	assert.Equal(t, "2020-01-01 00:00:00", rec.Date)
	assert.Len(t, rec.Hash, 32)

	empty := Record(&state.Comment{ID: 2, State: "D", Date: "  "})
	assert.Equal(t, "D", empty.State)
	assert.Empty(t, empty.Hash)
	assert.Empty(t, empty.Date)

	blank := Record(&state.Comment{ID: 4, Subject: " ", Body: ""})
	assert.Equal(t, ljarchive.MD5Hex(" "), blank.Hash)
	assert.NotEqual(t, blank.Hash, Record(&state.Comment{ID: 4, Subject: "", Body: "  "}).Hash)

	base := Record(&state.Comment{ID: 3, Subject: "s", Body: "b", Date: "d"})
	for name, c := range map[string]*state.Comment{
		"subject": {ID: 3, Subject: "s2", Body: "b", Date: "d"},
		"body":    {ID: 3, Subject: "s", Body: "b2", Date: "d"},
		"date":    {ID: 3, Subject: "s", Body: "b", Date: "d2"},
		"state":   {ID: 3, Subject: "s", Body: "b", Date: "d", State: "S"},
	} {
		assert.NotEqual(t, base, Record(c), name)
	}
	assert.Equal(t, base, Record(&state.Comment{ID: 3, Subject: "s", Body: "b", Date: "d", State: "A"}))
}
