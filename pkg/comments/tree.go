package comments

import (
	"fmt"

	"github.com/perpetuallyhorni/ljarchive/pkg/state"
)

// StructureError reports a comment whose parent or update target is not in the post's tree.
type StructureError struct {
	Op        string // "insert" or "update"
	CommentID int
	MissingID int
}

func (e *StructureError) Error() string {
	if e.Op == "insert" {
		return fmt.Sprintf("found no parent comment %d for comment %d", e.MissingID, e.CommentID)
	}
	return fmt.Sprintf("found no comment %d to update", e.CommentID)
}

// Tree is the comment forest of one post document with an index from comment id to node
// and to the list that holds it.
type Tree struct {
	root       *state.CommentList
	nodes      map[int]*state.Comment
	containers map[int]*state.CommentList
}

// NewTree indexes the comments of doc, creating the top-level container if the post has none.
func NewTree(doc *state.PostDocument) *Tree {
	if doc.Comments == nil {
		doc.Comments = &state.CommentList{}
	}
	t := &Tree{
		root:       doc.Comments,
		nodes:      make(map[int]*state.Comment),
		containers: make(map[int]*state.CommentList),
	}
	t.index(doc.Comments)
	return t
}

func (t *Tree) index(list *state.CommentList) {
	for _, c := range list.Comments {
		t.nodes[c.ID] = c
		t.containers[c.ID] = list
		if c.Replies != nil {
			t.index(c.Replies)
		}
	}
}

// Find returns the node with the given id, or nil.
func (t *Tree) Find(id int) *state.Comment {
	return t.nodes[id]
}

// Insert places a new comment among its siblings in id order, under its parent when it has one.
// A comment already present in the tree is updated in place instead.
func (t *Tree) Insert(c *state.Comment) error {
	if _, ok := t.nodes[c.ID]; ok {
		return t.Update(c)
	}
	list := t.root
	if c.ParentID != nil {
		parent, ok := t.nodes[*c.ParentID]
		if !ok {
			return &StructureError{Op: "insert", CommentID: c.ID, MissingID: *c.ParentID}
		}
		if parent.Replies == nil {
			parent.Replies = &state.CommentList{}
		}
		list = parent.Replies
	}
	i := InsertIndex(list.Comments, c.ID)
	list.Comments = append(list.Comments, nil)
	copy(list.Comments[i+1:], list.Comments[i:])
	list.Comments[i] = c
	t.nodes[c.ID] = c
	t.containers[c.ID] = list
	if c.Replies != nil {
		t.index(c.Replies)
	}
	return nil
}

// Update replaces an existing comment at the same position. Its replies are kept.
func (t *Tree) Update(c *state.Comment) error {
	old, ok := t.nodes[c.ID]
	if !ok {
		return &StructureError{Op: "update", CommentID: c.ID, MissingID: c.ID}
	}
	list := t.containers[c.ID]
	for i, sibling := range list.Comments {
		if sibling == old {
			c.Replies = old.Replies
			list.Comments[i] = c
			t.nodes[c.ID] = c
			return nil
		}
	}
	// index out of sync with the tree
	return &StructureError{Op: "update", CommentID: c.ID, MissingID: c.ID}
}

// InsertIndex returns the position of the first sibling whose id is not less than id.
func InsertIndex(siblings []*state.Comment, id int) int {
	i := 0
	for i < len(siblings) && siblings[i].ID < id {
		i++
	}
	return i
}
