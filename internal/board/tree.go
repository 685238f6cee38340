package board

import (
	"sort"

	"github.com/commentboard/backend/internal/markdown"
	"github.com/commentboard/backend/internal/models"
)

// BuildTree turns the flat comment list into the threaded view. Root threads
// are sorted newest first so recent activity surfaces; reply lists keep
// insertion order (oldest first) and are never re-sorted. A comment whose
// parent is missing from the list is dropped rather than erroring, so a
// corrupt parent reference can't take the whole board down.
//
// Pure function: same flat list in, structurally identical tree out.
func BuildTree(flat []models.Comment) []*models.CommentTree {
	nodes := make(map[int]*models.CommentTree, len(flat))
	for _, comment := range flat {
		nodes[comment.ID] = &models.CommentTree{
			Comment:     comment,
			ContentHTML: markdown.Render(comment.Content),
			Replies:     []*models.CommentTree{},
		}
	}

	roots := []*models.CommentTree{}
	for _, comment := range flat {
		node := nodes[comment.ID]
		if comment.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*comment.ParentID]
		if !ok {
			continue // orphaned by a dangling parent reference
		}
		parent.Replies = append(parent.Replies, node)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreatedAt.After(roots[j].CreatedAt)
	})
	return roots
}
