package models

import "time"

// ReactionKinds is the fixed reaction bar. Every comment carries all six
// keys, each holding the set of user ids currently toggled on.
var ReactionKinds = []string{"like", "love", "haha", "wow", "sad", "angry"}

func ValidReactionKind(kind string) bool {
	for _, k := range ReactionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

type Comment struct {
	ID        int              `json:"id"`
	UserID    int              `json:"user_id"`
	UserName  string           `json:"user_name"` // snapshot at creation, survives author changes
	Avatar    string           `json:"avatar"`    // snapshot at creation
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt *time.Time       `json:"updated_at"`
	ParentID  *int             `json:"parent_id,omitempty"`
	Reactions map[string][]int `json:"reactions"`
}

// NewReactions returns the six empty reaction sets.
func NewReactions() map[string][]int {
	reactions := make(map[string][]int, len(ReactionKinds))
	for _, kind := range ReactionKinds {
		reactions[kind] = []int{}
	}
	return reactions
}

// CommentTree is the derived threaded view. Never persisted.
type CommentTree struct {
	Comment
	ContentHTML string         `json:"content_html"`
	Replies     []*CommentTree `json:"replies"`
}

type CreateCommentRequest struct {
	Content  string `json:"content" binding:"required"`
	ParentID *int   `json:"parent_id,omitempty"`
}

type UpdateCommentRequest struct {
	Content string `json:"content" binding:"required"`
}

type ReactRequest struct {
	CommentID int    `json:"comment_id" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
}
