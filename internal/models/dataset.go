package models

// Dataset is the entire persisted document. Every mutation rewrites it in
// full; the counters are monotonic for the lifetime of the board and ids are
// never reused, even after deletes.
type Dataset struct {
	Users         []User    `json:"users"`
	Comments      []Comment `json:"comments"`
	NextCommentID int       `json:"next_comment_id"`
	NextUserID    int       `json:"next_user_id"`
}

// NewDataset returns an empty dataset with both counters at 1.
func NewDataset() Dataset {
	return Dataset{
		Users:         []User{},
		Comments:      []Comment{},
		NextCommentID: 1,
		NextUserID:    1,
	}
}
