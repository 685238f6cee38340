package board

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/commentboard/backend/internal/models"
	"github.com/commentboard/backend/internal/store"
)

// Identity is the verified caller, as supplied by the auth layer.
type Identity struct {
	UserID int
	Name   string
}

// Publisher receives the rebuilt tree after every successful mutation.
type Publisher interface {
	PublishComments(tree []*models.CommentTree)
}

// Service owns the dataset. Every mutation runs load → validate → mutate →
// save under one mutex, so concurrent requests can never lose each other's
// writes or hand out the same comment id twice. Reads take the same lock to
// get a consistent snapshot.
type Service struct {
	store store.Store
	pub   Publisher

	mu  sync.Mutex
	now func() time.Time
}

func NewService(st store.Store, pub Publisher) *Service {
	return &Service{
		store: st,
		pub:   pub,
		now:   time.Now,
	}
}

// mutate runs one load→mutate→save cycle under the lock and returns the
// comment list to broadcast. Cancellation is detached first: a client that
// disconnects mid-flight still gets its mutation persisted, only the
// response delivery is dropped.
func (s *Service) mutate(ctx context.Context, fn func(dataset *models.Dataset) error) ([]models.Comment, error) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, err := s.store.Load(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	if err := fn(&dataset); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, dataset); err != nil {
		return nil, &StorageError{Op: "save", Err: err}
	}
	return dataset.Comments, nil
}

// Register creates a user record inside the shared dataset and returns it.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" {
		return models.User{}, &ValidationError{Message: "username and email are required"}
	}
	if req.Password == "" {
		return models.User{}, &ValidationError{Message: "password is required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, &StorageError{Op: "hash password", Err: err}
	}

	var user models.User
	_, err = s.mutate(ctx, func(dataset *models.Dataset) error {
		for _, existing := range dataset.Users {
			if strings.EqualFold(existing.Email, email) || existing.Username == username {
				return &ValidationError{Message: "username or email already exists"}
			}
		}

		user = models.User{
			ID:           dataset.NextUserID,
			Username:     username,
			Email:        email,
			PasswordHash: string(hash),
			Avatar:       req.Avatar,
		}
		dataset.NextUserID++
		dataset.Users = append(dataset.Users, user)
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Authenticate verifies email+password and returns the matching user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, err := s.store.Load(ctx)
	if err != nil {
		return models.User{}, &StorageError{Op: "load", Err: err}
	}

	for _, user := range dataset.Users {
		if !strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			break
		}
		return user, nil
	}
	return models.User{}, &AuthError{Message: "invalid credentials"}
}

// UserByID resolves a stored user, for the /auth/me endpoint.
func (s *Service) UserByID(ctx context.Context, id int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, err := s.store.Load(ctx)
	if err != nil {
		return models.User{}, &StorageError{Op: "load", Err: err}
	}
	for _, user := range dataset.Users {
		if user.ID == id {
			return user, nil
		}
	}
	return models.User{}, &NotFoundError{Message: "user not found"}
}

// List rebuilds the threaded view from the persisted flat list.
func (s *Service) List(ctx context.Context) ([]*models.CommentTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataset, err := s.store.Load(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	return BuildTree(dataset.Comments), nil
}

// Create appends a new comment. The author's name and avatar are copied onto
// the comment so its display never depends on the author record later on.
func (s *Service) Create(ctx context.Context, identity Identity, content string, parentID *int) (models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, &ValidationError{Message: "comment content cannot be empty"}
	}

	var comment models.Comment
	comments, err := s.mutate(ctx, func(dataset *models.Dataset) error {
		author, ok := findUser(dataset.Users, identity.UserID)
		if !ok {
			return &AuthError{Message: "account no longer exists"}
		}
		if parentID != nil {
			if _, ok := findComment(dataset.Comments, *parentID); !ok {
				return &ValidationError{Message: "parent comment not found"}
			}
		}

		comment = models.Comment{
			ID:        dataset.NextCommentID,
			UserID:    author.ID,
			UserName:  author.Username,
			Avatar:    author.Avatar,
			Content:   content,
			CreatedAt: s.now().UTC(),
			ParentID:  parentID,
			Reactions: models.NewReactions(),
		}
		dataset.NextCommentID++
		dataset.Comments = append(dataset.Comments, comment)
		return nil
	})
	if err != nil {
		return models.Comment{}, err
	}

	s.publish(comments)
	return comment, nil
}

// Edit replaces a comment's content. Author only; createdAt and parentId are
// untouched and updatedAt is stamped.
func (s *Service) Edit(ctx context.Context, identity Identity, commentID int, content string) (models.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Comment{}, &ValidationError{Message: "comment content cannot be empty"}
	}

	var comment models.Comment
	comments, err := s.mutate(ctx, func(dataset *models.Dataset) error {
		idx, ok := findComment(dataset.Comments, commentID)
		if !ok {
			return &NotFoundError{Message: "comment not found"}
		}
		if dataset.Comments[idx].UserID != identity.UserID {
			return &ForbiddenError{Message: "you can only edit your own comments"}
		}

		edited := s.now().UTC()
		dataset.Comments[idx].Content = content
		dataset.Comments[idx].UpdatedAt = &edited
		comment = dataset.Comments[idx]
		return nil
	})
	if err != nil {
		return models.Comment{}, err
	}

	s.publish(comments)
	return comment, nil
}

// Delete removes a comment and every transitive descendant in one persisted
// write. The traversal works over an adjacency map with a visited set, so it
// terminates even if the stored parent links ever form a cycle.
func (s *Service) Delete(ctx context.Context, identity Identity, commentID int) error {
	comments, err := s.mutate(ctx, func(dataset *models.Dataset) error {
		idx, ok := findComment(dataset.Comments, commentID)
		if !ok {
			return &NotFoundError{Message: "comment not found"}
		}
		if dataset.Comments[idx].UserID != identity.UserID {
			return &ForbiddenError{Message: "you can only delete your own comments"}
		}

		children := make(map[int][]int, len(dataset.Comments))
		for _, comment := range dataset.Comments {
			if comment.ParentID != nil {
				children[*comment.ParentID] = append(children[*comment.ParentID], comment.ID)
			}
		}

		doomed := map[int]bool{}
		queue := []int{commentID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if doomed[id] {
				continue
			}
			doomed[id] = true
			queue = append(queue, children[id]...)
		}

		kept := dataset.Comments[:0]
		for _, comment := range dataset.Comments {
			if !doomed[comment.ID] {
				kept = append(kept, comment)
			}
		}
		dataset.Comments = kept
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(comments)
	return nil
}

// React toggles the caller's membership in one of the six reaction sets and
// returns the comment's resulting reactions. Holding several kinds at once on
// the same comment is allowed.
func (s *Service) React(ctx context.Context, identity Identity, commentID int, kind string) (map[string][]int, error) {
	if !models.ValidReactionKind(kind) {
		return nil, &ValidationError{Message: "unknown reaction kind: " + kind}
	}

	var reactions map[string][]int
	comments, err := s.mutate(ctx, func(dataset *models.Dataset) error {
		idx, ok := findComment(dataset.Comments, commentID)
		if !ok {
			return &NotFoundError{Message: "comment not found"}
		}

		comment := &dataset.Comments[idx]
		if comment.Reactions == nil {
			comment.Reactions = models.NewReactions()
		}
		comment.Reactions[kind] = toggle(comment.Reactions[kind], identity.UserID)
		reactions = comment.Reactions
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(comments)
	return reactions, nil
}

// toggle removes id from the set if present, otherwise inserts it keeping the
// slice sorted.
func toggle(set []int, id int) []int {
	for i, existing := range set {
		if existing == id {
			return append(set[:i], set[i+1:]...)
		}
	}
	i := 0
	for i < len(set) && set[i] < id {
		i++
	}
	set = append(set, 0)
	copy(set[i+1:], set[i:])
	set[i] = id
	return set
}

// publish fans the rebuilt tree out to every connected viewer. Runs after the
// mutation lock is released; best effort, a delivery problem never fails the
// mutation that triggered it.
func (s *Service) publish(comments []models.Comment) {
	if s.pub == nil {
		return
	}
	s.pub.PublishComments(BuildTree(comments))
}

func findUser(users []models.User, id int) (models.User, bool) {
	for _, user := range users {
		if user.ID == id {
			return user, true
		}
	}
	return models.User{}, false
}

func findComment(comments []models.Comment, id int) (int, bool) {
	for i, comment := range comments {
		if comment.ID == id {
			return i, true
		}
	}
	return 0, false
}
