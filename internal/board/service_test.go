package board

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/commentboard/backend/internal/models"
	"github.com/commentboard/backend/internal/store"
)

type capturePublisher struct {
	mu    sync.Mutex
	trees [][]*models.CommentTree
}

func (p *capturePublisher) PublishComments(tree []*models.CommentTree) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trees = append(p.trees, tree)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.trees)
}

func newTestService(t *testing.T) (*Service, *store.FileStore, *capturePublisher) {
	t.Helper()
	st := store.NewFileStore(filepath.Join(t.TempDir(), "board.json"))
	pub := &capturePublisher{}
	svc := NewService(st, pub)

	// deterministic, strictly increasing clock
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc, st, pub
}

func registerUser(t *testing.T, svc *Service, username string) (models.User, Identity) {
	t.Helper()
	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user, Identity{UserID: user.ID, Name: user.Username}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, _ := registerUser(t, svc, "alice")
	if user.ID != 1 {
		t.Fatalf("first user id = %d, want 1", user.ID)
	}
	if user.PasswordHash == "hunter22" {
		t.Fatal("password stored in the clear")
	}

	got, err := svc.Authenticate(ctx, "ALICE@example.com", "hunter22")
	if err != nil {
		t.Fatalf("authenticate with case-insensitive email: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated user id = %d, want %d", got.ID, user.ID)
	}

	if _, err := svc.Authenticate(ctx, "alice@example.com", "wrong"); err == nil {
		t.Fatal("expected AuthError for bad password")
	} else if _, ok := errAs[*AuthError](err); !ok {
		t.Fatalf("got %T, want *AuthError", err)
	}

	_, err = svc.Register(ctx, models.RegisterRequest{
		Username: "alice2", Email: "Alice@Example.com", Password: "pw123456",
	})
	if _, ok := errAs[*ValidationError](err); !ok {
		t.Fatalf("duplicate email: got %v, want *ValidationError", err)
	}
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")

	first, err := svc.Create(ctx, alice, "one", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.Create(ctx, alice, "two", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d then %d", first.ID, second.ID)
	}

	if err := svc.Delete(ctx, alice, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	third, err := svc.Create(ctx, alice, "three", nil)
	if err != nil {
		t.Fatalf("create after delete: %v", err)
	}
	if third.ID <= second.ID {
		t.Fatalf("id %d reused after deleting %d", third.ID, second.ID)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")

	if _, err := svc.Create(ctx, alice, "   \t\n", nil); err == nil {
		t.Fatal("expected ValidationError for whitespace content")
	} else if _, ok := errAs[*ValidationError](err); !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}

	if _, err := svc.Create(ctx, alice, "hello", intPtr(999)); err == nil {
		t.Fatal("expected ValidationError for unknown parent")
	} else if _, ok := errAs[*ValidationError](err); !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}

	ghost := Identity{UserID: 404, Name: "ghost"}
	if _, err := svc.Create(ctx, ghost, "hello", nil); err == nil {
		t.Fatal("expected AuthError for unresolvable identity")
	} else if _, ok := errAs[*AuthError](err); !ok {
		t.Fatalf("got %T, want *AuthError", err)
	}
}

func TestCreateSnapshotsAuthor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user, alice := registerUser(t, svc, "alice")

	created, err := svc.Create(ctx, alice, "hello", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.UserName != user.Username || created.Avatar != user.Avatar {
		t.Fatalf("author snapshot = %q/%q, want %q/%q",
			created.UserName, created.Avatar, user.Username, user.Avatar)
	}
	if created.UpdatedAt != nil {
		t.Fatal("fresh comment has non-nil updated_at")
	}
	if len(created.Reactions) != len(models.ReactionKinds) {
		t.Fatalf("got %d reaction sets, want %d", len(created.Reactions), len(models.ReactionKinds))
	}
	for kind, set := range created.Reactions {
		if len(set) != 0 {
			t.Fatalf("reaction set %q not empty on creation", kind)
		}
	}
}

func TestEditStampsUpdatedAt(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")

	created, _ := svc.Create(ctx, alice, "original", nil)
	edited, err := svc.Edit(ctx, alice, created.ID, "changed")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "changed" {
		t.Fatalf("content = %q, want %q", edited.Content, "changed")
	}
	if edited.UpdatedAt == nil {
		t.Fatal("updated_at not stamped on edit")
	}
	if !edited.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("edit moved created_at")
	}

	if _, err := svc.Edit(ctx, alice, 999, "x"); err == nil {
		t.Fatal("expected NotFoundError")
	} else if _, ok := errAs[*NotFoundError](err); !ok {
		t.Fatalf("got %T, want *NotFoundError", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")
	_, bob := registerUser(t, svc, "bob")

	created, _ := svc.Create(ctx, alice, "mine", nil)

	if _, err := svc.Edit(ctx, bob, created.ID, "stolen"); err == nil {
		t.Fatal("expected ForbiddenError on edit")
	} else if _, ok := errAs[*ForbiddenError](err); !ok {
		t.Fatalf("got %T, want *ForbiddenError", err)
	}
	if err := svc.Delete(ctx, bob, created.ID); err == nil {
		t.Fatal("expected ForbiddenError on delete")
	} else if _, ok := errAs[*ForbiddenError](err); !ok {
		t.Fatalf("got %T, want *ForbiddenError", err)
	}

	tree, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tree) != 1 || tree[0].Content != "mine" {
		t.Fatal("rejected mutation changed the data")
	}
}

func TestDeleteCascades(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")

	root, _ := svc.Create(ctx, alice, "root", nil)
	a, _ := svc.Create(ctx, alice, "a", &root.ID)
	b, _ := svc.Create(ctx, alice, "b", &a.ID)
	if _, err := svc.Create(ctx, alice, "c", &b.ID); err != nil {
		t.Fatalf("create chain: %v", err)
	}
	bystander, _ := svc.Create(ctx, alice, "bystander", nil)

	if err := svc.Delete(ctx, alice, root.ID); err != nil {
		t.Fatalf("delete root: %v", err)
	}

	tree, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tree) != 1 || tree[0].ID != bystander.ID {
		t.Fatalf("after cascade got %d roots, want only the bystander", len(tree))
	}
}

func TestDeleteTerminatesOnCyclicData(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	user, alice := registerUser(t, svc, "alice")

	// Simulate referential corruption: two comments that parent each other.
	dataset, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dataset.Comments = []models.Comment{
		{ID: 1, UserID: user.ID, Content: "a", CreatedAt: now, ParentID: intPtr(2), Reactions: models.NewReactions()},
		{ID: 2, UserID: user.ID, Content: "b", CreatedAt: now, ParentID: intPtr(1), Reactions: models.NewReactions()},
	}
	dataset.NextCommentID = 3
	if err := st.Save(ctx, dataset); err != nil {
		t.Fatalf("save: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.Delete(ctx, alice, 1) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("delete on cyclic data: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not terminate on cyclic parent links")
	}

	after, _ := st.Load(ctx)
	if len(after.Comments) != 0 {
		t.Fatalf("%d comments survived the cyclic cascade", len(after.Comments))
	}
}

func TestReactToggle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")
	_, bob := registerUser(t, svc, "bob")

	created, _ := svc.Create(ctx, alice, "react to me", nil)

	reactions, err := svc.React(ctx, bob, created.ID, "like")
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if got, want := reactions["like"], []int{bob.UserID}; !reflect.DeepEqual(got, want) {
		t.Fatalf("like set = %v, want %v", got, want)
	}

	// same user, second kind: membership in both at once
	reactions, err = svc.React(ctx, bob, created.ID, "love")
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(reactions["like"]) != 1 || len(reactions["love"]) != 1 {
		t.Fatalf("like=%v love=%v, want membership in both", reactions["like"], reactions["love"])
	}

	// toggling like off round-trips to the original state
	reactions, err = svc.React(ctx, bob, created.ID, "like")
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(reactions["like"]) != 0 {
		t.Fatalf("like set = %v after toggle off, want empty", reactions["like"])
	}

	if _, err := svc.React(ctx, bob, created.ID, "meh"); err == nil {
		t.Fatal("expected ValidationError for unknown kind")
	} else if _, ok := errAs[*ValidationError](err); !ok {
		t.Fatalf("got %T, want *ValidationError", err)
	}
	if _, err := svc.React(ctx, bob, 999, "like"); err == nil {
		t.Fatal("expected NotFoundError")
	} else if _, ok := errAs[*NotFoundError](err); !ok {
		t.Fatalf("got %T, want *NotFoundError", err)
	}
}

func TestReactionSetsStayDeduplicated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")
	_, bob := registerUser(t, svc, "bob")
	_, carol := registerUser(t, svc, "carol")

	created, _ := svc.Create(ctx, alice, "popular", nil)
	for _, id := range []Identity{carol, alice, bob} {
		if _, err := svc.React(ctx, id, created.ID, "wow"); err != nil {
			t.Fatalf("react: %v", err)
		}
	}

	if _, err := svc.React(ctx, bob, created.ID, "wow"); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	reactions, err := svc.React(ctx, bob, created.ID, "wow")
	if err != nil {
		t.Fatalf("toggle back on: %v", err)
	}
	want := []int{alice.UserID, bob.UserID, carol.UserID}
	if !reflect.DeepEqual(reactions["wow"], want) {
		t.Fatalf("wow set = %v, want sorted %v", reactions["wow"], want)
	}
}

func TestConcurrentCreatesNeverShareIDs(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")

	const n = 20
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := svc.Create(ctx, alice, "racing", nil)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- created.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("comment id %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestMutationsPublishRebuiltTree(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	_, alice := registerUser(t, svc, "alice")

	created, _ := svc.Create(ctx, alice, "hello", nil)
	if pub.count() != 1 {
		t.Fatalf("publishes after create = %d, want 1", pub.count())
	}

	svc.Edit(ctx, alice, created.ID, "edited")
	svc.React(ctx, alice, created.ID, "haha")
	svc.Delete(ctx, alice, created.ID)
	if pub.count() != 4 {
		t.Fatalf("publishes after four mutations = %d, want 4", pub.count())
	}

	// failed mutations must not broadcast
	svc.Edit(ctx, alice, 999, "nope")
	if pub.count() != 4 {
		t.Fatal("a failed mutation triggered a broadcast")
	}

	pub.mu.Lock()
	last := pub.trees[len(pub.trees)-1]
	pub.mu.Unlock()
	if len(last) != 0 {
		t.Fatalf("tree after delete has %d roots, want 0", len(last))
	}
}

type failingStore struct {
	dataset models.Dataset
	saveErr error
}

func (f *failingStore) Load(context.Context) (models.Dataset, error) { return f.dataset, nil }
func (f *failingStore) Save(context.Context, models.Dataset) error   { return f.saveErr }

func TestSaveFailureSurfacesAsStorageError(t *testing.T) {
	boom := errors.New("disk full")
	st := &failingStore{dataset: models.NewDataset(), saveErr: boom}
	st.dataset.Users = []models.User{{ID: 1, Username: "alice"}}
	st.dataset.NextUserID = 2

	pub := &capturePublisher{}
	svc := NewService(st, pub)

	_, err := svc.Create(context.Background(), Identity{UserID: 1}, "hello", nil)
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("got %v, want *StorageError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("StorageError does not wrap the underlying cause")
	}
	if pub.count() != 0 {
		t.Fatal("failed save still broadcast a tree")
	}
}

// cancelRejectingStore fails any Load/Save carrying a canceled context, the
// way a database-backed store does.
type cancelRejectingStore struct {
	inner store.Store
}

func (c *cancelRejectingStore) Load(ctx context.Context) (models.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return models.Dataset{}, err
	}
	return c.inner.Load(ctx)
}

func (c *cancelRejectingStore) Save(ctx context.Context, dataset models.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.inner.Save(ctx, dataset)
}

func TestMutationsCompleteAfterClientDisconnect(t *testing.T) {
	st := &cancelRejectingStore{
		inner: store.NewFileStore(filepath.Join(t.TempDir(), "board.json")),
	}
	svc := NewService(st, &capturePublisher{})
	_, alice := registerUser(t, svc, "alice")

	// a disconnected client's request context is already canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	created, err := svc.Create(ctx, alice, "outlives the connection", nil)
	if err != nil {
		t.Fatalf("create with canceled context: %v", err)
	}
	if _, err := svc.Edit(ctx, alice, created.ID, "still edited"); err != nil {
		t.Fatalf("edit with canceled context: %v", err)
	}
	if _, err := svc.React(ctx, alice, created.ID, "like"); err != nil {
		t.Fatalf("react with canceled context: %v", err)
	}

	tree, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tree) != 1 || tree[0].Content != "still edited" {
		t.Fatal("mutation did not persist past the disconnect")
	}
	if len(tree[0].Reactions["like"]) != 1 {
		t.Fatal("reaction did not persist past the disconnect")
	}

	if err := svc.Delete(ctx, alice, created.ID); err != nil {
		t.Fatalf("delete with canceled context: %v", err)
	}
	tree, _ = svc.List(context.Background())
	if len(tree) != 0 {
		t.Fatal("delete did not persist past the disconnect")
	}
}

// lockFreePublisher records whether the service still holds its mutation
// lock when a broadcast arrives.
type lockFreePublisher struct {
	svc            *Service
	heldDuringPub  bool
	publishedCount int
}

func (p *lockFreePublisher) PublishComments([]*models.CommentTree) {
	p.publishedCount++
	if p.svc.mu.TryLock() {
		p.svc.mu.Unlock()
	} else {
		p.heldDuringPub = true
	}
}

func TestPublishRunsOutsideMutationLock(t *testing.T) {
	st := store.NewFileStore(filepath.Join(t.TempDir(), "board.json"))
	pub := &lockFreePublisher{}
	svc := NewService(st, pub)
	pub.svc = svc
	_, alice := registerUser(t, svc, "alice")

	ctx := context.Background()
	created, _ := svc.Create(ctx, alice, "hello", nil)
	svc.Edit(ctx, alice, created.ID, "edited")
	svc.React(ctx, alice, created.ID, "wow")
	svc.Delete(ctx, alice, created.ID)

	if pub.publishedCount != 4 {
		t.Fatalf("publishes = %d, want 4", pub.publishedCount)
	}
	if pub.heldDuringPub {
		t.Fatal("broadcast ran inside the mutation critical section")
	}
}

// errAs is a tiny generics helper keeping the assertions above readable.
func errAs[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
