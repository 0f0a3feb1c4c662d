package user

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/recall/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, u *model.User) error
	updateFn      func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByProviderIdentity(ctx context.Context, provider, providerID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, u *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	if patch.Provider != nil {
		u.Provider = *patch.Provider
	}
	if patch.ProviderID != nil {
		u.ProviderID = *patch.ProviderID
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	return u, nil
}

// --- テスト ---

func googleProfile(email, sub string) model.Profile {
	return model.Profile{Provider: "google", SubjectID: sub, Email: email, DisplayName: "Alice"}
}

func TestService_Create_NewUser(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewService(repo, time.Second)

	u, err := svc.Create(context.Background(), googleProfile(" Alice@Example.com ", "g-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.ID == "" {
		t.Error("IDが割り当てられていない")
	}
	if u.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", u.Email)
	}
	if !u.IsActive || u.IsSuperuser {
		t.Errorf("IsActive = %v, IsSuperuser = %v", u.IsActive, u.IsSuperuser)
	}
	if u.FullName != "Alice" || u.Provider != "google" || u.ProviderID != "g-1" {
		t.Errorf("unexpected user: %+v", u)
	}
	if len(repo.users) != 1 {
		t.Errorf("users = %d, want 1", len(repo.users))
	}
}

func TestService_Create_SameIdentity_ReturnsExisting(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewService(repo, time.Second)
	ctx := context.Background()

	first, err := svc.Create(ctx, googleProfile("alice@example.com", "g-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.Create(ctx, googleProfile("alice@example.com", "g-1"))
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("IDs differ: %s vs %s", first.ID, second.ID)
	}
	if len(repo.users) != 1 {
		t.Errorf("users = %d, want 1", len(repo.users))
	}
}

func TestService_Create_DifferentIdentity_ReturnsConflict(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewService(repo, time.Second)
	ctx := context.Background()

	if _, err := svc.Create(ctx, googleProfile("alice@example.com", "g-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := svc.Create(ctx, model.Profile{Provider: "github", SubjectID: "gh-1", Email: "alice@example.com"})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if len(repo.users) != 1 {
		t.Errorf("users = %d, want 1", len(repo.users))
	}
}

func TestService_Create_MissingEmail(t *testing.T) {
	svc := NewService(newMockUserRepo(), time.Second)
	_, err := svc.Create(context.Background(), googleProfile("  ", "g-1"))
	if !errors.Is(err, model.ErrMissingEmail) {
		t.Errorf("err = %v, want ErrMissingEmail", err)
	}
}

// TestService_Create_RaceOnInsert は一意制約違反後に既存行を再判定することを検証する。
func TestService_Create_RaceOnInsert(t *testing.T) {
	repo := newMockUserRepo()
	winner := &model.User{ID: "winner", Email: "alice@example.com", Provider: "google", ProviderID: "g-1", IsActive: true}
	calls := 0
	repo.findByEmailFn = func(ctx context.Context, email string) (*model.User, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return winner, nil
	}
	repo.createFn = func(ctx context.Context, u *model.User) error {
		return model.ErrConflict
	}
	svc := NewService(repo, time.Second)

	u, err := svc.Create(context.Background(), googleProfile("alice@example.com", "g-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.ID != "winner" {
		t.Errorf("ID = %q, want winner", u.ID)
	}
}

func TestService_Create_StoreFailure_ReturnsPersistenceError(t *testing.T) {
	repo := newMockUserRepo()
	repo.createFn = func(ctx context.Context, u *model.User) error {
		return errors.New("connection refused")
	}
	svc := NewService(repo, time.Second)

	_, err := svc.Create(context.Background(), googleProfile("alice@example.com", "g-1"))
	if !errors.Is(err, model.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestService_FindByEmail_StoreFailure(t *testing.T) {
	repo := newMockUserRepo()
	repo.findByEmailFn = func(ctx context.Context, email string) (*model.User, error) {
		return nil, errors.New("timeout")
	}
	svc := NewService(repo, time.Second)

	_, err := svc.FindByEmail(context.Background(), "alice@example.com")
	if !errors.Is(err, model.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestService_FindByEmail_AppliesTimeout(t *testing.T) {
	repo := newMockUserRepo()
	var hasDeadline bool
	repo.findByEmailFn = func(ctx context.Context, email string) (*model.User, error) {
		_, hasDeadline = ctx.Deadline()
		return nil, nil
	}
	svc := NewService(repo, 50*time.Millisecond)

	if _, err := svc.FindByEmail(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if !hasDeadline {
		t.Error("リポジトリ呼び出しにタイムアウトが設定されていない")
	}
}

func TestService_Update(t *testing.T) {
	repo := newMockUserRepo()
	svc := NewService(repo, time.Second)
	ctx := context.Background()

	u, err := svc.Create(ctx, googleProfile("alice@example.com", "g-1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	inactive := false
	updated, err := svc.Update(ctx, u.ID, model.UserPatch{IsActive: &inactive})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.IsActive {
		t.Error("IsActive should be false")
	}

	missing, err := svc.Update(ctx, "no-such-user", model.UserPatch{IsActive: &inactive})
	if err != nil || missing != nil {
		t.Errorf("Update(missing) = %v, %v; want nil, nil", missing, err)
	}

	same, err := svc.Update(ctx, u.ID, model.UserPatch{})
	if err != nil || same == nil || same.ID != u.ID {
		t.Errorf("Update(empty patch) = %v, %v", same, err)
	}
}

func TestService_Update_ConflictPassesThrough(t *testing.T) {
	repo := newMockUserRepo()
	repo.updateFn = func(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
		return nil, model.ErrConflict
	}
	svc := NewService(repo, time.Second)

	provider := "github"
	_, err := svc.Update(context.Background(), "u1", model.UserPatch{Provider: &provider})
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if errors.Is(err, model.ErrPersistence) {
		t.Error("衝突はストア障害として扱わない")
	}
}
