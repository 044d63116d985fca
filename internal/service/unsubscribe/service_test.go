package unsubscribe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/unsubtoken"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// mockRepo is an in-memory repository for testing. Record applies the row,
// consent and counter together, as the real stores do.
type mockRepo struct {
	mu        sync.Mutex
	store     map[string]*domain.Unsubscribe // keyed by "campaignID:email"
	consent   map[string]bool
	counts    map[string]int
	campaigns map[string]bool
	failNext  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		store:     make(map[string]*domain.Unsubscribe),
		consent:   map[string]bool{"jane@example.com": true},
		counts:    make(map[string]int),
		campaigns: map[string]bool{"camp-1": true},
	}
}

func (m *mockRepo) Record(_ context.Context, u *domain.Unsubscribe) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return 0, err
	}
	if !m.campaigns[u.CampaignID] {
		return 0, ErrUnknownCampaign
	}
	k := u.CampaignID + ":" + u.Email
	if _, exists := m.store[k]; exists {
		return 0, ErrAlreadyUnsubscribed
	}
	m.store[k] = u
	m.counts[u.CampaignID]++
	return m.revokeLocked(u.Email), nil
}

func (m *mockRepo) RevokeConsent(_ context.Context, email string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeLocked(email), nil
}

func (m *mockRepo) revokeLocked(email string) int {
	if m.consent[email] {
		m.consent[email] = false
		return 1
	}
	return 0
}

func (m *mockRepo) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

type mockEvents struct {
	events   []domain.CampaignEvent
	failNext error
}

func (m *mockEvents) Record(_ context.Context, e *domain.CampaignEvent) error {
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *mockEvents) Query(_ context.Context, f ledger.Filter) ([]domain.CampaignEvent, error) {
	var out []domain.CampaignEvent
	for i := range m.events {
		if f.Matches(&m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *mockRepo, *mockEvents, *unsubtoken.Codec) {
	t.Helper()
	codec, err := unsubtoken.NewCodec("test-signing-key", 0)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	repo := newMockRepo()
	events := &mockEvents{}
	return NewService(repo, codec, events), repo, events, codec
}

func TestUnsubscribe_RecordsOptOut(t *testing.T) {
	svc, repo, events, codec := newTestService(t)
	token := codec.Encode("camp-1", "Jane@Example.com", time.Now())

	res, err := svc.Unsubscribe(context.Background(), token)
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if res.Duplicate {
		t.Error("first opt-out reported as duplicate")
	}
	if res.Email != "jane@example.com" {
		t.Errorf("expected normalized email, got %q", res.Email)
	}
	if repo.consent["jane@example.com"] {
		t.Error("expected consent to be revoked")
	}
	if repo.counts["camp-1"] != 1 {
		t.Errorf("expected unsubscribe count 1, got %d", repo.counts["camp-1"])
	}
	if len(events.events) != 1 || events.events[0].EventType != domain.EventUnsubscribed {
		t.Fatalf("expected one unsubscribed event, got %+v", events.events)
	}
	if events.events[0].ContactID != nil {
		t.Error("unsubscribe events carry no contact id")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	svc, repo, events, codec := newTestService(t)
	token := codec.Encode("camp-1", "jane@example.com", time.Now())

	for i := 0; i < 3; i++ {
		if _, err := svc.Unsubscribe(context.Background(), token); err != nil {
			t.Fatalf("Unsubscribe #%d: %v", i, err)
		}
	}

	if repo.counts["camp-1"] != 1 {
		t.Errorf("expected counter bumped once, got %d", repo.counts["camp-1"])
	}
	if len(events.events) != 1 {
		t.Errorf("expected a single ledger row, got %d", len(events.events))
	}
	n, _ := svc.Count(context.Background())
	if n != 1 {
		t.Errorf("expected 1 stored opt-out, got %d", n)
	}
}

func TestUnsubscribe_TamperedToken(t *testing.T) {
	svc, repo, _, codec := newTestService(t)
	token := codec.Encode("camp-1", "jane@example.com", time.Now())
	tampered := strings.Replace(token, ".", ".0", 1)

	_, err := svc.Unsubscribe(context.Background(), tampered)
	if !errors.Is(err, unsubtoken.ErrInvalidSignature) && !errors.Is(err, unsubtoken.ErrMalformed) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if len(repo.counts) != 0 {
		t.Error("tampered token must not count")
	}
}

func TestApply_RequiresCampaignAndEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.Apply(context.Background(), "", "jane@example.com"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for empty campaign, got %v", err)
	}
	if _, err := svc.Apply(context.Background(), "camp-1", "  "); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for empty email, got %v", err)
	}
}

func TestApply_UnknownCampaignIsInvalid(t *testing.T) {
	svc, _, events, _ := newTestService(t)

	_, err := svc.Apply(context.Background(), "gone", "jane@example.com")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if len(events.events) != 0 {
		t.Error("no ledger row for an unknown campaign")
	}
}

func TestApply_RetryAfterStoreFailure(t *testing.T) {
	svc, repo, events, _ := newTestService(t)
	repo.failNext = errors.New("db down")

	if _, err := svc.Apply(context.Background(), "camp-1", "jane@example.com"); err == nil {
		t.Fatal("expected the store failure to surface")
	}
	if !repo.consent["jane@example.com"] || repo.counts["camp-1"] != 0 || len(events.events) != 0 {
		t.Fatal("a failed attempt must leave nothing behind")
	}

	res, err := svc.Apply(context.Background(), "camp-1", "jane@example.com")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Duplicate {
		t.Error("retry of a failed attempt is the first real opt-out")
	}
	if repo.consent["jane@example.com"] {
		t.Error("expected consent to be revoked on retry")
	}
	if repo.counts["camp-1"] != 1 {
		t.Errorf("expected counter 1, got %d", repo.counts["camp-1"])
	}
	if len(events.events) != 1 {
		t.Errorf("expected one ledger row, got %d", len(events.events))
	}
}

func TestApply_RetryAfterLedgerFailure(t *testing.T) {
	svc, repo, events, _ := newTestService(t)
	events.failNext = errors.New("ledger unavailable")

	if _, err := svc.Apply(context.Background(), "camp-1", "jane@example.com"); err == nil {
		t.Fatal("expected the ledger failure to surface")
	}
	if repo.consent["jane@example.com"] {
		t.Error("consent is revoked together with the opt-out row")
	}

	res, err := svc.Apply(context.Background(), "camp-1", "jane@example.com")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Duplicate {
		t.Error("the opt-out row already exists on retry")
	}
	if repo.counts["camp-1"] != 1 {
		t.Errorf("expected counter bumped once, got %d", repo.counts["camp-1"])
	}
	if len(events.events) != 1 || events.events[0].EventType != domain.EventUnsubscribed {
		t.Fatalf("expected the missing ledger row to be written, got %+v", events.events)
	}

	if _, err := svc.Apply(context.Background(), "camp-1", "jane@example.com"); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if len(events.events) != 1 {
		t.Errorf("expected no further ledger rows, got %d", len(events.events))
	}
}

func TestApply_DuplicateRevokesReimportedContact(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Apply(ctx, "camp-1", "jane@example.com"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	repo.consent["jane@example.com"] = true

	res, err := svc.Apply(ctx, "camp-1", "jane@example.com")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Duplicate || repo.consent["jane@example.com"] {
		t.Errorf("duplicate=%v consent=%v", res.Duplicate, repo.consent["jane@example.com"])
	}
}
