package companion

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/ashureev/companion/internal/llm"
	"github.com/ashureev/companion/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers by request kind: JSON requests are persona generation,
// other cheap-tier requests are trust scoring, primary-tier requests are replies.
type fakeBackend struct {
	mu sync.Mutex

	personas   []string
	personaErr error

	scores   []string
	score    string
	scoreErr error

	reply    string
	replyErr error

	requests []llm.Request
}

func (f *fakeBackend) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	switch {
	case req.JSON:
		if f.personaErr != nil {
			return "", f.personaErr
		}
		if len(f.personas) == 0 {
			return "", errors.New("no persona scripted")
		}
		out := f.personas[0]
		f.personas = f.personas[1:]
		return out, nil
	case req.Tier == llm.TierCheap:
		if f.scoreErr != nil {
			return "", f.scoreErr
		}
		if len(f.scores) > 0 {
			out := f.scores[0]
			f.scores = f.scores[1:]
			return out, nil
		}
		return f.score, nil
	default:
		return f.reply, f.replyErr
	}
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) lastPrimary() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Tier == llm.TierPrimary {
			return f.requests[i]
		}
	}
	return llm.Request{}
}

type harness struct {
	mgr        *Manager
	repo       store.Repository
	candidates *store.MemoryCandidateStore
	backend    *fakeBackend
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	backend := &fakeBackend{score: "0", reply: "hey there"}
	candidates := store.NewMemoryCandidateStore(0)
	return &harness{
		mgr:        NewManager(repo, candidates, backend, opts),
		repo:       repo,
		candidates: candidates,
		backend:    backend,
	}
}

func personaJSON(name string, age int) string {
	return `{"name":"` + name + `","age":` + strconv.Itoa(age) + `,"traits":"likes indie music","appearance":"curly hair"}`
}
