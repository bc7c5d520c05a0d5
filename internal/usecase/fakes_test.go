package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/ports"
	"KnowledgeDigest/internal/source"
)

var testNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

// journal records store events across fakes so tests can assert ordering.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.events)
}

// fakeSource keeps rows in memory and regroups the unprocessed ones on every read.
type fakeSource struct {
	mu          sync.Mutex
	category    domain.Category
	groups      []domain.Group
	processed   map[int64]bool
	transitions map[int64]int
	journal     *journal
	readErr     error
	markErr     error
	openErr     error
	readAt      []time.Time
	closed      int
}

func newFakeSource(category domain.Category, j *journal, groups ...domain.Group) *fakeSource {
	s := &fakeSource{
		category:    category,
		groups:      groups,
		processed:   map[int64]bool{},
		transitions: map[int64]int{},
		journal:     j,
	}
	for _, g := range groups {
		for _, id := range g.MemberIDs {
			s.processed[id] = false
		}
	}
	return s
}

func (s *fakeSource) OpenSource(context.Context) (ports.SourceStore, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s, nil
}

func (s *fakeSource) ReadUnprocessedGroups(_ context.Context, now time.Time) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readAt = append(s.readAt, now)
	if s.readErr != nil {
		return nil, s.readErr
	}

	var out []domain.Group
	for _, g := range s.groups {
		var members []int64
		for _, id := range g.MemberIDs {
			if !s.processed[id] {
				members = append(members, id)
			}
		}
		if len(members) == 0 {
			continue
		}
		g.Category = s.category
		g.MemberIDs = members
		out = append(out, g)
	}
	return out, nil
}

func (s *fakeSource) MarkProcessed(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for _, id := range ids {
		if !s.processed[id] {
			s.processed[id] = true
			s.transitions[id]++
		}
	}
	if s.journal != nil {
		s.journal.add("mark %s %v", s.category, ids)
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) isProcessed(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[id]
}

// fakeKnowledge is an append-only in-memory knowledge base shared by every source.
type fakeKnowledge struct {
	mu        sync.Mutex
	artifacts []domain.Artifact
	journal   *journal
	appendErr error
	openErr   error
	opened    int
	closed    int
}

func (k *fakeKnowledge) OpenKnowledge(context.Context) (ports.KnowledgeStore, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.openErr != nil {
		return nil, k.openErr
	}
	k.opened++
	return k, nil
}

func (k *fakeKnowledge) Append(_ context.Context, summary string, category domain.Category) (domain.Artifact, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.appendErr != nil {
		return domain.Artifact{}, k.appendErr
	}
	a := domain.Artifact{ID: int64(len(k.artifacts) + 1), Summary: summary, Category: category, CreatedAt: testNow}
	k.artifacts = append(k.artifacts, a)
	if k.journal != nil {
		k.journal.add("append %s %s", category, summary)
	}
	return a, nil
}

func (k *fakeKnowledge) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed++
	return nil
}

func (k *fakeKnowledge) list() []domain.Artifact {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.artifacts)
}

// fakeSummarizer answers "summary of <user content>" unless fail says otherwise.
type fakeSummarizer struct {
	mu     sync.Mutex
	calls  []domain.PromptSpec
	params []domain.ModelParams
	fail   func(prompt domain.PromptSpec, call int) error
}

func (f *fakeSummarizer) Summarize(_ context.Context, prompt domain.PromptSpec, params domain.ModelParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, prompt)
	f.params = append(f.params, params)
	if f.fail != nil {
		if err := f.fail(prompt, len(f.calls)); err != nil {
			return "", err
		}
	}
	return "summary of " + prompt.UserContent, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func failFor(key string) func(domain.PromptSpec, int) error {
	return func(p domain.PromptSpec, _ int) error {
		if p.UserContent == key {
			return &domain.ServiceFailure{Provider: "fake", Err: errors.New("rate limited")}
		}
		return nil
	}
}

func keyPrompt(g domain.Group) domain.PromptSpec {
	return domain.PromptSpec{SystemInstructions: "analyst", UserContent: g.Key}
}

func definition(src *fakeSource) source.Definition {
	return source.Definition{
		Category: src.category,
		Opener:   src,
		Build:    keyPrompt,
		Params:   domain.ModelParams{Model: "test-model", Temperature: 0.7},
	}
}

func group(key string, ids ...int64) domain.Group {
	return domain.Group{Key: key, MemberIDs: ids}
}

// fakeLocker hands out leases unless the key is listed as held.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	released []string
}

type fakeLease struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (ports.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, nil
	}
	l.acquired = append(l.acquired, key)
	return &fakeLease{locker: l, key: key}, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.released = append(l.locker.released, l.key)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []string
}

func (n *fakeNotifier) PublishReport(_ context.Context, report string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return nil
}

type fakeRetention struct {
	calls map[domain.Category]time.Time
	err   map[domain.Category]error
}

func (f *fakeRetention) DeleteOlderThan(_ context.Context, category domain.Category, cutoff time.Time) (int64, error) {
	if f.calls == nil {
		f.calls = map[domain.Category]time.Time{}
	}
	f.calls[category] = cutoff
	if err := f.err[category]; err != nil {
		return 0, err
	}
	return 2, nil
}
