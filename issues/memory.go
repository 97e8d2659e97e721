package issues

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTracker is an in-process Tracker. The CLI uses it for dry runs.
type MemoryTracker struct {
	mu       sync.Mutex
	next     int
	issues   map[int]*memoryIssue
	Comments map[int][]string
}

type memoryIssue struct {
	Issue
	Body   string
	Labels []string
	Open   bool
}

// NewMemoryTracker creates an empty tracker
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		next:     1,
		issues:   map[int]*memoryIssue{},
		Comments: map[int][]string{},
	}
}

func (m *MemoryTracker) FindOpen(_ context.Context, title string) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n := 1; n < m.next; n++ {
		if is, ok := m.issues[n]; ok && is.Open && is.Title == title {
			found := is.Issue
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryTracker) Create(_ context.Context, title, body string, labels []string) (*Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	m.next++
	m.issues[n] = &memoryIssue{
		Issue:  Issue{Number: n, Title: title, URL: fmt.Sprintf("memory://issues/%d", n)},
		Body:   body,
		Labels: labels,
		Open:   true,
	}
	out := m.issues[n].Issue
	return &out, nil
}

func (m *MemoryTracker) Comment(_ context.Context, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issues[number]; !ok {
		return fmt.Errorf("issue #%d not found", number)
	}
	m.Comments[number] = append(m.Comments[number], body)
	return nil
}

func (m *MemoryTracker) Close(_ context.Context, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[number]
	if !ok {
		return fmt.Errorf("issue #%d not found", number)
	}
	is.Open = false
	return nil
}

// OpenTitles returns the titles of open issues in creation order
func (m *MemoryTracker) OpenTitles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for n := 1; n < m.next; n++ {
		if is, ok := m.issues[n]; ok && is.Open {
			titles = append(titles, is.Title)
		}
	}
	return titles
}
