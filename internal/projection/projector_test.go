package projection

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/screening-bot/internal/domain"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]domain.Change
	started chan struct{}
	release chan struct{}
	err     error
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Apply(_ context.Context, batch []domain.Change) error {
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]domain.Change(nil), batch...))
	return m.err
}

func (m *memorySink) candidates() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for _, b := range m.batches {
		for _, c := range b {
			ids = append(ids, c.CandidateID)
		}
	}
	return ids
}

func TestProjectorDeliversInOrder(t *testing.T) {
	sink := &memorySink{}
	p := New(16, nil, sink)

	for i := int64(1); i <= 5; i++ {
		p.Publish(domain.Change{Kind: domain.ChangeAnswerStored, CandidateID: i})
	}
	p.Close(5 * time.Second)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.candidates())
	for _, b := range sink.batches {
		for _, c := range b {
			_, err := uuid.Parse(c.ID)
			assert.NoError(t, err)
			assert.False(t, c.At.IsZero())
		}
	}
}

func TestProjectorDropsOldestWhenFull(t *testing.T) {
	sink := &memorySink{started: make(chan struct{}, 1), release: make(chan struct{})}
	p := New(2, nil, sink)

	p.Publish(domain.Change{CandidateID: 1})
	<-sink.started

	done := make(chan struct{})
	go func() {
		for i := int64(2); i <= 6; i++ {
			p.Publish(domain.Change{CandidateID: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	assert.Equal(t, int64(3), p.Stats()["dropped"])
	close(sink.release)
	p.Close(5 * time.Second)

	assert.Equal(t, []int64{1, 5, 6}, sink.candidates())
}

func TestProjectorIsolatesSinkFailures(t *testing.T) {
	failing := &memorySink{err: errors.New("disk full")}
	healthy := &memorySink{}
	p := New(8, nil, failing, healthy)

	p.Publish(domain.Change{CandidateID: 7})
	p.Close(5 * time.Second)

	assert.Equal(t, []int64{7}, healthy.candidates())
	assert.Equal(t, int64(1), p.Stats()["sink_failures"])
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	sink := &memorySink{}
	p := New(4, nil, sink)
	p.Close(time.Second)
	p.Close(time.Second)

	p.Publish(domain.Change{CandidateID: 1})
	assert.Empty(t, sink.candidates())
}

type staticSummaries struct {
	rows []domain.CandidateSummary
	err  error
}

func (s staticSummaries) CandidateSummaries(context.Context) ([]domain.CandidateSummary, error) {
	return s.rows, s.err
}

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.csv")
	sink := NewCSVSink(path, staticSummaries{rows: []domain.CandidateSummary{
		{Candidate: domain.Candidate{ID: 1, Identity: domain.Identity{TelegramID: 10, Username: "ann"}}, AnswerCount: 2},
	}})

	require.NoError(t, sink.Apply(context.Background(), nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "1,10,ann,@ann,false,"))

	failing := NewCSVSink(path, staticSummaries{err: errors.New("db closed")})
	assert.ErrorContains(t, failing.Apply(context.Background(), nil), "db closed")
}

type mockNATSConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (m *mockNATSConn) Publish(subj string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subj)
	m.payloads = append(m.payloads, data)
	return nil
}

func TestNATSSink(t *testing.T) {
	conn := &mockNATSConn{}
	sink := NewNATSSink(conn, "interview")

	batch := []domain.Change{
		{ID: "a", Kind: domain.ChangeFlagRecorded, CandidateID: 3, Data: map[string]any{"code": "duplicate_answer"}},
		{ID: "b", Kind: domain.ChangeInterviewFinalized, CandidateID: 3},
	}
	require.NoError(t, sink.Apply(context.Background(), batch))

	assert.Equal(t, []string{"interview.flag_recorded", "interview.interview_finalized"}, conn.subjects)
	var got domain.Change
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, int64(3), got.CandidateID)
	assert.Equal(t, "duplicate_answer", got.Data["code"])

	conn.err = errors.New("nats: connection closed")
	assert.ErrorContains(t, sink.Apply(context.Background(), batch), "publish flag_recorded")
}
