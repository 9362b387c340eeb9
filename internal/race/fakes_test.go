package race_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/koopa0/typetrial/internal/race"
)

// fakeChannel 記錄收到的訊息，可設定為發送失敗
type fakeChannel struct {
	mu       sync.Mutex
	msgs     []race.Outbound
	closed   bool
	failSend bool
}

func (c *fakeChannel) Send(msg race.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) messages() []race.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]race.Outbound{}, c.msgs...)
}

func (c *fakeChannel) errorMessages() []string {
	var out []string
	for _, m := range c.messages() {
		if m.Type == race.MsgError {
			out = append(out, m.Message)
		}
	}
	return out
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) setFailSend(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = fail
}

type recordedResult struct {
	userID int64
	raceID int64
	wpm    int
	rank   int
}

// fakeStore 同時實作四個協作者
type fakeStore struct {
	mu sync.Mutex

	passage  race.Passage
	raceGate chan struct{} // 非 nil 時 CreateRace 等到關閉才回傳
	nextRace int64
	races    []int64 // 每次 CreateRace 的 passage id
	results  []recordedResult
	users    map[string]*race.User
	lookups  int
}

func newFakeStore(text string) *fakeStore {
	return &fakeStore{
		passage:  race.Passage{ID: 42, Text: text},
		nextRace: 100,
		users:    make(map[string]*race.User),
	}
}

func (s *fakeStore) collaborators() race.Collaborators {
	return race.Collaborators{Passages: s, Races: s, Results: s, Users: s}
}

func (s *fakeStore) FetchPassage(ctx context.Context) (race.Passage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passage, nil
}

func (s *fakeStore) CreateRace(ctx context.Context, passageID int64) (int64, error) {
	s.mu.Lock()
	gate := s.raceGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRace++
	s.races = append(s.races, passageID)
	return s.nextRace, nil
}

func (s *fakeStore) CreateResult(ctx context.Context, userID, raceID int64, wpm, rank int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, recordedResult{userID: userID, raceID: raceID, wpm: wpm, rank: rank})
	return nil
}

func (s *fakeStore) GetUserByField(ctx context.Context, field, value string) (*race.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if field != "username" {
		return nil, errors.New("unsupported field")
	}
	u, ok := s.users[value]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) addUser(u race.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = &u
}

func (s *fakeStore) recordedResults() []recordedResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedResult{}, s.results...)
}

// fakeClock 可手動前進的時鐘
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
