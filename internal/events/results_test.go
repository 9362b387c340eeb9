package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/typetrial/internal/events"
	"github.com/koopa0/typetrial/internal/testutils"
)

type fakeLedger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *fakeLedger) CreateResult(ctx context.Context, userID, raceID int64, wpm, rank int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	conn, err := nats.Connect(testutils.NATS(t))
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

// TestResultPublisher 寫入成功後發布事件
func TestResultPublisher(t *testing.T) {
	conn := connect(t)
	ledger := &fakeLedger{}

	publisher, err := events.NewResultPublisher(ledger, conn, events.DefaultConfig(), testutils.Logger())
	require.NoError(t, err)

	// 再建一次不會因 Stream 已存在而失敗
	_, err = events.NewResultPublisher(ledger, conn, events.DefaultConfig(), testutils.Logger())
	require.NoError(t, err)

	require.NoError(t, publisher.CreateResult(context.Background(), 7, 42, 88, 1))
	assert.Equal(t, 1, ledger.calls)

	js, err := conn.JetStream()
	require.NoError(t, err)
	sub, err := js.SubscribeSync(publisher.Subject(42), nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var event events.ResultEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, int64(42), event.RaceID)
	assert.Equal(t, int64(7), event.UserID)
	assert.Equal(t, 88, event.WPM)
	assert.Equal(t, 1, event.Rank)
	assert.Equal(t, event.EventID, msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "results.42", msg.Subject)
}

// TestResultPublisher_LedgerError 寫入失敗時不發布
func TestResultPublisher_LedgerError(t *testing.T) {
	conn := connect(t)
	ledger := &fakeLedger{err: errors.New("database down")}

	publisher, err := events.NewResultPublisher(ledger, conn, events.DefaultConfig(), testutils.Logger())
	require.NoError(t, err)

	require.Error(t, publisher.CreateResult(context.Background(), 7, 43, 88, 1))

	info, err := mustJetStream(t, conn).StreamInfo(events.DefaultConfig().StreamName)
	require.NoError(t, err)
	assert.Zero(t, info.State.Msgs)
}

func mustJetStream(t *testing.T, conn *nats.Conn) nats.JetStreamContext {
	t.Helper()
	js, err := conn.JetStream()
	require.NoError(t, err)
	return js
}
