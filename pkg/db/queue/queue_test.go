package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erain9/pairflow/pkg/messaging"
)

func withMockProducer(t *testing.T) *mockProducer {
	t.Helper()
	mockProd := &mockProducer{}
	oldNewSyncProducer := newSyncProducer
	t.Cleanup(func() {
		newSyncProducer = oldNewSyncProducer
		poolInitOnce = sync.Once{}
		senderPool = nil
	})
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		return mockProd, nil
	}
	return mockProd
}

func testReport() *messaging.ExecutionReport {
	return &messaging.ExecutionReport{
		AOSID:    42,
		ClientID: "pair-3",
		Symbol:   "SBER",
		Side:     "BUY",
		Event:    messaging.EventFill,
		Px:       messaging.FormatPx(100.25),
		Qty:      messaging.FormatQty(30),
		CumQty:   messaging.FormatQty(30),
		PairID:   3,
	}
}

func TestQueueMessageSender_SendExecutionReport(t *testing.T) {
	mockProd := withMockProducer(t)

	sender, err := NewQueueMessageSender()
	require.NoError(t, err)
	defer sender.Close()

	report := testReport()
	require.NoError(t, sender.SendExecutionReport(context.Background(), report))

	require.Len(t, mockProd.sentMessages, 1)
	msg := mockProd.sentMessages[0]
	require.Equal(t, topic, msg.Topic)

	var got messaging.ExecutionReport
	raw, err := msg.Value.Encode()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, report.AOSID, got.AOSID)
	assert.Equal(t, report.ClientID, got.ClientID)
	assert.Equal(t, report.Symbol, got.Symbol)
	assert.Equal(t, report.Event, got.Event)
	assert.Equal(t, report.Px, got.Px)
	assert.Equal(t, report.CumQty, got.CumQty)
	assert.Equal(t, report.PairID, got.PairID)
}

func TestSendReport_UsesPooledSender(t *testing.T) {
	mockProd := withMockProducer(t)

	require.NoError(t, SendReport(context.Background(), testReport()))
	require.Len(t, mockProd.sentMessages, 1)

	// The sender went back to the pool; a second send reuses it.
	require.NoError(t, SendReport(context.Background(), testReport()))
	require.Len(t, mockProd.sentMessages, 2)
}

func TestSendReport_DropsPoisonedSender(t *testing.T) {
	mockProd := withMockProducer(t)
	mockProd.failNext = sarama.ErrOutOfBrokers

	err := SendReport(context.Background(), testReport())
	require.Error(t, err)

	// The failed sender was closed, not pooled; the next call still works.
	require.NoError(t, SendReport(context.Background(), testReport()))
	require.Len(t, mockProd.sentMessages, 1)
}
