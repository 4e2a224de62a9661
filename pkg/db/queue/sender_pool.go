package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/erain9/pairflow/pkg/messaging"
)

var (
	senderPool   chan messaging.MessageSender
	poolInitOnce sync.Once
	maxPoolSize  = 8
)

// initSenderPool initializes the sender pool
func initSenderPool() {
	poolInitOnce.Do(func() {
		senderPool = make(chan messaging.MessageSender, maxPoolSize)
		for i := 0; i < maxPoolSize; i++ {
			sender, err := NewQueueMessageSender()
			if err != nil {
				fmt.Printf("Error creating sender: %v\n", err)
				continue
			}
			senderPool <- sender
		}
	})
}

// GetSender gets a sender from the pool
func GetSender() messaging.MessageSender {
	initSenderPool()

	select {
	case sender := <-senderPool:
		return sender
	default:
		return nil
	}
}

// ReturnSender returns a sender to the pool
func ReturnSender(sender messaging.MessageSender) {
	if sender == nil {
		return
	}
	select {
	case senderPool <- sender:
	default:
		_ = sender.Close()
	}
}

// SendReport publishes one execution report using a pooled sender
func SendReport(ctx context.Context, report *messaging.ExecutionReport) error {
	sender := GetSender()
	if sender == nil {
		return fmt.Errorf("failed to get message sender from pool")
	}

	if err := sender.SendExecutionReport(ctx, report); err != nil {
		// Connection may be poisoned, do not return it to the pool
		_ = sender.Close()
		return err
	}
	ReturnSender(sender)
	return nil
}
