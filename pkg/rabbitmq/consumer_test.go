package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNextAttempt(t *testing.T) {
	tests := []struct {
		name          string
		headers       amqp.Table
		max           int
		wantAttempt   int
		wantExhausted bool
	}{
		{name: "first failure", headers: nil, max: 3, wantAttempt: 1},
		{name: "int32 header", headers: amqp.Table{retryCountHeader: int32(1)}, max: 3, wantAttempt: 2},
		{name: "int64 header at budget", headers: amqp.Table{retryCountHeader: int64(2)}, max: 3, wantAttempt: 3, wantExhausted: true},
		{name: "unknown header type", headers: amqp.Table{retryCountHeader: "2"}, max: 3, wantAttempt: 1},
		{name: "default budget", headers: amqp.Table{retryCountHeader: int32(4)}, max: 0, wantAttempt: 5, wantExhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempt, exhausted := nextAttempt(tt.headers, tt.max)
			if attempt != tt.wantAttempt || exhausted != tt.wantExhausted {
				t.Fatalf("expected (%d, %v), got (%d, %v)", tt.wantAttempt, tt.wantExhausted, attempt, exhausted)
			}
		})
	}
}

func TestNextAttempt_AlwaysFailingMessageStops(t *testing.T) {
	headers := amqp.Table{}
	for i := 0; i < 100; i++ {
		attempt, exhausted := nextAttempt(headers, 5)
		if exhausted {
			if attempt != 5 {
				t.Fatalf("expected dead-lettering on attempt 5, got %d", attempt)
			}
			return
		}
		headers[retryCountHeader] = int32(attempt)
	}
	t.Fatal("message was retried without limit")
}

func TestDeadLetterQueue(t *testing.T) {
	if got := DeadLetterQueue("rewards.payout_notifications"); got != "rewards.payout_notifications.dead" {
		t.Fatalf("unexpected dead-letter queue %q", got)
	}
}
