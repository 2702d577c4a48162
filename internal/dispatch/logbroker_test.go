package dispatch

import (
	"testing"
	"time"

	"github.com/mkonduru/flowd/internal/model"
)

func publishLine(b *LogBroker, invocationID string, seq int, line string) {
	b.Publish(model.LogLine{
		InvocationID: invocationID,
		Seq:          seq,
		Line:         line,
		CreatedAt:    time.Now().UTC(),
	})
}

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewLogBroker()

	ch, unsub := b.Subscribe("inv-1")
	defer unsub()

	publishLine(b, "inv-1", 0, "line one")
	publishLine(b, "inv-2", 0, "other invocation")

	select {
	case line := <-ch:
		if line.Line != "line one" || line.Seq != 0 {
			t.Errorf("received %+v, want seq 0 %q", line, "line one")
		}
	case <-time.After(time.Second):
		t.Fatal("no line received")
	}

	select {
	case line := <-ch:
		t.Errorf("received unexpected line %+v from another invocation", line)
	default:
	}
}

func TestBrokerLinesCarrySequence(t *testing.T) {
	b := NewLogBroker()

	ch, unsub := b.Subscribe("inv-1")
	defer unsub()

	for i := 0; i < 3; i++ {
		publishLine(b, "inv-1", i, "line")
	}

	for want := 0; want < 3; want++ {
		select {
		case line := <-ch:
			if line.Seq != want {
				t.Errorf("seq = %d, want %d", line.Seq, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("line %d not received", want)
		}
	}
}

func TestBrokerCloseNotifiesSubscribers(t *testing.T) {
	b := NewLogBroker()

	ch, unsub := b.Subscribe("inv-1")
	defer unsub()

	b.Close("inv-1")

	select {
	case _, open := <-ch:
		if open {
			t.Error("channel delivered a value instead of closing")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestBrokerLateSubscribeAfterClose(t *testing.T) {
	b := NewLogBroker()
	b.Close("finished")

	ch, unsub := b.Subscribe("finished")
	defer unsub()

	if _, open := <-ch; open {
		t.Error("late subscriber channel not closed")
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewLogBroker()

	_, unsub := b.Subscribe("inv-1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		// Publish more lines than the buffer holds; extra lines are dropped.
		for i := 0; i < subscriberBufferSize*2; i++ {
			publishLine(b, "inv-1", i, "line")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
