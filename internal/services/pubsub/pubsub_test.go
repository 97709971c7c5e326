package pubsub

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicPingState, "", 10)
	if sub.Topic != TopicPingState {
		t.Errorf("Expected topic %s, got %s", TopicPingState, sub.Topic)
	}
	if cap(sub.Channel) != 10 {
		t.Errorf("Expected channel buffer size 10, got %d", cap(sub.Channel))
	}

	other := ps.Subscribe(TopicPingState, "Falcon", 10)
	if other.ID == sub.ID {
		t.Errorf("Expected distinct subscriber ids, both %q", sub.ID)
	}
	ps.Subscribe(TopicControllersChanged, "", 10)

	if count := ps.SubscriberCount(TopicPingState); count != 2 {
		t.Errorf("Expected 2 ping subscribers, got %d", count)
	}
	if count := ps.SubscriberCount(TopicControllersChanged); count != 1 {
		t.Errorf("Expected 1 controllers subscriber, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicPingState, "", 10)
	ps.Unsubscribe(sub)

	if count := ps.SubscriberCount(TopicPingState); count != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d", count)
	}

	select {
	case _, ok := <-sub.Channel:
		if ok {
			t.Error("Channel should be closed after unsubscribe")
		}
	default:
		t.Error("Channel should be closed and readable")
	}

	// Second unsubscribe must not close the channel again.
	ps.Unsubscribe(sub)
}

func TestPublish_WithFilter(t *testing.T) {
	ps := New()

	falcon := ps.Subscribe(TopicPingState, "Falcon", 10)
	roof := ps.Subscribe(TopicPingState, "Roof", 10)
	all := ps.Subscribe(TopicPingState, "", 10)

	ps.Publish(TopicPingState, "Falcon", "falcon ok")

	for name, sub := range map[string]*Subscriber{"falcon": falcon, "all": all} {
		select {
		case msg := <-sub.Channel:
			if msg != "falcon ok" {
				t.Errorf("%s: expected 'falcon ok', got '%v'", name, msg)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s should have received the message", name)
		}
	}

	select {
	case <-roof.Channel:
		t.Error("roof subscriber should not have received the message")
	default:
	}

	ps.Publish(TopicPingState, "", "broadcast")
	if msg := <-roof.Channel; msg != "broadcast" {
		t.Errorf("Expected 'broadcast', got '%v'", msg)
	}
}

func TestPublish_ChannelFull(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicPingState, "", 1)
	ps.Publish(TopicPingState, "", "msg1")

	done := make(chan struct{})
	go func() {
		ps.Publish(TopicPingState, "", "msg2")
		ps.Publish(TopicPingState, "other", "msg3")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Publish blocked on full channel")
	}

	if msg := <-sub.Channel; msg != "msg1" {
		t.Errorf("Expected 'msg1', got '%v'", msg)
	}
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	ps := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := ps.Subscribe(TopicPingState, "", 1)
			time.Sleep(time.Millisecond)
			ps.Unsubscribe(sub)
		}()
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ps.Publish(TopicPingState, "", i)
		}(i)
	}

	wg.Wait()
	if count := ps.SubscriberCount(TopicPingState); count != 0 {
		t.Errorf("Expected no subscribers left, got %d", count)
	}
}

func TestTopicConstants(t *testing.T) {
	topics := []Topic{TopicPingState, TopicControllersChanged, TopicDiscovery, TopicShowSaved}

	seen := make(map[Topic]bool)
	for _, topic := range topics {
		if seen[topic] {
			t.Errorf("Duplicate topic: %s", topic)
		}
		seen[topic] = true
	}
}
