package events

import "testing"

func TestBusSequencingAndTrim(t *testing.T) {
	b := NewBus(3)
	for i := 0; i < 5; i++ {
		b.Publish(Event{JobID: "j", Type: TypeEnqueued})
	}

	got := b.Since(0)
	if len(got) != 3 {
		t.Fatalf("buffer holds %d events, want 3", len(got))
	}
	if got[0].Seq != 3 || got[2].Seq != 5 {
		t.Fatalf("kept seqs %d..%d, want 3..5", got[0].Seq, got[2].Seq)
	}

	if tail := b.Since(4); len(tail) != 1 || tail[0].Seq != 5 {
		t.Fatalf("Since(4) = %+v", tail)
	}
}

func TestBusSubscribe(t *testing.T) {
	b := NewBus(10)
	ch, cancel := b.Subscribe()
	defer cancel()

	published := b.Publish(Event{JobID: "j1", Type: TypeCompleted})
	got := <-ch
	if got.Seq != published.Seq || got.JobID != "j1" {
		t.Fatalf("subscriber got %+v, want %+v", got, published)
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic.
	b.Publish(Event{JobID: "j2", Type: TypeFailed})
}
