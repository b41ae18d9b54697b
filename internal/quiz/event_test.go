package quiz

import (
	"encoding/json"
	"testing"
)

func TestKindJSONRoundTrip(t *testing.T) {
	for _, k := range []Kind{Created, Approved, Rejected, Deleted} {
		data, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("marshal %v: %v", k, err)
		}
		var back Kind
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != k {
			t.Errorf("round trip: expected %v, got %v", k, back)
		}
	}
}

func TestKindForTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  Kind
		ok    bool
	}{
		{TopicCreated, Created, true},
		{TopicApproved, Approved, true},
		{TopicRejected, Rejected, true},
		{TopicDeleted, Deleted, true},
		{"quiz_updated", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := KindForTopic(tt.topic)
		if ok != tt.ok {
			t.Errorf("%q: expected ok=%v, got %v", tt.topic, tt.ok, ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.topic, tt.want, got)
		}
	}
}

func TestTopicsCoverEveryKind(t *testing.T) {
	seen := make(map[Kind]bool)
	for _, topic := range Topics() {
		k, ok := KindForTopic(topic)
		if !ok {
			t.Fatalf("Topics() returned unmapped topic %q", topic)
		}
		seen[k] = true
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct kinds, got %d", len(seen))
	}
}
