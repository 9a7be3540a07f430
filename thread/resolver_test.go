package thread

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dhcgn/mail-archiver/model"
)

func TestResolve_Lineage(t *testing.T) {
	a := model.Message{ID: "a@x", Subject: "Hello", Status: "RO"}
	b := model.Message{ID: "b@x", InReplyTo: "a@x", Subject: "Re: Hello"}
	c := model.Message{ID: "c@x", InReplyTo: "b@x", Subject: "Re: Re: Hello"}

	cache := NewCache()
	r := NewResolver("")

	var results []Result
	for _, msg := range []model.Message{a, b, c} {
		results = append(results, r.Resolve(msg, cache))
		cache.Add(msg)
	}

	want := [][]string{
		{"Hello"},
		{"Hello", "Re: Hello"},
		{"Hello", "Re: Hello", "Re: Re: Hello"},
	}
	for i, res := range results {
		if diff := cmp.Diff(want[i], res.Tree); diff != "" {
			t.Errorf("message %d tree mismatch (-want +got):\n%s", i, diff)
		}
	}

	if results[2].Status != model.StatusSeen {
		t.Errorf("status of C = %s, want SEEN (taken from thread root A)", results[2].Status)
	}
}

func TestResolve_TruncatedLineage(t *testing.T) {
	cache := NewCache()
	cache.Add(model.Message{ID: "other@x", Subject: "Unrelated"})

	d := model.Message{ID: "d@x", InReplyTo: "missing@x", Subject: "Re: lost"}
	res := NewResolver("").Resolve(d, cache)

	if diff := cmp.Diff([]string{"Re: lost"}, res.Tree); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if res.Status != model.StatusUnseen {
		t.Errorf("status = %s, want UNSEEN", res.Status)
	}
}

func TestResolve_StatusSource(t *testing.T) {
	cache := NewCache()
	cache.Add(model.Message{ID: "root@x", Subject: "Root", Status: "O"})
	reply := model.Message{ID: "reply@x", InReplyTo: "root@x", Subject: "Re: Root", Status: "RO"}

	tests := []struct {
		source StatusSource
		want   model.Status
	}{
		{StatusFromTerminal, model.StatusUnseen},
		{StatusFromMessage, model.StatusSeen},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			if got := NewResolver(tt.source).Resolve(reply, cache).Status; got != tt.want {
				t.Errorf("Resolve().Status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolve_CycleStops(t *testing.T) {
	cache := NewCache()
	cache.Add(model.Message{ID: "x@x", InReplyTo: "y@x", Subject: "X"})
	cache.Add(model.Message{ID: "y@x", InReplyTo: "x@x", Subject: "Y"})

	res := NewResolver("").Resolve(model.Message{ID: "z@x", InReplyTo: "x@x", Subject: "Z"}, cache)
	if diff := cmp.Diff([]string{"Y", "X", "Z"}, res.Tree); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusOf(t *testing.T) {
	tests := map[string]model.Status{
		"RO":   model.StatusSeen,
		" RO ": model.StatusSeen,
		"R":    model.StatusUnseen,
		"O":    model.StatusUnseen,
		"":     model.StatusUnseen,
	}
	for status, want := range tests {
		if got := StatusOf(model.Message{Status: status}); got != want {
			t.Errorf("StatusOf(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestCache_IgnoresMissingID(t *testing.T) {
	cache := NewCache()
	cache.Add(model.Message{Subject: "no id"})
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}
}
