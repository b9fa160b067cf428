package chat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// View is a subscriber's rendered copy of one order's channel. Messages
// arrive on two concurrent paths, the bulk history fetch on open and live
// bus events, so the view deduplicates by message identity before
// appending. Locally posted messages can be added speculatively and are
// replaced by their authoritative copy when it comes back.
type View struct {
	mu          sync.Mutex
	seen        map[string]bool
	speculative map[string]int // identity -> index in msgs
	msgs        []models.ChatMessage
}

func NewView() *View {
	return &View{
		seen:        make(map[string]bool),
		speculative: make(map[string]int),
	}
}

// Identity keys a message for dedup: the id when present, otherwise the
// sender/timestamp/content tuple.
func Identity(m models.ChatMessage) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return fmt.Sprintf("t:%s|%s|%d|%s", m.SenderRole, m.SenderID, m.CreatedAt.UnixNano(), m.Content)
}

// tupleIdentity ignores the id so an authoritative copy can be matched
// against a speculative one that was appended before the id existed.
func tupleIdentity(m models.ChatMessage) string {
	return fmt.Sprintf("t:%s|%s|%s", m.SenderRole, m.SenderID, m.Content)
}

// Add merges one authoritative message into the view. Returns true when the
// view changed (appended or upgraded a speculative entry); a message
// already rendered is ignored.
func (v *View) Add(m models.ChatMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := Identity(m)
	if v.seen[id] {
		return false
	}

	if idx, ok := v.speculative[tupleIdentity(m)]; ok {
		delete(v.speculative, tupleIdentity(m))
		v.msgs[idx] = m
		v.seen[id] = true
		return true
	}

	v.seen[id] = true
	v.msgs = append(v.msgs, m)
	return true
}

// AddHistory merges a bulk history fetch.
func (v *View) AddHistory(msgs []models.ChatMessage) int {
	added := 0
	for _, m := range msgs {
		if v.Add(m) {
			added++
		}
	}
	return added
}

// AddSpeculative appends a locally constructed message before the backend
// confirms it. The entry is tagged and replaced in place when the
// authoritative copy arrives; the authoritative source always wins.
func (v *View) AddSpeculative(m models.ChatMessage) {
	m.ID = ""
	v.mu.Lock()
	defer v.mu.Unlock()
	key := tupleIdentity(m)
	if _, ok := v.speculative[key]; ok {
		return
	}
	v.speculative[key] = len(v.msgs)
	v.msgs = append(v.msgs, m)
}

// Messages returns the rendered channel in timestamp order.
func (v *View) Messages() []models.ChatMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.ChatMessage, len(v.msgs))
	copy(out, v.msgs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
