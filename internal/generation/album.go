package generation

import (
	"sync"
	"time"
)

// AlbumFlush is the payload handed to the sink when a burst group settles.
// Notify is false for synchronous flushes forced by a drain, where the
// caller is about to act on the inputs anyway.
type AlbumFlush struct {
	TgID   int64
	ChatID int64
	Refs   []string
	Notify bool
}

// FlushFunc receives settled burst groups.
type FlushFunc func(AlbumFlush)

// BurstBuffer holds media-group members until the group goes quiet, then
// flushes the whole group at once through the sink.
type BurstBuffer interface {
	// Add appends a member to the group and restarts its quiet timer.
	Add(groupID string, tgID, chatID int64, ref string)
	// FlushAccount synchronously flushes every group the account owns.
	FlushAccount(tgID int64)
	// Clear drops every group the account owns without flushing.
	Clear(tgID int64)
}

type albumGroup struct {
	tgID   int64
	chatID int64
	refs   []string
	timer  *time.Timer
}

// TimerBuffer is the production BurstBuffer: one reschedulable timer per
// group, fired after the quiet window elapses with no new members.
type TimerBuffer struct {
	window time.Duration
	sink   FlushFunc

	mu     sync.Mutex
	groups map[string]*albumGroup
}

func NewTimerBuffer(window time.Duration, sink FlushFunc) *TimerBuffer {
	return &TimerBuffer{
		window: window,
		sink:   sink,
		groups: make(map[string]*albumGroup),
	}
}

func (b *TimerBuffer) Add(groupID string, tgID, chatID int64, ref string) {
	b.mu.Lock()
	g, ok := b.groups[groupID]
	if !ok {
		g = &albumGroup{tgID: tgID, chatID: chatID}
		b.groups[groupID] = g
	}
	g.refs = append(g.refs, ref)
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(b.window, func() {
		b.flushGroup(groupID, true)
	})
	b.mu.Unlock()
}

// flushGroup removes the group and hands it to the sink. Removal under the
// lock makes a second flush of the same group a no-op, so a timer firing
// concurrently with a forced drain cannot double-deliver.
func (b *TimerBuffer) flushGroup(groupID string, notify bool) {
	b.mu.Lock()
	g, ok := b.groups[groupID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.groups, groupID)
	if g.timer != nil {
		g.timer.Stop()
	}
	b.mu.Unlock()

	b.sink(AlbumFlush{TgID: g.tgID, ChatID: g.chatID, Refs: g.refs, Notify: notify})
}

func (b *TimerBuffer) FlushAccount(tgID int64) {
	for _, id := range b.groupsOf(tgID) {
		b.flushGroup(id, false)
	}
}

func (b *TimerBuffer) Clear(tgID int64) {
	b.mu.Lock()
	for id, g := range b.groups {
		if g.tgID != tgID {
			continue
		}
		if g.timer != nil {
			g.timer.Stop()
		}
		delete(b.groups, id)
	}
	b.mu.Unlock()
}

func (b *TimerBuffer) groupsOf(tgID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id, g := range b.groups {
		if g.tgID == tgID {
			ids = append(ids, id)
		}
	}
	return ids
}
