package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/peterbourgon/diskv/v3"
)

type Event string

const (
	EventRecord Event = "record"
	EventUndo   Event = "undo"
	EventRedo   Event = "redo"
)

// Entry is one line of the audit log.
type Entry struct {
	Event  Event     `json:"event"`
	At     time.Time `json:"at"`
	Action Action    `json:"action"`
}

// Journal is an append-only audit log of history events on disk. It is
// never read back into the undo stacks.
type Journal struct {
	d   *diskv.Diskv
	now func() time.Time

	mu     sync.Mutex
	lastNs int64
}

func OpenJournal(basePath string) *Journal {
	return &Journal{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			Transform:    dayShard,
			CacheSizeMax: 1024 * 1024,
		}),
		now: time.Now,
	}
}

// dayShard groups entries into one directory per day. Keys start with a
// zero-padded UnixNano timestamp.
func dayShard(key string) []string {
	if len(key) < 20 {
		return []string{}
	}
	ns, err := strconv.ParseInt(key[:20], 10, 64)
	if err != nil {
		return []string{}
	}
	return []string{time.Unix(0, ns).UTC().Format("2006-01-02")}
}

func (j *Journal) Append(ev Event, a Action) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	at := j.now()
	// Keys sort chronologically, so they must be strictly increasing.
	ns := at.UnixNano()
	if ns <= j.lastNs {
		ns = j.lastNs + 1
	}
	j.lastNs = ns

	data, err := json.Marshal(Entry{Event: ev, At: at, Action: a})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%020d-%s-%s", ns, a.ID, ev)
	return j.d.Write(key, data)
}

// Entries returns every entry, oldest first.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	var keys []string
	for k := range j.d.Keys(ctx.Done()) {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		data, err := j.d.Read(k)
		if err != nil {
			return nil, fmt.Errorf("read journal entry %s: %w", k, err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode journal entry %s: %w", k, err)
		}
		out = append(out, e)
	}
	return out, ctx.Err()
}
