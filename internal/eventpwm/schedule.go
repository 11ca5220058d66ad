package eventpwm

import "time"

// entry is one pending toggle deadline. seq ties it to the channel
// schedule generation that queued it; entries whose seq no longer matches
// are stale and skipped when popped.
type entry struct {
	pin int
	at  time.Time
	seq uint64
}

// schedule is a min-heap of entries ordered by deadline.
type schedule []*entry

func (s schedule) Len() int           { return len(s) }
func (s schedule) Less(i, j int) bool { return s[i].at.Before(s[j].at) }
func (s schedule) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func (s *schedule) Push(x any) { *s = append(*s, x.(*entry)) }

func (s *schedule) Pop() any {
	old := *s
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*s = old[:n-1]
	return e
}
