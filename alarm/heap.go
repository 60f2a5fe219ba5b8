package alarm

import "container/heap"

// alarmHeap orders alarms by ScheduledAt, earliest first.
type alarmHeap []Alarm

func (h alarmHeap) Len() int { return len(h) }
func (h alarmHeap) Less(i, j int) bool {
	if h[i].ScheduledAt == h[j].ScheduledAt {
		return h[i].Name < h[j].Name
	}
	return h[i].ScheduledAt < h[j].ScheduledAt
}
func (h alarmHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *alarmHeap) Push(x any) {
	*h = append(*h, x.(Alarm))
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *alarmHeap, a Alarm) {
	heap.Push(h, a)
}

func heapPop(h *alarmHeap) Alarm {
	return heap.Pop(h).(Alarm)
}

// heapRemoveByName removes the alarm called name, reporting whether it was present.
func heapRemoveByName(h *alarmHeap, name string) bool {
	for i, a := range *h {
		if a.Name == name {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
