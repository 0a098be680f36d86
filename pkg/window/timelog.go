// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package window

import "time"

// TimeLog is an append-only list of timestamps in ascending order. It is not
// safe for concurrent use; callers guard it with their own lock.
type TimeLog struct {
	stamps []time.Time
}

// Prune drops every timestamp at or before cutoff.
func (l *TimeLog) Prune(cutoff time.Time) int {
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
	return i
}

// Add appends t.
func (l *TimeLog) Add(t time.Time) {
	l.stamps = append(l.stamps, t)
}

// Len returns the number of timestamps.
func (l *TimeLog) Len() int {
	return len(l.stamps)
}

// Clear empties the log.
func (l *TimeLog) Clear() {
	l.stamps = l.stamps[:0]
}
