/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package timer_test

import (
	"testing"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/reactor/timer"
)

func TestUnit_OrderingAndTieBreak(t *testing.T) {
	q := timer.NewQueue()
	var order []int

	// t1 < t2 == t3 (tie, broken by insertion/sequence order) < t4
	q.Add(100, 0, func() { order = append(order, 1) })
	q.Add(200, 0, func() { order = append(order, 2) })
	q.Add(200, 0, func() { order = append(order, 3) })
	q.Add(300, 0, func() { order = append(order, 4) })

	for _, exp := range q.PopExpired(300) {
		exp.Fn()
	}

	casecheck.Equal(t, []int{1, 2, 3, 4}, order)
}

func TestUnit_CancelBeforeFiring(t *testing.T) {
	q := timer.NewQueue()
	fired := false
	id, _ := q.Add(100, 0, func() { fired = true })

	casecheck.True(t, q.Cancel(id))
	casecheck.Equal(t, 0, len(q.PopExpired(1000)))
	casecheck.False(t, fired)
}

func TestUnit_CancelDuringFiringPreventsReschedule(t *testing.T) {
	q := timer.NewQueue()
	var id timer.Id
	calls := 0

	id, _ = q.Add(100, 50, func() {
		calls++
		q.Cancel(id)
	})

	exp := q.PopExpired(100)
	casecheck.Equal(t, 1, len(exp))

	q.BeginFiring(exp[0].Id)
	exp[0].Fn()
	canceled := q.EndFiring(exp[0].Id)

	casecheck.True(t, canceled)
	casecheck.Equal(t, 1, calls)

	if !canceled {
		q.Reschedule(exp[0])
	}
	casecheck.Equal(t, 0, len(q.PopExpired(1_000_000)))
}

func TestUnit_RescheduleUsesPreviousExpirationNotNow(t *testing.T) {
	q := timer.NewQueue()
	q.Add(100, 10, func() {})

	exp := q.PopExpired(100)
	casecheck.Equal(t, 1, len(exp))

	q.BeginFiring(exp[0].Id)
	canceled := q.EndFiring(exp[0].Id)
	casecheck.False(t, canceled)

	_, isEarliest := q.Reschedule(exp[0])
	casecheck.True(t, isEarliest)

	next, ok := q.NextExpiration()
	casecheck.True(t, ok)
	casecheck.Equal(t, int64(110), next)
}

func TestUnit_CancelSurvivesAcrossReschedule(t *testing.T) {
	q := timer.NewQueue()
	calls := 0
	id, _ := q.Add(100, 10, func() { calls++ })

	for i := 0; i < 3; i++ {
		next, ok := q.NextExpiration()
		casecheck.True(t, ok)

		exp := q.PopExpired(next)
		casecheck.Equal(t, 1, len(exp))
		casecheck.Equal(t, id, exp[0].Id)

		q.BeginFiring(exp[0].Id)
		exp[0].Fn()
		canceled := q.EndFiring(exp[0].Id)
		casecheck.False(t, canceled)

		newID, _ := q.Reschedule(exp[0])
		casecheck.Equal(t, id, newID)
	}
	casecheck.Equal(t, 3, calls)

	casecheck.True(t, q.Cancel(id))
	casecheck.Equal(t, 0, len(q.PopExpired(1_000_000)))
}
