// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTrigger is an error, which is returned when a trigger specifies
// an hour or minute out of range.
var ErrInvalidTrigger = errors.New("invalid trigger")

const day = 24 * time.Hour

// Trigger fires once a day at the given UTC hour and minute.
type Trigger struct {
	Hour   int
	Minute int
}

// DailyTrigger returns the [Trigger], which fires at local midnight of the
// timezone with the given offset.
func DailyTrigger(offset time.Duration) Trigger {
	at := ((day-offset)%day + day) % day

	return Trigger{
		Hour:   int(at / time.Hour),
		Minute: int((at % time.Hour) / time.Minute),
	}
}

// Validate returns an error, if the trigger is out of range.
func (t Trigger) Validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: %s", ErrInvalidTrigger, t)
	}

	return nil
}

// Next returns the first time strictly after now at which the trigger
// fires.
func (t Trigger) Next(now time.Time) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	next := time.Date(y, m, d, t.Hour, t.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// String implements the [fmt.Stringer] interface.
func (t Trigger) String() string {
	return fmt.Sprintf("%02d:%02d UTC", t.Hour, t.Minute)
}
