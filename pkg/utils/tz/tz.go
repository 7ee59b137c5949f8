// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package tz provides helpers for the signed HH:MM timezone offsets, which
// are configured for projects.
package tz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidOffset is an error, which is returned when a timezone offset
// cannot be parsed.
var ErrInvalidOffset = errors.New("invalid timezone offset")

// maxOffset is the largest offset in use by any timezone.
const maxOffset = 14 * time.Hour

// ParseOffset parses a signed offset in the form of +HH:MM or -HH:MM and
// returns it as a [time.Duration]. The sign applies to both the hours and
// the minutes, so -05:30 yields -5h30m. A missing sign is treated as a
// positive offset.
func ParseOffset(value string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidOffset)
	}

	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) == 0 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, value)
	}

	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, value)
	}

	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, value)
	}

	offset := sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute)
	if offset > maxOffset || offset < -maxOffset {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidOffset, value)
	}

	return offset, nil
}

// FormatOffset formats the offset as +HH:MM or -HH:MM.
func FormatOffset(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}

	hours := int(offset / time.Hour)
	minutes := int((offset % time.Hour) / time.Minute)

	return fmt.Sprintf("%s%02d:%02d", sign, hours, minutes)
}

// StartOfDay returns midnight UTC of the calendar day of t in UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
