// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const ellipsis = "…"

// TruncateWidth cuts s to at most maxWidth terminal columns, ending with an
// ellipsis when something was cut. Wide (CJK) characters count as two.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, ellipsis)
}

// TruncatePath keeps the tail of a path, which is the part that identifies
// the page: "/cases/2025/04/alert-991" becomes "…/04/alert-991".
func TruncatePath(p string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(p) <= maxWidth {
		return p
	}
	budget := maxWidth - runewidth.StringWidth(ellipsis)
	if budget <= 0 {
		return runewidth.Truncate(p, maxWidth, "")
	}

	segs := strings.Split(p, "/")
	tail := ""
	for i := len(segs) - 1; i >= 0; i-- {
		next := "/" + segs[i] + tail
		if runewidth.StringWidth(next) > budget {
			break
		}
		tail = next
	}
	if tail == "" {
		// Even the last segment is too wide: keep its rightmost columns.
		last := segs[len(segs)-1]
		for runewidth.StringWidth(last) > budget {
			_, size := firstRune(last)
			last = last[size:]
		}
		tail = last
	}
	return ellipsis + tail
}

// StringWidth returns the display width of s.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

func firstRune(s string) (rune, int) {
	for i, r := range s {
		if i > 0 {
			return r, i
		}
	}
	return 0, len(s)
}
