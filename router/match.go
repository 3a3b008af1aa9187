package router

import "strings"

// matchAddr reports whether addr fits pattern segment by segment. An "@" segment matches
// any non-empty segment and captures it; every other segment must be equal.
func matchAddr(pattern, addr string) (bool, []string) {
	want := strings.Split(pattern, "/")
	got := strings.Split(addr, "/")
	if len(want) != len(got) {
		return false, nil
	}
	var captures []string
	for i, seg := range want {
		switch {
		case seg == "@" && got[i] != "":
			captures = append(captures, got[i])
		case seg != got[i]:
			return false, nil
		}
	}
	return true, captures
}
