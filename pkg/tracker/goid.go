package tracker

import "runtime"

// goroutineID returns the current goroutine's id by parsing the first line
// of its stack trace ("goroutine 123 [running]:"). This is the portable
// slow path; it runs once per method entry, after which every store goes
// through the returned logger handle without looking the id up again.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the numeric id from stack trace bytes, or 0 if the
// format is unexpected.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) {
		return 0
	}
	var id int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
