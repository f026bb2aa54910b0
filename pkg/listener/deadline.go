package listener

import "time"

func deadline() time.Time {
	return time.Now().Add(peekTimeout)
}

func noDeadline() time.Time {
	return time.Time{}
}
