package leads

import "errors"

// ErrBlocked indicates the anti-bot detector tripped on a page. When it
// trips on the results page itself the whole session aborts and the
// dispatcher decides whether to retry.
var ErrBlocked = errors.New("blocked by anti-bot defenses")

// ErrNoIdentity indicates a record carries neither a listing URL nor a
// phone number and therefore cannot be persisted.
var ErrNoIdentity = errors.New("record has no stable identity key")

// ErrQueueFull reports a non-blocking enqueue against a queue at
// capacity; callers translate it into backpressure.
var ErrQueueFull = errors.New("task queue is full")
