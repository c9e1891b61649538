// Package tripdetect converts a stream of classified activity samples into
// discrete trips.
//
// Responsibilities: start debounce (N_start consecutive qualifying samples),
// pause tolerance and end debounce on STILL runs, boundary backdating, and
// trip finalization (dominant mode, duration, distance, mean confidence).
// Key types: StateMachine, DetectedTrip.
//
// The machine performs no I/O and returns no errors. It is not safe for
// concurrent use; callers serialize Process and Reset.
package tripdetect
