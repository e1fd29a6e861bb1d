// Package kvstore implements store.Backend on top of a revisioned key/value
// State such as a JetStream KV bucket.
//
// Key layout, one JSON document per key:
//
//	task.<owner>.<task>
//	rule.<owner>.<rule>
//	reminder.<owner>.<task>.<offset>
//	audit.<owner>.<event>
//	tag.<owner>.<base64url(name)>
//
// There is no multi-key transaction. Completing a task first flips the
// task's completed flag with a compare-and-set on its revision, and only the
// writer that wins that flip advances the recurrence rule (itself by
// compare-and-set) and inserts the successor. A crash between those steps
// can leave a series without its next occurrence but never duplicates one.
package kvstore
