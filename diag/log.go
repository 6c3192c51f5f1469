package diag

import "github.com/apex/log"

// SetLevel sets the minimum level apex/log's package-level logger emits. It is the
// one piece of process-wide state the core carries, set once by the host
// program at startup.
func SetLevel(level log.Level) {
	log.SetLevel(level)
}
