package commhub

import (
	"fmt"
	"sync"
)

// dummyAuditor records audit entries in memory, so that tests can assert on
// what got audited.
type dummyAuditor struct {
	lock    sync.Mutex
	entries []string
}

func (x *dummyAuditor) AuditUserAction(identity, action, detail string) {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.entries = append(x.entries, fmt.Sprintf("%v|%v|%v", identity, action, detail))
}

func (x *dummyAuditor) count() int {
	x.lock.Lock()
	defer x.lock.Unlock()
	return len(x.entries)
}

func (x *dummyAuditor) last() string {
	x.lock.Lock()
	defer x.lock.Unlock()
	if len(x.entries) == 0 {
		return ""
	}
	return x.entries[len(x.entries)-1]
}
