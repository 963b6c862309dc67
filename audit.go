package commhub

import (
	"encoding/json"

	"github.com/IMQS/log"
	"github.com/wI2L/jsondiff"
)

// Auditor receives a record of every mutation that a person makes to their
// own account. The detail string is a JSON Patch describing exactly what
// changed, which keeps the audit trail free of the unchanged fields.
type Auditor interface {
	AuditUserAction(identity, action, detail string)
}

type logAuditor struct {
	logger *log.Logger
}

func (x *logAuditor) AuditUserAction(identity, action, detail string) {
	x.logger.Infof("audit: (%v) (%v) %v", identity, action, detail)
}

// auditChange diffs the before and after values and sends the patch to the
// auditor. Audit failures are logged and swallowed; the mutation itself has
// already happened.
func (x *Central) auditChange(identity, action string, before, after interface{}) {
	if x.Auditor == nil {
		return
	}
	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		x.Log.Errorf("audit diff failed (%v) (%v): %v", identity, action, err)
		return
	}
	if len(patch) == 0 {
		return
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		x.Log.Errorf("audit marshal failed (%v) (%v): %v", identity, action, err)
		return
	}
	x.Auditor.AuditUserAction(identity, action, string(raw))
}
