// internal/migrate/ddllog.go
//
// DDL capture from the handle's statement stream.  Informational only:
// the log feeds live-mode reporting, never control flow.
package migrate

import (
	"strings"
	"sync"
)

// executingPrefix is the decoration some ORM loggers prepend to each
// statement line.
const executingPrefix = "Executing (default): "

// DDLLog collects the DDL statements issued during one migration.  Safe
// for concurrent use; pool callbacks may fire from multiple goroutines.
type DDLLog struct {
	mu         sync.Mutex
	statements []string
}

// NewDDLLog returns an empty log.  Attach Observe to Handle.StatementLog.
func NewDDLLog() *DDLLog {
	return &DDLLog{}
}

// Observe filters one statement line.  The ORM logger prefix is stripped
// if present; only ALTER, CREATE, and DROP statements are kept.
func (l *DDLLog) Observe(line string) {
	stmt := strings.TrimSpace(strings.TrimPrefix(line, executingPrefix))
	if !isDDL(stmt) {
		return
	}
	l.mu.Lock()
	l.statements = append(l.statements, stmt)
	l.mu.Unlock()
}

// Statements returns the captured DDL in arrival order.
func (l *DDLLog) Statements() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.statements))
	copy(out, l.statements)
	return out
}

// isDDL checks the first token, case-insensitively.
func isDDL(stmt string) bool {
	tok := stmt
	if i := strings.IndexAny(tok, " \t\n"); i != -1 {
		tok = tok[:i]
	}
	switch strings.ToUpper(tok) {
	case "ALTER", "CREATE", "DROP":
		return true
	}
	return false
}
