package pipeline

import (
	"fmt"
	"os"

	"github.com/entirecore/agentcore/internal/jsonutil"

	"github.com/entirecore/agentcore/internal/audit"
)

// RollbackParams configures one Rollback invocation.
type RollbackParams struct {
	Name    string
	Version string
	Actor   string
}

// Rollback moves a pack's active-version pointer to an already-installed
// version without re-copying payload files (spec.md §4.5.3). The target
// version's installed directory must already exist.
//
// Per the Open Question decision recorded in DESIGN.md, this does not
// re-verify the installed payload against its manifest before flipping the
// pointer; that would require re-reading and re-hashing every payload file
// on every rollback purely to defend against out-of-band tampering of
// already-trusted local state, which the pipeline's other operations don't
// do either.
func (s *Store) Rollback(params RollbackParams) error {
	destDir := s.installedDir(params.Name, params.Version)
	if _, err := os.Stat(destDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s@%s is not installed", ErrInvalidInput, params.Name, params.Version)
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := jsonutil.WriteFileAtomic(s.currentPointerPath(params.Name), []byte(params.Version+"\n"), 0o640); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	event := audit.NewEvent(audit.SupplyChain, params.Actor, "rollback", "knowledge-pack:"+params.Name).
		WithMetadata("version", params.Version)
	if err := s.Ledger.Append(event); err != nil {
		return fmt.Errorf("%w: %v", ErrAudit, err)
	}
	return nil
}
