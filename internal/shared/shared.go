// package shared holds cross-cutting helpers: configuration, database
// access, migrations, the error taxonomy, logging, and id generation.
package shared

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a [log.Logger] writing to w with timestamps and caller
// reporting enabled. A nil writer defaults to [os.Stderr].
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true, ReportCaller: true})
}

// GenerateID returns a new v4 [uuid.UUID] string. Every persisted entity
// gets its primary key from here.
func GenerateID() string {
	return uuid.New().String()
}
