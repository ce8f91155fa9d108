package main

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dbcore/agentcore/pkg/orchestrator"
)

// newAuditCompactionScheduler runs audit.Log.Compact on a daily cron,
// dropping hash-chained records older than retention. Compaction is an
// explicit, scheduled operation rather than something triggered by every
// Append, so the retention window is a deliberate operator choice.
func newAuditCompactionScheduler(o *orchestrator.Orchestrator, retention time.Duration) *cron.Cron {
	c := cron.New()
	_, err := c.AddFunc("@daily", func() {
		cutoff := time.Now().Add(-retention)
		n := o.Audit.Compact(cutoff)
		if n > 0 {
			log.Printf("audit compaction: removed %d records older than %s", n, cutoff.Format(time.RFC3339))
		}
	})
	if err != nil {
		log.Fatalf("schedule audit compaction: %v", err)
	}
	return c
}
