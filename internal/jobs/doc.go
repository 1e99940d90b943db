// Package jobs runs the periodic background work (autodelete purge and
// send-task dispatch) on robfig/cron. Each job runs its bounded batch to
// completion; overlapping runs of the same job are skipped.
package jobs
