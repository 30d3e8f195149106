// Package jobqueue provides the durable named queues that carry task jobs to
// workers.
//
// Jobs live in their own SQLite database. A worker claims a job by leasing it;
// a lease that expires before Complete or Fail is called makes the job
// claimable again, so delivery is at-least-once. Fail re-queues a job until
// its attempts are spent. Runner drives per-queue worker goroutines and
// reports job lifecycle events to a Listener.
package jobqueue
