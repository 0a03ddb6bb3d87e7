package orchestrator

import "github.com/dbmirror/dbmirror/src/transfer"

// observers 依次转发给每个 Observer
type observers []transfer.Observer

func newObservers(list ...transfer.Observer) observers {
	var out observers
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (obs observers) JobStarted(job *transfer.Job) {
	for _, o := range obs {
		o.JobStarted(job)
	}
}

func (obs observers) JobProgress(job *transfer.Job, processed int64) {
	for _, o := range obs {
		o.JobProgress(job, processed)
	}
}

func (obs observers) JobFinished(job *transfer.Job) {
	for _, o := range obs {
		o.JobFinished(job)
	}
}
