package worker

import "sync"

type TaskStop struct{}

type Task interface{}

// Worker runs a handler on its own goroutine. Tasks queued while the handler
// is busy are delivered together on the next round.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	maxBatch int
	wg       *sync.WaitGroup
}

type BatchHandler interface {
	HandleBatch(tasks []Task)
}

type Starter interface {
	Start()
}

// Stopper is notified once the worker has drained its queue and exits.
type Stopper interface {
	Stop()
}

func (w *Worker) Start(handler BatchHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		if s, ok := handler.(Stopper); ok {
			defer s.Stop()
		}
		batch := make([]Task, 0, w.maxBatch)
		for {
			batch = batch[:0]
			stop := w.collect(<-w.receiver, &batch)
			for !stop && len(batch) < w.maxBatch {
				select {
				case t := <-w.receiver:
					stop = w.collect(t, &batch)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				handler.HandleBatch(batch)
			}
			if stop {
				return
			}
		}
	}()
}

func (w *Worker) collect(t Task, batch *[]Task) bool {
	if _, ok := t.(TaskStop); ok {
		return true
	}
	*batch = append(*batch, t)
	return false
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Stop asks the worker to exit after the tasks queued before it.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const (
	defaultWorkerCapacity = 128
	defaultMaxBatch       = 64
)

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	return NewBatchWorker(name, wg, defaultWorkerCapacity, defaultMaxBatch)
}

func NewBatchWorker(name string, wg *sync.WaitGroup, capacity, maxBatch int) *Worker {
	ch := make(chan Task, capacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		maxBatch: maxBatch,
		wg:       wg,
	}
}
