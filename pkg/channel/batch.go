package channel

import (
	"sort"
	"time"
)

type Partitioner[T any] func(T) (string, error)

type BatchOptions[T any] struct {
	// MaxSize is the maximum number of items to batch together.
	MaxSize int

	// MaxWait is the maximum amount of time a batch is held after its first item.
	MaxWait time.Duration

	// PartitionBy returns the key of the batch an item belongs to.
	// If PartitionBy is nil, all items are batched together.
	PartitionBy Partitioner[T]
}

func (o *BatchOptions[T]) defaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = 100
	}

	if o.MaxWait <= 0 {
		o.MaxWait = 60 * time.Second
	}
}

type expiry struct {
	key        string
	generation uint64
}

// Batch groups items read from in and emits a batch once it reaches MaxSize
// or MaxWait passed since its first item. Pending batches are flushed when in
// is closed. Both returned channels must be drained.
func Batch[T any](in <-chan T, opts BatchOptions[T]) (<-chan []T, <-chan error) {
	opts.defaults()

	out := make(chan []T)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)

		batches := make(map[string][]T)
		timers := make(map[string]*time.Timer)
		generations := make(map[string]uint64)
		expired := make(chan expiry)
		done := make(chan struct{})
		defer close(done)

		flush := func(key string) {
			batch, ok := batches[key]
			if !ok {
				return
			}
			delete(batches, key)
			if timer, ok := timers[key]; ok {
				timer.Stop()
				delete(timers, key)
			}
			generations[key]++
			out <- batch
		}

		for {
			select {
			case item, ok := <-in:
				if !ok {
					keys := make([]string, 0, len(batches))
					for key := range batches {
						keys = append(keys, key)
					}
					sort.Strings(keys)
					for _, key := range keys {
						flush(key)
					}
					return
				}

				key := ""
				if opts.PartitionBy != nil {
					var err error
					key, err = opts.PartitionBy(item)
					if err != nil {
						errc <- err
						continue
					}
				}

				batches[key] = append(batches[key], item)
				if len(batches[key]) >= opts.MaxSize {
					flush(key)
					continue
				}

				if _, ok := timers[key]; !ok {
					e := expiry{key: key, generation: generations[key]}
					timers[key] = time.AfterFunc(opts.MaxWait, func() {
						select {
						case expired <- e:
						case <-done:
						}
					})
				}
			case e := <-expired:
				// The batch may have been flushed by size while the timer fired.
				if generations[e.key] == e.generation {
					flush(e.key)
				}
			}
		}
	}()
	return out, errc
}
