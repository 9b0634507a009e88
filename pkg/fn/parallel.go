package fn

import "sync"

// FanOut runs every function concurrently and returns their outcomes in
// argument order. Branches are independent: one failing or stalling
// does not stop the rest, which makes this the settle-all join for
// heterogeneous lookups.
func FanOut[T any](fns ...func() T) []T {
	out := make([]T, len(fns))
	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, f := range fns {
		go func() {
			defer wg.Done()
			out[i] = f()
		}()
	}
	wg.Wait()
	return out
}

// ParMapResult applies f to every item through a pool of workers,
// returning Results in input order. workers <= 0 means one goroutine
// per item.
func ParMapResult[T, U any](items []T, workers int, f func(T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				out[i] = f(items[i])
			}
		}()
	}
	for i := range items {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return out
}
