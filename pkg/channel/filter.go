package channel

// Filter forwards only the items for which fn returns true.
func Filter[T any](in <-chan T, fn func(T) bool) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for item := range in {
			if fn(item) {
				out <- item
			}
		}
	}()
	return out
}

// Map transforms every item with fn.
func Map[T, U any](in <-chan T, fn func(T) U) <-chan U {
	out := make(chan U)
	go func() {
		defer close(out)
		for item := range in {
			out <- fn(item)
		}
	}()
	return out
}
