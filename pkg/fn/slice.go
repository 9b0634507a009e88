package fn

// Map transforms every element of in through f.
func Map[In, Out any](in []In, f func(In) Out) []Out {
	out := make([]Out, len(in))
	for i := range in {
		out[i] = f(in[i])
	}
	return out
}

// Filter keeps the elements for which keep returns true.
func Filter[T any](in []T, keep func(T) bool) []T {
	return FilterMap(in, func(v T) (T, bool) { return v, keep(v) })
}

// FilterMap transforms elements through f, dropping those where ok is
// false.
func FilterMap[In, Out any](in []In, f func(In) (Out, bool)) []Out {
	var out []Out
	for _, v := range in {
		if mapped, ok := f(v); ok {
			out = append(out, mapped)
		}
	}
	return out
}

// FlatMap concatenates the slices produced by f.
func FlatMap[In, Out any](in []In, f func(In) []Out) []Out {
	var out []Out
	for _, v := range in {
		out = append(out, f(v)...)
	}
	return out
}

// UniqueBy drops elements whose key was already seen, keeping first
// occurrences in order.
func UniqueBy[T any, K comparable](in []T, key func(T) K) []T {
	seen := make(map[K]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if k := key(v); !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}
