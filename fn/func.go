package fn

// Map applies the given mapping function to each element of the given slice
// and generates a new slice.
func Map[I, O any, S []I](s S, f func(I) O) []O {
	output := make([]O, len(s))

	for i, x := range s {
		output[i] = f(x)
	}

	return output
}
