package utils

func IsStringInSlice(s string, slice []string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// Difference returns the elements of a that are not in b, keeping a's order
func Difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, v := range b {
		exclude[v] = struct{}{}
	}
	result := make([]string, 0, len(a))
	for _, v := range a {
		if _, found := exclude[v]; !found {
			result = append(result, v)
		}
	}
	return result
}

// Chunk splits s into consecutive slices of at most size elements
func Chunk[T any](s []T, size int) [][]T {
	if size <= 0 {
		return [][]T{s}
	}
	chunks := make([][]T, 0, (len(s)+size-1)/size)
	for size < len(s) {
		s, chunks = s[size:], append(chunks, s[:size:size])
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
