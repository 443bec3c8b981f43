// Package utils holds small generic slice helpers shared across the project.
package utils

// ContainsAny reports whether slice holds at least one of vals.
func ContainsAny(slice []string, vals ...string) bool {
	for _, v := range vals {
		if Contains(slice, v) {
			return true
		}
	}

	return false
}

// Contains function iterates over a slice of strings and checks if the given string is there
func Contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}

	return false
}
