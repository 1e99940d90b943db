package tgui

import "strconv"

// PluralRU picks the Russian plural form for n: one (1, 21), few (2-4, 22-24)
// or many (everything else, including 11-19).
func PluralRU(n int, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	if rem100 := n % 100; rem100 >= 11 && rem100 <= 19 {
		return many
	}
	switch rem10 := n % 10; {
	case rem10 == 1:
		return one
	case rem10 >= 2 && rem10 <= 4:
		return few
	}
	return many
}

// CountRU renders "n form".
func CountRU(n int, one, few, many string) string {
	return strconv.Itoa(n) + " " + PluralRU(n, one, few, many)
}
