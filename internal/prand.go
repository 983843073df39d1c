package internal

// Prand32 generates a pseudo random number from a seed. arpcache uses it to
// pick a pseudo-random slot to evict when the ARP cache is full.
func Prand32[T ~uint32](seed T) T {
	/* Algorithm "xor" from p. 4 of Marsaglia, "Xorshift RNGs" */
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	return seed
}
